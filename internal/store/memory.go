package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bitespeed/internal/models"
)

// InMemory keeps contacts in a map keyed by id. Transactions hold txMu for
// their whole duration and restore a snapshot when fn fails.
type InMemory struct {
	txMu sync.Mutex

	mu       sync.RWMutex
	contacts map[int64]*models.Contact
	nextID   int64
	now      func() time.Time
}

// NewInMemory creates an empty store using the wall clock.
func NewInMemory() *InMemory {
	return NewInMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewInMemoryWithClock creates an empty store stamping contacts with now.
func NewInMemoryWithClock(now func() time.Time) *InMemory {
	return &InMemory{
		contacts: make(map[int64]*models.Contact),
		nextID:   1,
		now:      now,
	}
}

func (s *InMemory) RunInTx(ctx context.Context, fn func(ContactStore) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	contacts, nextID := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(contacts, nextID)
		return err
	}
	return nil
}

func (s *InMemory) snapshot() (map[int64]*models.Contact, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contacts := make(map[int64]*models.Contact, len(s.contacts))
	for id, c := range s.contacts {
		contacts[id] = c.Clone()
	}
	return contacts, s.nextID
}

func (s *InMemory) restore(contacts map[int64]*models.Contact, nextID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts = contacts
	s.nextID = nextID
}

func (s *InMemory) FindByEmailOrPhone(_ context.Context, email, phone string) ([]*models.Contact, error) {
	return s.filter(func(c *models.Contact) bool {
		return (email != "" && c.EmailValue() == email) || (phone != "" && c.PhoneValue() == phone)
	}), nil
}

func (s *InMemory) FindByID(_ context.Context, id int64) (*models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.contacts[id]; ok {
		return c.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *InMemory) FindSecondariesOf(_ context.Context, primaryID int64) ([]*models.Contact, error) {
	return s.filter(func(c *models.Contact) bool {
		return c.LinkedID != nil && *c.LinkedID == primaryID
	}), nil
}

func (s *InMemory) Create(_ context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c.ID = s.nextID
	c.CreatedAt = now
	c.UpdatedAt = now
	s.nextID++
	s.contacts[c.ID] = c.Clone()
	return nil
}

func (s *InMemory) Update(_ context.Context, c *models.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.contacts[c.ID]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = s.now()
	stored.LinkPrecedence = c.LinkPrecedence
	stored.LinkedID = nil
	if c.LinkedID != nil {
		linked := *c.LinkedID
		stored.LinkedID = &linked
	}
	stored.UpdatedAt = c.UpdatedAt
	return nil
}

// Put stores c verbatim, keeping its id and timestamps. It exists to seed
// fixtures that need control over created_at.
func (s *InMemory) Put(c *models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = c.Clone()
	if c.ID >= s.nextID {
		s.nextID = c.ID + 1
	}
}

// Len returns the number of stored contacts.
func (s *InMemory) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contacts)
}

func (s *InMemory) filter(keep func(*models.Contact) bool) []*models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Contact
	for _, c := range s.contacts {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
