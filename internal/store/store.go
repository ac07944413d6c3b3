package store

import (
	"context"
	"errors"

	"bitespeed/internal/models"
)

// ErrNotFound is returned by point lookups that match no contact.
var ErrNotFound = errors.New("contact not found")

// ContactStore is the persistence surface the resolver depends on. Query
// results are ordered by created_at, then id.
type ContactStore interface {
	// FindByEmailOrPhone returns contacts whose email equals email or whose
	// phone number equals phone. Empty arguments are ignored.
	FindByEmailOrPhone(ctx context.Context, email, phone string) ([]*models.Contact, error)
	FindByID(ctx context.Context, id int64) (*models.Contact, error)
	FindSecondariesOf(ctx context.Context, primaryID int64) ([]*models.Contact, error)
	// Create assigns ID, CreatedAt and UpdatedAt on c.
	Create(ctx context.Context, c *models.Contact) error
	// Update persists precedence, linked id and updated_at.
	Update(ctx context.Context, c *models.Contact) error
}

// Transactor runs fn against a store view whose writes commit together.
// Implementations serialize concurrent transactions.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ContactStore) error) error
}

// Store is a ContactStore that can also open transactions.
type Store interface {
	ContactStore
	Transactor
}
