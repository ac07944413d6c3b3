package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"bitespeed/internal/logger"
	"bitespeed/internal/models"
	"bitespeed/internal/store"
)

// cluster is the in-memory forest for one resolution: contacts keyed by id,
// plus the order in which they were discovered.
type cluster struct {
	order []int64
	byID  map[int64]*models.Contact
}

func newCluster() *cluster {
	return &cluster{byID: make(map[int64]*models.Contact)}
}

// add keeps the first copy of a contact seen.
func (c *cluster) add(contact *models.Contact) {
	if _, ok := c.byID[contact.ID]; ok {
		return
	}
	c.byID[contact.ID] = contact
	c.order = append(c.order, contact.ID)
}

func (c *cluster) members() []*models.Contact {
	out := make([]*models.Contact, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *cluster) primaries() []*models.Contact {
	var out []*models.Contact
	for _, m := range c.members() {
		if m.IsPrimary() {
			out = append(out, m)
		}
	}
	return out
}

// expandCluster loads every cluster the matches belong to. Matches whose
// primary cannot be resolved are dropped.
func expandCluster(ctx context.Context, st store.ContactStore, matches []*models.Contact) (*cluster, error) {
	matched := make(map[int64]*models.Contact, len(matches))
	for _, m := range matches {
		matched[m.ID] = m
	}

	var implicated []*models.Contact
	seen := make(map[int64]struct{})
	for _, m := range matches {
		primary, err := implicatedPrimary(ctx, st, m, matched)
		if err != nil {
			return nil, err
		}
		if primary == nil {
			continue
		}
		if _, ok := seen[primary.ID]; ok {
			continue
		}
		seen[primary.ID] = struct{}{}
		implicated = append(implicated, primary)
	}

	cl := newCluster()
	for _, primary := range implicated {
		cl.add(primary)
		secondaries, err := st.FindSecondariesOf(ctx, primary.ID)
		if err != nil {
			return nil, fmt.Errorf("find secondaries of %d: %w", primary.ID, err)
		}
		for _, s := range secondaries {
			cl.add(s)
		}
	}
	return cl, nil
}

func implicatedPrimary(ctx context.Context, st store.ContactStore, m *models.Contact, matched map[int64]*models.Contact) (*models.Contact, error) {
	if m.IsPrimary() {
		return m, nil
	}
	if m.LinkedID == nil {
		logger.WarnCtx(ctx, "Secondary contact has no linked primary", zap.Int64("contact_id", m.ID))
		return nil, nil
	}

	primary, ok := matched[*m.LinkedID]
	if !ok {
		var err error
		primary, err = st.FindByID(ctx, *m.LinkedID)
		if errors.Is(err, store.ErrNotFound) {
			logger.WarnCtx(ctx, "Dropping contact with dangling link",
				zap.Int64("contact_id", m.ID), zap.Int64("linked_id", *m.LinkedID))
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("find primary %d: %w", *m.LinkedID, err)
		}
	}
	if !primary.IsPrimary() {
		logger.WarnCtx(ctx, "Dropping contact linked to a non-primary",
			zap.Int64("contact_id", m.ID), zap.Int64("linked_id", primary.ID))
		return nil, nil
	}
	return primary, nil
}

// electPrimary returns the primary with the earliest created_at; equal
// timestamps fall back to the lower id.
func electPrimary(primaries []*models.Contact) *models.Contact {
	var elected *models.Contact
	for _, p := range primaries {
		if elected == nil || olderThan(p, elected) {
			elected = p
		}
	}
	return elected
}

func olderThan(a, b *models.Contact) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// demoteOthers turns every other primary in the cluster into a secondary of
// elected and re-points their secondaries at elected.
func demoteOthers(ctx context.Context, st store.ContactStore, cl *cluster, elected *models.Contact) (demoted, relinked int, err error) {
	for _, p := range cl.primaries() {
		if p.ID == elected.ID {
			continue
		}

		linked := elected.ID
		p.LinkPrecedence = models.PrecedenceSecondary
		p.LinkedID = &linked
		if err := st.Update(ctx, p); err != nil {
			return demoted, relinked, fmt.Errorf("demote primary %d: %w", p.ID, err)
		}
		demoted++

		children, err := st.FindSecondariesOf(ctx, p.ID)
		if err != nil {
			return demoted, relinked, fmt.Errorf("find secondaries of demoted %d: %w", p.ID, err)
		}
		for _, child := range children {
			if existing, ok := cl.byID[child.ID]; ok {
				child = existing
			} else {
				cl.add(child)
			}
			target := elected.ID
			child.LinkedID = &target
			if err := st.Update(ctx, child); err != nil {
				return demoted, relinked, fmt.Errorf("relink contact %d: %w", child.ID, err)
			}
			relinked++
		}

		logger.InfoCtx(ctx, "Demoted primary contact",
			zap.Int64("contact_id", p.ID),
			zap.Int64("primary_id", elected.ID),
			zap.Int("relinked", len(children)))
	}
	return demoted, relinked, nil
}

// augment creates one secondary carrying the observed pair verbatim when
// either value is new to the cluster.
func augment(ctx context.Context, st store.ContactStore, cl *cluster, elected *models.Contact, email, phone string) (*models.Contact, error) {
	emails := make(map[string]struct{})
	phones := make(map[string]struct{})
	for _, m := range cl.members() {
		if m.Email != nil {
			emails[*m.Email] = struct{}{}
		}
		if m.PhoneNumber != nil {
			phones[*m.PhoneNumber] = struct{}{}
		}
	}

	_, knownEmail := emails[email]
	_, knownPhone := phones[phone]
	if (email == "" || knownEmail) && (phone == "" || knownPhone) {
		return nil, nil
	}

	linked := elected.ID
	contact := &models.Contact{
		Email:          models.StringPtr(email),
		PhoneNumber:    models.StringPtr(phone),
		LinkedID:       &linked,
		LinkPrecedence: models.PrecedenceSecondary,
	}
	if err := st.Create(ctx, contact); err != nil {
		return nil, fmt.Errorf("create secondary contact: %w", err)
	}
	cl.add(contact)
	return contact, nil
}

// project builds the consolidated view. The elected primary is visited
// first, then the remaining members in discovery order.
func project(cl *cluster, elected *models.Contact) models.ContactResponse {
	resp := models.ContactResponse{
		PrimaryContactID:    elected.ID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}
	seenEmails := make(map[string]struct{})
	seenPhones := make(map[string]struct{})

	visit := func(c *models.Contact) {
		if e := c.EmailValue(); e != "" {
			if _, ok := seenEmails[e]; !ok {
				seenEmails[e] = struct{}{}
				resp.Emails = append(resp.Emails, e)
			}
		}
		if p := c.PhoneValue(); p != "" {
			if _, ok := seenPhones[p]; !ok {
				seenPhones[p] = struct{}{}
				resp.PhoneNumbers = append(resp.PhoneNumbers, p)
			}
		}
		if !c.IsPrimary() {
			resp.SecondaryContactIDs = append(resp.SecondaryContactIDs, c.ID)
		}
	}

	visit(elected)
	for _, m := range cl.members() {
		if m.ID != elected.ID {
			visit(m)
		}
	}
	return resp
}
