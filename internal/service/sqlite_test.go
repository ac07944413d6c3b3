package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"bitespeed/internal/database"
	"bitespeed/internal/models"
	"bitespeed/internal/store"
)

func newSQLiteService(t *testing.T) (*ReconciliationService, *store.SQLStore) {
	t.Helper()
	db, err := database.New(context.Background(), ":memory:", database.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st := store.NewSQL(db)
	return NewReconciliationService(st), st
}

func TestIdentifyAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	svc, st := newSQLiteService(t)

	first, err := svc.Identify(ctx, request("lorraine@hillvalley.edu", "123456"))
	require.NoError(t, err)
	second, err := svc.Identify(ctx, request("mcfly@hillvalley.edu", "123456"))
	require.NoError(t, err)

	assert.Equal(t, first.Contact.PrimaryContactID, second.Contact.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu"}, second.Contact.Emails)
	assert.Equal(t, []string{"123456"}, second.Contact.PhoneNumbers)
	require.Len(t, second.Contact.SecondaryContactIDs, 1)

	// a separate identity that is later bridged into the first one
	third, err := svc.Identify(ctx, request("biff@hillvalley.edu", "717171"))
	require.NoError(t, err)
	require.NotEqual(t, first.Contact.PrimaryContactID, third.Contact.PrimaryContactID)

	merged, err := svc.Identify(ctx, request("mcfly@hillvalley.edu", "717171"))
	require.NoError(t, err)
	assert.Equal(t, first.Contact.PrimaryContactID, merged.Contact.PrimaryContactID)
	assert.Equal(t, []string{"lorraine@hillvalley.edu", "mcfly@hillvalley.edu", "biff@hillvalley.edu"}, merged.Contact.Emails)
	assert.Equal(t, []string{"123456", "717171"}, merged.Contact.PhoneNumbers)
	assert.Contains(t, merged.Contact.SecondaryContactIDs, third.Contact.PrimaryContactID)

	demoted, err := st.FindByID(ctx, third.Contact.PrimaryContactID)
	require.NoError(t, err)
	assert.Equal(t, models.PrecedenceSecondary, demoted.LinkPrecedence)
	require.NotNil(t, demoted.LinkedID)
	assert.Equal(t, first.Contact.PrimaryContactID, *demoted.LinkedID)
}

func TestConcurrentIdentifyAgainstSQLite(t *testing.T) {
	ctx := context.Background()
	svc, st := newSQLiteService(t)

	const workers = 8
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := svc.Identify(ctx, request("doc@hillvalley.edu", "1885"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	contacts, err := st.FindByEmailOrPhone(ctx, "doc@hillvalley.edu", "1885")
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, models.PrecedencePrimary, contacts[0].LinkPrecedence)
}
