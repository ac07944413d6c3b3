//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"bitespeed/internal/database"
	"bitespeed/internal/models"
	"bitespeed/internal/store"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *database.DB
	store     *store.SQLStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bitespeed"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)
	s.Require().Equal(database.DriverPostgres, database.DriverFor(dsn))

	s.db, err = database.New(s.ctx, dsn, database.Options{MaxOpenConns: 8})
	s.Require().NoError(err)
	s.store = store.NewSQL(s.db)
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.db.Conn.ExecContext(s.ctx, `TRUNCATE contacts RESTART IDENTITY`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	primary := &models.Contact{Email: models.StringPtr("a@x.io"), PhoneNumber: models.StringPtr("100"), LinkPrecedence: models.PrecedencePrimary}
	s.Require().NoError(s.store.Create(s.ctx, primary))

	secondary := &models.Contact{Email: models.StringPtr("b@x.io"), LinkPrecedence: models.PrecedenceSecondary, LinkedID: &primary.ID}
	s.Require().NoError(s.store.Create(s.ctx, secondary))

	matches, err := s.store.FindByEmailOrPhone(s.ctx, "b@x.io", "100")
	s.Require().NoError(err)
	s.Require().Len(matches, 2)
	s.Equal(primary.ID, matches[0].ID)

	secondaries, err := s.store.FindSecondariesOf(s.ctx, primary.ID)
	s.Require().NoError(err)
	s.Require().Len(secondaries, 1)
	s.Nil(secondaries[0].PhoneNumber)
	s.Equal(primary.ID, *secondaries[0].LinkedID)
}

func (s *PostgresStoreSuite) TestTransactionsAreSerialized() {
	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.store.RunInTx(s.ctx, func(tx store.ContactStore) error {
				existing, err := tx.FindByEmailOrPhone(s.ctx, "race@x.io", "")
				if err != nil || len(existing) > 0 {
					return err
				}
				return tx.Create(s.ctx, &models.Contact{Email: models.StringPtr("race@x.io"), LinkPrecedence: models.PrecedencePrimary})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	got, err := s.store.FindByEmailOrPhone(s.ctx, "race@x.io", "")
	s.Require().NoError(err)
	s.Len(got, 1)
}
