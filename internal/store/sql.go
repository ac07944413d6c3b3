package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bitespeed/internal/database"
	"bitespeed/internal/models"
)

// resolutionLockKey is the pg_advisory_xact_lock key that serializes
// resolutions across processes sharing one PostgreSQL database.
const resolutionLockKey int64 = 0x62697465

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore persists contacts in SQLite or PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	q      queryer
	driver string
	now    func() time.Time
}

// NewSQL constructs a store over an opened, migrated database.
func NewSQL(db *database.DB) *SQLStore {
	return &SQLStore{
		db:     db.Conn,
		q:      db.Conn,
		driver: db.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *SQLStore) RunInTx(ctx context.Context, fn func(ContactStore) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if s.driver == database.DriverPostgres {
		if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, resolutionLockKey); err != nil {
			return fmt.Errorf("acquire resolution lock: %w", err)
		}
	}

	txStore := &SQLStore{db: s.db, q: tx, driver: s.driver, now: s.now}
	if err = fn(txStore); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) FindByEmailOrPhone(ctx context.Context, email, phone string) ([]*models.Contact, error) {
	var (
		conds []string
		args  []any
	)
	if email != "" {
		args = append(args, email)
		conds = append(conds, fmt.Sprintf("email = $%d", len(args)))
	}
	if phone != "" {
		args = append(args, phone)
		conds = append(conds, fmt.Sprintf("phone_number = $%d", len(args)))
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query := `SELECT ` + contactColumns + ` FROM contacts WHERE ` + strings.Join(conds, " OR ") + ` ORDER BY created_at, id`
	return s.queryContacts(ctx, query, args...)
}

func (s *SQLStore) FindByID(ctx context.Context, id int64) (*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	contacts, err := s.queryContacts(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, ErrNotFound
	}
	return contacts[0], nil
}

func (s *SQLStore) FindSecondariesOf(ctx context.Context, primaryID int64) ([]*models.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts WHERE linked_id = $1 ORDER BY created_at, id`
	return s.queryContacts(ctx, query, primaryID)
}

func (s *SQLStore) Create(ctx context.Context, c *models.Contact) error {
	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	now := s.now()
	var id int64
	err := s.q.QueryRowContext(ctx, query, c.PhoneNumber, c.Email, c.LinkedID, string(c.LinkPrecedence), now, now).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}

	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	return nil
}

func (s *SQLStore) Update(ctx context.Context, c *models.Contact) error {
	query := `UPDATE contacts SET link_precedence = $1, linked_id = $2, updated_at = $3 WHERE id = $4`

	now := s.now()
	res, err := s.q.ExecContext(ctx, query, string(c.LinkPrecedence), c.LinkedID, now, c.ID)
	if err != nil {
		return fmt.Errorf("update contact %d: %w", c.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update contact %d: %w", c.ID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	c.UpdatedAt = now
	return nil
}

// queryContacts executes a query and returns contacts
func (s *SQLStore) queryContacts(ctx context.Context, query string, args ...any) ([]*models.Contact, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var contacts []*models.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return contacts, nil
}

func scanContact(rows *sql.Rows) (*models.Contact, error) {
	c := &models.Contact{}
	var (
		phone, email sql.NullString
		linkedID     sql.NullInt64
		precedence   string
		deletedAt    sql.NullTime
	)

	err := rows.Scan(&c.ID, &phone, &email, &linkedID, &precedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, fmt.Errorf("scan contact: %w", err)
	}

	c.LinkPrecedence = models.Precedence(precedence)
	if !c.LinkPrecedence.Valid() {
		return nil, fmt.Errorf("scan contact %d: invalid link_precedence %q", c.ID, precedence)
	}
	if phone.Valid {
		c.PhoneNumber = &phone.String
	}
	if email.Valid {
		c.Email = &email.String
	}
	if linkedID.Valid {
		c.LinkedID = &linkedID.Int64
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}
