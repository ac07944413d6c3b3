package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bitespeed/internal/logger"
	"bitespeed/internal/metrics"
	"bitespeed/internal/models"
	"bitespeed/internal/store"
)

// ErrMissingContactInfo is returned when neither email nor phone number is given.
var ErrMissingContactInfo = errors.New("email or phoneNumber is required")

// DefaultTimeout bounds a resolution whose context carries no deadline.
const DefaultTimeout = 5 * time.Second

// ReconciliationService handles identity reconciliation logic
type ReconciliationService struct {
	store   store.Store
	metrics *metrics.Metrics
	timeout time.Duration
}

// Option configures a ReconciliationService.
type Option func(*ReconciliationService)

// WithMetrics records resolution outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ReconciliationService) { s.metrics = m }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(s *ReconciliationService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(st store.Store, opts ...Option) *ReconciliationService {
	s := &ReconciliationService{store: st, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// resolution tracks what one Identify call changed, for metrics and logs.
type resolution struct {
	created  []models.Precedence
	demoted  int
	relinked int
	response models.ContactResponse
}

func (r *resolution) outcome() string {
	switch {
	case r.demoted > 0:
		return metrics.OutcomeMerged
	case len(r.created) == 1 && r.created[0] == models.PrecedencePrimary:
		return metrics.OutcomeNewPrimary
	case len(r.created) > 0:
		return metrics.OutcomeAugmented
	default:
		return metrics.OutcomeMatched
	}
}

// Identify resolves the observed email/phone pair into its consolidated
// cluster. All reads and writes of one call run in a single transaction.
func (s *ReconciliationService) Identify(ctx context.Context, req models.IdentifyRequest) (*models.IdentifyResponse, error) {
	email, phone := req.EmailValue(), req.PhoneValue()
	if email == "" && phone == "" {
		return nil, ErrMissingContactInfo
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var res *resolution
	err := s.store.RunInTx(ctx, func(tx store.ContactStore) error {
		var err error
		res, err = s.resolve(ctx, tx, email, phone)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveResolution(res.outcome(), res.created, res.demoted, res.relinked)
	logger.DebugCtx(ctx, "Resolved contact",
		zap.String("outcome", res.outcome()),
		zap.Int64("primary_id", res.response.PrimaryContactID),
		zap.Int("secondaries", len(res.response.SecondaryContactIDs)))

	return &models.IdentifyResponse{Contact: res.response}, nil
}

func (s *ReconciliationService) resolve(ctx context.Context, tx store.ContactStore, email, phone string) (*resolution, error) {
	matches, err := tx.FindByEmailOrPhone(ctx, email, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to find matching contacts: %w", err)
	}
	if len(matches) == 0 {
		return s.createPrimary(ctx, tx, email, phone)
	}

	cl, err := expandCluster(ctx, tx, matches)
	if err != nil {
		return nil, fmt.Errorf("failed to expand cluster: %w", err)
	}
	elected := electPrimary(cl.primaries())
	if elected == nil {
		// every match had a dangling link
		return s.createPrimary(ctx, tx, email, phone)
	}

	res := &resolution{}
	res.demoted, res.relinked, err = demoteOthers(ctx, tx, cl, elected)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile primary status: %w", err)
	}

	added, err := augment(ctx, tx, cl, elected, email, phone)
	if err != nil {
		return nil, err
	}
	if added != nil {
		res.created = append(res.created, added.LinkPrecedence)
	}

	res.response = project(cl, elected)
	return res, nil
}

// createPrimary creates a new primary contact and its singleton view
func (s *ReconciliationService) createPrimary(ctx context.Context, tx store.ContactStore, email, phone string) (*resolution, error) {
	contact := &models.Contact{
		Email:          models.StringPtr(email),
		PhoneNumber:    models.StringPtr(phone),
		LinkPrecedence: models.PrecedencePrimary,
	}
	if err := tx.Create(ctx, contact); err != nil {
		return nil, fmt.Errorf("failed to create primary contact: %w", err)
	}

	cl := newCluster()
	cl.add(contact)
	return &resolution{
		created:  []models.Precedence{models.PrecedencePrimary},
		response: project(cl, contact),
	}, nil
}
