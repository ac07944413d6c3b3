package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"bitespeed/internal/models"
)

// Resolution outcomes recorded by ResolutionsTotal.
const (
	OutcomeNewPrimary = "new_primary"
	OutcomeMatched    = "matched"
	OutcomeAugmented  = "augmented"
	OutcomeMerged     = "merged"
)

// Request statuses recorded by IdentifyRequests.
const (
	StatusOK         = "ok"
	StatusBadRequest = "bad_request"
	StatusError      = "error"
)

// Metrics holds all Prometheus metrics for the service
type Metrics struct {
	IdentifyRequests *prometheus.CounterVec
	IdentifyDuration prometheus.Histogram
	Resolutions      *prometheus.CounterVec
	ContactsCreated  *prometheus.CounterVec
	Demotions        prometheus.Counter
	Relinks          prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg uses
// the default Prometheus registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		IdentifyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitespeed_identify_requests_total",
			Help: "Identify requests by response status",
		}, []string{"status"}),
		IdentifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bitespeed_identify_duration_seconds",
			Help:    "Identify handler latency",
			Buckets: prometheus.DefBuckets,
		}),
		Resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitespeed_resolutions_total",
			Help: "Completed resolutions by outcome",
		}, []string{"outcome"}),
		ContactsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bitespeed_contacts_created_total",
			Help: "Contacts created by link precedence",
		}, []string{"precedence"}),
		Demotions: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitespeed_demotions_total",
			Help: "Primary contacts demoted to secondary during a merge",
		}),
		Relinks: factory.NewCounter(prometheus.CounterOpts{
			Name: "bitespeed_relinks_total",
			Help: "Secondary contacts re-pointed at a newly elected primary",
		}),
	}
}

// ObserveRequest records one identify request. Safe on a nil receiver.
func (m *Metrics) ObserveRequest(status string, seconds float64) {
	if m == nil {
		return
	}
	m.IdentifyRequests.WithLabelValues(status).Inc()
	m.IdentifyDuration.Observe(seconds)
}

// ObserveResolution records one committed resolution. Safe on a nil receiver.
func (m *Metrics) ObserveResolution(outcome string, created []models.Precedence, demoted, relinked int) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
	for _, p := range created {
		m.ContactsCreated.WithLabelValues(string(p)).Inc()
	}
	m.Demotions.Add(float64(demoted))
	m.Relinks.Add(float64(relinked))
}
