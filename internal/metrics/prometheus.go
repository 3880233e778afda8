package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// Collector holds the server's Prometheus metrics. A nil *Collector is valid
// and records nothing.
type Collector struct {
	TokensIssued     *prometheus.CounterVec
	GrantFailures    *prometheus.CounterVec
	RefreshRotations prometheus.Counter
	CodesIssued      prometheus.Counter
	CodesConsumed    prometheus.Counter
	OwnerAuthFailure prometheus.Counter
	ExpiredDeleted   *prometheus.CounterVec
}

// NewCollector creates the metrics and registers them with reg.
// Registration failures are logged, not fatal.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sauth_tokens_issued_total",
			Help: "Total number of access tokens issued, by grant type.",
		}, []string{"grant_type"}),
		GrantFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sauth_grant_failures_total",
			Help: "Total number of failed token requests, by grant type and error kind.",
		}, []string{"grant_type", "kind"}),
		RefreshRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sauth_refresh_rotations_total",
			Help: "Total number of refresh tokens redeemed and rotated.",
		}),
		CodesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sauth_authorization_codes_issued_total",
			Help: "Total number of authorization codes issued.",
		}),
		CodesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sauth_authorization_codes_consumed_total",
			Help: "Total number of authorization codes exchanged.",
		}),
		OwnerAuthFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sauth_owner_authentication_failures_total",
			Help: "Total number of rejected resource owner credentials on the authorize endpoint.",
		}),
		ExpiredDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sauth_expired_records_deleted_total",
			Help: "Total number of expired codes and refresh tokens garbage collected.",
		}, []string{"kind"}),
	}

	if reg == nil {
		log.Error().Msg("Prometheus registry is nil, metrics are not exported")
		return c
	}

	for name, col := range map[string]prometheus.Collector{
		"TokensIssued":     c.TokensIssued,
		"GrantFailures":    c.GrantFailures,
		"RefreshRotations": c.RefreshRotations,
		"CodesIssued":      c.CodesIssued,
		"CodesConsumed":    c.CodesConsumed,
		"OwnerAuthFailure": c.OwnerAuthFailure,
		"ExpiredDeleted":   c.ExpiredDeleted,
	} {
		if err := reg.Register(col); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to register metric")
		}
	}

	return c
}

func (c *Collector) TokenIssued(grantType string) {
	if c != nil {
		c.TokensIssued.WithLabelValues(grantType).Inc()
	}
}

func (c *Collector) GrantFailed(grantType, kind string) {
	if c != nil {
		c.GrantFailures.WithLabelValues(grantType, kind).Inc()
	}
}

func (c *Collector) RefreshRotated() {
	if c != nil {
		c.RefreshRotations.Inc()
	}
}

func (c *Collector) CodeIssued() {
	if c != nil {
		c.CodesIssued.Inc()
	}
}

func (c *Collector) CodeConsumed() {
	if c != nil {
		c.CodesConsumed.Inc()
	}
}

func (c *Collector) OwnerAuthFailed() {
	if c != nil {
		c.OwnerAuthFailure.Inc()
	}
}

func (c *Collector) ExpiredRecordsDeleted(kind string, n int64) {
	if c != nil && n > 0 {
		c.ExpiredDeleted.WithLabelValues(kind).Add(float64(n))
	}
}
