package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Append outcomes recorded by LedgerMetrics.
const (
	OutcomeCommitted = "committed"
	OutcomeReplayed  = "replayed"
	OutcomeSkipped   = "skipped"
	OutcomeConflict  = "conflict"
	OutcomeFailed    = "failed"
)

// LedgerMetrics tracks chain appends, variance alerts and integrity findings.
type LedgerMetrics struct {
	appends    *prometheus.CounterVec
	alerts     *prometheus.CounterVec
	mismatches *prometheus.CounterVec
	checked    *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	appends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_appends_total",
		Help: "Ledger append attempts by entry type and outcome.",
	}, []string{"entry_type", "outcome"})
	alerts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_variance_alerts_total",
		Help: "Cash variance alerts raised by severity.",
	}, []string{"severity"})
	mismatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_integrity_mismatches_total",
		Help: "Entries whose stored hash or link failed verification.",
	}, []string{"venue"})
	checked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_integrity_checked_total",
		Help: "Entries re-hashed by integrity verification.",
	}, []string{"venue"})
	reg.MustRegister(appends, alerts, mismatches, checked)
	return &LedgerMetrics{
		appends:    appends,
		alerts:     alerts,
		mismatches: mismatches,
		checked:    checked,
	}
}

// ObserveAppend counts one append attempt.
func (m *LedgerMetrics) ObserveAppend(entryType, outcome string) {
	if m == nil || m.appends == nil {
		return
	}
	m.appends.WithLabelValues(normalizeLabel(entryType), normalizeLabel(outcome)).Inc()
}

// ObserveVarianceAlert counts one persisted variance alert.
func (m *LedgerMetrics) ObserveVarianceAlert(severity string) {
	if m == nil || m.alerts == nil {
		return
	}
	m.alerts.WithLabelValues(normalizeLabel(severity)).Inc()
}

// ObserveIntegrity records the outcome of verifying one venue chain.
func (m *LedgerMetrics) ObserveIntegrity(venue string, checked, invalid int) {
	if m == nil || m.checked == nil {
		return
	}
	venue = normalizeLabel(venue)
	m.checked.WithLabelValues(venue).Add(float64(checked))
	m.mismatches.WithLabelValues(venue).Add(float64(invalid))
}
