package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for the verification module. All
// methods are nil-safe so tests can pass a nil *Metrics without registering
// collectors.
type Metrics struct {
	SessionsInitiated    *prometheus.CounterVec
	CallbacksProcessed   *prometheus.CounterVec
	CallbacksUnknownKey  prometheus.Counter
	NotificationFailures prometheus.Counter
	Reconciliations      *prometheus.CounterVec
	LedgerPersistErrors  prometheus.Counter
	RecordsExpired       prometheus.Counter
}

// New creates and registers all verification metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		SessionsInitiated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriflow_sessions_initiated_total",
			Help: "Verification sessions initiated, by mode (provider, pending, debug).",
		}, []string{"mode"}),
		CallbacksProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriflow_callbacks_processed_total",
			Help: "Provider callbacks processed, by overall status.",
		}, []string{"status"}),
		CallbacksUnknownKey: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriflow_callbacks_unknown_key_total",
			Help: "Provider callbacks acknowledged for unknown or already-deleted session keys.",
		}),
		NotificationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriflow_notification_failures_total",
			Help: "Best-effort user notifications that failed to deliver.",
		}),
		Reconciliations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veriflow_reconciliations_total",
			Help: "Provider data-deletion reconciliations, by outcome (success, failed, exhausted).",
		}, []string{"outcome"}),
		LedgerPersistErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriflow_ledger_persist_errors_total",
			Help: "Ledger snapshot persists that failed.",
		}),
		RecordsExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriflow_records_expired_total",
			Help: "Verification records removed by the age sweep.",
		}),
	}
}

func (m *Metrics) IncSessionInitiated(mode string) {
	if m == nil {
		return
	}
	m.SessionsInitiated.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncCallbackProcessed(status string) {
	if m == nil {
		return
	}
	m.CallbacksProcessed.WithLabelValues(status).Inc()
}

func (m *Metrics) IncCallbackUnknownKey() {
	if m == nil {
		return
	}
	m.CallbacksUnknownKey.Inc()
}

func (m *Metrics) IncNotificationFailure() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}

func (m *Metrics) IncReconciliation(outcome string) {
	if m == nil {
		return
	}
	m.Reconciliations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLedgerPersistError() {
	if m == nil {
		return
	}
	m.LedgerPersistErrors.Inc()
}

func (m *Metrics) IncRecordExpired() {
	if m == nil {
		return
	}
	m.RecordsExpired.Inc()
}
