// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Delayed task scheduler, labelled by timer namespace.
	TimerScheduled *prometheus.CounterVec
	TimerRejected  *prometheus.CounterVec
	TimerAborted   *prometheus.CounterVec
	TimerSettled   *prometheus.CounterVec // namespace, state
	TimerPending   *prometheus.GaugeVec

	// Audit correlation.
	AuditLookups        *prometheus.CounterVec // outcome
	AuditLookupDuration prometheus.Observer

	// Twitch.
	HelixRequests *prometheus.CounterVec // endpoint, code
	ChatEvents    *prometheus.CounterVec // kind
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TimerScheduled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "modtender_timer_scheduled_total", Help: "Delayed tasks registered"}, []string{"namespace"})
		TimerRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "modtender_timer_rejected_total", Help: "Delayed tasks rejected because the key was already pending"}, []string{"namespace"})
		TimerAborted = promauto.NewCounterVec(prometheus.CounterOpts{Name: "modtender_timer_aborted_total", Help: "Delayed tasks aborted"}, []string{"namespace"})
		TimerSettled = promauto.NewCounterVec(prometheus.CounterOpts{Name: "modtender_timer_completed_total", Help: "Delayed tasks settled, by final state"}, []string{"namespace", "state"})
		TimerPending = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "modtender_timer_pending", Help: "Delayed tasks currently registered"}, []string{"namespace"})
		AuditLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "modtender_audit_lookups_total", Help: "Audit correlation lookups, by outcome"}, []string{"outcome"})
		AuditLookupDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "modtender_audit_lookup_duration_seconds", Help: "Audit correlation lookup duration seconds", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}})
		HelixRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "modtender_helix_requests_total", Help: "Twitch Helix requests, by endpoint and status code"}, []string{"endpoint", "code"})
		ChatEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "modtender_chat_events_total", Help: "Chat events received, by kind"}, []string{"kind"})
	})
}

// TimerEvent counts a scheduler event. event is one of scheduled, rejected, aborted.
func TimerEvent(namespace, event string) {
	var vec *prometheus.CounterVec
	switch event {
	case "scheduled":
		vec = TimerScheduled
	case "rejected":
		vec = TimerRejected
	case "aborted":
		vec = TimerAborted
	}
	if vec != nil {
		vec.WithLabelValues(namespace).Inc()
	}
}

// TimerSettle counts a task reaching a terminal state.
func TimerSettle(namespace, state string) {
	if TimerSettled != nil {
		TimerSettled.WithLabelValues(namespace, state).Inc()
	}
}

// SetTimerPending records how many tasks a namespace currently holds.
func SetTimerPending(namespace string, n int) {
	if TimerPending != nil {
		TimerPending.WithLabelValues(namespace).Set(float64(n))
	}
}

// ObserveAuditLookup records one correlation lookup.
func ObserveAuditLookup(outcome string, d time.Duration) {
	if AuditLookups != nil {
		AuditLookups.WithLabelValues(outcome).Inc()
	}
	if AuditLookupDuration != nil {
		AuditLookupDuration.Observe(d.Seconds())
	}
}

// HelixRequest counts a Helix call. code 0 means the request never got a response.
func HelixRequest(endpoint string, code int) {
	if HelixRequests != nil {
		HelixRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
}

// ChatEvent counts an IRC event.
func ChatEvent(kind string) {
	if ChatEvents != nil {
		ChatEvents.WithLabelValues(kind).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
