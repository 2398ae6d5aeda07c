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

// Check outcomes used as the "outcome" label of ChecksTotal.
const (
	OutcomeLive    = "live"
	OutcomeOffline = "offline"
	OutcomeError   = "error"
)

var (
	once sync.Once

	// Counters
	SweepsTotal             prometheus.Counter
	ChecksTotal             *prometheus.CounterVec
	NotificationsSent       prometheus.Counter
	NotificationsSuppressed prometheus.Counter
	NotifyFailures          prometheus.Counter
	StoreSaves              prometheus.Counter
	StoreSaveFailures       prometheus.Counter
	HTTPRequests            *prometheus.CounterVec

	// Histograms (seconds)
	SweepDuration prometheus.Observer
	FetchDuration prometheus.Observer

	// Gauges
	StreamersGauge     prometheus.Gauge
	LiveStreamersGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SweepsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "monitor_sweeps_total", Help: "Number of completed monitor sweeps"})
		ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{Name: "monitor_checks_total", Help: "Streamer status checks by outcome"}, []string{"outcome"})
		NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{Name: "monitor_notifications_total", Help: "Go-live notifications delivered"})
		NotificationsSuppressed = promauto.NewCounter(prometheus.CounterOpts{Name: "monitor_notifications_suppressed_total", Help: "Rising edges suppressed by the sufficiency check"})
		NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "monitor_notify_failures_total", Help: "Notifications that failed to send"})
		StoreSaves = promauto.NewCounter(prometheus.CounterOpts{Name: "monitor_store_saves_total", Help: "Successful monitor document saves"})
		StoreSaveFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "monitor_store_save_failures_total", Help: "Failed monitor document saves"})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "http_requests_total", Help: "HTTP requests by route and status code"}, []string{"route", "code"})
		SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "monitor_sweep_duration_seconds", Help: "Sweep duration seconds", Buckets: prometheus.DefBuckets})
		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "twitch_fetch_duration_seconds", Help: "Live status fetch duration seconds", Buckets: prometheus.DefBuckets})
		StreamersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "monitor_streamers", Help: "Monitored streamers across all guilds"})
		LiveStreamersGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "monitor_live_streamers", Help: "Monitored streamers currently live"})
	})
}

// ObserveCheck counts one status check.
func ObserveCheck(outcome string) {
	if ChecksTotal != nil {
		ChecksTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveSweep records a finished sweep.
func ObserveSweep(d time.Duration) {
	if SweepsTotal != nil {
		SweepsTotal.Inc()
	}
	if SweepDuration != nil {
		SweepDuration.Observe(d.Seconds())
	}
}

// ObserveNotification records a delivered (err == nil) or failed notification.
func ObserveNotification(err error) {
	if err != nil {
		if NotifyFailures != nil {
			NotifyFailures.Inc()
		}
		return
	}
	if NotificationsSent != nil {
		NotificationsSent.Inc()
	}
}

// ObserveSuppressed counts a rising edge that failed the sufficiency check.
func ObserveSuppressed() {
	if NotificationsSuppressed != nil {
		NotificationsSuppressed.Inc()
	}
}

// ObserveStoreSave records a document save attempt.
func ObserveStoreSave(err error) {
	if err != nil {
		if StoreSaveFailures != nil {
			StoreSaveFailures.Inc()
		}
		return
	}
	if StoreSaves != nil {
		StoreSaves.Inc()
	}
}

// ObserveHTTP counts one served request.
func ObserveHTTP(route string, code int) {
	if HTTPRequests != nil {
		HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	}
}

// SetStreamerCounts updates the streamer gauges.
func SetStreamerCounts(total, live int) {
	if StreamersGauge != nil {
		StreamersGauge.Set(float64(total))
	}
	if LiveStreamersGauge != nil {
		LiveStreamersGauge.Set(float64(live))
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
	if s, ok := ctx.Value(corrKey).(string); ok {
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
