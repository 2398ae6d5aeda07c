// Package server exposes the HTTP API: health, status, metrics, and the Twitch
// monitor registry. Requests carry a correlation ID in their context for
// consistent logging, and /api routes are guarded by admin auth and per-IP
// rate limiting.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chiyoko-haruka/chiyoko/monitor"
	"github.com/chiyoko-haruka/chiyoko/store"
	"github.com/chiyoko-haruka/chiyoko/telemetry"
)

// Sweeper is the part of *monitor.Monitor the API drives.
type Sweeper interface {
	Sweep(ctx context.Context) monitor.SweepReport
	IsRunning() bool
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Registry *monitor.Registry
	Monitor  Sweeper
	Store    *store.Store

	// Heartbeat reports the Discord gateway latency; nil when Discord is disabled.
	Heartbeat func() time.Duration
	Auth      AuthConfig
	RateLimit RateLimitConfig
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter's cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	h := NewHandlers(deps)
	limiter := newIPRateLimiter(ctx, deps.RateLimit)
	if !deps.Auth.Enabled() {
		slog.Warn("admin authentication not configured - /api endpoints are UNPROTECTED. Set ADMIN_USERNAME+ADMIN_PASSWORD or ADMIN_TOKEN for production", slog.String("component", "http"))
	}

	api := http.NewServeMux()
	api.HandleFunc("GET /api/twitch/stats", h.HandleStats)
	api.HandleFunc("GET /api/twitch/guilds/{guildID}/streamers", h.HandleListStreamers)
	api.Handle("POST /api/twitch/guilds/{guildID}/streamers", limited(limiter, h.HandleAddStreamer))
	api.Handle("DELETE /api/twitch/guilds/{guildID}/streamers/{username}", limited(limiter, h.HandleRemoveStreamer))
	api.Handle("PUT /api/twitch/guilds/{guildID}/channel", limited(limiter, h.HandleSetChannel))
	api.Handle("POST /api/twitch/sweep", limited(limiter, h.HandleSweep))

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.Handle("/api/", adminAuth(api, deps.Auth))

	return withObservability(mux)
}

func limited(limiter *ipRateLimiter, fn http.HandlerFunc) http.Handler {
	return rateLimitMiddleware(fn, limiter)
}

// withObservability injects the correlation ID, opens a span and records the response code.
func withObservability(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		r = r.WithContext(ctx)
		next.ServeHTTP(rec, r)

		telemetry.ObserveHTTP(routeLabel(r), rec.statusCode)
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// routeLabel keeps metric cardinality bounded by using the matched pattern, not the raw path.
func routeLabel(r *http.Request) string {
	if r.Pattern == "" {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			return "/api/"
		}
		return "unmatched"
	}
	return r.Pattern
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		// A manual sweep walks every streamer, so writes get more room than reads.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err), slog.String("component", "http"))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr), slog.String("component", "http"))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err), slog.String("component", "http"))
		return err
	}
	return nil
}
