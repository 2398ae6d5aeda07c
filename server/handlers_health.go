package server

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/chiyoko-haruka/chiyoko/monitor"
)

// pinger is implemented by store backends that sit on a remote dependency.
type pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealthz responds to liveness probe requests.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests with detailed system checks.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"store", func() error {
			if h.deps.Store == nil {
				return errors.New("store not configured")
			}
			if p, ok := h.deps.Store.Backend().(pinger); ok {
				ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
				defer cancel()
				return p.Ping(ctx)
			}
			return nil
		}},
		{"monitor", func() error {
			if h.deps.Monitor == nil || !h.deps.Monitor.IsRunning() {
				return errors.New("monitor not running")
			}
			return nil
		}},
	}

	for _, check := range checks {
		if err := check.fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// RuntimeStatus is the dashboard telemetry served on /status.
type RuntimeStatus struct {
	UptimeSeconds int64         `json:"uptimeSeconds"`
	Goroutines    int           `json:"goroutines"`
	HeapAllocMB   float64       `json:"heapAllocMb"`
	SysMB         float64       `json:"sysMb"`
	NumGC         uint32        `json:"numGc"`
	HeartbeatMS   *int64        `json:"heartbeatMs"`
	Monitor       monitor.Stats `json:"monitor"`
}

// HandleStatus reports process and monitor state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	st := RuntimeStatus{
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(ms.HeapAlloc) / (1 << 20),
		SysMB:         float64(ms.Sys) / (1 << 20),
		NumGC:         ms.NumGC,
	}
	if h.deps.Heartbeat != nil {
		ping := h.deps.Heartbeat().Milliseconds()
		st.HeartbeatMS = &ping
	}
	if h.deps.Registry != nil {
		st.Monitor = h.deps.Registry.Stats()
	}
	writeJSON(w, http.StatusOK, st)
}
