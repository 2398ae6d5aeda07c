package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chiyoko-haruka/chiyoko/store"
	"github.com/chiyoko-haruka/chiyoko/telemetry"
	"github.com/chiyoko-haruka/chiyoko/twitchapi"
)

// Default loop settings.
const (
	DefaultInterval       = 5 * time.Second
	DefaultInitialDelay   = 2 * time.Second
	DefaultStreamerDelay  = time.Second
	DefaultReloadInterval = 5 * time.Minute
)

// CheckResult is the outcome of checking one streamer within a sweep.
type CheckResult struct {
	GuildID    string             `json:"guildId"`
	Username   string             `json:"username"`
	Snapshot   twitchapi.Snapshot `json:"-"`
	IsLive     bool               `json:"isLive"`
	Notified   bool               `json:"notified"`
	Suppressed bool               `json:"suppressed"`
	Skipped    bool               `json:"skipped,omitempty"`
	Err        error              `json:"-"`
	Error      string             `json:"error,omitempty"`
}

// SweepReport aggregates one pass over every monitored streamer.
type SweepReport struct {
	Checked    int           `json:"checked"`
	Live       int           `json:"live"`
	Notified   int           `json:"notified"`
	Suppressed int           `json:"suppressed"`
	Failed     int           `json:"failed"`
	Duration   time.Duration `json:"durationNs"`
	Results    []CheckResult `json:"results"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithInterval sets the time between sweeps.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) { m.interval = d }
}

// WithInitialDelay sets the wait before the first sweep.
func WithInitialDelay(d time.Duration) Option {
	return func(m *Monitor) { m.initialDelay = d }
}

// WithStreamerDelay sets the pacing between consecutive streamer checks.
func WithStreamerDelay(d time.Duration) Option {
	return func(m *Monitor) { m.streamerDelay = d }
}

func WithReloadInterval(d time.Duration) Option {
	return func(m *Monitor) { m.reloadInterval = d }
}

// WithSettle configures the notification gate.
func WithSettle(delay time.Duration, attempts int) Option {
	return func(m *Monitor) {
		m.gate.SettleDelay = delay
		m.gate.SettleAttempts = attempts
	}
}

// Monitor runs periodic sweeps over the store's streamers. One scheduler goroutine performs
// checks sequentially; manual sweeps share the same lock so two sweeps never overlap.
type Monitor struct {
	store    *store.Store
	client   StatusClient
	notifier Notifier
	gate     *Gate

	interval       time.Duration
	initialDelay   time.Duration
	streamerDelay  time.Duration
	reloadInterval time.Duration
	now            func() time.Time

	mu      sync.Mutex // guards running, stop, done
	running bool
	stop    chan struct{}
	done    chan struct{}

	sweepMu sync.Mutex
}

// New builds a stopped monitor.
func New(s *store.Store, client StatusClient, notifier Notifier, opts ...Option) *Monitor {
	m := &Monitor{
		store:          s,
		client:         client,
		notifier:       notifier,
		gate:           &Gate{Client: client, SettleDelay: DefaultSettleDelay, SettleAttempts: DefaultSettleAttempts},
		interval:       DefaultInterval,
		initialDelay:   DefaultInitialDelay,
		streamerDelay:  DefaultStreamerDelay,
		reloadInterval: DefaultReloadInterval,
		now:            time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	if m.interval <= 0 {
		m.interval = DefaultInterval
	}
	return m
}

// Start launches the scheduler and returns immediately. The first sweep runs after the initial
// delay, then one per interval. Cancelling ctx stops scheduling but, like Stop, lets an in-flight
// sweep finish. Calling Start on a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(ctx, m.stop, m.done)
	slog.Info("twitch monitor started",
		slog.Duration("interval", m.interval),
		slog.Duration("initial_delay", m.initialDelay),
		slog.String("component", "monitor"))
}

// Stop prevents further sweeps and waits for an in-flight sweep to finish. It does not cancel
// that sweep; its network calls are bounded by their own timeouts. Stop is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()
	<-done
	slog.Info("twitch monitor stopped", slog.String("component", "monitor"))
}

// IsRunning reports whether the scheduler is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer close(done)
	// Sweeps keep ctx's values but not its cancellation; each call inside has its own timeout.
	sweepCtx := context.WithoutCancel(ctx)
	defer func() {
		m.mu.Lock()
		if m.done == done {
			m.running = false
		}
		m.mu.Unlock()
	}()

	timer := time.NewTimer(m.initialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-stop:
		return
	case <-timer.C:
	}
	m.Sweep(sweepCtx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.Sweep(sweepCtx)
		}
	}
}

// errGone aborts a status write for a record removed mid-sweep.
var errGone = errors.New("streamer no longer monitored")

type target struct {
	guildID   string
	channelID string
	record    store.StreamerRecord
}

// targets snapshots every streamer in a guild that has a notification channel, guilds in id order.
func (m *Monitor) targets() []target {
	var out []target
	m.store.View(func(doc *store.Document) {
		for _, guildID := range slices.Sorted(maps.Keys(doc.Guilds)) {
			g := doc.Guilds[guildID]
			if g.NotificationChannelID == nil || *g.NotificationChannelID == "" {
				continue
			}
			for _, s := range g.Streamers {
				out = append(out, target{guildID: guildID, channelID: *g.NotificationChannelID, record: s.Clone()})
			}
		}
	})
	return out
}

// Sweep performs one pass: reload if stale, then check each streamer sequentially with pacing
// between checks, then persist once. A failing check never aborts the sweep.
func (m *Monitor) Sweep(ctx context.Context) SweepReport {
	m.sweepMu.Lock()
	defer m.sweepMu.Unlock()

	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "monitor", "monitor.sweep")
	defer span.End()

	if _, err := m.store.ReloadIfStale(ctx, m.reloadInterval); err != nil {
		slog.Warn("monitor reload failed", slog.Any("err", err), slog.String("component", "monitor"))
	}

	report := SweepReport{Results: []CheckResult{}}
	pacer := rate.NewLimiter(rate.Inf, 1)
	if m.streamerDelay > 0 {
		pacer = rate.NewLimiter(rate.Every(m.streamerDelay), 1)
	}
	for _, t := range m.targets() {
		// The limiter starts with one token, so the first check is not delayed.
		if err := pacer.Wait(ctx); err != nil {
			slog.Info("sweep interrupted", slog.Any("err", err), slog.String("component", "monitor"))
			break
		}
		res := m.check(ctx, t)
		if res.Skipped {
			continue
		}
		report.Checked++
		if res.IsLive {
			report.Live++
		}
		if res.Notified {
			report.Notified++
		}
		if res.Suppressed {
			report.Suppressed++
		}
		if res.Err != nil {
			report.Failed++
		}
		report.Results = append(report.Results, res)
	}

	// lastChecked moves on every check, so any checked streamer means a write.
	if report.Checked > 0 {
		if err := m.store.Save(ctx); err != nil {
			telemetry.RecordError(span, err)
		}
	}

	_, total, live := m.store.Counts()
	telemetry.SetStreamerCounts(total, live)
	report.Duration = time.Since(start)
	telemetry.ObserveSweep(report.Duration)
	if report.Checked > 0 {
		slog.Debug("sweep complete",
			slog.Int("checked", report.Checked),
			slog.Int("live", report.Live),
			slog.Int("notified", report.Notified),
			slog.Int("failed", report.Failed),
			slog.Duration("took", report.Duration),
			slog.String("component", "monitor"))
	}
	return report
}

// check fetches, records and (maybe) announces one streamer. Panics are contained here.
func (m *Monitor) check(ctx context.Context, t target) (res CheckResult) {
	res = CheckResult{GuildID: t.guildID, Username: t.record.Username}
	ctx, span := telemetry.StartSpan(ctx, "monitor", "monitor.check",
		telemetry.GuildAttr(t.guildID), telemetry.StreamerAttr(t.record.Username))
	defer func() {
		telemetry.RecordError(span, res.Err)
		span.End()
	}()
	log := slog.With(slog.String("guild_id", t.guildID), slog.String("streamer", t.record.Username), slog.String("component", "monitor"))
	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("panic checking %s: %v", t.record.Username, r)
			res.Error = res.Err.Error()
			telemetry.ObserveCheck(telemetry.OutcomeError)
			log.Error("streamer check panicked", slog.Any("panic", r))
		}
	}()

	snap := m.client.FetchStatus(ctx, t.record.Username)
	res.Snapshot = snap
	res.IsLive = snap.IsLive
	switch {
	case snap.Err != nil:
		res.Err = snap.Err
		res.Error = snap.Err.Error()
		telemetry.ObserveCheck(telemetry.OutcomeError)
		log.Warn("twitch status fetch failed, treating as offline", slog.Any("err", snap.Err))
	case snap.IsLive:
		telemetry.ObserveCheck(telemetry.OutcomeLive)
	default:
		telemetry.ObserveCheck(telemetry.OutcomeOffline)
	}

	previous, record, found := m.applyStatus(t, snap)
	if !found {
		// Removed while the sweep was running.
		res.Skipped = true
		return res
	}

	final, ok := m.gate.ShouldNotify(ctx, previous, snap, record.Username)
	if !ok {
		if !previous && snap.IsLive {
			res.Suppressed = true
			telemetry.ObserveSuppressed()
			log.Info("go-live notification suppressed: incomplete stream data",
				slog.String("title", final.Title), slog.Any("fetch_err", final.Err))
		}
		return res
	}

	res.Snapshot = final
	err := m.notifier.Notify(ctx, t.channelID, record, final)
	telemetry.ObserveNotification(err)
	if err != nil {
		res.Err = fmt.Errorf("notify: %w", err)
		res.Error = res.Err.Error()
		log.Error("failed to send go-live notification", slog.String("channel_id", t.channelID), slog.Any("err", err))
		return res
	}
	res.Notified = true
	log.Info("go-live notification sent", slog.String("channel_id", t.channelID), slog.String("title", final.Title))
	return res
}

// applyStatus writes isLive, lastChecked and (when present) title and game from the first
// snapshot. It returns the stored isLive from before the write and a copy of the updated record.
func (m *Monitor) applyStatus(t target, snap twitchapi.Snapshot) (previous bool, record store.StreamerRecord, found bool) {
	now := m.now()
	_ = m.store.Mutate(func(doc *store.Document) error {
		g := doc.Guild(t.guildID)
		if g == nil {
			return errGone
		}
		for _, s := range g.Streamers {
			if s.ID != t.record.ID {
				continue
			}
			previous = s.IsLive
			s.IsLive = snap.IsLive
			checked := now
			s.LastChecked = &checked
			if snap.Title != "" {
				s.LastStreamTitle = store.StringPtr(snap.Title)
			}
			if snap.Game != "" {
				s.LastGameName = store.StringPtr(snap.Game)
			}
			record = s.Clone()
			found = true
			return nil
		}
		return errGone
	})
	return previous, record, found
}
