// Package monitor polls Twitch for the streamers each Discord guild follows and announces
// offline-to-live transitions once the stream metadata is complete enough to be useful.
package monitor

import (
	"context"
	"strings"
	"time"

	"github.com/chiyoko-haruka/chiyoko/store"
	"github.com/chiyoko-haruka/chiyoko/twitchapi"
)

// StatusClient fetches one live-status snapshot. Implementations report failures through
// Snapshot.Err and must bound each call with a timeout.
type StatusClient interface {
	FetchStatus(ctx context.Context, username string) twitchapi.Snapshot
}

// Notifier delivers a go-live announcement to a guild channel.
type Notifier interface {
	Notify(ctx context.Context, channelID string, streamer store.StreamerRecord, snap twitchapi.Snapshot) error
}

// Default gate settings.
const (
	DefaultSettleDelay    = 3 * time.Second
	DefaultSettleAttempts = 1
)

// Sufficient reports whether a snapshot carries enough metadata to announce: a real title
// (not blank and not just the username) plus at least one of viewers, uptime or stream id.
func Sufficient(s twitchapi.Snapshot, username string) bool {
	if s.Err != nil {
		return false
	}
	title := strings.TrimSpace(s.Title)
	if title == "" || strings.EqualFold(title, strings.TrimSpace(username)) {
		return false
	}
	return s.Viewers != nil || s.UptimeMinutes != nil || s.StreamID != ""
}

// Gate debounces rising edges. Twitch often reports a stream as live a few seconds before its
// title and counters are populated, so the first live observation is re-checked after a delay.
type Gate struct {
	Client         StatusClient
	SettleDelay    time.Duration
	SettleAttempts int
}

// ShouldNotify returns the snapshot to announce and true only on an offline-to-live edge whose
// re-fetched snapshot is live and Sufficient. With SettleAttempts > 1 it keeps re-fetching
// until the snapshot is sufficient or the attempts run out. An offline or failed re-fetch
// suppresses the edge immediately.
func (g *Gate) ShouldNotify(ctx context.Context, previousIsLive bool, fresh twitchapi.Snapshot, username string) (twitchapi.Snapshot, bool) {
	if previousIsLive || !fresh.IsLive {
		return fresh, false
	}
	attempts := g.SettleAttempts
	if attempts < 1 {
		attempts = DefaultSettleAttempts
	}
	snap := fresh
	for i := 0; i < attempts; i++ {
		if !sleepCtx(ctx, g.SettleDelay) {
			return snap, false
		}
		snap = g.Client.FetchStatus(ctx, username)
		if snap.Err != nil || !snap.IsLive {
			return snap, false
		}
		if Sufficient(snap, username) {
			return snap, true
		}
	}
	return snap, false
}

// sleepCtx waits for d or until ctx is done. It returns false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
