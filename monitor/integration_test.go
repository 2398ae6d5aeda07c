package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/chiyoko-haruka/chiyoko/store"
	"github.com/chiyoko-haruka/chiyoko/testutil"
	"github.com/chiyoko-haruka/chiyoko/twitchapi"
)

// TestSweepAgainstMockTwitch drives a real status client over HTTP through a go-live,
// a repeat poll, an outage and a second stream.
func TestSweepAgainstMockTwitch(t *testing.T) {
	tw := testutil.NewMockTwitchServer(t)
	tw.SetOffline("ninja")
	tw.SetOffline("shroud")

	path := filepath.Join(t.TempDir(), "twitch-monitor.json")
	s := store.Open(context.Background(), store.NewFileBackend(path))
	client := twitchapi.NewGQLClient("test-client", time.Second)
	client.Endpoint = tw.GQLURL()
	notifier := &recordingNotifier{}
	m := New(s, client, notifier, WithSettle(0, 1), WithStreamerDelay(0))
	reg := NewRegistry(s, m)
	ctx := context.Background()
	for _, u := range []string{"ninja", "shroud", "ghost_user"} {
		if _, err := reg.AddStreamer(ctx, "G1", "C1", u); err != nil {
			t.Fatal(err)
		}
	}

	report := m.Sweep(ctx)
	if report.Checked != 3 || report.Live != 0 || report.Failed != 1 {
		t.Fatalf("offline sweep = %+v, want 3 checked, 0 live, 1 failed (unknown user)", report)
	}

	tw.SetLive("ninja", testutil.MockStream{ID: "s1", Title: "Ranked grind", Game: "Fortnite", Viewers: 120, StartedAt: time.Now().Add(-30 * time.Minute)})
	report = m.Sweep(ctx)
	if report.Notified != 1 || notifier.count() != 1 {
		t.Fatalf("go-live sweep = %+v, notifications = %d", report, notifier.count())
	}
	sent := notifier.sent[0]
	if sent.channelID != "C1" || sent.snap.Title != "Ranked grind" || sent.snap.Viewers == nil || *sent.snap.Viewers != 120 {
		t.Errorf("notification = %+v", sent)
	}
	if sent.snap.UptimeMinutes == nil || *sent.snap.UptimeMinutes < 29 {
		t.Errorf("uptime = %v, want about 30", sent.snap.UptimeMinutes)
	}

	m.Sweep(ctx)
	if notifier.count() != 1 {
		t.Errorf("notifications after repeat poll = %d, want 1", notifier.count())
	}

	// An outage reads as offline, so the next successful live poll is a new rising edge.
	tw.FailNext(3)
	report = m.Sweep(ctx)
	if report.Failed != 3 {
		t.Errorf("outage sweep failed = %d, want 3", report.Failed)
	}
	m.Sweep(ctx)
	if notifier.count() != 2 {
		t.Errorf("notifications after outage = %d, want 2", notifier.count())
	}

	// State survives a restart.
	reopened := store.Open(ctx, store.NewFileBackend(path))
	var live bool
	reopened.View(func(doc *store.Document) {
		g := doc.Guild("G1")
		live = g.Streamers[g.Find("ninja")].IsLive
	})
	if !live {
		t.Error("persisted isLive = false, want true")
	}
	if tw.GQLRequests.Load() == 0 {
		t.Error("mock server saw no GQL requests")
	}
}
