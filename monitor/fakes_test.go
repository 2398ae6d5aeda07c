package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chiyoko-haruka/chiyoko/store"
	"github.com/chiyoko-haruka/chiyoko/twitchapi"
)

// fakeClient replays a scripted sequence of snapshots per login; the last one repeats.
type fakeClient struct {
	mu      sync.Mutex
	script  map[string][]twitchapi.Snapshot
	calls   map[string]int
	hook    func(login string)
	panicOn string
}

func newFakeClient() *fakeClient {
	return &fakeClient{script: map[string][]twitchapi.Snapshot{}, calls: map[string]int{}}
}

func (f *fakeClient) set(login string, snaps ...twitchapi.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script[strings.ToLower(login)] = snaps
	f.calls[strings.ToLower(login)] = 0
}

func (f *fakeClient) callCount(login string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[strings.ToLower(login)]
}

func (f *fakeClient) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeClient) FetchStatus(ctx context.Context, username string) twitchapi.Snapshot {
	key := strings.ToLower(username)
	f.mu.Lock()
	f.calls[key]++
	n := f.calls[key]
	seq := f.script[key]
	hook := f.hook
	panicOn := f.panicOn
	f.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if key == panicOn {
		panic("decoder exploded")
	}
	if len(seq) == 0 {
		return twitchapi.Snapshot{}
	}
	if n > len(seq) {
		return seq[len(seq)-1]
	}
	return seq[n-1]
}

type notification struct {
	channelID string
	streamer  store.StreamerRecord
	snap      twitchapi.Snapshot
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, channelID string, streamer store.StreamerRecord, snap twitchapi.Snapshot) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{channelID: channelID, streamer: streamer, snap: snap})
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// flakyBackend is an in-memory backend whose saves can be made to fail.
type flakyBackend struct {
	mu      sync.Mutex
	doc     *store.Document
	saveErr error
	saves   int
}

func (b *flakyBackend) Name() string { return "memory" }

func (b *flakyBackend) Load(ctx context.Context) (*store.Document, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.doc == nil {
		return nil, store.ErrNoDocument
	}
	return b.doc.Clone(), nil
}

func (b *flakyBackend) Save(ctx context.Context, doc *store.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	if b.saveErr != nil {
		return b.saveErr
	}
	b.doc = doc.Clone()
	return nil
}

func intPtr(v int) *int { return &v }

func liveSnap(title string, viewers int) twitchapi.Snapshot {
	return twitchapi.Snapshot{IsLive: true, Title: title, Game: "Fortnite", Viewers: intPtr(viewers), StreamID: "s-" + title}
}

var errTimeout = errors.New("context deadline exceeded")

type harness struct {
	store    *store.Store
	path     string
	client   *fakeClient
	notifier *recordingNotifier
	monitor  *Monitor
	registry *Registry
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "twitch-monitor.json")
	s := store.Open(context.Background(), store.NewFileBackend(path))
	client := newFakeClient()
	notifier := &recordingNotifier{}
	base := []Option{WithSettle(0, 1), WithStreamerDelay(0), WithInitialDelay(0)}
	m := New(s, client, notifier, append(base, opts...)...)
	return &harness{store: s, path: path, client: client, notifier: notifier, monitor: m, registry: NewRegistry(s, m)}
}

func (h *harness) add(t *testing.T, guildID, channelID, username string) {
	t.Helper()
	if _, err := h.registry.AddStreamer(context.Background(), guildID, channelID, username); err != nil {
		t.Fatalf("AddStreamer(%s, %s): %v", guildID, username, err)
	}
}

func (h *harness) record(t *testing.T, guildID, username string) store.StreamerRecord {
	t.Helper()
	list, err := h.registry.ListStreamers(guildID)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range list {
		if strings.EqualFold(r.Username, username) {
			return r
		}
	}
	t.Fatalf("streamer %s not found in %s", username, guildID)
	return store.StreamerRecord{}
}
