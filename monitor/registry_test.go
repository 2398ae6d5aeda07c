package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chiyoko-haruka/chiyoko/store"
)

func TestAddStreamerTwiceIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	rec, err := h.registry.AddStreamer(ctx, "G1", "C1", "ninja")
	if err != nil {
		t.Fatalf("first AddStreamer: %v", err)
	}
	if rec.ID == "" || rec.IsLive || rec.AddedAt.IsZero() || rec.LastChecked != nil {
		t.Errorf("new record = %+v", rec)
	}

	_, err = h.registry.AddStreamer(ctx, "G1", "C1", "NINJA")
	if !errors.Is(err, ErrAlreadyMonitored) {
		t.Fatalf("second AddStreamer error = %v, want ErrAlreadyMonitored", err)
	}
	list, _ := h.registry.ListStreamers("G1")
	if len(list) != 1 {
		t.Errorf("streamers = %d, want 1", len(list))
	}
	ch, _ := h.registry.NotificationChannel("G1")
	if ch != "C1" {
		t.Errorf("channel = %q, want C1", ch)
	}
}

func TestAddStreamerOverwritesChannel(t *testing.T) {
	h := newHarness(t)
	h.add(t, "G1", "C1", "ninja")
	h.add(t, "G1", "C2", "shroud")
	if ch, _ := h.registry.NotificationChannel("G1"); ch != "C2" {
		t.Errorf("channel = %q, want C2", ch)
	}
}

func TestAddStreamerValidatesUsername(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"", "   ", "has space", "emoji🎮", strings.Repeat("a", 26), "semi;colon"} {
		_, err := h.registry.AddStreamer(context.Background(), "G1", "C1", name)
		if !errors.Is(err, ErrInvalidUsername) {
			t.Errorf("AddStreamer(%q) error = %v, want ErrInvalidUsername", name, err)
		}
	}
	rec, err := h.registry.AddStreamer(context.Background(), "G1", "C1", "  Good_Name_25  ")
	if err != nil || rec.Username != "Good_Name_25" {
		t.Errorf("trimmed add = %+v, %v", rec, err)
	}
}

func TestAddStreamerRequiresChannel(t *testing.T) {
	h := newHarness(t)
	if _, err := h.registry.AddStreamer(context.Background(), "G1", " ", "ninja"); !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("error = %v, want ErrInvalidChannel", err)
	}
}

func TestRemoveStreamerTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.add(t, "G1", "C1", "ninja")
	h.add(t, "G1", "C1", "shroud")

	if err := h.registry.RemoveStreamer(ctx, "G1", "Ninja"); err != nil {
		t.Fatalf("first RemoveStreamer: %v", err)
	}
	before, err := os.ReadFile(h.path)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.registry.RemoveStreamer(ctx, "G1", "ninja"); !errors.Is(err, ErrStreamerNotFound) {
		t.Fatalf("second RemoveStreamer error = %v, want ErrStreamerNotFound", err)
	}
	after, _ := os.ReadFile(h.path)
	if string(before) != string(after) {
		t.Error("store changed by a failed remove")
	}
	list, _ := h.registry.ListStreamers("G1")
	if len(list) != 1 || list[0].Username != "shroud" {
		t.Errorf("streamers = %+v, want only shroud", list)
	}
}

func TestReservedGuildIDRejectedEverywhere(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, gid := range []string{"__proto__", "constructor", "prototype"} {
		_, addErr := h.registry.AddStreamer(ctx, gid, "C1", "ninja")
		removeErr := h.registry.RemoveStreamer(ctx, gid, "ninja")
		_, listErr := h.registry.ListStreamers(gid)
		setErr := h.registry.SetChannel(ctx, gid, "C1")
		_, chErr := h.registry.NotificationChannel(gid)
		for op, err := range map[string]error{"add": addErr, "remove": removeErr, "list": listErr, "channel": setErr, "get channel": chErr} {
			if !errors.Is(err, ErrReservedGuildID) {
				t.Errorf("%s(%q) error = %v, want ErrReservedGuildID", op, gid, err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Code != "reserved_guild_id" {
				t.Errorf("%s(%q) is not a validation error: %v", op, gid, err)
			}
		}
	}
	if _, err := os.Stat(h.path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("store file written after rejected operations: %v", err)
	}
	if st := h.registry.Stats(); st.TotalGuilds != 0 {
		t.Errorf("guilds = %d, want 0", st.TotalGuilds)
	}
}

func TestInvalidGuildID(t *testing.T) {
	h := newHarness(t)
	for _, gid := range []string{"", "  ", "has space", strings.Repeat("9", 65)} {
		if _, err := h.registry.ListStreamers(gid); !errors.Is(err, ErrInvalidGuildID) {
			t.Errorf("ListStreamers(%q) error = %v, want ErrInvalidGuildID", gid, err)
		}
	}
}

func TestListStreamersReturnsCopiesInOrder(t *testing.T) {
	h := newHarness(t)
	for _, name := range []string{"zed", "alpha", "mid"} {
		h.add(t, "G1", "C1", name)
	}
	list, err := h.registry.ListStreamers("G1")
	if err != nil {
		t.Fatal(err)
	}
	got := []string{list[0].Username, list[1].Username, list[2].Username}
	if strings.Join(got, ",") != "zed,alpha,mid" {
		t.Errorf("order = %v, want insertion order", got)
	}
	list[0].Username = "mutated"
	again, _ := h.registry.ListStreamers("G1")
	if again[0].Username != "zed" {
		t.Error("ListStreamers leaked a reference into the store")
	}

	empty, err := h.registry.ListStreamers("unknown-guild")
	if err != nil || len(empty) != 0 {
		t.Errorf("unknown guild = %v, %v; want empty list", empty, err)
	}
}

func TestSetChannelCreatesGuild(t *testing.T) {
	h := newHarness(t)
	if err := h.registry.SetChannel(context.Background(), "G9", "C9"); err != nil {
		t.Fatal(err)
	}
	if ch, _ := h.registry.NotificationChannel("G9"); ch != "C9" {
		t.Errorf("channel = %q, want C9", ch)
	}
	if st := h.registry.Stats(); st.TotalGuilds != 1 || st.TotalStreamers != 0 {
		t.Errorf("stats = %+v", st)
	}
}

type fixedState bool

func (f fixedState) IsRunning() bool { return bool(f) }

func TestStats(t *testing.T) {
	s := store.Open(context.Background(), &flakyBackend{})
	r := NewRegistry(s, fixedState(true))
	ctx := context.Background()
	for _, add := range []struct{ g, u string }{{"G1", "ninja"}, {"G1", "shroud"}, {"G2", "pokimane"}} {
		if _, err := r.AddStreamer(ctx, add.g, "C", add.u); err != nil {
			t.Fatal(err)
		}
	}
	_ = s.Update(ctx, func(doc *store.Document) error {
		doc.Guild("G2").Streamers[0].IsLive = true
		return nil
	})
	want := Stats{TotalGuilds: 2, TotalStreamers: 3, LiveStreamers: 1, IsMonitoring: true}
	if got := r.Stats(); got != want {
		t.Errorf("Stats() = %+v, want %+v", got, want)
	}
	if NewRegistry(s, nil).Stats().IsMonitoring {
		t.Error("nil run state reported monitoring")
	}
}

func TestPersistFailureIsNotValidation(t *testing.T) {
	backend := &flakyBackend{saveErr: errors.New("read-only file system")}
	s := store.Open(context.Background(), backend)
	r := NewRegistry(s, nil)
	r.now = func() time.Time { return time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC) }

	_, err := r.AddStreamer(context.Background(), "G1", "C1", "ninja")
	if err == nil {
		t.Fatal("AddStreamer succeeded with failing backend")
	}
	if IsValidation(err) {
		t.Errorf("persistence failure reported as validation: %v", err)
	}
	var pe *store.PersistError
	if !errors.As(err, &pe) {
		t.Errorf("error = %v, want wrapped *store.PersistError", err)
	}
	res := NewResult(nil, err)
	if res.Success || res.Message != PendingSaveMessage || strings.Contains(res.Message, "read-only") {
		t.Errorf("result = %+v, want pending-save failure", res)
	}
	if other := NewResult(nil, errors.New("boom")); other.Message == PendingSaveMessage || other.Message == "" {
		t.Errorf("non-persist failure result = %+v", other)
	}
	// Memory stays authoritative.
	if st := r.Stats(); st.TotalStreamers != 1 {
		t.Errorf("streamers in memory = %d, want 1", st.TotalStreamers)
	}
}

func TestPendingAddIsWrittenByNextSweep(t *testing.T) {
	backend := &flakyBackend{saveErr: errors.New("read-only file system")}
	s := store.Open(context.Background(), backend)
	m := New(s, newFakeClient(), &recordingNotifier{}, WithSettle(0, 1), WithStreamerDelay(0))
	r := NewRegistry(s, m)

	if _, err := r.AddStreamer(context.Background(), "G1", "C1", "ninja"); err == nil {
		t.Fatal("AddStreamer succeeded with failing backend")
	}
	// Repeating the command is rejected: the change is already applied.
	if _, err := r.AddStreamer(context.Background(), "G1", "C1", "ninja"); !errors.Is(err, ErrAlreadyMonitored) {
		t.Fatalf("retry error = %v, want ErrAlreadyMonitored", err)
	}

	backend.mu.Lock()
	backend.saveErr = nil
	backend.mu.Unlock()
	m.Sweep(context.Background())

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.doc == nil {
		t.Fatal("nothing persisted after the sweep")
	}
	g := backend.doc.Guild("G1")
	if g == nil || g.Find("ninja") < 0 {
		t.Fatalf("persisted doc = %+v, want pending add written", backend.doc)
	}
}

func TestNewResultJSON(t *testing.T) {
	ok, _ := json.Marshal(NewResult(Stats{TotalGuilds: 1}, nil))
	if !strings.Contains(string(ok), `"success":true`) || !strings.Contains(string(ok), `"totalGuilds":1`) || strings.Contains(string(ok), "message") {
		t.Errorf("success JSON = %s", ok)
	}
	_, err := newHarness(t).registry.ListStreamers("__proto__")
	bad, _ := json.Marshal(NewResult(nil, err))
	if !strings.Contains(string(bad), `"success":false`) || !strings.Contains(string(bad), `"message":"guild id`) || strings.Contains(string(bad), "data") {
		t.Errorf("failure JSON = %s", bad)
	}
}
