package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/chiyoko-haruka/chiyoko/store"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,25}$`)

// maxIDLength bounds guild and channel ids. Discord snowflakes are at most 20 digits.
const maxIDLength = 64

// Stats summarizes the registry for dashboards and /twitch stats.
type Stats struct {
	TotalGuilds    int  `json:"totalGuilds"`
	TotalStreamers int  `json:"totalStreamers"`
	LiveStreamers  int  `json:"liveStreamers"`
	IsMonitoring   bool `json:"isMonitoring"`
}

// RunState reports whether the polling loop is active. *Monitor implements it.
type RunState interface {
	IsRunning() bool
}

// Registry is the CRUD surface over per-guild streamer lists. Every operation validates the
// guild id before touching the store.
type Registry struct {
	store *store.Store
	state RunState

	now   func() time.Time
	newID func() string
}

// NewRegistry returns a registry over s. state may be nil when no loop runs.
func NewRegistry(s *store.Store, state RunState) *Registry {
	return &Registry{
		store: s,
		state: state,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

func validateGuildID(guildID string) (string, error) {
	id := strings.TrimSpace(guildID)
	if store.IsReservedKey(id) {
		return "", invalid(ErrReservedGuildID, "reserved_guild_id", "guild id %q is not allowed", id)
	}
	if id == "" || len(id) > maxIDLength || strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return "", invalid(ErrInvalidGuildID, "invalid_guild_id", "invalid guild id")
	}
	return id, nil
}

func validateChannelID(channelID string) (string, error) {
	id := strings.TrimSpace(channelID)
	if id == "" || len(id) > maxIDLength || strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return "", invalid(ErrInvalidChannel, "invalid_channel", "a valid notification channel is required")
	}
	return id, nil
}

func validateUsername(username string) (string, error) {
	name := strings.TrimSpace(username)
	if !usernamePattern.MatchString(name) {
		return "", invalid(ErrInvalidUsername, "invalid_username",
			"%q is not a valid Twitch username (1-25 letters, digits or underscores)", name)
	}
	return name, nil
}

func persistFailed(err error) error {
	return fmt.Errorf("failed to persist monitor state: %w", err)
}

// AddStreamer starts monitoring username in guildID and points the guild's notifications at
// channelID, replacing any previous channel.
func (r *Registry) AddStreamer(ctx context.Context, guildID, channelID, username string) (*store.StreamerRecord, error) {
	gid, err := validateGuildID(guildID)
	if err != nil {
		return nil, err
	}
	name, err := validateUsername(username)
	if err != nil {
		return nil, err
	}
	cid, err := validateChannelID(channelID)
	if err != nil {
		return nil, err
	}

	var added store.StreamerRecord
	err = r.store.Update(ctx, func(doc *store.Document) error {
		g, err := doc.EnsureGuild(gid)
		if err != nil {
			return invalid(ErrReservedGuildID, "reserved_guild_id", "guild id %q is not allowed", gid)
		}
		if g.Find(name) >= 0 {
			return invalid(ErrAlreadyMonitored, "already_monitored", "%s is already being monitored in this server", name)
		}
		rec := &store.StreamerRecord{
			ID:       r.newID(),
			Username: name,
			AddedAt:  r.now().UTC(),
		}
		g.Streamers = append(g.Streamers, rec)
		g.NotificationChannelID = store.StringPtr(cid)
		added = rec.Clone()
		return nil
	})
	if err != nil {
		if IsValidation(err) {
			return nil, err
		}
		return nil, persistFailed(err)
	}
	slog.Info("streamer added", slog.String("guild_id", gid), slog.String("streamer", name), slog.String("channel_id", cid), slog.String("component", "registry"))
	return &added, nil
}

// RemoveStreamer stops monitoring username in guildID.
func (r *Registry) RemoveStreamer(ctx context.Context, guildID, username string) error {
	gid, err := validateGuildID(guildID)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(username)
	if name == "" {
		return invalid(ErrInvalidUsername, "invalid_username", "a Twitch username is required")
	}

	notFound := invalid(ErrStreamerNotFound, "streamer_not_found", "%s is not being monitored in this server", name)
	// Avoid a write (and a failed save) when there is nothing to remove.
	present := false
	r.store.View(func(doc *store.Document) {
		if g := doc.Guild(gid); g != nil && g.Find(name) >= 0 {
			present = true
		}
	})
	if !present {
		return notFound
	}

	err = r.store.Update(ctx, func(doc *store.Document) error {
		g := doc.Guild(gid)
		if g == nil {
			return notFound
		}
		i := g.Find(name)
		if i < 0 {
			return notFound
		}
		g.Streamers = append(g.Streamers[:i], g.Streamers[i+1:]...)
		return nil
	})
	if err != nil {
		if IsValidation(err) {
			return err
		}
		return persistFailed(err)
	}
	slog.Info("streamer removed", slog.String("guild_id", gid), slog.String("streamer", name), slog.String("component", "registry"))
	return nil
}

// ListStreamers returns copies of guildID's records in insertion order. An unknown guild has none.
func (r *Registry) ListStreamers(guildID string) ([]store.StreamerRecord, error) {
	gid, err := validateGuildID(guildID)
	if err != nil {
		return nil, err
	}
	out := []store.StreamerRecord{}
	r.store.View(func(doc *store.Document) {
		if g := doc.Guild(gid); g != nil {
			for _, s := range g.Streamers {
				out = append(out, s.Clone())
			}
		}
	})
	return out, nil
}

// NotificationChannel returns the configured channel for guildID, if any.
func (r *Registry) NotificationChannel(guildID string) (string, error) {
	gid, err := validateGuildID(guildID)
	if err != nil {
		return "", err
	}
	var ch string
	r.store.View(func(doc *store.Document) {
		if g := doc.Guild(gid); g != nil && g.NotificationChannelID != nil {
			ch = *g.NotificationChannelID
		}
	})
	return ch, nil
}

// SetChannel sets guildID's notification channel, creating the guild entry when absent.
func (r *Registry) SetChannel(ctx context.Context, guildID, channelID string) error {
	gid, err := validateGuildID(guildID)
	if err != nil {
		return err
	}
	cid, err := validateChannelID(channelID)
	if err != nil {
		return err
	}
	err = r.store.Update(ctx, func(doc *store.Document) error {
		g, err := doc.EnsureGuild(gid)
		if err != nil {
			return invalid(ErrReservedGuildID, "reserved_guild_id", "guild id %q is not allowed", gid)
		}
		g.NotificationChannelID = store.StringPtr(cid)
		return nil
	})
	if err != nil {
		if IsValidation(err) {
			return err
		}
		return persistFailed(err)
	}
	slog.Info("notification channel set", slog.String("guild_id", gid), slog.String("channel_id", cid), slog.String("component", "registry"))
	return nil
}

// Stats counts guilds, streamers and live streamers.
func (r *Registry) Stats() Stats {
	guilds, streamers, live := r.store.Counts()
	st := Stats{TotalGuilds: guilds, TotalStreamers: streamers, LiveStreamers: live}
	if r.state != nil {
		st.IsMonitoring = r.state.IsRunning()
	}
	return st
}
