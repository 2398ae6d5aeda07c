// Package store holds the Twitch monitor's persisted document (guild -> streamer list) and
// the in-memory working copy every component reads and mutates.
//
// The document is the single source of truth for which streamers are monitored where and
// what their last observed status was. It is written through a Backend (a JSON file by
// default, Postgres optionally) and all mutation goes through one Store lock so that registry
// edits, sweep status writes and periodic reloads never interleave.
package store

import (
	"errors"
	"strings"
	"time"
)

// StreamerRecord is one monitored Twitch channel inside a guild.
type StreamerRecord struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	AddedAt         time.Time  `json:"addedAt"`
	IsLive          bool       `json:"isLive"`
	LastChecked     *time.Time `json:"lastChecked"`
	LastStreamTitle *string    `json:"lastStreamTitle"`
	LastGameName    *string    `json:"lastGameName"`
}

// GuildConfig is the per-guild monitoring configuration.
type GuildConfig struct {
	Streamers             []*StreamerRecord `json:"streamers"`
	NotificationChannelID *string           `json:"notificationChannelId"`
}

// Document is the root persisted value.
type Document struct {
	Guilds map[string]*GuildConfig `json:"guilds"`
}

// ErrReservedKey is returned when a guild id collides with a reserved object property name.
var ErrReservedKey = errors.New("reserved guild key")

// The persisted file is also edited by a JavaScript web UI that treats it as a plain object,
// so keys that would shadow built-in object properties are refused.
var reservedKeys = map[string]struct{}{
	"__proto__":            {},
	"constructor":          {},
	"prototype":            {},
	"hasOwnProperty":       {},
	"isPrototypeOf":        {},
	"propertyIsEnumerable": {},
	"toString":             {},
	"toLocaleString":       {},
	"valueOf":              {},
	"__defineGetter__":     {},
	"__defineSetter__":     {},
	"__lookupGetter__":     {},
	"__lookupSetter__":     {},
}

// IsReservedKey reports whether key may not be used as a guild id.
func IsReservedKey(key string) bool {
	_, ok := reservedKeys[key]
	return ok
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Guilds: make(map[string]*GuildConfig)}
}

// Guild returns the config for guildID or nil.
func (d *Document) Guild(guildID string) *GuildConfig {
	if d == nil || d.Guilds == nil {
		return nil
	}
	return d.Guilds[guildID]
}

// EnsureGuild returns the config for guildID, creating it when absent.
func (d *Document) EnsureGuild(guildID string) (*GuildConfig, error) {
	if IsReservedKey(guildID) {
		return nil, ErrReservedKey
	}
	if d.Guilds == nil {
		d.Guilds = make(map[string]*GuildConfig)
	}
	g, ok := d.Guilds[guildID]
	if !ok {
		g = &GuildConfig{Streamers: []*StreamerRecord{}}
		d.Guilds[guildID] = g
	}
	return g, nil
}

// Find returns the index of username (case-insensitive) or -1.
func (g *GuildConfig) Find(username string) int {
	for i, s := range g.Streamers {
		if strings.EqualFold(s.Username, username) {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := NewDocument()
	if d == nil {
		return out
	}
	for id, g := range d.Guilds {
		out.Guilds[id] = g.Clone()
	}
	return out
}

// Clone returns a deep copy of the guild config.
func (g *GuildConfig) Clone() *GuildConfig {
	if g == nil {
		return nil
	}
	out := &GuildConfig{
		Streamers:             make([]*StreamerRecord, 0, len(g.Streamers)),
		NotificationChannelID: cloneString(g.NotificationChannelID),
	}
	for _, s := range g.Streamers {
		c := s.Clone()
		out.Streamers = append(out.Streamers, &c)
	}
	return out
}

// Clone returns a copy of the record that shares no pointers with the original.
func (s *StreamerRecord) Clone() StreamerRecord {
	c := *s
	c.LastStreamTitle = cloneString(s.LastStreamTitle)
	c.LastGameName = cloneString(s.LastGameName)
	if s.LastChecked != nil {
		t := *s.LastChecked
		c.LastChecked = &t
	}
	return c
}

// Counts returns guild, streamer and live-streamer totals.
func (d *Document) Counts() (guilds, streamers, live int) {
	if d == nil {
		return 0, 0, 0
	}
	for _, g := range d.Guilds {
		guilds++
		for _, s := range g.Streamers {
			streamers++
			if s.IsLive {
				live++
			}
		}
	}
	return guilds, streamers, live
}

// sanitize drops reserved keys and nil entries and fills nil slices, returning the dropped keys.
func (d *Document) sanitize() []string {
	if d.Guilds == nil {
		d.Guilds = make(map[string]*GuildConfig)
	}
	var dropped []string
	for id, g := range d.Guilds {
		if IsReservedKey(id) || g == nil {
			delete(d.Guilds, id)
			dropped = append(dropped, id)
			continue
		}
		if g.Streamers == nil {
			g.Streamers = []*StreamerRecord{}
		}
		kept := g.Streamers[:0]
		for _, s := range g.Streamers {
			if s != nil {
				kept = append(kept, s)
			}
		}
		g.Streamers = kept
	}
	return dropped
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a small helper for optional string fields.
func StringPtr(s string) *string { return &s }
