// Package twitchapi answers "is this Twitch login live right now, and with what metadata" using
// either the public GQL endpoint or Helix with an app access token.
package twitchapi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUserNotFound is returned when the login does not resolve to a Twitch user.
	ErrUserNotFound = errors.New("twitch user not found")
	// ErrMalformedPayload is returned when a 2xx response cannot be decoded into the expected shape.
	ErrMalformedPayload = errors.New("malformed twitch response")
)

// APIError is a non-2xx HTTP response from Twitch.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twitch api status %d: %s", e.Status, e.Body)
}

// GraphQLError carries the messages of a GQL response's "errors" array.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "twitch gql: " + strings.Join(e.Messages, "; ")
}

// Snapshot is one observation of a streamer. It is never cached. A failed fetch is reported
// as IsLive=false with Err set.
type Snapshot struct {
	IsLive          bool
	Title           string
	Game            string
	Viewers         *int
	UptimeMinutes   *int
	StreamID        string
	DisplayName     string
	ProfileImageURL string
	Err             error
}

// Failed builds the offline snapshot used for every fetch error.
func Failed(err error) Snapshot {
	return Snapshot{IsLive: false, Err: err}
}

// streamFields is the protocol-neutral shape both clients decode into.
type streamFields struct {
	present   bool
	id        string
	title     string
	game      string
	viewers   *int
	startedAt *time.Time
}

// normalize maps raw stream fields to a Snapshot. A stream counts as live only when the stream
// object exists and carries at least one of title, viewer count, game or start time.
func normalize(s streamFields, now time.Time) Snapshot {
	var snap Snapshot
	if !s.present {
		return snap
	}
	hasData := s.title != "" || s.viewers != nil || s.game != "" || s.startedAt != nil
	if !hasData {
		return snap
	}
	snap.IsLive = true
	snap.Title = s.title
	snap.Game = s.game
	snap.StreamID = s.id
	if s.viewers != nil {
		v := *s.viewers
		snap.Viewers = &v
	}
	if s.startedAt != nil {
		m := int(now.Sub(*s.startedAt) / time.Minute)
		if m < 0 {
			m = 0
		}
		snap.UptimeMinutes = &m
	}
	return snap
}

func parseStartedAt(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
