package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newGQLTestClient(t *testing.T, handler http.HandlerFunc) *GQLClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewGQLClient("test-client-id", time.Second)
	c.Endpoint = server.URL
	c.now = func() time.Time { return time.Date(2024, 10, 15, 15, 0, 0, 0, time.UTC) }
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test response
}

func TestGQLClient_Live(t *testing.T) {
	c := newGQLTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Header.Get("Client-Id") != "test-client-id" {
			t.Errorf("missing or wrong Client-Id header")
		}
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Variables["login"] != "ninja" {
			t.Errorf("login variable = %v, want lowercased ninja", req.Variables["login"])
		}
		writeJSON(w, map[string]any{
			"data": map[string]any{
				"user": map[string]any{
					"id": "19571641", "login": "ninja", "displayName": "Ninja",
					"profileImageURL": "https://static-cdn.jtvnw.net/ninja-300x300.png",
					"stream": map[string]any{
						"id": "stream-1", "title": "Ranked grind", "viewersCount": 120,
						"createdAt": "2024-10-15T13:30:00Z",
						"game":      map[string]any{"name": "Fortnite"},
					},
				},
			},
		})
	})

	snap := c.FetchStatus(context.Background(), "Ninja")
	if snap.Err != nil {
		t.Fatalf("Err = %v", snap.Err)
	}
	if !snap.IsLive || snap.Title != "Ranked grind" || snap.Game != "Fortnite" || snap.StreamID != "stream-1" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Viewers == nil || *snap.Viewers != 120 {
		t.Errorf("Viewers = %v, want 120", snap.Viewers)
	}
	if snap.UptimeMinutes == nil || *snap.UptimeMinutes != 90 {
		t.Errorf("UptimeMinutes = %v, want 90", snap.UptimeMinutes)
	}
	if snap.DisplayName != "Ninja" || snap.ProfileImageURL == "" {
		t.Errorf("profile fields not populated: %+v", snap)
	}
}

func TestGQLClient_Offline(t *testing.T) {
	c := newGQLTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"data": map[string]any{"user": map[string]any{"id": "1", "login": "shroud", "stream": nil}}})
	})
	snap := c.FetchStatus(context.Background(), "shroud")
	if snap.IsLive || snap.Err != nil {
		t.Errorf("snapshot = %+v, want offline without error", snap)
	}
}

func TestGQLClient_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "user not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"data": map[string]any{"user": nil}})
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrUserNotFound) {
					t.Errorf("err = %v, want ErrUserNotFound", err)
				}
			},
		},
		{
			name: "graphql errors",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"errors": []map[string]any{{"message": "service timeout"}}})
			},
			check: func(t *testing.T, err error) {
				var ge *GraphQLError
				if !errors.As(err, &ge) || len(ge.Messages) != 1 {
					t.Errorf("err = %v, want *GraphQLError", err)
				}
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream unavailable", http.StatusBadGateway)
			},
			check: func(t *testing.T, err error) {
				var ae *APIError
				if !errors.As(err, &ae) || ae.Status != http.StatusBadGateway {
					t.Errorf("err = %v, want *APIError 502", err)
				}
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>oops</html>"))
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformedPayload) {
					t.Errorf("err = %v, want ErrMalformedPayload", err)
				}
			},
		},
		{
			name: "missing data",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{})
			},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, ErrMalformedPayload) {
					t.Errorf("err = %v, want ErrMalformedPayload", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newGQLTestClient(t, tt.handler)
			snap := c.FetchStatus(context.Background(), "ninja")
			if snap.IsLive {
				t.Error("failed fetch reported live")
			}
			if snap.Err == nil {
				t.Fatal("Err = nil, want failure")
			}
			tt.check(t, snap.Err)
		})
	}
}

func TestGQLClient_Timeout(t *testing.T) {
	c := newGQLTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	c.Timeout = 50 * time.Millisecond

	start := time.Now()
	snap := c.FetchStatus(context.Background(), "ninja")
	if snap.Err == nil || !errors.Is(snap.Err, context.DeadlineExceeded) {
		t.Errorf("Err = %v, want deadline exceeded", snap.Err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fetch took %v, timeout not enforced", elapsed)
	}
}

func TestGQLClient_EmptyLogin(t *testing.T) {
	c := NewGQLClient("id", time.Second)
	if snap := c.FetchStatus(context.Background(), "   "); !errors.Is(snap.Err, ErrUserNotFound) {
		t.Errorf("Err = %v, want ErrUserNotFound", snap.Err)
	}
}
