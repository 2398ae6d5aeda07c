// Package testutil holds shared fakes for the Twitch endpoints and a Postgres test database.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// MockStream is the live stream a mock login reports.
type MockStream struct {
	ID        string
	Title     string
	Game      string
	Viewers   int
	StartedAt time.Time
}

// MockTwitchServer answers the GQL, Helix streams and OAuth token endpoints from an in-memory
// table of logins. Unknown logins are "not found" on GQL and offline on Helix.
type MockTwitchServer struct {
	*httptest.Server

	mu      sync.Mutex
	users   map[string]*MockStream // nil value: known user, offline
	failing int

	GQLRequests   atomic.Int64
	HelixRequests atomic.Int64
	TokenRequests atomic.Int64
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{users: make(map[string]*MockStream)}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /gql", m.handleGQL)
	mux.HandleFunc("GET /helix/streams", m.handleStreams)
	mux.HandleFunc("POST /oauth2/token", m.handleToken)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

// GQLURL is the endpoint for twitchapi.GQLClient.
func (m *MockTwitchServer) GQLURL() string { return m.URL + "/gql" }

// HelixURL is the base URL for twitchapi.HelixClient.
func (m *MockTwitchServer) HelixURL() string { return m.URL + "/helix" }

// TokenURL is the client-credentials token endpoint.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// SetLive marks login as streaming s.
func (m *MockTwitchServer) SetLive(login string, s MockStream) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[strings.ToLower(login)] = &s
}

// SetOffline registers login as a known, offline user.
func (m *MockTwitchServer) SetOffline(login string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[strings.ToLower(login)] = nil
}

// FailNext makes the next n status requests answer 503.
func (m *MockTwitchServer) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing = n
}

func (m *MockTwitchServer) lookup(login string) (stream *MockStream, known, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing > 0 {
		m.failing--
		return nil, false, true
	}
	s, ok := m.users[strings.ToLower(login)]
	if s != nil {
		cp := *s
		s = &cp
	}
	return s, ok, false
}

func (m *MockTwitchServer) handleGQL(w http.ResponseWriter, r *http.Request) {
	m.GQLRequests.Add(1)
	if r.Header.Get("Client-Id") == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Bad Request", "message": "missing Client-Id"})
		return
	}
	var req struct {
		Variables struct {
			Login string `json:"login"`
		} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	stream, known, fail := m.lookup(req.Variables.Login)
	if fail {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Service Unavailable"})
		return
	}
	if !known {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"user": nil}})
		return
	}
	user := map[string]any{
		"id":              "1000",
		"login":           req.Variables.Login,
		"displayName":     req.Variables.Login,
		"profileImageURL": "https://static-cdn.jtvnw.net/jtv_user_pictures/" + req.Variables.Login + "-300x300.png",
		"stream":          nil,
	}
	if stream != nil {
		user["stream"] = map[string]any{
			"id":           stream.ID,
			"title":        stream.Title,
			"viewersCount": stream.Viewers,
			"createdAt":    stream.StartedAt.UTC().Format(time.RFC3339),
			"game":         map[string]any{"name": stream.Game},
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"user": user}})
}

func (m *MockTwitchServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	m.HelixRequests.Add(1)
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") || r.Header.Get("Client-Id") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized", "status": 401})
		return
	}
	login := r.URL.Query().Get("user_login")
	stream, _, fail := m.lookup(login)
	if fail {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Service Unavailable"})
		return
	}
	data := []map[string]any{}
	if stream != nil {
		data = append(data, map[string]any{
			"id":           stream.ID,
			"user_login":   strings.ToLower(login),
			"user_name":    login,
			"game_name":    stream.Game,
			"type":         "live",
			"title":        stream.Title,
			"viewer_count": stream.Viewers,
			"started_at":   stream.StartedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data})
}

func (m *MockTwitchServer) handleToken(w http.ResponseWriter, r *http.Request) {
	m.TokenRequests.Add(1)
	if err := r.ParseForm(); err != nil || r.Form.Get("grant_type") != "client_credentials" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid grant"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": "mock-app-token",
		"expires_in":   3600,
		"token_type":   "bearer",
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}
