package twitchapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// HelixBaseURL is the Helix API root.
const HelixBaseURL = "https://api.twitch.tv/helix"

// HelixClient reads live status from /helix/streams with an app access token. Helix cannot tell
// an offline streamer from an unknown login, so both report offline without error, and it has
// no profile image on the streams endpoint.
type HelixClient struct {
	ClientID    string
	TokenSource oauth2.TokenSource
	BaseURL     string
	HTTPClient  *http.Client
	Timeout     time.Duration

	now func() time.Time
}

// NewHelixClient builds a client that authenticates with the client-credentials grant.
func NewHelixClient(ctx context.Context, clientID, clientSecret string, timeout time.Duration) *HelixClient {
	return &HelixClient{
		ClientID:    clientID,
		TokenSource: NewAppTokenSource(ctx, clientID, clientSecret, "", &http.Client{Timeout: timeoutOr(timeout)}),
		BaseURL:     HelixBaseURL,
		Timeout:     timeout,
	}
}

type helixStreams struct {
	Data []struct {
		ID          string `json:"id"`
		UserLogin   string `json:"user_login"`
		UserName    string `json:"user_name"`
		GameName    string `json:"game_name"`
		Type        string `json:"type"`
		Title       string `json:"title"`
		ViewerCount *int   `json:"viewer_count"`
		StartedAt   string `json:"started_at"`
	} `json:"data"`
}

// FetchStatus performs one bounded streams lookup for username. Failures are reported through
// Snapshot.Err.
func (hc *HelixClient) FetchStatus(ctx context.Context, username string) Snapshot {
	return traced(ctx, "helix", username, func(ctx context.Context) Snapshot {
		ctx, cancel := context.WithTimeout(ctx, timeoutOr(hc.Timeout))
		defer cancel()
		return hc.fetch(ctx, username)
	})
}

func (hc *HelixClient) fetch(ctx context.Context, username string) Snapshot {
	login := strings.ToLower(strings.TrimSpace(username))
	if login == "" {
		return Failed(ErrUserNotFound)
	}
	if hc.TokenSource == nil {
		return Failed(fmt.Errorf("helix client has no token source"))
	}
	tok, err := tokenWithContext(ctx, hc.TokenSource)
	if err != nil {
		return Failed(fmt.Errorf("app token: %w", err))
	}
	base := hc.BaseURL
	if base == "" {
		base = HelixBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/streams", nil)
	if err != nil {
		return Failed(err)
	}
	q := req.URL.Query()
	q.Set("user_login", login)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	tok.SetAuthHeader(req)

	var body helixStreams
	if err := doJSON(hc.HTTPClient, req, &body); err != nil {
		return Failed(err)
	}

	fields := streamFields{}
	var displayName string
	for _, s := range body.Data {
		if !strings.EqualFold(s.UserLogin, login) || (s.Type != "" && s.Type != "live") {
			continue
		}
		fields = streamFields{
			present:   true,
			id:        s.ID,
			title:     s.Title,
			game:      s.GameName,
			viewers:   s.ViewerCount,
			startedAt: parseStartedAt(s.StartedAt),
		}
		displayName = s.UserName
		break
	}
	now := time.Now
	if hc.now != nil {
		now = hc.now
	}
	snap := normalize(fields, now())
	snap.DisplayName = displayName
	return snap
}
