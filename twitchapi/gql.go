package twitchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GQLEndpoint is Twitch's public GraphQL endpoint.
const GQLEndpoint = "https://gql.twitch.tv/gql"

const streamQuery = `query($login: String!) {
  user(login: $login) {
    id
    login
    displayName
    profileImageURL(width: 300)
    stream {
      id
      title
      viewersCount
      createdAt
      game { name }
    }
  }
}`

// GQLClient queries the public GQL endpoint with the web client id. No user credentials are needed.
type GQLClient struct {
	ClientID   string
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration

	now func() time.Time
}

// NewGQLClient returns a client for the default endpoint.
func NewGQLClient(clientID string, timeout time.Duration) *GQLClient {
	return &GQLClient{ClientID: clientID, Endpoint: GQLEndpoint, Timeout: timeout}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlResponse struct {
	Data *struct {
		User *struct {
			ID              string `json:"id"`
			Login           string `json:"login"`
			DisplayName     string `json:"displayName"`
			ProfileImageURL string `json:"profileImageURL"`
			Stream          *struct {
				ID           string `json:"id"`
				Title        string `json:"title"`
				ViewersCount *int   `json:"viewersCount"`
				CreatedAt    string `json:"createdAt"`
				Game         *struct {
					Name string `json:"name"`
				} `json:"game"`
			} `json:"stream"`
		} `json:"user"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchStatus performs one bounded query for username. It never returns an error directly:
// failures are reported through Snapshot.Err.
func (c *GQLClient) FetchStatus(ctx context.Context, username string) Snapshot {
	return traced(ctx, "gql", username, func(ctx context.Context) Snapshot {
		ctx, cancel := context.WithTimeout(ctx, timeoutOr(c.Timeout))
		defer cancel()
		return c.fetch(ctx, username)
	})
}

func (c *GQLClient) fetch(ctx context.Context, username string) Snapshot {
	login := strings.ToLower(strings.TrimSpace(username))
	if login == "" {
		return Failed(ErrUserNotFound)
	}
	body, err := json.Marshal(gqlRequest{Query: streamQuery, Variables: map[string]any{"login": login}})
	if err != nil {
		return Failed(err)
	}
	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = GQLEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Failed(err)
	}
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Content-Type", "application/json")

	var out gqlResponse
	if err := doJSON(c.HTTPClient, req, &out); err != nil {
		return Failed(err)
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		return Failed(&GraphQLError{Messages: msgs})
	}
	if out.Data == nil {
		return Failed(fmt.Errorf("%w: missing data", ErrMalformedPayload))
	}
	u := out.Data.User
	if u == nil {
		return Failed(ErrUserNotFound)
	}

	fields := streamFields{}
	if st := u.Stream; st != nil {
		fields.present = true
		fields.id = st.ID
		fields.title = st.Title
		fields.viewers = st.ViewersCount
		fields.startedAt = parseStartedAt(st.CreatedAt)
		if st.Game != nil {
			fields.game = st.Game.Name
		}
	}
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	snap := normalize(fields, now())
	snap.DisplayName = u.DisplayName
	snap.ProfileImageURL = u.ProfileImageURL
	return snap
}
