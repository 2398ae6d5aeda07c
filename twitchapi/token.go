package twitchapi

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenURL is Twitch's OAuth2 token endpoint.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// NewAppTokenSource returns a cached app access (client credentials) token source.
// tokenURL may be empty to use TokenURL; hc may be nil to use the default client.
// NOTE: app tokens only authorize public Helix reads; they carry no user scopes.
func NewAppTokenSource(ctx context.Context, clientID, clientSecret, tokenURL string, hc *http.Client) oauth2.TokenSource {
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		// Twitch expects client_id/client_secret in the form body, not basic auth.
		AuthStyle: oauth2.AuthStyleInParams,
	}
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	return oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx))
}

// tokenWithContext bounds ts.Token by ctx. oauth2.TokenSource takes no context, so a token
// endpoint that hangs would otherwise stall the caller past its deadline.
func tokenWithContext(ctx context.Context, ts oauth2.TokenSource) (*oauth2.Token, error) {
	type result struct {
		tok *oauth2.Token
		err error
	}
	ch := make(chan result, 1)
	go func() {
		tok, err := ts.Token()
		ch <- result{tok, err}
	}()
	select {
	case r := <-ch:
		return r.tok, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
