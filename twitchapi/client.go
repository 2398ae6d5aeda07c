package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/chiyoko-haruka/chiyoko/telemetry"
)

// DefaultTimeout bounds one status call when the client has no explicit timeout.
const DefaultTimeout = 5 * time.Second

// maxErrorBody caps how much of an error response is kept in APIError.Body.
const maxErrorBody = 512

func httpClient(hc *http.Client) *http.Client {
	if hc != nil {
		return hc
	}
	return http.DefaultClient
}

func timeoutOr(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return DefaultTimeout
}

// doJSON sends req and decodes a 2xx JSON body into out. Non-2xx responses become *APIError and
// undecodable bodies wrap ErrMalformedPayload.
func doJSON(hc *http.Client, req *http.Request, out any) error {
	resp, err := httpClient(hc).Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// traced wraps one status fetch in a span and the fetch duration histogram.
func traced(ctx context.Context, backend, username string, fetch func(ctx context.Context) Snapshot) Snapshot {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "twitch.fetch_status",
		telemetry.StreamerAttr(username))
	defer span.End()

	var snap Snapshot
	telemetry.TimeFunc(telemetry.FetchDuration, func() {
		snap = fetch(ctx)
	})
	if snap.Err != nil {
		telemetry.RecordError(span, snap.Err)
		slog.Debug("twitch status fetch failed", slog.String("backend", backend), slog.String("login", username), slog.Any("err", snap.Err), slog.String("component", "twitchapi"))
	} else {
		telemetry.SetSpanSuccess(span)
	}
	return snap
}
