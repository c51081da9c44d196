package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// RefreshPath is the token-refresh endpoint, relative to the base URL.
const RefreshPath = "/auth/refresh"

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshResult is the body of a successful refresh. ExpiresIn is in seconds.
// RefreshToken is set only by servers that rotate refresh tokens.
type RefreshResult struct {
	Token        string  `json:"token"`
	ExpiresIn    float64 `json:"expiresIn"`
	RefreshToken string  `json:"refreshToken,omitempty"`
}

// refreshOutcome is what one refresh call produced. Exactly one field is set.
type refreshOutcome struct {
	token string
	fail  failure
}

// reauthenticate runs after the first 401 of a request: it exchanges the
// refresh token for a new access token and replays req exactly once. The
// replay's result is final. Any failure on this path clears the store and
// sends the user to the login page.
func (c *Client) reauthenticate(ctx context.Context, req request) (*Response, error) {
	refreshToken := c.tokens.RefreshToken()
	if refreshToken == "" {
		c.logger.Warn("no refresh token, ending session",
			slog.String("url", req.url),
		)
		c.endSession()

		return nil, standardizeError(networkError{err: &codedError{
			code:     codeNoRefreshToken,
			sentinel: ErrNoRefreshToken,
			msg:      "No refresh token available",
		}})
	}

	c.logger.Info("access token rejected, refreshing",
		slog.String("method", req.method),
		slog.String("url", req.url),
	)

	out := c.refresh(ctx, refreshToken)
	if out.fail != nil {
		apiErr := standardizeError(out.fail)
		if canceled(ctx) {
			c.logger.Info("token refresh canceled, keeping session")
			return nil, apiErr
		}

		c.logger.Error("token refresh failed",
			slog.String("code", apiErr.Code),
			slog.Int("status", apiErr.Status),
		)
		c.endSession()

		return nil, apiErr
	}

	replay := req.withAuth(out.token)

	resp, err := c.send(ctx, replay)
	if err == nil && isSuccess(resp.StatusCode) {
		c.logSuccess(replay, resp)
		return resp, nil
	}

	var fail failure = networkError{err: err}
	if err == nil {
		c.observe(replay, resp)
		fail = newHTTPFailure(resp.StatusCode, resp.Body)
	}

	apiErr := standardizeError(fail)
	if canceled(ctx) {
		return nil, apiErr
	}

	c.logger.Error("request failed after token refresh",
		slog.String("method", replay.method),
		slog.String("url", replay.url),
		slog.String("code", apiErr.Code),
		slog.Int("status", apiErr.Status),
	)
	c.endSession()

	return nil, apiErr
}

// Refresh exchanges the stored refresh token for a new access token outside
// of any request, e.g. to renew a session ahead of time.
func (c *Client) Refresh(ctx context.Context) error {
	refreshToken := c.tokens.RefreshToken()
	if refreshToken == "" {
		return standardizeError(networkError{err: &codedError{
			code:     codeNoRefreshToken,
			sentinel: ErrNoRefreshToken,
			msg:      "No refresh token available",
		}})
	}

	if out := c.refresh(ctx, refreshToken); out.fail != nil {
		return standardizeError(out.fail)
	}

	return nil
}

// refresh calls the refresh endpoint, collapsing concurrent calls for the same
// refresh token when single-flight is enabled.
func (c *Client) refresh(ctx context.Context, refreshToken string) refreshOutcome {
	if c.refreshGroup == nil {
		return c.doRefresh(ctx, refreshToken)
	}

	v, _, shared := c.refreshGroup.Do(refreshToken, func() (any, error) {
		return c.doRefresh(ctx, refreshToken), nil
	})

	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}

	out, _ := v.(refreshOutcome)

	return out
}

// doRefresh issues the refresh call on a fresh, unauthenticated request that
// bypasses the request pipeline, then stores the new token.
func (c *Client) doRefresh(ctx context.Context, refreshToken string) refreshOutcome {
	payload, err := json.Marshal(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return refreshOutcome{fail: networkError{err: fmt.Errorf("encoding refresh request: %w", err)}}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+RefreshPath, bytes.NewReader(payload))
	if err != nil {
		return refreshOutcome{fail: networkError{err: fmt.Errorf("creating refresh request: %w", err)}}
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return refreshOutcome{fail: networkError{err: err}}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return refreshOutcome{fail: networkError{err: fmt.Errorf("reading refresh response: %w", err)}}
	}

	if !isSuccess(resp.StatusCode) {
		return refreshOutcome{fail: newHTTPFailure(resp.StatusCode, data)}
	}

	var result RefreshResult
	if err := json.Unmarshal(data, &result); err != nil || result.Token == "" {
		return refreshOutcome{fail: networkError{err: &codedError{
			code:     codeBadResponse,
			sentinel: ErrInvalidResponse,
			msg:      "Refresh response did not contain a token",
		}}}
	}

	c.tokens.SetAuthToken(result.Token, time.Duration(result.ExpiresIn*float64(time.Second)))

	if result.RefreshToken != "" {
		c.tokens.SetRefreshToken(result.RefreshToken)
	}

	c.logger.Info("access token refreshed",
		slog.Float64("expires_in_s", result.ExpiresIn),
		slog.Bool("rotated_refresh_token", result.RefreshToken != ""),
	)

	return refreshOutcome{token: result.Token}
}

// canceled reports whether the caller gave up. An interrupted refresh says
// nothing about the refresh token, so the session is kept.
func canceled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (c *Client) endSession() {
	c.tokens.Clear()
	c.redirectToLogin()
}
