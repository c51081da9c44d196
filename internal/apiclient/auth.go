package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Auth endpoints, relative to the base URL.
const (
	loginPath  = "/auth/login"
	logoutPath = "/auth/logout"
)

// Credentials are the email/password pair accepted by the login endpoint.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the body of a successful login. ExpiresIn is in seconds.
type LoginResult struct {
	Token        string         `json:"token"`
	RefreshToken string         `json:"refreshToken"`
	ExpiresIn    float64        `json:"expiresIn"`
	User         map[string]any `json:"user,omitempty"`
}

// Login exchanges credentials for a token pair and stores both tokens.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	resp, err := c.do(ctx, http.MethodPost, loginPath, creds, false)
	if err != nil {
		return nil, err
	}

	var result LoginResult
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}

	if result.Token == "" {
		return nil, &APIError{
			Message:  "Login response did not contain a token",
			Code:     codeBadResponse,
			sentinel: ErrInvalidResponse,
		}
	}

	c.tokens.SetAuthToken(result.Token, time.Duration(result.ExpiresIn*float64(time.Second)))
	c.tokens.SetRefreshToken(result.RefreshToken)

	c.logger.Info("logged in",
		slog.Float64("expires_in_s", result.ExpiresIn),
		slog.Bool("has_refresh_token", result.RefreshToken != ""),
	)

	return &result, nil
}

// Logout tells the server to revoke the session and clears the store. The
// store is cleared even when the server call fails; that error is returned.
// A 401 here is not re-authenticated: there is nothing to resume after a
// logout.
func (c *Client) Logout(ctx context.Context) error {
	defer c.tokens.Clear()

	refreshToken := c.tokens.RefreshToken()
	if refreshToken == "" && c.tokens.AuthToken() == "" {
		return nil
	}

	if _, err := c.do(ctx, http.MethodPost, logoutPath, refreshRequest{RefreshToken: refreshToken}, false); err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}

	return nil
}
