package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/wagate-io/wagate/internal/apiclient"
	"github.com/wagate-io/wagate/internal/config"
	"github.com/wagate-io/wagate/internal/sessionstore"
	"github.com/wagate-io/wagate/internal/tokenfile"
)

// dataDirPerms is used when creating the directory for local state.
const dataDirPerms = 0o700

// APISession bundles the API client with the local state it is backed by:
// tokens restored from the token file and the session store used as the
// client's session storage. Close writes the tokens back.
type APISession struct {
	Client *apiclient.Client
	Store  *sessionstore.Store
	Nav    *cliNavigator

	tokenPath string
	logger    *slog.Logger

	// mu guards meta, which login and the token file watcher update.
	mu   sync.Mutex
	meta map[string]string
}

// NewAPISession loads tokens from the token file, opens the session store,
// and builds a client configured from resolved.
func NewAPISession(ctx context.Context, resolved *config.Resolved, current string, logger *slog.Logger) (*APISession, error) {
	tokens := apiclient.NewTokenStore()

	tok, meta, err := tokenfile.Load(resolved.TokenFile)
	if err != nil {
		return nil, err
	}

	if tok != nil {
		tokens.Restore(stateFromToken(tok))
		logger.Debug("restored tokens", slog.String("path", resolved.TokenFile))
	}

	if dir := filepath.Dir(resolved.SessionDB); dir != "" {
		if err := os.MkdirAll(dir, dataDirPerms); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
		}
	}

	store, err := sessionstore.Open(ctx, resolved.SessionDB, logger)
	if err != nil {
		return nil, err
	}

	nav := &cliNavigator{current: current}

	opts := []apiclient.Option{
		apiclient.WithHTTPClient(&http.Client{Timeout: resolved.RequestTimeout}),
		apiclient.WithDevMode(resolved.DevMode),
		apiclient.WithNavigator(nav, store),
		apiclient.WithRateLimit(resolved.RateLimit, resolved.RateBurst),
		apiclient.WithUserAgent(resolved.UserAgent),
	}

	if resolved.SingleFlightRefresh {
		opts = append(opts, apiclient.WithSingleFlightRefresh())
	}

	return &APISession{
		Client:    apiclient.NewClient(resolved.APIURL, tokens, logger, opts...),
		Store:     store,
		Nav:       nav,
		tokenPath: resolved.TokenFile,
		logger:    logger,
		meta:      meta,
	}, nil
}

// SetMeta merges account metadata written with the tokens on Close.
func (s *APISession) SetMeta(meta map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta == nil {
		s.meta = make(map[string]string, len(meta))
	}

	maps.Copy(s.meta, meta)
}

// Meta returns a copy of the account metadata.
func (s *APISession) Meta() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return maps.Clone(s.meta)
}

// ReloadTokens replaces the in-memory tokens with the token file contents,
// e.g. after another wagate process logged in. A missing file clears them.
func (s *APISession) ReloadTokens() error {
	tok, meta, err := tokenfile.Load(s.tokenPath)
	if err != nil {
		return err
	}

	if tok == nil {
		s.Client.Tokens().Clear()
		return nil
	}

	s.Client.Tokens().Restore(stateFromToken(tok))
	s.SetMeta(meta)
	s.logger.Info("reloaded tokens from disk", slog.String("path", s.tokenPath))

	return nil
}

// SaveTokens writes the current tokens to the token file, or removes the file
// when the client has no access token (logged out or session ended).
func (s *APISession) SaveTokens() error {
	state := s.Client.Tokens().Snapshot()
	if state.AccessToken == "" {
		return tokenfile.Remove(s.tokenPath)
	}

	return tokenfile.Save(s.tokenPath, tokenFromState(state), s.Meta())
}

// Close saves tokens and closes the session store.
func (s *APISession) Close() error {
	return errors.Join(s.SaveTokens(), s.Store.Close())
}

// openSession builds an APISession for cmd, using the invoked command line
// as the location to resume after a forced re-login.
func openSession(cmd *cobra.Command, args []string, logger *slog.Logger) (*APISession, error) {
	if resolvedCfg == nil {
		return nil, errors.New("no configuration loaded")
	}

	return NewAPISession(cmd.Context(), resolvedCfg, commandLine(cmd, args), logger)
}

// commandLine renders the invocation without the binary name, e.g.
// "get /contacts".
func commandLine(cmd *cobra.Command, args []string) string {
	path := strings.TrimPrefix(cmd.CommandPath(), cmd.Root().Name()+" ")

	return strings.Join(append([]string{path}, args...), " ")
}

// cliNavigator stands in for the browser router: the current location is the
// invoked command, and navigating to the login page records that the session
// ended so the command can tell the user to sign in again.
type cliNavigator struct {
	mu         sync.Mutex
	current    string
	redirected bool
}

func (n *cliNavigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.current
}

func (n *cliNavigator) Navigate(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.current = path
	if path == apiclient.LoginPath {
		n.redirected = true
	}
}

// Redirected reports whether the client sent the user to the login page.
func (n *cliNavigator) Redirected() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.redirected
}

// sessionEndedHint is printed when a command ends with a forced re-login.
const sessionEndedHint = "Session expired. Run 'wagate login' to sign in again.\n"

// finishCommand closes the session and, when the client forced a re-login,
// tells the user. The command error wins over a close error.
func finishCommand(s *APISession, cmdErr error) error {
	if s.Nav.Redirected() {
		statusf(sessionEndedHint)
	}

	if closeErr := s.Close(); closeErr != nil {
		if cmdErr != nil {
			s.logger.Warn("closing session", slog.String("error", closeErr.Error()))
			return cmdErr
		}

		return closeErr
	}

	return cmdErr
}

func stateFromToken(tok *oauth2.Token) apiclient.TokenState {
	return apiclient.TokenState{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
}

func tokenFromState(state apiclient.TokenState) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  state.AccessToken,
		RefreshToken: state.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       state.ExpiresAt,
	}
}
