package apiclient

import (
	"sync"
	"time"
)

// TokenState is a point-in-time copy of the credentials held by a TokenStore.
// An empty string means "no token"; a zero ExpiresAt means "never expires".
type TokenState struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// TokenStore holds the access token, refresh token, and access-token expiry
// for one API session. It is in-memory only: nothing is persisted, and callers
// that want tokens to survive a restart copy them out with Snapshot.
//
// Every method is safe for concurrent use.
type TokenStore struct {
	mu    sync.Mutex
	state TokenState

	// now returns the current time. Tests override it to simulate expiry.
	now func() time.Time
}

// NewTokenStore returns an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{now: time.Now}
}

// SetAuthToken stores the access token. The expiry is set only when both a
// non-empty token and a positive expiresIn are supplied; any other call clears
// it, so an empty token never carries an expiry.
func (s *TokenStore) SetAuthToken(token string, expiresIn time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.AccessToken = token
	s.state.ExpiresAt = time.Time{}

	if token != "" && expiresIn > 0 {
		s.state.ExpiresAt = s.now().Add(expiresIn)
	}
}

// AuthToken returns the access token, or "" once its expiry has passed.
// Expiry is checked at read time only; the stored value is kept until Clear.
func (s *TokenStore) AuthToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expiredLocked() {
		return ""
	}

	return s.state.AccessToken
}

// SetRefreshToken stores the refresh token.
func (s *TokenStore) SetRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.RefreshToken = token
}

// RefreshToken returns the refresh token, or "" if none is held.
func (s *TokenStore) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.RefreshToken
}

// Clear resets the access token, refresh token, and expiry.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = TokenState{}
}

// IsExpired reports whether an expiry is set and has passed.
func (s *TokenStore) IsExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.expiredLocked()
}

// Snapshot returns a copy of the raw state, including a logically expired
// access token.
func (s *TokenStore) Snapshot() TokenState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Restore replaces the state with one previously taken by Snapshot. An expiry
// without an access token is dropped.
func (s *TokenStore) Restore(state TokenState) {
	if state.AccessToken == "" {
		state.ExpiresAt = time.Time{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

func (s *TokenStore) expiredLocked() bool {
	return !s.state.ExpiresAt.IsZero() && s.now().After(s.state.ExpiresAt)
}
