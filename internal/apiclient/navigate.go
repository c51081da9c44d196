package apiclient

import "log/slog"

// LoginPath is where the user is sent after an unrecoverable auth failure.
const LoginPath = "/auth/login"

// RedirectAfterLoginKey is the session storage key holding the location to
// restore after the user signs in again.
const RedirectAfterLoginKey = "redirectAfterLogin"

// Navigator is the UI collaborator that knows where the user currently is and
// can send them elsewhere. Defined here, at the consumer.
type Navigator interface {
	CurrentPath() string
	Navigate(path string)
}

// SessionStorage persists small string values for the lifetime of a UI session.
type SessionStorage interface {
	Set(key, value string) error
}

// redirectToLogin remembers the current location (unless it is already the
// login page) and navigates to the login page. With no navigator configured
// it does nothing.
func (c *Client) redirectToLogin() {
	if c.navigator == nil {
		return
	}

	current := c.navigator.CurrentPath()
	if current != LoginPath && c.storage != nil {
		if err := c.storage.Set(RedirectAfterLoginKey, current); err != nil {
			c.logger.Warn("failed to remember location before login redirect",
				slog.String("path", current),
				slog.String("error", err.Error()),
			)
		}
	}

	c.logger.Info("redirecting to login", slog.String("from", current))
	c.navigator.Navigate(LoginPath)
}
