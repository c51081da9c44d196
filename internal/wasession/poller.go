// Package wasession links a WhatsApp device to a gateway session: it fetches
// the pairing QR code, renders it, and polls the session status until the
// phone scans it, the gateway reports failure, or the wait times out.
package wasession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mdp/qrterminal/v3"
)

// Session statuses reported by the gateway.
const (
	StatusConnected = "connected"
	StatusFailed    = "failed"
	StatusQRExpired = "qr_expired"
)

// Defaults used when no option overrides them.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultTimeout      = 2 * time.Minute
)

var (
	// ErrQRTimeout means the QR code was not scanned in time.
	ErrQRTimeout = errors.New("wasession: timed out waiting for QR scan")
	// ErrLinkFailed means the gateway gave up on the session.
	ErrLinkFailed = errors.New("wasession: device link failed")
)

// API is the subset of the gateway client the poller needs.
type API interface {
	Get(ctx context.Context, path string, out any) error
}

// StatusRecorder persists observed statuses.
type StatusRecorder interface {
	RecordLinkStatus(ctx context.Context, sessionID, status string) error
}

// QRRenderer draws a pairing code to w.
type QRRenderer func(w io.Writer, code string)

type qrResponse struct {
	QR     string `json:"qr"`
	Status string `json:"status"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// Result describes a finished link attempt.
type Result struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	QRShown   int    `json:"qr_shown"` // number of distinct QR codes rendered
	Polls     int    `json:"polls"`
}

// Poller drives one device-link flow at a time.
type Poller struct {
	api      API
	out      io.Writer
	logger   *slog.Logger
	render   QRRenderer
	recorder StatusRecorder
	onStatus func(status string)
	interval time.Duration
	timeout  time.Duration

	// sleepFunc waits for the given duration. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
	now       func() time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the status poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) { p.interval = d }
}

// WithTimeout bounds the total wait for a scan.
func WithTimeout(d time.Duration) Option {
	return func(p *Poller) { p.timeout = d }
}

// WithRecorder stores every observed status.
func WithRecorder(r StatusRecorder) Option {
	return func(p *Poller) { p.recorder = r }
}

// WithRenderer replaces the QR renderer.
func WithRenderer(r QRRenderer) Option {
	return func(p *Poller) { p.render = r }
}

// WithStatusCallback is called whenever the observed status changes.
func WithStatusCallback(fn func(status string)) Option {
	return func(p *Poller) { p.onStatus = fn }
}

// NewPoller creates a Poller that renders QR codes to out.
func NewPoller(api API, out io.Writer, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller{
		api:       api,
		out:       out,
		logger:    logger,
		render:    RenderQR,
		interval:  DefaultPollInterval,
		timeout:   DefaultTimeout,
		sleepFunc: timeSleep,
		now:       time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Connect fetches the pairing QR for sessionID and polls until the session
// is connected. Returns ErrLinkFailed or ErrQRTimeout (wrapped) otherwise.
func (p *Poller) Connect(ctx context.Context, sessionID string) (*Result, error) {
	res := &Result{SessionID: sessionID}
	deadline := p.now().Add(p.timeout)

	var lastQR, lastStatus string

	observe := func(status string) {
		if status == "" || status == lastStatus {
			return
		}

		lastStatus = status
		res.Status = status

		p.logger.Debug("link session status", slog.String("session_id", sessionID), slog.String("status", status))

		if p.recorder != nil {
			if err := p.recorder.RecordLinkStatus(ctx, sessionID, status); err != nil {
				p.logger.Warn("recording link status", slog.String("error", err.Error()))
			}
		}

		if p.onStatus != nil {
			p.onStatus(status)
		}
	}

	fetchQR := func() error {
		var qr qrResponse
		if err := p.api.Get(ctx, QRPath(sessionID), &qr); err != nil {
			return fmt.Errorf("fetching QR for session %s: %w", sessionID, err)
		}

		if qr.QR != "" && qr.QR != lastQR {
			lastQR = qr.QR
			res.QRShown++
			p.render(p.out, qr.QR)
		}

		observe(qr.Status)

		return nil
	}

	if err := fetchQR(); err != nil {
		return res, err
	}

	for {
		switch lastStatus {
		case StatusConnected:
			p.logger.Info("device linked", slog.String("session_id", sessionID), slog.Int("polls", res.Polls))
			return res, nil
		case StatusFailed:
			return res, fmt.Errorf("session %s: %w", sessionID, ErrLinkFailed)
		}

		if !p.now().Before(deadline) {
			return res, fmt.Errorf("session %s after %s: %w", sessionID, p.timeout, ErrQRTimeout)
		}

		// Never sleep past the deadline.
		wait := min(p.interval, deadline.Sub(p.now()))

		if err := p.sleepFunc(ctx, wait); err != nil {
			return res, fmt.Errorf("waiting for session %s: %w", sessionID, err)
		}

		var st statusResponse
		if err := p.api.Get(ctx, StatusPath(sessionID), &st); err != nil {
			return res, fmt.Errorf("polling session %s: %w", sessionID, err)
		}

		res.Polls++

		if st.Status == StatusQRExpired {
			observe(st.Status)

			if err := fetchQR(); err != nil {
				return res, err
			}

			continue
		}

		observe(st.Status)
	}
}

// RenderQR draws code as half-block characters when out is a terminal and
// prints the raw code otherwise, so piped output stays machine-readable.
func RenderQR(out io.Writer, code string) {
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		fmt.Fprintln(out, "Scan this QR code with WhatsApp (Settings > Linked Devices > Link a Device):")
		qrterminal.GenerateHalfBlock(code, qrterminal.L, out)

		return
	}

	fmt.Fprintf(out, "qr: %s\n", code)
}

// QRPath is the endpoint returning the pairing QR code for a session.
func QRPath(sessionID string) string {
	return "/whatsapp/sessions/" + url.PathEscape(sessionID) + "/qr"
}

// StatusPath is the endpoint returning a session's link status.
func StatusPath(sessionID string) string {
	return "/whatsapp/sessions/" + url.PathEscape(sessionID) + "/status"
}

func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
