package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Client defaults.
const (
	DefaultBaseURL = "http://localhost:8080/api/v1"
	DefaultTimeout = 30 * time.Second

	defaultUserAgent = "wagate/0.1"
	requestIDHeader  = "X-Request-ID"

	// requestIDRandMax bounds the random suffix of a request ID to nine
	// base-36 digits.
	requestIDRandMax = 101559956668416 // 36^9
)

// Client is an HTTP client for the wagate administration API. It attaches
// bearer tokens from a TokenStore, retries transient failures with
// exponential backoff, refreshes the access token once on 401, and reports
// every terminal failure as an *APIError.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenStore
	logger     *slog.Logger
	userAgent  string
	devMode    bool

	navigator Navigator
	storage   SessionStorage

	// limiter paces outgoing requests. Nil means unlimited.
	limiter *rate.Limiter

	// refreshGroup collapses concurrent refreshes into one call when set.
	// Nil keeps one refresh per 401.
	refreshGroup *singleflight.Group

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	now func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client (30s overall timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDevMode enables per-request and per-response logging.
func WithDevMode(enabled bool) Option {
	return func(c *Client) { c.devMode = enabled }
}

// WithNavigator wires the collaborators used to send the user back to the
// login page after an unrecoverable auth failure. storage may be nil.
func WithNavigator(nav Navigator, storage SessionStorage) Option {
	return func(c *Client) {
		c.navigator = nav
		c.storage = storage
	}
}

// WithRateLimit paces outgoing requests to rps per second with the given
// burst. rps <= 0 leaves the client unlimited.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			return
		}

		if burst < 1 {
			burst = 1
		}

		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSingleFlightRefresh makes concurrent 401s share one refresh call.
// Without it every request that sees a 401 issues its own refresh, which
// breaks against servers that rotate refresh tokens on use.
func WithSingleFlightRefresh() Option {
	return func(c *Client) { c.refreshGroup = &singleflight.Group{} }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates an API client. baseURL is typically
// "http://localhost:8080/api/v1"; tokens must not be nil.
func NewClient(baseURL string, tokens *TokenStore, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		tokens:     tokens,
		logger:     logger.With(slog.String("module", "api")),
		userAgent:  defaultUserAgent,
		sleepFunc:  timeSleep,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the API root all request paths are appended to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tokens returns the store the client reads credentials from.
func (c *Client) Tokens() *TokenStore {
	return c.tokens
}

// Response is a successful (2xx) API response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into out. An empty body leaves out untouched.
func (r *Response) Decode(out any) error {
	if out == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}

	if err := json.Unmarshal(r.Body, out); err != nil {
		return &APIError{
			Message:  fmt.Sprintf("decoding response body: %v", err),
			Code:     codeBadResponse,
			Status:   r.StatusCode,
			sentinel: ErrInvalidResponse,
		}
	}

	return nil
}

// Get issues a GET and decodes the JSON response into out (which may be nil).
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPost, path, body, out)
}

// Put issues a PUT with a JSON body and decodes the response into out.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPut, path, body, out)
}

// Patch issues a PATCH with a JSON body and decodes the response into out.
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.call(ctx, http.MethodPatch, path, body, out)
}

// Delete issues a DELETE and decodes the response into out.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.call(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}

	return resp.Decode(out)
}

// Do executes a request against the API. path is appended to the base URL.
// body may be nil, a []byte / json.RawMessage sent as-is, or any value that
// is JSON-encoded. Every error returned is an *APIError.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	return c.do(ctx, method, path, body, true)
}

// do is Do with control over the 401 refresh. Credential exchanges disable
// it: a rejected password is an answer, not an expired session.
func (c *Client) do(ctx context.Context, method, path string, body any, allowReauth bool) (*Response, error) {
	req, err := c.newRequest(method, path, body)
	if err != nil {
		return nil, standardizeError(networkError{err: err})
	}

	var at attemptContext

	for {
		resp, err := c.send(ctx, req)
		if err != nil {
			return nil, c.networkFailure(req, err)
		}

		if isSuccess(resp.StatusCode) {
			c.logSuccess(req, resp)
			return resp, nil
		}

		c.observe(req, resp)

		// Retry and reauth are exclusive per attempt and chosen by status
		// alone, so a 500 that later becomes a 401 still gets its refresh.
		if at.shouldRetry(resp.StatusCode) {
			at.retryCount++
			delay := backoff(at.retryCount)

			c.logger.Info("retrying after HTTP error",
				slog.String("method", req.method),
				slog.String("url", req.url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", at.retryCount),
				slog.Duration("backoff", delay),
			)

			if err := c.sleepFunc(ctx, delay); err != nil {
				return nil, standardizeError(networkError{err: err})
			}

			continue
		}

		if resp.StatusCode == http.StatusUnauthorized && allowReauth && !at.reauthAttempted {
			at.reauthAttempted = true
			return c.reauthenticate(ctx, req)
		}

		if at.retryCount > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", req.method),
				slog.String("url", req.url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", at.retryCount+1),
			)
		}

		return nil, standardizeError(newHTTPFailure(resp.StatusCode, resp.Body))
	}
}

// request is an immutable request descriptor. Headers are decorated once,
// when the descriptor is built, and reused verbatim on every retry.
type request struct {
	method string
	url    string
	body   []byte
	header http.Header
}

// withAuth returns a copy of r carrying the given bearer token.
func (r request) withAuth(token string) request {
	r.header = r.header.Clone()
	r.header.Set("Authorization", "Bearer "+token)

	return r
}

// newRequest builds the descriptor: JSON body, content type, trace id, user
// agent, and the bearer token when the store holds an unexpired one.
func (c *Client) newRequest(method, path string, body any) (request, error) {
	req := request{
		method: method,
		url:    c.baseURL + path,
		header: make(http.Header),
	}

	payload, err := encodeBody(body)
	if err != nil {
		return request{}, err
	}

	req.body = payload

	req.header.Set("Content-Type", "application/json")
	req.header.Set("User-Agent", c.userAgent)
	req.header.Set(requestIDHeader, c.newRequestID())

	if c.tokens != nil {
		if tok := c.tokens.AuthToken(); tok != "" {
			req.header.Set("Authorization", "Bearer "+tok)
		}
	}

	if c.devMode {
		c.logger.Info("api request",
			slog.String("method", req.method),
			slog.String("url", req.url),
		)
	}

	return req, nil
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, &codedError{
				code:     codeBadRequest,
				sentinel: ErrInvalidRequest,
				msg:      fmt.Sprintf("encoding request body: %v", err),
			}
		}

		return data, nil
	}
}

// newRequestID returns "req-{epochMs}-{random base36}".
func (c *Client) newRequestID() string {
	n := rand.Int64N(requestIDRandMax) //nolint:gosec // trace ids do not need crypto rand

	return "req-" + strconv.FormatInt(c.now().UnixMilli(), 10) + "-" + strconv.FormatInt(n, 36)
}

// send performs one HTTP round trip and reads the whole response body.
func (c *Client) send(ctx context.Context, req request) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	httpReq.Header = req.header.Clone()

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

func (c *Client) networkFailure(req request, err error) error {
	apiErr := standardizeError(networkError{err: err})

	c.logger.Warn("request failed without response",
		slog.String("method", req.method),
		slog.String("url", req.url),
		slog.String("code", apiErr.Code),
		slog.String("error", apiErr.Message),
	)

	return apiErr
}

func (c *Client) logSuccess(req request, resp *Response) {
	if !c.devMode {
		return
	}

	c.logger.Info("api response",
		slog.Int("status", resp.StatusCode),
		slog.String("method", req.method),
		slog.String("url", req.url),
	)
}

// observe emits the categorized error logs. It never changes the outcome.
func (c *Client) observe(req request, resp *Response) {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		c.logger.Warn("unauthorized response",
			slog.String("method", req.method),
			slog.String("url", req.url),
		)
	case http.StatusForbidden:
		c.logger.Warn("access forbidden",
			slog.String("url", req.url),
			slog.String("body", string(resp.Body)),
		)
	case http.StatusNotFound:
		c.logger.Warn("resource not found",
			slog.String("url", req.url),
		)
	case http.StatusInternalServerError:
		c.logger.Error("server error",
			slog.String("method", req.method),
			slog.String("url", req.url),
		)
	}
}

func isSuccess(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}
