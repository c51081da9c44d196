package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sleepRecorder replaces real backoff waits and remembers each delay.
type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, d)

	return nil
}

func (r *sleepRecorder) total() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sum time.Duration
	for _, d := range r.delays {
		sum += d
	}

	return sum
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Duration(nil), r.delays...)
}

// newTestClient creates a Client pointing at the given httptest server with
// recorded, instant retry sleeps.
func newTestClient(t *testing.T, url string, tokens *TokenStore, opts ...Option) (*Client, *sleepRecorder) {
	t.Helper()

	if tokens == nil {
		tokens = NewTokenStore()
	}

	c := NewClient(url, tokens, slog.Default(), opts...)
	rec := &sleepRecorder{}
	c.sleepFunc = rec.sleep

	return c, rec
}

func TestDo_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	client, rec := newTestClient(t, srv.URL, nil)
	resp, err := client.Do(context.Background(), http.MethodGet, "/contacts", nil)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"value":"ok"}`, string(resp.Body))
	assert.Empty(t, rec.recorded())
}

func TestDo_DecoratesHeaders(t *testing.T) {
	var got http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tokens := NewTokenStore()
	tokens.SetAuthToken("access-1", time.Hour)

	client, _ := newTestClient(t, srv.URL, tokens)
	_, err := client.Do(context.Background(), http.MethodGet, "/campaigns", nil)
	require.NoError(t, err)

	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "Bearer access-1", got.Get("Authorization"))
	assert.Regexp(t, regexp.MustCompile(`^req-\d{13}-[0-9a-z]{1,9}$`), got.Get(requestIDHeader))
	assert.Equal(t, defaultUserAgent, got.Get("User-Agent"))
}

func TestDo_NoAuthHeaderWithoutValidToken(t *testing.T) {
	var authHeaders []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeaders = append(authHeaders, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clock := newFakeClock()
	tokens := newTestStore(clock)

	client, _ := newTestClient(t, srv.URL, tokens)

	// No token at all.
	_, err := client.Do(context.Background(), http.MethodGet, "/a", nil)
	require.NoError(t, err)

	// Logically expired token.
	tokens.SetAuthToken("stale", time.Second)
	clock.Advance(2 * time.Second)

	_, err = client.Do(context.Background(), http.MethodGet, "/b", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"", ""}, authHeaders)
}

func TestDo_RequestIDsAreUnique(t *testing.T) {
	var (
		mu  sync.Mutex
		ids = make(map[string]bool)
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids[r.Header.Get(requestIDHeader)] = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil)

	for range 20 {
		_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
		require.NoError(t, err)
	}

	assert.Len(t, ids, 20)
}

func TestDo_JSONBodyAndVerbs(t *testing.T) {
	type seen struct {
		method string
		body   string
	}

	var (
		mu   sync.Mutex
		reqs []seen
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, seen{r.Method, string(b)})
		mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"c1"}`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil)
	ctx := context.Background()

	var out struct {
		ID string `json:"id"`
	}

	require.NoError(t, client.Get(ctx, "/contacts/c1", &out))
	assert.Equal(t, "c1", out.ID)
	require.NoError(t, client.Post(ctx, "/contacts", map[string]string{"name": "Ana"}, nil))
	require.NoError(t, client.Put(ctx, "/contacts/c1", json.RawMessage(`{"name":"Bo"}`), nil))
	require.NoError(t, client.Patch(ctx, "/contacts/c1", []byte(`{"tag":"vip"}`), nil))
	require.NoError(t, client.Delete(ctx, "/contacts/c1", nil))

	require.Len(t, reqs, 5)
	assert.Equal(t, seen{http.MethodGet, ""}, reqs[0])
	assert.Equal(t, http.MethodPost, reqs[1].method)
	assert.JSONEq(t, `{"name":"Ana"}`, reqs[1].body)
	assert.Equal(t, seen{http.MethodPut, `{"name":"Bo"}`}, reqs[2])
	assert.Equal(t, seen{http.MethodPatch, `{"tag":"vip"}`}, reqs[3])
	assert.Equal(t, seen{http.MethodDelete, ""}, reqs[4])
}

func TestDo_UnencodableBody(t *testing.T) {
	client, _ := newTestClient(t, "http://127.0.0.1:1", nil)

	_, err := client.Do(context.Background(), http.MethodPost, "/x", map[string]any{"ch": make(chan int)})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ERR_BAD_REQUEST", apiErr.Code)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDecode_InvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil)

	var out map[string]any
	err := client.Get(context.Background(), "/x", &out)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestDo_RetryThreeTimesThenSucceed(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client, rec := newTestClient(t, srv.URL, nil)
	resp, err := client.Do(context.Background(), http.MethodGet, "/messages", nil)
	require.NoError(t, err)

	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.recorded())
	assert.Equal(t, 7*time.Second, rec.total())
}

func TestDo_MaxRetriesExhausted(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message":"slow down"}`))
	}))
	defer srv.Close()

	client, rec := newTestClient(t, srv.URL, nil)
	_, err := client.Do(context.Background(), http.MethodGet, "/messages", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.Equal(t, "ERR_429", apiErr.Code)
	assert.ErrorIs(t, err, ErrThrottled)

	assert.Equal(t, int32(4), calls.Load(), "one attempt plus three retries")
	assert.Len(t, rec.recorded(), 3)
}

func TestDo_RetryableStatuses(t *testing.T) {
	for _, status := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, isRetryable(status), "status %d", status)
	}

	for _, status := range []int{400, 401, 403, 404, 409, 422, 501, 505} {
		assert.False(t, isRetryable(status), "status %d", status)
	}
}

func TestDo_NonRetryableFailsImmediately(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound} {
		var calls atomic.Int32

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))

		client, rec := newTestClient(t, srv.URL, nil)
		_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
		srv.Close()

		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, status, apiErr.Status)
		assert.Equal(t, int32(1), calls.Load())
		assert.Empty(t, rec.recorded())
	}
}

func TestDo_RetryReusesIdenticalRequest(t *testing.T) {
	type seen struct {
		auth, id, body string
	}

	var (
		mu   sync.Mutex
		reqs []seen
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)

		mu.Lock()
		reqs = append(reqs, seen{r.Header.Get("Authorization"), r.Header.Get(requestIDHeader), string(b)})
		n := len(reqs)
		mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	tokens := NewTokenStore()
	tokens.SetAuthToken("first", 0)

	client, _ := newTestClient(t, srv.URL, tokens)

	// Change the stored token after the descriptor is built: the retry must
	// still carry the original header.
	client.sleepFunc = func(context.Context, time.Duration) error {
		tokens.SetAuthToken("second", 0)
		return nil
	}

	_, err := client.Do(context.Background(), http.MethodPost, "/campaigns", map[string]int{"n": 1})
	require.NoError(t, err)

	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0], reqs[1])
	assert.Equal(t, "Bearer first", reqs[1].auth)
}

func TestDo_NetworkErrorNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, rec := newTestClient(t, url, nil)
	_, err := client.Do(context.Background(), http.MethodGet, "/health", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ERR_NETWORK", apiErr.Code)
	assert.Zero(t, apiErr.Status)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.Empty(t, rec.recorded())
}

func TestDo_ContextCanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil)
	client.sleepFunc = timeSleep

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := client.Do(ctx, http.MethodGet, "/slow", nil)
	require.Error(t, err)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ERR_CANCELED", apiErr.Code)
}

func TestDo_ClientTimeoutIsNormalized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := client.Do(context.Background(), http.MethodGet, "/slow", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "ECONNABORTED", apiErr.Code)
}

func TestDo_NeverReturnsRawTransportErrors(t *testing.T) {
	client, _ := newTestClient(t, "http://127.0.0.1:1", nil)

	for _, method := range []string{http.MethodGet, http.MethodPost, "BAD METHOD"} {
		_, err := client.Do(context.Background(), method, "/x", nil)

		var apiErr *APIError
		assert.True(t, errors.As(err, &apiErr), "method %q: %T", method, err)
	}
}

func TestDo_RateLimitPacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, _ := newTestClient(t, srv.URL, nil, WithRateLimit(20, 1))

	start := time.Now()
	for range 3 {
		_, err := client.Do(context.Background(), http.MethodGet, "/x", nil)
		require.NoError(t, err)
	}

	// Burst of one at 20 req/s: the 2nd and 3rd requests wait ~50ms each.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient("", NewTokenStore(), nil)

	assert.Equal(t, DefaultBaseURL, c.BaseURL())
	assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
	assert.Nil(t, c.limiter)
	assert.Nil(t, c.refreshGroup)
	assert.NotNil(t, c.Tokens())
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, time.Second, backoff(1))
	assert.Equal(t, 2*time.Second, backoff(2))
	assert.Equal(t, 4*time.Second, backoff(3))
	assert.Equal(t, time.Second, backoff(0))
}

func TestTimeSleep_RespectsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := timeSleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
