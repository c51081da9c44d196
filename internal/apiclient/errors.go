// Package apiclient provides an HTTP client for the wagate administration API
// with bearer-token management, retry with exponential backoff, transparent
// re-authentication on 401, and a single normalized error shape.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
)

// Sentinel errors for classification. Every *APIError unwraps to exactly one
// of these (or to context.Canceled / context.DeadlineExceeded), so callers
// use errors.Is(err, apiclient.ErrNotFound) and never inspect transport errors.
var (
	ErrBadRequest      = errors.New("api: bad request")
	ErrUnauthorized    = errors.New("api: unauthorized")
	ErrForbidden       = errors.New("api: forbidden")
	ErrNotFound        = errors.New("api: not found")
	ErrConflict        = errors.New("api: conflict")
	ErrUnprocessable   = errors.New("api: unprocessable entity")
	ErrThrottled       = errors.New("api: throttled")
	ErrServerError     = errors.New("api: server error")
	ErrRequestFailed   = errors.New("api: request failed")
	ErrNetwork         = errors.New("api: network error")
	ErrNoRefreshToken  = errors.New("no refresh token available")
	ErrInvalidRequest  = errors.New("api: invalid request")
	ErrInvalidResponse = errors.New("api: invalid response")
)

// Error codes synthesized when the server or transport does not supply one.
const (
	codeNetwork        = "ERR_NETWORK"
	codeCanceled       = "ERR_CANCELED"
	codeTimeout        = "ECONNABORTED"
	codeNoRefreshToken = "ERR_NO_REFRESH_TOKEN"
	codeBadRequest     = "ERR_BAD_REQUEST"
	codeBadResponse    = "ERR_BAD_RESPONSE"

	msgUnknown = "An unknown error occurred"
	msgNetwork = "Network error"
)

// APIError is the normalized failure returned by every Client method. It is
// built once per terminal failure and never modified afterwards.
//
// Status is 0 when no HTTP response was received.
type APIError struct {
	Message string
	Code    string
	Details any
	Status  int

	// Extra holds payload fields other than error/code/details/status, as
	// returned by the server.
	Extra map[string]any

	sentinel error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("api: HTTP %d (%s): %s", e.Status, e.Code, e.Message)
	}

	return fmt.Sprintf("api: %s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.sentinel
}

// MarshalJSON renders the error in its wire shape:
// {"error", "code", "details"?, "status"?, ...extra}.
func (e *APIError) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Extra)+4)
	maps.Copy(out, e.Extra)

	out["error"] = e.Message
	out["code"] = e.Code

	if e.Details != nil {
		out["details"] = e.Details
	}

	if e.Status != 0 {
		out["status"] = e.Status
	}

	return json.Marshal(out)
}

// failure is the closed set of raw failure shapes the client can observe.
// The unexported method seals it to the three types below.
type failure interface {
	isFailure()
}

// httpErrorWithBody is a non-2xx response whose body decoded to a JSON object.
type httpErrorWithBody struct {
	status  int
	body    map[string]any
	message string
}

// httpErrorNoBody is a non-2xx response with an empty or non-object body.
type httpErrorNoBody struct {
	status  int
	raw     string
	message string
}

// networkError is a failure where no response was received at all.
type networkError struct {
	err error
}

func (httpErrorWithBody) isFailure() {}
func (httpErrorNoBody) isFailure()   {}
func (networkError) isFailure()      {}

// newHTTPFailure builds the failure for a non-2xx response from its raw body.
func newHTTPFailure(status int, raw []byte) failure {
	message := fmt.Sprintf("Request failed with status code %d", status)

	var body map[string]any
	if len(raw) > 0 && json.Unmarshal(raw, &body) == nil && body != nil {
		return httpErrorWithBody{status: status, body: body, message: message}
	}

	return httpErrorNoBody{status: status, raw: string(raw), message: message}
}

// standardizeError maps a raw failure to an APIError. It is pure: the same
// failure always yields an equal result, and the result shares no mutable
// state with its input.
func standardizeError(f failure) *APIError {
	switch f := f.(type) {
	case httpErrorWithBody:
		if truthy(f.body["error"]) {
			return fromErrorPayload(f)
		}

		return fromOtherPayload(f.status, f.message, maps.Clone(f.body))
	case httpErrorNoBody:
		var details any
		if f.raw != "" {
			details = f.raw
		}

		return fromOtherPayload(f.status, f.message, details)
	case networkError:
		return fromTransport(f.err)
	default:
		return &APIError{Message: msgUnknown, Code: codeNetwork, sentinel: ErrNetwork}
	}
}

// fromErrorPayload keeps the server's own error payload and injects status.
func fromErrorPayload(f httpErrorWithBody) *APIError {
	e := &APIError{
		Message:  stringify(f.body["error"]),
		Code:     fmt.Sprintf("ERR_%d", f.status),
		Details:  f.body["details"],
		Status:   f.status,
		sentinel: classifyStatus(f.status),
	}

	if code := f.body["code"]; truthy(code) {
		e.Code = stringify(code)
	}

	for k, v := range f.body {
		switch k {
		case "error", "code", "details", "status":
			continue
		}

		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}

		e.Extra[k] = v
	}

	return e
}

// fromOtherPayload synthesizes an error for a response without an "error" field.
// details is the decoded body (a map), the raw text, or nil.
func fromOtherPayload(status int, transportMsg string, details any) *APIError {
	e := &APIError{
		Message:  transportMsg,
		Code:     fmt.Sprintf("ERR_%d", status),
		Details:  details,
		Status:   status,
		sentinel: classifyStatus(status),
	}

	if body, ok := details.(map[string]any); ok {
		if msg := body["message"]; truthy(msg) {
			e.Message = stringify(msg)
		}

		if code := body["code"]; truthy(code) {
			e.Code = stringify(code)
		}
	}

	if e.Message == "" {
		e.Message = msgUnknown
	}

	return e
}

// fromTransport handles failures where no response arrived. The cause's text
// is copied in; the cause itself is not retained.
func fromTransport(err error) *APIError {
	e := &APIError{
		Message:  msgNetwork,
		Code:     codeNetwork,
		sentinel: ErrNetwork,
	}

	if err == nil {
		return e
	}

	if msg := err.Error(); msg != "" {
		e.Message = msg
	}

	var coded *codedError
	var netErr net.Error

	switch {
	case errors.As(err, &coded):
		e.Code = coded.code
		e.sentinel = coded.sentinel
	case errors.Is(err, context.Canceled):
		e.Code = codeCanceled
		e.sentinel = context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		e.Code = codeTimeout
		e.sentinel = context.DeadlineExceeded
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Code = codeTimeout
		e.sentinel = context.DeadlineExceeded
	}

	return e
}

// codedError is a client-side failure that carries its own error code, such
// as a missing refresh token.
type codedError struct {
	code     string
	sentinel error
	msg      string
}

func (e *codedError) Error() string { return e.msg }
func (e *codedError) Unwrap() error { return e.sentinel }

// truthy reports whether a decoded JSON value counts as present: not null,
// false, zero, or the empty string.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case float64:
		return v != 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, bool, json.Number:
		return fmt.Sprint(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}

		return string(b)
	}
}

// classifyStatus maps an HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrRequestFailed
	}
}
