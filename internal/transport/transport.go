// Package transport defines the outbound HTTP boundary used by the OAuth2 and
// ODP layers. Callers build a Request, hand it to a Client and get back a fully
// read, decoded Response; a hard timeout can be imposed with SendWithTimeout.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Request is an outbound HTTP request with a buffered body.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// NewRequest creates a request with an empty header set.
func NewRequest(method, url string, body []byte) *Request {
	return &Request{Method: method, URL: url, Header: make(http.Header), Body: body}
}

// Response is a fully read HTTP response. Body is already decompressed.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsSuccess reports whether the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Client sends requests. Implementations must be safe for concurrent use.
type Client interface {
	SendRequest(ctx context.Context, req *Request) (*Response, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, req *Request) (*Response, error)

// SendRequest calls f(ctx, req).
func (f ClientFunc) SendRequest(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// ErrTimeout is matched by every TimeoutError.
var ErrTimeout = errors.New("timeout")

// TimeoutError reports that an operation did not finish within its bound.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

// Error returns a string representation of the timeout.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) succeed.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

// Error returns a string representation of the status error.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// NewStatusError builds a StatusError keeping at most 512 bytes of the body.
func NewStatusError(resp *Response) *StatusError {
	body := string(resp.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: body}
}

type sendResult struct {
	resp *Response
	err  error
}

// SendWithTimeout runs the request on a separate goroutine and waits at most
// timeout for it. On timeout the wait is abandoned and a TimeoutError is
// returned; the request itself may still complete in the background, so callers
// must not assume it had no effect.
func SendWithTimeout(ctx context.Context, client Client, req *Request, timeout time.Duration) (*Response, error) {
	if timeout <= 0 {
		return client.SendRequest(ctx, req)
	}
	done := make(chan sendResult, 1)
	go func() {
		resp, err := client.SendRequest(ctx, req)
		done <- sendResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.resp, r.err
	case <-timer.C:
		return nil, &TimeoutError{Op: req.Method + " " + req.URL, Timeout: timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
