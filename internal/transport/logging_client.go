package transport

import (
	"context"
	"time"

	"github.com/odatalink/odatalink/internal/logging"
)

// LoggingClient wraps a Client and records every exchange with a RequestLogger.
// The request ID from ctx, if any, is forwarded as X-Request-ID.
type LoggingClient struct {
	next   Client
	logger logging.RequestLogger
}

// WithRequestLogging wraps next. A nil or disabled logger returns next unchanged.
func WithRequestLogging(next Client, logger logging.RequestLogger) Client {
	if logger == nil || !logger.IsEnabled() {
		return next
	}
	return &LoggingClient{next: next, logger: logger}
}

// SendRequest forwards req and logs the outcome. Logging failures are reported
// at warn level and never affect the returned response.
func (c *LoggingClient) SendRequest(ctx context.Context, req *Request) (*Response, error) {
	requestID := logging.RequestIDFromContext(ctx)
	if requestID != "" {
		logging.SetHeaderIfAbsent(req.Header, logging.HeaderRequestID, requestID)
	}
	started := time.Now()
	resp, err := c.next.SendRequest(ctx, req)

	ex := &logging.Exchange{
		Method:        req.Method,
		URL:           req.URL,
		RequestHeader: req.Header,
		RequestBody:   req.Body,
		RequestID:     requestID,
		Started:       started,
		Duration:      time.Since(started),
		Err:           err,
	}
	if resp != nil {
		ex.StatusCode = resp.StatusCode
		ex.ResponseHeader = resp.Header
		ex.ResponseBody = resp.Body
	}
	if errLog := c.logger.LogExchange(ex); errLog != nil {
		logging.Entry(ctx).Warnf("request log: %v", errLog)
	}
	return resp, err
}
