package logging

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	// HeaderCorrelationID is the SAP tracing header. Outbound OData requests
	// carry one per request; the callback listener adopts an inbound one.
	HeaderCorrelationID = "X-CorrelationID"
	// HeaderRequestID forwards the run-level request id to upstream services.
	HeaderRequestID = "X-Request-ID"

	// FieldRequestID is the entry field LogFormatter prints in its id column.
	FieldRequestID = "request_id"
	// FieldCorrelationID ties a log line to the X-CorrelationID sent upstream.
	FieldCorrelationID = "correlation_id"
)

const ginRequestIDKey = "odatalink.request_id"

type requestIDKey struct{}

// NewRequestID returns 8 hex characters, the width of the formatter id column.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// NewCorrelationID returns a random UUID for HeaderCorrelationID.
func NewCorrelationID() string {
	return uuid.NewString()
}

// ContextWithRequestID attaches id to ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id attached to ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// EnsureRequestID returns ctx and its id, minting one when ctx has none.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	if id := RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := NewRequestID()
	return ContextWithRequestID(ctx, id), id
}

// Entry returns a logrus entry tagged with the request id carried by ctx.
func Entry(ctx context.Context) *log.Entry {
	if id := RequestIDFromContext(ctx); id != "" {
		return log.WithField(FieldRequestID, id)
	}
	return log.NewEntry(log.StandardLogger())
}

// SetHeaderIfAbsent stores value under key unless h already has one, and
// returns the value in effect.
func SetHeaderIfAbsent(h http.Header, key, value string) string {
	if h == nil {
		return value
	}
	if existing := h.Get(key); existing != "" {
		return existing
	}
	if value != "" {
		h.Set(key, value)
	}
	return value
}

// InboundCorrelationID returns the X-CorrelationID of h when it parses as a
// UUID, or "".
func InboundCorrelationID(h http.Header) string {
	raw := strings.TrimSpace(h.Get(HeaderCorrelationID))
	if raw == "" {
		return ""
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.String()
}

// GinRequestID returns the request id GinLogrusLogger stored on c.
func GinRequestID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(ginRequestIDKey)
}
