package transport

import (
	"context"
	"net/http"
	"os"
	"testing"

	"github.com/odatalink/odatalink/internal/logging"
)

func TestWithRequestLoggingDisabledReturnsNext(t *testing.T) {
	next := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		return &Response{StatusCode: http.StatusOK}, nil
	})
	wrapped := WithRequestLogging(next, logging.NewFileRequestLogger(false, t.TempDir()))
	if _, ok := wrapped.(*LoggingClient); ok {
		t.Fatal("expected disabled logger to leave client unwrapped")
	}
}

func TestLoggingClientRecordsExchange(t *testing.T) {
	var seenRequestID string
	next := ClientFunc(func(ctx context.Context, req *Request) (*Response, error) {
		seenRequestID = req.Header.Get("X-Request-ID")
		return &Response{StatusCode: http.StatusOK, Header: http.Header{"Content-Type": {"application/json"}}, Body: []byte(`{"d":{}}`)}, nil
	})
	logger := logging.NewFileRequestLogger(true, t.TempDir())
	client := WithRequestLogging(next, logger)

	ctx := logging.ContextWithRequestID(context.Background(), "cafebabe")
	resp, err := client.SendRequest(ctx, NewRequest(http.MethodGet, "https://host/svc/Customers", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if seenRequestID != "cafebabe" {
		t.Fatalf("X-Request-ID = %q", seenRequestID)
	}
	entries, err := os.ReadDir(logger.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 exchange file, got %d", len(entries))
	}
}
