package logging

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestGinLogrusRecoveryRepanicsErrAbortHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/abort", func(c *gin.Context) {
		panic(http.ErrAbortHandler)
	})

	req := httptest.NewRequest(http.MethodGet, "/abort", nil)
	recorder := httptest.NewRecorder()

	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatalf("expected panic, got nil")
		}
		err, ok := recovered.(error)
		if !ok {
			t.Fatalf("expected error panic, got %T", recovered)
		}
		if !errors.Is(err, http.ErrAbortHandler) {
			t.Fatalf("expected ErrAbortHandler, got %v", err)
		}
		if err != http.ErrAbortHandler {
			t.Fatalf("expected exact ErrAbortHandler sentinel, got %v", err)
		}
	}()

	engine.ServeHTTP(recorder, req)
}

func TestGinLogrusRecoveryHandlesRegularPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusRecovery())
	engine.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	recorder := httptest.NewRecorder()

	engine.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestGinLogrusLoggerMintsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	var fromCtx, fromGin string
	engine.GET("/callback", func(c *gin.Context) {
		fromCtx = RequestIDFromContext(c.Request.Context())
		fromGin = GinRequestID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/callback?code=secret-code-value&state=abc", nil)
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)

	if len(fromCtx) != 8 {
		t.Fatalf("expected 8 char request id, got %q", fromCtx)
	}
	if fromCtx != fromGin {
		t.Fatalf("context id %q != gin id %q", fromCtx, fromGin)
	}
	if got := recorder.Header().Get(HeaderCorrelationID); got != fromCtx {
		t.Fatalf("%s = %q, want %q", HeaderCorrelationID, got, fromCtx)
	}
}

func TestGinLogrusLoggerAdoptsInboundCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hook := logtest.NewGlobal()
	defer hook.Reset()

	engine := gin.New()
	engine.Use(GinLogrusLogger())
	var fromCtx string
	engine.GET("/callback", func(c *gin.Context) {
		fromCtx = RequestIDFromContext(c.Request.Context())
		c.Status(http.StatusBadRequest)
	})

	const inbound = "6f1c2b7e-9a4d-4c1e-8f00-0123456789ab"
	req := httptest.NewRequest(http.MethodGet, "/callback?code=secret-code-value&state=abc", nil)
	req.Header.Set(HeaderCorrelationID, strings.ToUpper(inbound))
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, req)

	if fromCtx != inbound {
		t.Fatalf("request id = %q, want %q", fromCtx, inbound)
	}
	if got := recorder.Header().Get(HeaderCorrelationID); got != inbound {
		t.Fatalf("echoed header = %q", got)
	}
	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("expected a log entry")
	}
	if entry.Level != log.WarnLevel {
		t.Fatalf("level = %v, want warn for 400", entry.Level)
	}
	if entry.Data[FieldCorrelationID] != inbound || entry.Data["status"] != http.StatusBadRequest {
		t.Fatalf("fields = %v", entry.Data)
	}
	if strings.Contains(entry.Message, "secret-code-value") {
		t.Fatalf("authorization code leaked into log line %q", entry.Message)
	}
}
