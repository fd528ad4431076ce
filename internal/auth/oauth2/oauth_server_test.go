package oauth2

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/odatalink/odatalink/internal/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServerConfig() ServerConfig {
	return ServerConfig{
		Port:            0,
		CallbackPath:    "/callback",
		CallbackTimeout: 2 * time.Second,
		PollInterval:    10 * time.Millisecond,
		StartupGrace:    time.Millisecond,
	}
}

func TestServerCallbackShapes(t *testing.T) {
	cases := []struct {
		name     string
		query    string
		wantBody string
		terminal bool
		hasError bool
	}{
		{"waiting", "", "Waiting for authentication", false, false},
		{"success", "?code=abc&state=s1", "Authentication successful", true, false},
		{"error", "?error=access_denied&error_description=nope&state=s1", "access_denied: nope", true, true},
		{"mismatch", "?code=abc&state=evil", "Authentication failed", true, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewCallbackHandler()
			handler.SetExpectedState("s1")
			srv := NewServer(testServerConfig(), handler)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback"+tc.query, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Fatalf("content type = %q", ct)
			}
			body := rec.Body.String()
			if !strings.Contains(body, "<!DOCTYPE html>") || !strings.Contains(body, tc.wantBody) {
				t.Fatalf("body missing %q:\n%s", tc.wantBody, body)
			}
			if handler.IsTerminal() != tc.terminal || handler.HasError() != tc.hasError {
				t.Fatalf("terminal=%v hasError=%v", handler.IsTerminal(), handler.HasError())
			}
		})
	}
}

func TestServerEscapesErrorDescription(t *testing.T) {
	srv := NewServer(testServerConfig(), nil)
	srv.CallbackHandler().SetExpectedState("s1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?error=x&error_description=%3Cscript%3E&state=s1", nil))
	if strings.Contains(rec.Body.String(), "<script>") {
		t.Fatal("error description must be HTML-escaped")
	}
}

func TestServerStartAndWaitForCode(t *testing.T) {
	srv := NewServer(testServerConfig(), nil)
	defer func() { _ = srv.Stop(context.Background()) }()

	type result struct {
		code string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		code, err := srv.StartAndWaitForCode(context.Background(), "state-1")
		done <- result{code, err}
	}()

	addr := waitForAddr(t, srv)
	resp, err := http.Get(fmt.Sprintf("http://%s/callback?code=xyz&state=state-1", addr))
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	select {
	case r := <-done:
		if r.err != nil || r.code != "xyz" {
			t.Fatalf("StartAndWaitForCode = %q, %v", r.code, r.err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("StartAndWaitForCode did not return")
	}
}

func TestServerWaitTimesOut(t *testing.T) {
	cfg := testServerConfig()
	cfg.CallbackTimeout = 50 * time.Millisecond
	srv := NewServer(cfg, nil)
	defer func() { _ = srv.Stop(context.Background()) }()

	_, err := srv.StartAndWaitForCode(context.Background(), "s")
	if !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("expected ErrCallbackTimeout, got %v", err)
	}
}

func TestServerPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()

	cfg := testServerConfig()
	cfg.Port = ln.Addr().(*net.TCPAddr).Port
	srv := NewServer(cfg, nil)
	err = srv.Start()
	if !errors.Is(err, ErrPortInUse) {
		t.Fatalf("expected ErrPortInUse, got %v", err)
	}
	if errors.Is(err, ErrCallbackTimeout) {
		t.Fatal("bind failure must be distinct from callback timeout")
	}
}

func TestServerRejectsOutOfRangePort(t *testing.T) {
	for _, port := range []int{-1, 65536} {
		cfg := testServerConfig()
		cfg.Port = port
		srv := NewServer(cfg, nil)
		err := srv.Start()
		if !errors.Is(err, ErrServerStartFailed) {
			t.Fatalf("port %d: expected ErrServerStartFailed, got %v", port, err)
		}
		var paramErr *util.ParameterError
		if !errors.As(err, &paramErr) || paramErr.Name != "port" {
			t.Fatalf("port %d: expected port parameter error, got %v", port, err)
		}
		if srv.IsRunning() {
			t.Fatalf("port %d: server must not be running", port)
		}
	}
}

func TestServerStopIsIdempotent(t *testing.T) {
	srv := NewServer(testServerConfig(), nil)
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !srv.IsRunning() || srv.Port() == 0 {
		t.Fatalf("expected running server with a bound port, got running=%v port=%d", srv.IsRunning(), srv.Port())
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if srv.IsRunning() || srv.Addr() != "" {
		t.Fatal("server still reports running after Stop")
	}
}

func waitForAddr(t *testing.T, srv *Server) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if addr := srv.Addr(); addr != "" {
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("server did not start")
	return ""
}
