package oauth2

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/odatalink/odatalink/internal/config"
	"github.com/odatalink/odatalink/internal/logging"
	"github.com/odatalink/odatalink/internal/util"
	log "github.com/sirupsen/logrus"
)

// ServerConfig holds the listener address and timing of the callback server.
type ServerConfig struct {
	// Port to bind on 127.0.0.1. 0 picks a free port.
	Port int
	// CallbackPath is the redirect URI path, e.g. "/callback".
	CallbackPath    string
	CallbackTimeout time.Duration
	PollInterval    time.Duration
	StartupGrace    time.Duration
}

// ServerConfigFrom derives the callback server settings from the client configuration.
func ServerConfigFrom(cfg *config.OAuth2Config) ServerConfig {
	return ServerConfig{
		Port:            cfg.CallbackListenPort(),
		CallbackPath:    cfg.CallbackPath(),
		CallbackTimeout: cfg.CallbackTimeout,
		PollInterval:    cfg.PollInterval,
		StartupGrace:    cfg.StartupGrace,
	}
}

func (c *ServerConfig) applyDefaults() {
	if c.CallbackPath == "" {
		c.CallbackPath = "/"
	} else if !strings.HasPrefix(c.CallbackPath, "/") {
		c.CallbackPath = "/" + c.CallbackPath
	}
	if c.CallbackTimeout <= 0 {
		c.CallbackTimeout = config.DefaultCallbackTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = config.DefaultPollInterval
	}
	if c.StartupGrace < 0 {
		c.StartupGrace = 0
	}
}

// Server is the loopback listener that receives the OAuth2 redirect. It serves a
// single route and forwards what it receives to its CallbackHandler; the waiting
// side only ever talks to the handler.
type Server struct {
	cfg     ServerConfig
	handler *CallbackHandler
	engine  *gin.Engine

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	running   bool
	serveDone chan struct{}
	serveErr  chan error
}

// NewServer creates a callback server feeding handler. A nil handler gets a fresh one.
func NewServer(cfg ServerConfig, handler *CallbackHandler) *Server {
	cfg.applyDefaults()
	if handler == nil {
		handler = NewCallbackHandler()
	}
	s := &Server{cfg: cfg, handler: handler}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger(), logging.GinLogrusRecovery())
	engine.GET(cfg.CallbackPath, s.handleCallback)
	s.engine = engine
	return s
}

// CallbackHandler returns the handler the server feeds.
func (s *Server) CallbackHandler() *CallbackHandler {
	return s.handler
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listener and starts serving in the background. Bind errors
// are returned synchronously as ErrPortInUse or ErrServerStartFailed. Start
// waits for the configured startup grace before returning.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return NewAuthenticationError(ErrServerStartFailed, fmt.Errorf("server is already running"))
	}
	if err := util.ValidatePort(s.cfg.Port); err != nil {
		return NewAuthenticationError(ErrServerStartFailed, err)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return NewAuthenticationError(ErrPortInUse, err)
		}
		return NewAuthenticationError(ErrServerStartFailed, err)
	}

	s.listener = listener
	s.server = &http.Server{
		Handler:      s.engine,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.serveDone = make(chan struct{})
	s.serveErr = make(chan error, 1)
	s.running = true

	server, done, errCh := s.server, s.serveDone, s.serveErr
	go func() {
		defer close(done)
		if errServe := server.Serve(listener); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			log.Errorf("OAuth callback server stopped: %v", errServe)
			errCh <- errServe
		}
	}()

	log.WithField("port", s.portLocked()).Debugf("OAuth callback server listening on %s%s", listener.Addr(), s.cfg.CallbackPath)

	if s.cfg.StartupGrace > 0 {
		time.Sleep(s.cfg.StartupGrace)
	}
	return nil
}

// StartAndWaitForCode arms the handler with expectedState, starts the listener
// and blocks until the redirect arrives or the callback timeout expires. The
// caller must Stop the server afterwards.
func (s *Server) StartAndWaitForCode(ctx context.Context, expectedState string) (string, error) {
	s.handler.Reset()
	s.handler.SetExpectedState(expectedState)
	if err := s.Start(); err != nil {
		return "", err
	}
	return s.WaitForCode(ctx)
}

// WaitForCode polls the handler every PollInterval until it reaches a terminal
// state, the callback timeout expires, the listener dies or ctx is done.
func (s *Server) WaitForCode(ctx context.Context) (string, error) {
	s.mu.Lock()
	errCh := s.serveErr
	s.mu.Unlock()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.cfg.CallbackTimeout)
	defer deadline.Stop()

	for {
		if s.handler.IsTerminal() {
			return s.handler.Result()
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			if s.handler.IsTerminal() {
				return s.handler.Result()
			}
			return "", NewAuthenticationError(ErrCallbackTimeout, fmt.Errorf("no callback within %s", s.cfg.CallbackTimeout))
		case err := <-errCh:
			return "", NewAuthenticationError(ErrServerStartFailed, err)
		case <-ticker.C:
		}
	}
}

// Stop shuts the listener down and waits for the serve goroutine to exit.
// Calling Stop on a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running || s.server == nil {
		return nil
	}

	log.Debug("Stopping OAuth callback server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	if err != nil {
		_ = s.server.Close()
	}
	<-s.serveDone
	s.running = false
	s.server = nil
	s.listener = nil
	return err
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Addr returns the bound address, or "" when the server is not running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Port returns the bound port, or the configured port when not running.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.portLocked()
}

func (s *Server) portLocked() int {
	if s.listener != nil {
		if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return tcp.Port
		}
	}
	return s.cfg.Port
}

// handleCallback recognizes three request shapes: a code redirect, an error
// redirect and anything else, which gets the waiting page.
func (s *Server) handleCallback(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	state := strings.TrimSpace(c.Query("state"))
	errCode := strings.TrimSpace(c.Query("error"))
	description := strings.TrimSpace(c.Query("error_description"))

	var page string
	switch {
	case errCode != "":
		log.Errorf("OAuth error received: %s", errCode)
		s.handler.HandleError(errCode, description, state)
		msg := errCode
		if description != "" {
			msg += ": " + description
		}
		page = renderPage("Authentication Failed", "Authentication failed", msg, accentError)
	case code != "":
		s.handler.HandleCallback(code, state)
		if _, err := s.handler.Result(); err != nil {
			page = renderPage("Authentication Failed", "Authentication failed", err.Error(), accentError)
		} else {
			page = renderPage("Authentication Successful", "Authentication successful",
				"You can close this window and return to the terminal.", accentSuccess)
		}
	default:
		page = renderPage("Waiting for Authentication", "Waiting for authentication",
			"Complete the sign-in in the identity provider window.", accentWaiting)
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(page))
}

func renderPage(title, heading, message, accent string) string {
	return strings.NewReplacer(
		"{{TITLE}}", html.EscapeString(title),
		"{{HEADING}}", html.EscapeString(heading),
		"{{MESSAGE}}", html.EscapeString(message),
		"{{ACCENT}}", accent,
	).Replace(pageTemplate)
}
