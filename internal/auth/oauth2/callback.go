package oauth2

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

// CallbackHandler holds the outcome of one pending authorization-code exchange.
// The listener goroutine writes the outcome with HandleCallback or HandleError and
// the flow goroutine reads it with WaitForCode. Exactly one terminal write is
// accepted per flow; later writes are ignored until Reset.
type CallbackHandler struct {
	mu            sync.Mutex
	expectedState string
	code          string
	err           error

	callbackReceived atomic.Bool
	hasError         atomic.Bool

	// done is closed once by the first terminal write.
	done     chan struct{}
	doneOnce *sync.Once
}

// NewCallbackHandler returns a handler in the idle state.
func NewCallbackHandler() *CallbackHandler {
	h := &CallbackHandler{}
	h.Reset()
	return h
}

// Reset clears all state so the handler can serve a fresh flow attempt. A
// goroutine blocked in WaitForCode keeps waiting for the new attempt.
func (h *CallbackHandler) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done != nil {
		// Wake current waiters so they re-arm on the new channel.
		h.notifyLocked()
	}
	h.expectedState = ""
	h.code = ""
	h.err = nil
	h.callbackReceived.Store(false)
	h.hasError.Store(false)
	h.done = make(chan struct{})
	h.doneOnce = &sync.Once{}
}

// SetExpectedState records the state sent in the authorization request.
func (h *CallbackHandler) SetExpectedState(state string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.expectedState = state
}

// ExpectedState returns the state the handler is waiting for.
func (h *CallbackHandler) ExpectedState() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.expectedState
}

// HandleCallback records a redirect carrying an authorization code. A state that
// differs from the expected one fails the flow, as does any callback arriving
// before SetExpectedState. It reports whether this call
// produced the terminal outcome.
func (h *CallbackHandler) HandleCallback(code, state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isTerminalLocked() {
		log.Debug("ignoring OAuth callback: flow already completed")
		return false
	}
	if !h.stateMatchesLocked(state) {
		log.Warnf("OAuth callback state mismatch (expected %q)", h.expectedState)
		h.err = NewAuthenticationError(ErrStateMismatch,
			fmt.Errorf("expected state %q, received %q", h.expectedState, state))
		h.hasError.Store(true)
	} else {
		h.code = code
		h.callbackReceived.Store(true)
	}
	h.notifyLocked()
	return true
}

// HandleError records a redirect carrying an OAuth error. The composed message
// includes the error code, description and both states.
func (h *CallbackHandler) HandleError(errCode, description, state string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.isTerminalLocked() {
		log.Debug("ignoring OAuth error callback: flow already completed")
		return false
	}
	oauthErr := &OAuthError{
		Code:          errCode,
		Description:   description,
		ExpectedState: h.expectedState,
		ReceivedState: state,
	}
	if !h.stateMatchesLocked(state) {
		h.err = NewAuthenticationError(ErrStateMismatch, oauthErr)
	} else {
		h.err = oauthErr
	}
	h.hasError.Store(true)
	h.notifyLocked()
	return true
}

// WaitForCode blocks until a terminal outcome is recorded, timeout elapses or
// ctx is done. A timeout <= 0 waits on ctx alone.
func (h *CallbackHandler) WaitForCode(ctx context.Context, timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		h.mu.Lock()
		done := h.done
		h.mu.Unlock()

		select {
		case <-done:
			h.mu.Lock()
			terminal := h.isTerminalLocked()
			code, err := h.code, h.err
			h.mu.Unlock()
			if !terminal {
				// Reset ran; wait for the next attempt.
				continue
			}
			if err != nil {
				return "", err
			}
			return code, nil
		case <-expired:
			return "", NewAuthenticationError(ErrCallbackTimeout, fmt.Errorf("no callback within %s", timeout))
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Result returns the terminal outcome without blocking. Before a terminal
// outcome it returns an empty code and nil error.
func (h *CallbackHandler) Result() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return "", h.err
	}
	return h.code, nil
}

// HasError reports whether the flow failed.
func (h *CallbackHandler) HasError() bool {
	return h.hasError.Load()
}

// CallbackReceived reports whether a matching code was received.
func (h *CallbackHandler) CallbackReceived() bool {
	return h.callbackReceived.Load()
}

// IsTerminal reports whether a code or an error has been recorded.
func (h *CallbackHandler) IsTerminal() bool {
	return h.callbackReceived.Load() || h.hasError.Load()
}

func (h *CallbackHandler) isTerminalLocked() bool {
	return h.callbackReceived.Load() || h.hasError.Load()
}

func (h *CallbackHandler) stateMatchesLocked(state string) bool {
	return h.expectedState != "" && state == h.expectedState
}

func (h *CallbackHandler) notifyLocked() {
	done := h.done
	h.doneOnce.Do(func() { close(done) })
}
