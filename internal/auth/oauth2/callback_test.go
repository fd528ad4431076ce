package oauth2

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCallbackHandlerReturnsCodeForMatchingState(t *testing.T) {
	h := NewCallbackHandler()
	h.SetExpectedState("abc")

	if !h.HandleCallback("code1", "abc") {
		t.Fatal("expected first callback to be accepted")
	}
	code, err := h.WaitForCode(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != "code1" {
		t.Fatalf("code = %q, want code1", code)
	}
	if h.HasError() || !h.CallbackReceived() {
		t.Fatalf("unexpected flags: hasError=%v received=%v", h.HasError(), h.CallbackReceived())
	}
}

func TestCallbackHandlerStateMismatch(t *testing.T) {
	h := NewCallbackHandler()
	h.SetExpectedState("abc")

	h.HandleCallback("code1", "wrong")
	if !h.HasError() {
		t.Fatal("expected HasError after state mismatch")
	}
	_, err := h.WaitForCode(context.Background(), time.Second)
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
	if !strings.Contains(err.Error(), `"abc"`) || !strings.Contains(err.Error(), `"wrong"`) {
		t.Fatalf("error should name both states: %v", err)
	}
}

func TestCallbackHandlerOnlyFirstTerminalWriteWins(t *testing.T) {
	h := NewCallbackHandler()
	h.SetExpectedState("abc")

	h.HandleCallback("code1", "abc")
	if h.HandleCallback("code2", "abc") {
		t.Fatal("second callback must be ignored")
	}
	if h.HandleError("access_denied", "", "abc") {
		t.Fatal("error after success must be ignored")
	}
	code, err := h.Result()
	if err != nil || code != "code1" {
		t.Fatalf("Result() = %q, %v", code, err)
	}
}

func TestCallbackHandlerError(t *testing.T) {
	h := NewCallbackHandler()
	h.SetExpectedState("abc")
	h.HandleError("access_denied", "user cancelled", "abc")

	_, err := h.WaitForCode(context.Background(), time.Second)
	var oauthErr *OAuthError
	if !errors.As(err, &oauthErr) {
		t.Fatalf("expected OAuthError, got %T %v", err, err)
	}
	if oauthErr.Code != "access_denied" || oauthErr.Description != "user cancelled" {
		t.Fatalf("unexpected OAuthError: %+v", oauthErr)
	}
	if errors.Is(err, ErrStateMismatch) {
		t.Fatal("matching state must not be reported as mismatch")
	}
	for _, want := range []string{"access_denied", "user cancelled", `expected state "abc"`} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err.Error(), want)
		}
	}
}

func TestCallbackHandlerErrorWithWrongState(t *testing.T) {
	h := NewCallbackHandler()
	h.SetExpectedState("abc")
	h.HandleError("access_denied", "", "forged")

	_, err := h.WaitForCode(context.Background(), time.Second)
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got %v", err)
	}
	if !IsOAuthError(err) {
		t.Fatal("expected the OAuth error to be preserved as cause")
	}
}

func TestCallbackHandlerTimeout(t *testing.T) {
	h := NewCallbackHandler()
	h.SetExpectedState("abc")

	_, err := h.WaitForCode(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrCallbackTimeout) {
		t.Fatalf("expected ErrCallbackTimeout, got %v", err)
	}
}

func TestCallbackHandlerWakesWaiter(t *testing.T) {
	h := NewCallbackHandler()
	h.SetExpectedState("abc")

	var (
		wg   sync.WaitGroup
		code string
		err  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		code, err = h.WaitForCode(context.Background(), 5*time.Second)
	}()
	time.Sleep(10 * time.Millisecond)
	h.HandleCallback("late", "abc")
	wg.Wait()

	if err != nil || code != "late" {
		t.Fatalf("WaitForCode = %q, %v", code, err)
	}
}

func TestCallbackHandlerReset(t *testing.T) {
	h := NewCallbackHandler()
	h.SetExpectedState("abc")
	h.HandleCallback("code1", "wrong")

	h.Reset()
	if h.IsTerminal() || h.HasError() || h.ExpectedState() != "" {
		t.Fatal("Reset did not clear state")
	}
	h.SetExpectedState("def")
	h.HandleCallback("code2", "def")
	code, err := h.WaitForCode(context.Background(), time.Second)
	if err != nil || code != "code2" {
		t.Fatalf("after reset WaitForCode = %q, %v", code, err)
	}
}

func TestCallbackHandlerRejectsCallbackWithoutExpectedState(t *testing.T) {
	h := NewCallbackHandler()
	h.HandleCallback("injected-code", "")

	code, err := h.WaitForCode(context.Background(), time.Second)
	if !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch, got code=%q err=%v", code, err)
	}
	if h.CallbackReceived() {
		t.Fatal("code accepted without an expected state")
	}

	h.Reset()
	h.HandleError("access_denied", "denied", "")
	if _, err = h.WaitForCode(context.Background(), time.Second); !errors.Is(err, ErrStateMismatch) {
		t.Fatalf("expected ErrStateMismatch for error callback, got %v", err)
	}
}

func TestCallbackHandlerResetKeepsWaiterAlive(t *testing.T) {
	h := NewCallbackHandler()
	h.SetExpectedState("abc")

	result := make(chan string, 1)
	go func() {
		code, err := h.WaitForCode(context.Background(), 5*time.Second)
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- code
	}()
	time.Sleep(20 * time.Millisecond)
	h.Reset()
	h.SetExpectedState("def")
	h.HandleCallback("fresh", "def")

	select {
	case got := <-result:
		if got != "fresh" {
			t.Fatalf("WaitForCode after Reset = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter still blocked after Reset and a valid callback")
	}
}
