package oauth2

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseTokenResponse(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		body      string
		wantType  string
		wantExpAt time.Time
		wantErr   bool
	}{
		{"full", `{"access_token":"a","refresh_token":"r","token_type":"Bearer","scope":"s","expires_in":3600}`, "Bearer", now.Add(time.Hour), false},
		{"default type", `{"access_token":"a"}`, "Bearer", time.Time{}, false},
		{"string expires_in", `{"access_token":"a","expires_in":"60"}`, "Bearer", now.Add(time.Minute), false},
		{"custom type", `{"access_token":"a","token_type":"DPoP"}`, "DPoP", time.Time{}, false},
		{"missing access token", `{"refresh_token":"r"}`, "", time.Time{}, true},
		{"non string access token", `{"access_token":42}`, "", time.Time{}, true},
		{"not json", `<html>oops</html>`, "", time.Time{}, true},
		{"array", `["a"]`, "", time.Time{}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tokens, err := ParseTokenResponse([]byte(tc.body), now)
			if tc.wantErr {
				if !errors.Is(err, ErrTokenResponseParse) {
					t.Fatalf("expected ErrTokenResponseParse, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tokens.TokenType != tc.wantType {
				t.Fatalf("TokenType = %q, want %q", tokens.TokenType, tc.wantType)
			}
			if !tokens.ExpiresAt.Equal(tc.wantExpAt) {
				t.Fatalf("ExpiresAt = %v, want %v", tokens.ExpiresAt, tc.wantExpAt)
			}
		})
	}
}

func TestTokensSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth", CredentialFileName("acme-prod", "ignored"))
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	in := &Tokens{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Scope: "openid", ExpiresAt: expires}

	if err := in.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("token file permissions = %o, want 600", perm)
	}

	out, err := LoadTokensFromFile(path)
	if err != nil {
		t.Fatalf("LoadTokensFromFile: %v", err)
	}
	if out.AccessToken != "at" || out.RefreshToken != "rt" || out.Scope != "openid" || !out.ExpiresAt.Equal(expires) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestTokensHelpers(t *testing.T) {
	tok := &Tokens{AccessToken: "at", TokenType: "bearer", ExpiresAt: time.Now().Add(30 * time.Second)}
	if got := tok.AuthorizationHeader(); got != "Bearer at" {
		t.Fatalf("AuthorizationHeader = %q", got)
	}
	if tok.IsExpired(0) {
		t.Fatal("token should not be expired yet")
	}
	if !tok.IsExpired(time.Minute) {
		t.Fatal("token should count as expired within a one minute skew")
	}
	if (&Tokens{AccessToken: "x"}).IsExpired(time.Hour) {
		t.Fatal("token without expiry never expires")
	}
	if o := tok.OAuth2Token(); o.AccessToken != "at" || !o.Expiry.Equal(tok.ExpiresAt) {
		t.Fatalf("OAuth2Token mismatch: %+v", o)
	}
}

func TestCredentialFileName(t *testing.T) {
	if got := CredentialFileName("", "client/id:1"); got != "odata-client_id_1.json" {
		t.Fatalf("CredentialFileName = %q", got)
	}
	if got := CredentialFileName(" ", " "); got != "odata-default.json" {
		t.Fatalf("CredentialFileName = %q", got)
	}
}

func TestGetUserFriendlyMessage(t *testing.T) {
	if msg := GetUserFriendlyMessage(NewAuthenticationError(ErrCallbackTimeout, nil)); msg != "Authentication timed out. Please try again." {
		t.Fatalf("unexpected message: %q", msg)
	}
	if msg := GetUserFriendlyMessage(&OAuthError{Code: "access_denied"}); msg != "Authentication was cancelled or denied." {
		t.Fatalf("unexpected message: %q", msg)
	}
}
