package misc

import (
	"net/http"
	"testing"
)

func TestParseOAuthCallback(t *testing.T) {
	cases := []struct {
		name      string
		input     string
		wantCode  string
		wantState string
		wantErr   string
	}{
		{"full url", "http://localhost:8765/callback?code=abc&state=xyz", "abc", "xyz", ""},
		{"no scheme", "localhost:8765/callback?code=abc&state=xyz", "abc", "xyz", ""},
		{"bare query", "code=abc&state=xyz", "abc", "xyz", ""},
		{"leading question mark", "?code=abc&state=xyz", "abc", "xyz", ""},
		{"fragment", "http://localhost/cb#code=abc&state=xyz", "abc", "xyz", ""},
		{"code hash state", "http://localhost/cb?code=abc%23xyz", "abc", "xyz", ""},
		{"provider error", "http://localhost/cb?error=access_denied&state=xyz", "", "xyz", "access_denied"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cb, err := ParseOAuthCallback(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cb.Code != tc.wantCode || cb.State != tc.wantState || cb.Error != tc.wantErr {
				t.Fatalf("got %+v", cb)
			}
		})
	}
}

func TestParseOAuthCallbackRejectsInput(t *testing.T) {
	if cb, err := ParseOAuthCallback("   "); cb != nil || err != nil {
		t.Fatalf("expected nil, nil for blank input, got %v, %v", cb, err)
	}
	if _, err := ParseOAuthCallback("garbage"); err == nil {
		t.Fatal("expected error for input without parameters")
	}
	if _, err := ParseOAuthCallback("http://localhost/cb?state=xyz"); err == nil {
		t.Fatal("expected error when code is missing")
	}
}

func TestEnsureHeader(t *testing.T) {
	target := http.Header{}
	target.Set("Accept", "application/xml")
	EnsureHeader(target, nil, "Accept", "application/json")
	if got := target.Get("Accept"); got != "application/xml" {
		t.Fatalf("EnsureHeader overwrote existing value: %q", got)
	}
	EnsureHeader(target, http.Header{"Sap-Client": {"100"}}, "sap-client", "200")
	if got := target.Get("sap-client"); got != "100" {
		t.Fatalf("sap-client = %q, want 100", got)
	}
	EnsureHeader(target, nil, "X-Empty", "  ")
	if _, ok := target["X-Empty"]; ok {
		t.Fatal("blank default must not be set")
	}
}
