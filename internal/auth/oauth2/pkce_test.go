package oauth2

import (
	"regexp"
	"testing"

	"golang.org/x/oauth2"
)

var unreservedRe = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

func TestGeneratePKCECodes(t *testing.T) {
	codes, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !unreservedRe.MatchString(codes.CodeVerifier) {
		t.Fatalf("verifier %q is not 43-128 unreserved characters", codes.CodeVerifier)
	}
	if want := oauth2.S256ChallengeFromVerifier(codes.CodeVerifier); codes.CodeChallenge != want {
		t.Fatalf("challenge = %q, want %q", codes.CodeChallenge, want)
	}

	again, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.CodeVerifier == codes.CodeVerifier {
		t.Fatal("verifiers must not repeat")
	}
}

func TestGenerateCodeChallengeKnownVector(t *testing.T) {
	// RFC 7636 appendix B.
	got := GenerateCodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk")
	if got != "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM" {
		t.Fatalf("challenge = %q", got)
	}
}

func TestGenerateState(t *testing.T) {
	state, err := GenerateState()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9]{32}$`).MatchString(state) {
		t.Fatalf("state %q is not 32 alphanumeric characters", state)
	}
}
