package oauth2

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

const (
	// verifierBytes random bytes encode to a 128 character verifier, the RFC 7636 maximum.
	verifierBytes = 96
	stateLength   = 32
	stateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// PKCECodes holds the verifier/challenge pair for one authorization attempt.
type PKCECodes struct {
	// CodeVerifier is sent with the token request.
	CodeVerifier string `json:"code_verifier"`
	// CodeChallenge is the S256 transform of CodeVerifier, sent with the authorization request.
	CodeChallenge string `json:"code_challenge"`
}

// GeneratePKCECodes generates a new pair of PKCE codes as specified in RFC 7636.
// The verifier uses only unreserved characters and the challenge method is S256.
func GeneratePKCECodes() (*PKCECodes, error) {
	codeVerifier, err := generateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	return &PKCECodes{
		CodeVerifier:  codeVerifier,
		CodeChallenge: GenerateCodeChallenge(codeVerifier),
	}, nil
}

func generateCodeVerifier() (string, error) {
	bytes := make([]byte, verifierBytes)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

// GenerateCodeChallenge returns BASE64URL(SHA256(verifier)) without padding.
func GenerateCodeChallenge(codeVerifier string) string {
	hash := sha256.Sum256([]byte(codeVerifier))
	return base64.RawURLEncoding.EncodeToString(hash[:])
}

// GenerateState returns a random 32 character alphanumeric anti-CSRF token.
func GenerateState() (string, error) {
	limit := big.NewInt(int64(len(stateAlphabet)))
	out := make([]byte, stateLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate state: %w", err)
		}
		out[i] = stateAlphabet[n.Int64()]
	}
	return string(out), nil
}
