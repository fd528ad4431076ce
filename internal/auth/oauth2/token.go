package oauth2

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/odatalink/odatalink/internal/misc"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/oauth2"
)

// tokenFileType tags token files written by SaveToFile.
const tokenFileType = "odata-oauth2"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Tokens is the result of a successful token exchange or refresh.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// ParseTokenResponse parses a token endpoint JSON body. access_token must be a
// non-empty string; token_type defaults to "Bearer"; expires_in, when present,
// is converted to an absolute expiry relative to now.
func ParseTokenResponse(body []byte, now time.Time) (*Tokens, error) {
	if !gjson.ValidBytes(body) {
		return nil, NewAuthenticationError(ErrTokenResponseParse, fmt.Errorf("response is not valid JSON"))
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, NewAuthenticationError(ErrTokenResponseParse, fmt.Errorf("response is not a JSON object"))
	}
	access := root.Get("access_token")
	if access.Type != gjson.String || access.String() == "" {
		return nil, NewAuthenticationError(ErrTokenResponseParse, fmt.Errorf("access_token missing or not a string"))
	}

	tokens := &Tokens{
		AccessToken:  access.String(),
		RefreshToken: root.Get("refresh_token").String(),
		TokenType:    root.Get("token_type").String(),
		Scope:        root.Get("scope").String(),
	}
	if tokens.TokenType == "" {
		tokens.TokenType = "Bearer"
	}
	if expires := root.Get("expires_in"); expires.Exists() {
		// Some providers send expires_in as a string.
		if seconds := expires.Int(); seconds > 0 {
			tokens.ExpiresIn = seconds
			tokens.ExpiresAt = now.Add(time.Duration(seconds) * time.Second)
		}
	}
	return tokens, nil
}

// IsExpired reports whether the access token expires within skew. Tokens without
// an expiry never expire.
func (t *Tokens) IsExpired(skew time.Duration) bool {
	if t == nil || t.ExpiresAt.IsZero() {
		return false
	}
	return !time.Now().Add(skew).Before(t.ExpiresAt)
}

// AuthorizationHeader returns the Authorization header value for the access token.
func (t *Tokens) AuthorizationHeader() string {
	tokenType := t.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	return tokenType + " " + t.AccessToken
}

// OAuth2Token converts the tokens to a golang.org/x/oauth2 token.
func (t *Tokens) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// TokensFromOAuth2 converts a golang.org/x/oauth2 token back to Tokens.
func TokensFromOAuth2(tok *oauth2.Token) *Tokens {
	if tok == nil {
		return nil
	}
	return &Tokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
}

// SaveToFile writes the tokens as JSON with 0600 permissions, creating the
// parent directory with 0700.
func (t *Tokens) SaveToFile(authFilePath string) error {
	misc.LogSavingCredentials(authFilePath)

	raw := `{}`
	var err error
	type field struct {
		path  string
		value any
	}
	fields := []field{
		{"type", tokenFileType},
		{"access_token", t.AccessToken},
		{"token_type", t.TokenType},
		{"refresh_token", t.RefreshToken},
		{"scope", t.Scope},
		{"saved_at", time.Now().UTC().Format(time.RFC3339)},
	}
	if !t.ExpiresAt.IsZero() {
		fields = append(fields, field{"expires_at", t.ExpiresAt.UTC().Format(time.RFC3339)})
	}
	for _, f := range fields {
		if s, ok := f.value.(string); ok && s == "" {
			continue
		}
		if raw, err = sjson.Set(raw, f.path, f.value); err != nil {
			return fmt.Errorf("failed to encode token field %s: %w", f.path, err)
		}
	}

	if err = os.MkdirAll(filepath.Dir(authFilePath), 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err = os.WriteFile(authFilePath, []byte(raw), 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}

// LoadTokensFromFile reads a file written by SaveToFile.
func LoadTokensFromFile(authFilePath string) (*Tokens, error) {
	data, err := os.ReadFile(authFilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("token file %s is not valid JSON", authFilePath)
	}
	root := gjson.ParseBytes(data)
	access := root.Get("access_token").String()
	if access == "" {
		return nil, fmt.Errorf("token file %s has no access_token", authFilePath)
	}
	tokens := &Tokens{
		AccessToken:  access,
		RefreshToken: root.Get("refresh_token").String(),
		TokenType:    root.Get("token_type").String(),
		Scope:        root.Get("scope").String(),
	}
	if tokens.TokenType == "" {
		tokens.TokenType = "Bearer"
	}
	if exp := root.Get("expires_at").String(); exp != "" {
		if parsed, errParse := time.Parse(time.RFC3339, exp); errParse == nil {
			tokens.ExpiresAt = parsed
		}
	}
	return tokens, nil
}

// CredentialFileName returns the token file name for a tenant or, without one,
// for the client ID.
func CredentialFileName(tenant, clientID string) string {
	name := strings.TrimSpace(tenant)
	if name == "" {
		name = strings.TrimSpace(clientID)
	}
	name = strings.Trim(unsafeFileChars.ReplaceAllString(name, "_"), "_")
	if name == "" {
		name = "default"
	}
	return fmt.Sprintf("odata-%s.json", name)
}
