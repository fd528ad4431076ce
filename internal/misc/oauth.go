package misc

import (
	"fmt"
	"net/url"
	"strings"
)

// OAuthCallback captures the parsed OAuth callback parameters.
type OAuthCallback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// IsError reports whether the identity provider returned an error instead of a code.
func (c *OAuthCallback) IsError() bool {
	return c != nil && c.Error != ""
}

// ParseOAuthCallback extracts OAuth parameters from a redirect URL pasted by the
// user. Bare query strings ("code=...&state=...") and host/path forms without a
// scheme are accepted; parameters in the fragment fill gaps left by the query.
// It returns nil when the input is empty.
func ParseOAuthCallback(input string) (*OAuthCallback, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, nil
	}

	candidate, err := normalizeCallbackInput(trimmed)
	if err != nil {
		return nil, err
	}
	parsedURL, err := url.Parse(candidate)
	if err != nil {
		return nil, err
	}

	sources := []url.Values{parsedURL.Query()}
	if parsedURL.Fragment != "" {
		if fragQuery, errFrag := url.ParseQuery(parsedURL.Fragment); errFrag == nil {
			sources = append(sources, fragQuery)
		}
	}
	cb := &OAuthCallback{
		Code:             firstValue(sources, "code"),
		State:            firstValue(sources, "state"),
		Error:            firstValue(sources, "error"),
		ErrorDescription: firstValue(sources, "error_description"),
	}

	// Some providers render "code#state" into a single field.
	if cb.State == "" {
		if code, state, ok := strings.Cut(cb.Code, "#"); ok {
			cb.Code, cb.State = code, state
		}
	}
	if cb.Error == "" && cb.ErrorDescription != "" {
		cb.Error, cb.ErrorDescription = cb.ErrorDescription, ""
	}
	if cb.Code == "" && cb.Error == "" {
		return nil, fmt.Errorf("callback URL missing code")
	}
	return cb, nil
}

func normalizeCallbackInput(s string) (string, error) {
	switch {
	case strings.Contains(s, "://"):
		return s, nil
	case strings.HasPrefix(s, "?"):
		return "http://localhost/" + s, nil
	case strings.ContainsAny(s, "/?#:"):
		return "http://" + s, nil
	case strings.Contains(s, "="):
		return "http://localhost/?" + s, nil
	default:
		return "", fmt.Errorf("invalid callback URL")
	}
}

func firstValue(sources []url.Values, key string) string {
	for _, values := range sources {
		if v := strings.TrimSpace(values.Get(key)); v != "" {
			return v
		}
	}
	return ""
}
