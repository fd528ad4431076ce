package util

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// URLComponents is the decomposed form of an OData resource URL.
type URLComponents struct {
	Scheme   string
	Host     string
	Port     int
	Path     string
	Query    url.Values
	Fragment string
	// ServiceRoot is scheme://host[:port]/path-to-service without a trailing slash.
	ServiceRoot string
	// ResourcePath is the part of the path after the service root.
	ResourcePath string
	// EntitySet is the first resource path segment with any key predicate removed.
	EntitySet string
	// KeyPredicate is the content between the parentheses following the entity set, if any.
	KeyPredicate string
}

// ParseURL splits an OData URL into its components. The service root ends at
// the last segment carrying a ".svc" suffix; without one, the last path
// segment is taken as the resource path.
func ParseURL(raw string) (*URLComponents, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", raw)
	}

	port := DefaultPort(parsed.Scheme)
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", p, err)
		}
	}

	components := &URLComponents{
		Scheme:   strings.ToLower(parsed.Scheme),
		Host:     parsed.Hostname(),
		Port:     port,
		Path:     parsed.Path,
		Query:    parsed.Query(),
		Fragment: parsed.Fragment,
	}

	segments := splitPath(parsed.Path)
	rootEnd := -1
	for i, seg := range segments {
		if strings.HasSuffix(strings.ToLower(seg), ".svc") {
			rootEnd = i
		}
	}
	if rootEnd < 0 && len(segments) > 1 {
		rootEnd = len(segments) - 2
	}

	origin := components.Scheme + "://" + parsed.Host
	components.ServiceRoot = strings.TrimRight(origin+"/"+strings.Join(segments[:rootEnd+1], "/"), "/")
	if rootEnd+1 < len(segments) {
		components.ResourcePath = strings.Join(segments[rootEnd+1:], "/")
		components.EntitySet, components.KeyPredicate = SplitKeyPredicate(segments[rootEnd+1])
	}
	return components, nil
}

// SplitKeyPredicate splits "Customers('ALFKI')" into "Customers" and "'ALFKI'".
func SplitKeyPredicate(segment string) (string, string) {
	open := strings.Index(segment, "(")
	if open < 0 || !strings.HasSuffix(segment, ")") {
		return segment, ""
	}
	return segment[:open], segment[open+1 : len(segment)-1]
}

// DefaultPort returns the well-known port for http and https.
func DefaultPort(scheme string) int {
	switch strings.ToLower(scheme) {
	case "https":
		return 443
	case "http":
		return 80
	default:
		return 0
	}
}

// HasQueryParam reports whether rawURL carries the literal query parameter key,
// e.g. "$format". Keys are compared without decoding so "$format" and "%24format" differ.
func HasQueryParam(rawURL, key string) bool {
	_, query, found := strings.Cut(rawURL, "?")
	if !found {
		return false
	}
	for _, part := range strings.Split(query, "&") {
		name, _, _ := strings.Cut(part, "=")
		if name == key {
			return true
		}
	}
	return false
}

// AppendQuery appends a raw "key=value" pair to rawURL using '?' when the URL
// has no query string yet and '&' otherwise.
func AppendQuery(rawURL, pair string) string {
	if pair == "" {
		return rawURL
	}
	if !strings.Contains(rawURL, "?") {
		return rawURL + "?" + pair
	}
	if strings.HasSuffix(rawURL, "?") || strings.HasSuffix(rawURL, "&") {
		return rawURL + pair
	}
	return rawURL + "&" + pair
}

// StripQuery removes the query string and fragment from rawURL.
func StripQuery(rawURL string) string {
	if idx := strings.IndexAny(rawURL, "?#"); idx >= 0 {
		return rawURL[:idx]
	}
	return rawURL
}

// JoinPath appends a path segment to a base URL with exactly one separating slash.
func JoinPath(base, segment string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(segment, "/")
}

func splitPath(path string) []string {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	return segments
}
