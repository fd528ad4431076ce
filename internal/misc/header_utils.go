// Package misc holds small helpers shared by the login and ODP commands: callback
// URL parsing for manual code entry, header defaulting and credential log lines.
package misc

import (
	"net/http"
	"strings"
)

// EnsureHeader sets key on target unless it already carries a non-blank value.
// The value is taken from source first and defaultValue second.
func EnsureHeader(target http.Header, source http.Header, key, defaultValue string) {
	if target == nil {
		return
	}
	if strings.TrimSpace(target.Get(key)) != "" {
		return
	}
	if source != nil {
		if val := strings.TrimSpace(source.Get(key)); val != "" {
			target.Set(key, val)
			return
		}
	}
	if val := strings.TrimSpace(defaultValue); val != "" {
		target.Set(key, val)
	}
}
