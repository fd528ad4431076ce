package util

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// identifierPattern matches OData simple identifiers, qualified names and
// navigation paths.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*([./][A-Za-z_][A-Za-z0-9_]*)*$`)

// ParameterError reports an invalid named parameter.
type ParameterError struct {
	Name   string
	Reason string
}

// Error returns a string representation of the parameter error.
func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Name, e.Reason)
}

// ValidateRequired fails when value is empty after trimming.
func ValidateRequired(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ParameterError{Name: name, Reason: "value is required"}
	}
	return nil
}

// ValidateNonNegative fails when value is below zero.
func ValidateNonNegative(name string, value int) error {
	if err := validate.Var(value, "gte=0"); err != nil {
		return &ParameterError{Name: name, Reason: fmt.Sprintf("must be non-negative, got %d", value)}
	}
	return nil
}

// ValidatePort accepts 0 (ephemeral) through 65535.
func ValidatePort(port int) error {
	if err := validate.Var(port, "gte=0,lte=65535"); err != nil {
		return &ParameterError{Name: "port", Reason: fmt.Sprintf("must be between 0 and 65535, got %d", port)}
	}
	return nil
}

// ValidateHTTPURL fails unless raw is an absolute http or https URL with a host.
func ValidateHTTPURL(name, raw string) error {
	if err := validate.Var(raw, "required,url"); err != nil {
		return &ParameterError{Name: name, Reason: fmt.Sprintf("%q is not a valid URL", raw)}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return &ParameterError{Name: name, Reason: err.Error()}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return &ParameterError{Name: name, Reason: fmt.Sprintf("scheme %q is not http or https", parsed.Scheme)}
	}
	if parsed.Host == "" {
		return &ParameterError{Name: name, Reason: "host is missing"}
	}
	return nil
}

// ValidateIdentifier checks an OData property or path such as "Sales", "Product.Category" or "Product/Category".
func ValidateIdentifier(name, value string) error {
	if !identifierPattern.MatchString(value) {
		return &ParameterError{Name: name, Reason: fmt.Sprintf("%q is not a valid OData identifier", value)}
	}
	return nil
}

// ValidateOneOf fails unless value equals one of allowed (case-sensitive).
func ValidateOneOf(name, value string, allowed ...string) error {
	for _, candidate := range allowed {
		if value == candidate {
			return nil
		}
	}
	return &ParameterError{Name: name, Reason: fmt.Sprintf("%q must be one of %s", value, strings.Join(allowed, ", "))}
}
