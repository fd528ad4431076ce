// Package oauth2 implements the OAuth2 authorization-code flow with PKCE against
// an OData provider's identity service. It runs a loopback callback listener,
// hands the authorization code from the listener to the waiting flow, and
// exchanges and refreshes tokens at the token endpoint.
package oauth2

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuthError is an error returned by the identity provider, either on the
// redirect (error + error_description) or in a token endpoint response.
type OAuthError struct {
	// Code is the OAuth error code.
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// URI identifies a web page with information about the error.
	URI string `json:"error_uri,omitempty"`
	// ExpectedState and ReceivedState are set for redirect errors.
	ExpectedState string `json:"-"`
	ReceivedState string `json:"-"`
	// StatusCode is the HTTP status of a token endpoint error.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	msg := fmt.Sprintf("OAuth error: %s", e.Code)
	if e.Description != "" {
		msg = fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	if e.ExpectedState != "" || e.ReceivedState != "" {
		msg += fmt.Sprintf(" (expected state %q, received %q)", e.ExpectedState, e.ReceivedState)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	return msg
}

// NewOAuthError creates a new OAuth error with the specified code, description, and status code.
func NewOAuthError(code, description string, statusCode int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		StatusCode:  statusCode,
	}
}

// AuthenticationError represents authentication-related errors.
type AuthenticationError struct {
	// Type is the type of authentication error.
	Type string `json:"type"`
	// Message is a human-readable message describing the error.
	Message string `json:"message"`
	// Code is the HTTP status code associated with the error.
	Code int `json:"code"`
	// Cause is the underlying error that caused this authentication error.
	Cause error `json:"-"`
}

// Error returns a string representation of the authentication error.
func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// Is matches any AuthenticationError of the same Type, so errors.Is works
// against the base errors below regardless of the attached cause.
func (e *AuthenticationError) Is(target error) bool {
	t, ok := target.(*AuthenticationError)
	return ok && t.Type == e.Type
}

// Common authentication error types.
var (
	// ErrConfiguration represents missing or invalid OAuth2 client settings.
	ErrConfiguration = &AuthenticationError{
		Type:    "configuration_error",
		Message: "OAuth2 client configuration is invalid",
		Code:    http.StatusBadRequest,
	}

	// ErrStateMismatch represents a callback whose state does not match the one sent.
	ErrStateMismatch = &AuthenticationError{
		Type:    "state_mismatch",
		Message: "OAuth state parameter does not match",
		Code:    http.StatusBadRequest,
	}

	// ErrCodeExchangeFailed represents an error when exchanging authorization code for tokens fails.
	ErrCodeExchangeFailed = &AuthenticationError{
		Type:    "code_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadRequest,
	}

	// ErrRefreshFailed represents an error when a refresh-token grant fails.
	ErrRefreshFailed = &AuthenticationError{
		Type:    "refresh_failed",
		Message: "Failed to refresh access token",
		Code:    http.StatusUnauthorized,
	}

	// ErrTokenResponseParse represents a token response that is malformed or lacks access_token.
	ErrTokenResponseParse = &AuthenticationError{
		Type:    "token_response_invalid",
		Message: "Token response is malformed or missing access_token",
		Code:    http.StatusBadGateway,
	}

	// ErrServerStartFailed represents an error when starting the OAuth callback server fails.
	ErrServerStartFailed = &AuthenticationError{
		Type:    "server_start_failed",
		Message: "Failed to start OAuth callback server",
		Code:    http.StatusInternalServerError,
	}

	// ErrPortInUse represents an error when the OAuth callback port is already in use.
	ErrPortInUse = &AuthenticationError{
		Type:    "port_in_use",
		Message: "OAuth callback port is already in use",
		Code:    13, // Special exit code for port-in-use
	}

	// ErrCallbackTimeout represents an error when waiting for OAuth callback times out.
	ErrCallbackTimeout = &AuthenticationError{
		Type:    "callback_timeout",
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}

	// ErrPKCEGeneration represents a failure to generate PKCE material or state.
	ErrPKCEGeneration = &AuthenticationError{
		Type:    "pkce_generation_failed",
		Message: "Failed to generate PKCE codes",
		Code:    http.StatusInternalServerError,
	}
)

// NewAuthenticationError creates a new authentication error with a cause based on a base error.
func NewAuthenticationError(baseErr *AuthenticationError, cause error) *AuthenticationError {
	return &AuthenticationError{
		Type:    baseErr.Type,
		Message: baseErr.Message,
		Code:    baseErr.Code,
		Cause:   cause,
	}
}

// IsAuthenticationError checks if an error is an authentication error.
func IsAuthenticationError(err error) bool {
	var authenticationError *AuthenticationError
	return errors.As(err, &authenticationError)
}

// IsOAuthError checks if an error is an OAuth error.
func IsOAuthError(err error) bool {
	var oAuthError *OAuthError
	return errors.As(err, &oAuthError)
}

// GetUserFriendlyMessage returns a user-friendly error message based on the error type.
func GetUserFriendlyMessage(err error) string {
	var oauthErr *OAuthError
	if errors.As(err, &oauthErr) {
		switch oauthErr.Code {
		case "access_denied":
			return "Authentication was cancelled or denied."
		case "invalid_request":
			return "Invalid authentication request. Check the redirect URI and scope."
		case "invalid_client":
			return "The client credentials were rejected. Check client-id, client-secret and client-type."
		case "invalid_grant":
			return "The authorization code or refresh token is invalid or expired. Please log in again."
		case "server_error":
			return "Authentication server error. Please try again later."
		default:
			return fmt.Sprintf("Authentication failed: %s", oauthErr.Error())
		}
	}
	var authErr *AuthenticationError
	if errors.As(err, &authErr) {
		switch authErr.Type {
		case ErrConfiguration.Type:
			return "The OAuth2 configuration is incomplete. " + authErr.Error()
		case ErrStateMismatch.Type:
			return "The callback did not match this login attempt. Please start the login again."
		case ErrPortInUse.Type:
			return "The callback port is already in use. Close the application using it or choose another -oauth-callback-port."
		case ErrCallbackTimeout.Type:
			return "Authentication timed out. Please try again."
		case ErrTokenResponseParse.Type:
			return "The token endpoint returned an unexpected response."
		default:
			return "Authentication failed. Please try again."
		}
	}
	return "An unexpected error occurred. Please try again."
}
