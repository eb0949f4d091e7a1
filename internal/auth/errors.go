package auth

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuthError represents an error returned by the provider itself, either on
// the authorization redirect (error query parameter) or in a token-endpoint
// response body.
type OAuthError struct {
	// Code is the OAuth error code, e.g. "access_denied".
	Code string `json:"error"`
	// Description is a human-readable description of the error.
	Description string `json:"error_description,omitempty"`
	// StatusCode is the HTTP status code associated with the error.
	StatusCode int `json:"-"`
}

// Error returns a string representation of the OAuth error.
func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("OAuth error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("OAuth error: %s", e.Code)
}

// NewOAuthError creates a new OAuth error with the specified code,
// description, and status code.
func NewOAuthError(code, description string, statusCode int) *OAuthError {
	return &OAuthError{
		Code:        code,
		Description: description,
		StatusCode:  statusCode,
	}
}

// AuthenticationError represents a client-side authentication failure with a
// stable type tag the integrating UI can map to a single message.
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

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// Common authentication error types.
var (
	// ErrListenerBind represents a failure to bind the local callback
	// listener to the configured redirect port.
	ErrListenerBind = &AuthenticationError{
		Type:    "listener_bind_failed",
		Message: "Failed to start the local OAuth callback listener",
		Code:    http.StatusInternalServerError,
	}

	// ErrAuthorizationDenied represents the provider or user declining the
	// authorization request.
	ErrAuthorizationDenied = &AuthenticationError{
		Type:    "authorization_denied",
		Message: "Authorization was denied by the provider or user",
		Code:    http.StatusForbidden,
	}

	// ErrStateMismatch represents a returned state that does not match the
	// one sent, a possible CSRF attempt. Token exchange never proceeds.
	ErrStateMismatch = &AuthenticationError{
		Type:    "state_mismatch",
		Message: "OAuth state parameter does not match the issued value",
		Code:    http.StatusBadRequest,
	}

	// ErrCallbackTimeout represents an error when waiting for the OAuth
	// callback times out.
	ErrCallbackTimeout = &AuthenticationError{
		Type:    "callback_timeout",
		Message: "Timeout waiting for OAuth callback",
		Code:    http.StatusRequestTimeout,
	}

	// ErrTokenExchange represents the provider rejecting the authorization
	// code during token exchange.
	ErrTokenExchange = &AuthenticationError{
		Type:    "token_exchange_failed",
		Message: "Failed to exchange authorization code for tokens",
		Code:    http.StatusBadRequest,
	}

	// ErrRefreshFailed represents a refresh token that is invalid or revoked.
	ErrRefreshFailed = &AuthenticationError{
		Type:    "refresh_failed",
		Message: "Failed to refresh the access token",
		Code:    http.StatusUnauthorized,
	}

	// ErrStorage represents the secure credential store being unavailable.
	// Non-fatal for the running session, which continues in memory only.
	ErrStorage = &AuthenticationError{
		Type:    "storage_unavailable",
		Message: "Secure credential store is unavailable",
		Code:    http.StatusInternalServerError,
	}

	// ErrNotAuthenticated represents an API call attempted without a usable
	// token, or after a failed refresh.
	ErrNotAuthenticated = &AuthenticationError{
		Type:    "not_authenticated",
		Message: "Client is not authenticated",
		Code:    http.StatusUnauthorized,
	}

	// ErrAuthorizationPending represents an initiate attempt while another
	// authorization is already in flight.
	ErrAuthorizationPending = &AuthenticationError{
		Type:    "authorization_pending",
		Message: "An authorization attempt is already in progress",
		Code:    http.StatusConflict,
	}
)

// NewAuthenticationError creates a new authentication error with a cause
// based on a base error.
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

// IsAuthErrorType reports whether err is an AuthenticationError carrying the
// same type tag as base.
func IsAuthErrorType(err error, base *AuthenticationError) bool {
	var authErr *AuthenticationError
	if !errors.As(err, &authErr) {
		return false
	}
	return authErr.Type == base.Type
}

// IsOAuthError checks if an error is an OAuth error.
func IsOAuthError(err error) bool {
	var oAuthError *OAuthError
	return errors.As(err, &oAuthError)
}

// GetUserFriendlyMessage returns a user-friendly error message based on the
// error type, suitable for direct display by the integrating UI.
func GetUserFriendlyMessage(err error) string {
	switch {
	case IsAuthenticationError(err):
		var authErr *AuthenticationError
		errors.As(err, &authErr)
		switch authErr.Type {
		case "listener_bind_failed":
			return "The callback port is unavailable. Please close the application using it and try again."
		case "authorization_denied":
			return "Authentication was cancelled or denied."
		case "state_mismatch":
			return "Could not verify the authenticity of the provider response. Please try again."
		case "callback_timeout":
			return "Authentication timed out. Please try again."
		case "token_exchange_failed":
			return "The provider rejected the authorization. Please try again."
		case "refresh_failed", "not_authenticated":
			return "Your authentication has expired. Please log in again."
		case "storage_unavailable":
			return "Tokens could not be saved securely; you will need to log in again next time."
		case "authorization_pending":
			return "An authentication attempt is already in progress."
		default:
			return "Authentication failed. Please try again."
		}
	case IsOAuthError(err):
		var oauthErr *OAuthError
		errors.As(err, &oauthErr)
		switch oauthErr.Code {
		case "access_denied":
			return "Authentication was cancelled or denied."
		case "invalid_request":
			return "Invalid authentication request. Please try again."
		case "server_error":
			return "Authentication server error. Please try again later."
		default:
			return fmt.Sprintf("Authentication failed: %s", oauthErr.Code)
		}
	default:
		return "An unexpected error occurred. Please try again."
	}
}
