package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoSession      = errors.New("not logged in")
	ErrSessionExpired = errors.New("session expired")
	ErrInvalidState   = errors.New("invalid state parameter")
	ErrMissingCode    = errors.New("missing authorization code")
)

// AuthError means the caller has no usable session or token.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth: " + e.Reason
	}
	return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProviderError is a failed call to the remote provider. Status, Code and
// Message come from the upstream response when it carried them.
type ProviderError struct {
	Op      string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NotFound reports whether the provider answered 404.
func (e *ProviderError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// ValidationError is a malformed inbound payload.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid payload: %v", e.Err)
	}
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// ConfigError is a required setting that is missing or unusable.
type ConfigError struct {
	Setting string
	Reason  string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config: missing required setting %s", e.Setting)
	}
	return fmt.Sprintf("config: %s: %s", e.Setting, e.Reason)
}

// Auth wraps err as an AuthError.
func Auth(reason string, err error) error {
	return &AuthError{Reason: reason, Err: err}
}

// Missing returns a ConfigError for an unset setting.
func Missing(setting string) error {
	return &ConfigError{Setting: setting}
}

// HTTPStatus maps an error from the taxonomy to the status the HTTP layer returns.
func HTTPStatus(err error) int {
	var authErr *AuthError
	var validationErr *ValidationError
	switch {
	case errors.As(err, &authErr), errors.Is(err, ErrNoSession), errors.Is(err, ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
