package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// AppError is the standard application error shape. HTTPStatus and Err
// stay server-side; the rest serializes to the client.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetail returns a copy with extra detail, leaving the base value
// untouched.
func (e *AppError) WithDetail(detail string) *AppError {
	c := *e
	c.Detail = detail
	return &c
}

// WithCause returns a copy carrying the original error.
func (e *AppError) WithCause(err error) *AppError {
	c := *e
	c.Err = err
	return &c
}

// FromError converts any error into an AppError, defaulting to the
// generic internal error while preserving the cause.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "The request is missing parameters or malformed.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "The request body is not valid JSON.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication required.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrInvalidCredentials = &AppError{
		Code:       "INVALID_CREDENTIALS",
		Message:    "The provided credentials are invalid.",
		HTTPStatus: http.StatusUnauthorized,
	}
	ErrEmailTaken = &AppError{
		Code:       "EMAIL_ALREADY_IN_USE",
		Message:    "The email address is already registered.",
		HTTPStatus: http.StatusConflict,
	}
	ErrPasswordTooWeak = &AppError{
		Code:       "PASSWORD_TOO_WEAK",
		Message:    "The password does not meet the minimum requirements.",
		HTTPStatus: http.StatusUnprocessableEntity,
	}

	// ErrProviderNotConfigured answers before any network call is made.
	ErrProviderNotConfigured = &AppError{
		Code:       "PROVIDER_NOT_CONFIGURED",
		Message:    "This sign-in provider needs configuration.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
	ErrProviderNotRegistered = &AppError{
		Code:       "PROVIDER_NOT_REGISTERED",
		Message:    "This sign-in provider failed to initialize.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
	ErrPKCEVerifierMissing = &AppError{
		Code:       "PKCE_VERIFIER_MISSING",
		Message:    "The sign-in attempt expired or was replayed. Start again from login.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrStateMismatch = &AppError{
		Code:       "STATE_MISMATCH",
		Message:    "The sign-in attempt could not be verified. Start again from login.",
		HTTPStatus: http.StatusBadRequest,
	}
	ErrTokenExchange = &AppError{
		Code:       "TOKEN_EXCHANGE_FAILED",
		Message:    "The provider rejected the authorization code.",
		HTTPStatus: http.StatusBadGateway,
	}
	ErrProfileFetch = &AppError{
		Code:       "PROFILE_FETCH_FAILED",
		Message:    "Could not load the account profile from the provider.",
		HTTPStatus: http.StatusBadGateway,
	}

	ErrInternal = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "An internal error occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}
	ErrNotReady = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "The service is temporarily unavailable.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)

// WriteError serializes err as the standard JSON error envelope.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(appErr)
}

// WriteJSON serializes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
