// Package httperr defines the standard error envelope for the HTTP API.
// Handlers return errors; WriteError maps them to a JSON body with a
// stable machine-readable code.
package httperr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// AppError is the canonical application error carried through handlers.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // original cause, logged but never serialized
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail returns a copy with extra client-visible detail. Copying keeps
// the predefined sentinels immutable.
func (e *AppError) WithDetail(detail string) *AppError {
	dup := *e
	dup.Detail = detail
	return &dup
}

// WithCause returns a copy carrying the original error.
func (e *AppError) WithCause(err error) *AppError {
	dup := *e
	dup.Err = err
	return &dup
}

// FromError coerces any error into an AppError. Unknown errors become an
// opaque 500 so internals never leak to clients.
func FromError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return appErr
	}
	return ErrInternal.WithCause(err)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// WriteError serializes err as the JSON error envelope.
func WriteError(w http.ResponseWriter, err error) {
	appErr := FromError(err)

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Code:    appErr.Code,
		Message: appErr.Message,
		Detail:  appErr.Detail,
	})
}

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "The request has invalid syntax or missing parameters.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidJSON = &AppError{
		Code:       "INVALID_JSON",
		Message:    "The request body is not valid JSON.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrMalformedScope = &AppError{
		Code:       "MALFORMED_SCOPE",
		Message:    "One or more capability scopes are malformed.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidAddress = &AppError{
		Code:       "INVALID_ADDRESS",
		Message:    "The identity address is not a valid public-key address.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrBodyTooLarge = &AppError{
		Code:       "BODY_TOO_LARGE",
		Message:    "The request body exceeds the maximum allowed size.",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}

	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "Authentication is required to access this resource.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrSignatureInvalid = &AppError{
		Code:       "SIGNATURE_INVALID",
		Message:    "The signature does not verify against the claimed identity.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrChallengeExpired = &AppError{
		Code:       "CHALLENGE_EXPIRED",
		Message:    "The signin challenge is expired or was already used.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpired = &AppError{
		Code:       "TOKEN_EXPIRED",
		Message:    "The authorization token is expired or not yet valid.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrExcessiveTokenTTL = &AppError{
		Code:       "EXCESSIVE_TOKEN_TTL",
		Message:    "The authorization token's validity window exceeds the accepted maximum.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrReplayDetected = &AppError{
		Code:       "REPLAY_DETECTED",
		Message:    "The authorization token was already redeemed.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbidden = &AppError{
		Code:       "FORBIDDEN",
		Message:    "The session does not grant access to this resource.",
		HTTPStatus: http.StatusForbidden,
	}

	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "The requested resource does not exist.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrChannelNotFound = &AppError{
		Code:       "CHANNEL_NOT_FOUND",
		Message:    "The relay channel does not exist or already expired.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrChannelConflict = &AppError{
		Code:       "CHANNEL_CONFLICT",
		Message:    "The relay channel was already fulfilled or expired.",
		HTTPStatus: http.StatusConflict,
	}

	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected internal error occurred.",
		HTTPStatus: http.StatusInternalServerError,
	}
)
