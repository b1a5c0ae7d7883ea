// Package oautherr defines the protocol error returned by every grant,
// authorization and revocation action.
package oautherr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

const (
	InvalidRequest         = "invalid_request"
	InvalidClient          = "invalid_client"
	InvalidGrant           = "invalid_grant"
	InvalidScope           = "invalid_scope"
	InvalidTicket          = "invalid_ticket"
	ExpiredTicket          = "expired_ticket"
	UnauthorizedClient     = "unauthorized_client"
	UnsupportedGrantType   = "unsupported_grant_type"
	UnsupportedTokenType   = "unsupported_token_type"
	ServerError            = "server_error"
	TemporarilyUnavailable = "temporarily_unavailable"
	AuthorizationPending   = "authorization_pending"
	SlowDown               = "slow_down"
	AccessDenied           = "access_denied"
	ExpiredToken           = "expired_token"
	ConsentRequired        = "consent_required"
	InvalidToken           = "invalid_token"
)

// Error is an OAuth2 error object. State carries the client's state
// parameter back for redirect correlation.
type Error struct {
	Code        string
	Description string
	State       string
	cause       error
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Status maps the error kind to an HTTP status.
func (e *Error) Status() int {
	switch e.Code {
	case InvalidClient:
		return http.StatusUnauthorized
	case ServerError, TemporarilyUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (e *Error) WithState(state string) *Error {
	clone := *e
	clone.State = state
	return &clone
}

func New(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

func Newf(code, format string, args ...any) *Error {
	return &Error{Code: code, Description: fmt.Sprintf(format, args...)}
}

func MissingParameter(name string) *Error {
	return Newf(InvalidRequest, "the parameter %s is missing", name)
}

// Internal wraps an unexpected fault. A cancelled or expired context is
// reported as a timeout rather than a server fault.
func Internal(description string, err error) *Error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: TemporarilyUnavailable, Description: "the request timed out", cause: err}
	}
	return &Error{Code: ServerError, Description: description, cause: err}
}

// As extracts an *Error from err, converting anything else into a server error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr
	}
	return Internal("unexpected error", err)
}

func Is(err error, code string) bool {
	var oerr *Error
	return errors.As(err, &oerr) && oerr.Code == code
}
