package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure independently of its wire representation.
type Kind int

const (
	KindServerError Kind = iota
	KindInvalidRequest
	KindInvalidClient
	KindUnauthorizedGrantType
	KindUnsupportedGrantType
	KindUnsupportedResponseType
	KindInvalidUser
	KindUnauthorized
	KindInvalidGrant
	KindInvalidScope
	KindAccessDenied
	KindInvalidToken
	KindExpiredToken
	KindMalformedToken
	KindInsufficientScope
)

var kindNames = map[Kind]string{
	KindServerError:             "ServerError",
	KindInvalidRequest:          "InvalidRequest",
	KindInvalidClient:           "InvalidClient",
	KindUnauthorizedGrantType:   "UnauthorizedGrantType",
	KindUnsupportedGrantType:    "UnsupportedGrantType",
	KindUnsupportedResponseType: "UnsupportedResponseType",
	KindInvalidUser:             "InvalidUser",
	KindUnauthorized:            "Unauthorized",
	KindInvalidGrant:            "InvalidGrant",
	KindInvalidScope:            "InvalidScope",
	KindAccessDenied:            "AccessDenied",
	KindInvalidToken:            "InvalidToken",
	KindExpiredToken:            "ExpiredToken",
	KindMalformedToken:          "MalformedToken",
	KindInsufficientScope:       "InsufficientScope",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("Kind(%d)", int(k))
}

// Standard OAuth2 error codes
const (
	InvalidRequest       = "invalid_request"
	UnauthorizedClient   = "unauthorized_client"
	AccessDenied         = "access_denied"
	UnsupportedGrantType = "unsupported_grant_type"
	UnsupportedResponse  = "unsupported_response_type"
	InvalidScope         = "invalid_scope"
	InvalidClient        = "invalid_client"
	InvalidGrant         = "invalid_grant"
	InvalidToken         = "invalid_token"
	InsufficientScope    = "insufficient_scope"
	Unauthorized         = "unauthorized"
	ServerError          = "server_error"
)

// OAuth2Error represents a standardized OAuth 2.0 error
type OAuth2Error struct {
	Kind        Kind   `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`

	cause error
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap exposes the underlying cause, if any.
func (e *OAuth2Error) Unwrap() error {
	return e.cause
}

// Is matches another *OAuth2Error of the same kind, so sentinel-style checks
// like errors.Is(err, errors.NewInvalidGrant("")) work.
func (e *OAuth2Error) Is(target error) bool {
	t, ok := target.(*OAuth2Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// WithCause returns a copy of the error carrying cause for errors.Is/As.
func (e *OAuth2Error) WithCause(cause error) *OAuth2Error {
	cp := *e
	cp.cause = cause

	return &cp
}

// StatusCode returns the HTTP status the error is reported with.
func (e *OAuth2Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidClient, KindUnauthorized,
		KindInvalidToken, KindExpiredToken, KindMalformedToken:
		return http.StatusUnauthorized
	case KindAccessDenied, KindInsufficientScope:
		return http.StatusForbidden
	case KindServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// KindOf classifies err. Errors that are not OAuth2 errors are server errors.
func KindOf(err error) Kind {
	var oe *OAuth2Error
	if stderrors.As(err, &oe) {
		return oe.Kind
	}

	return KindServerError
}

// As returns err as an *OAuth2Error, converting unknown errors to a generic
// server error so internals never reach the wire.
func As(err error) *OAuth2Error {
	var oe *OAuth2Error
	if stderrors.As(err, &oe) {
		return oe
	}

	return NewServerError("internal server error").WithCause(err)
}

// StatusCode returns the HTTP status for any error.
func StatusCode(err error) int {
	return As(err).StatusCode()
}

func newError(kind Kind, code, description string) *OAuth2Error {
	return &OAuth2Error{
		Kind:        kind,
		Code:        code,
		Description: description,
	}
}

// Common error constructors
func NewInvalidRequest(description string) *OAuth2Error {
	return newError(KindInvalidRequest, InvalidRequest, description)
}

func NewInvalidClient(description string) *OAuth2Error {
	return newError(KindInvalidClient, InvalidClient, description)
}

func NewUnauthorizedGrantType(grantType string) *OAuth2Error {
	return newError(KindUnauthorizedGrantType, UnauthorizedClient,
		fmt.Sprintf("Unauthorized grant type: %s", grantType))
}

func NewUnsupportedGrantType(grantType string) *OAuth2Error {
	return newError(KindUnsupportedGrantType, UnsupportedGrantType,
		fmt.Sprintf("Unsupported grant type: %s", grantType))
}

func NewUnsupportedResponseType(responseType string) *OAuth2Error {
	return newError(KindUnsupportedResponseType, UnsupportedResponse,
		fmt.Sprintf("Unsupported response type: %s", responseType))
}

// NewInvalidUser reports bad resource owner credentials on the token endpoint.
func NewInvalidUser() *OAuth2Error {
	return newError(KindInvalidUser, InvalidGrant, "Bad credentials")
}

// NewUnauthorized reports bad resource owner credentials on the authorize endpoint.
func NewUnauthorized(description string) *OAuth2Error {
	return newError(KindUnauthorized, Unauthorized, description)
}

func NewInvalidGrant(description string) *OAuth2Error {
	return newError(KindInvalidGrant, InvalidGrant, description)
}

func NewInvalidScope(description string) *OAuth2Error {
	return newError(KindInvalidScope, InvalidScope, description)
}

func NewAccessDenied(description string) *OAuth2Error {
	return newError(KindAccessDenied, AccessDenied, description)
}

func NewInvalidToken(description string) *OAuth2Error {
	return newError(KindInvalidToken, InvalidToken, description)
}

func NewExpiredToken(description string) *OAuth2Error {
	return newError(KindExpiredToken, InvalidToken, description)
}

func NewMalformedToken(description string) *OAuth2Error {
	return newError(KindMalformedToken, InvalidToken, description)
}

// NewInsufficientScope reports a valid access token that lacks a scope the
// resource requires.
func NewInsufficientScope(description string) *OAuth2Error {
	return newError(KindInsufficientScope, InsufficientScope, description)
}

func NewServerError(description string) *OAuth2Error {
	return newError(KindServerError, ServerError, description)
}
