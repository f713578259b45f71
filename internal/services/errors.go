package services

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a domain failure. Handlers map kinds to HTTP statuses.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindDuplicate
	KindAuth
	KindForbidden
	KindToken
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindToken:
		return "token"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// User-facing messages. Several failures deliberately share one message so
// callers cannot tell which check failed.
const (
	MsgValidationFailed        = "validation failed"
	MsgInvalidCredentials      = "invalid credentials"
	MsgAccountDisabled         = "account disabled"
	MsgMissingToken            = "missing token"
	MsgInvalidToken            = "invalid token"
	MsgUnauthenticated         = "unauthenticated"
	MsgInsufficientPermissions = "insufficient permissions"
	MsgInvalidRefreshToken     = "invalid or expired refresh token"
	MsgRefreshTokenRevoked     = "refresh token revoked"
	MsgInvalidResetToken       = "invalid or expired reset token"
	MsgUserNotFound            = "user not found"
	MsgEmailTaken              = "email already registered"
	MsgUsernameTaken           = "username already taken"
)

// FieldError is a single violated input constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the domain error returned by every service in this package.
// Anything else coming out of a service is an infrastructure failure.
type Error struct {
	Kind       ErrorKind
	Message    string
	Field      string
	Violations []FieldError
}

func (e *Error) Error() string {
	if len(e.Violations) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrAuth) works
// regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrDuplicate  = &Error{Kind: KindDuplicate}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrForbidden  = &Error{Kind: KindForbidden}
	ErrToken      = &Error{Kind: KindToken}
	ErrNotFound   = &Error{Kind: KindNotFound}
)

func validationError(violations []FieldError) *Error {
	return &Error{Kind: KindValidation, Message: MsgValidationFailed, Violations: violations}
}

func fieldError(field, message string) *Error {
	return validationError([]FieldError{{Field: field, Message: message}})
}

func duplicateError(field string) *Error {
	msg := MsgUsernameTaken
	if field == "email" {
		msg = MsgEmailTaken
	}
	return &Error{Kind: KindDuplicate, Message: msg, Field: field}
}

func authError(msg string) *Error      { return &Error{Kind: KindAuth, Message: msg} }
func forbiddenError(msg string) *Error { return &Error{Kind: KindForbidden, Message: msg} }
func tokenError(msg string) *Error     { return &Error{Kind: KindToken, Message: msg} }
func notFoundError(msg string) *Error  { return &Error{Kind: KindNotFound, Message: msg} }
