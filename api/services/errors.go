package services

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the HTTP layer can pick a status code.
type Kind int

const (
	KindUnknown Kind = iota
	KindBadInput
	KindEmptyDocument
	KindExtractionFailure
	KindStorageFailure
	KindAuthMisconfigured
	KindRateLimited
	KindUpstreamUnavailable
	KindUpstreamError
	KindUpstreamProtocol
)

var kindNames = map[Kind]string{
	KindUnknown:             "Unknown",
	KindBadInput:            "BadInput",
	KindEmptyDocument:       "EmptyDocument",
	KindExtractionFailure:   "ExtractionFailure",
	KindStorageFailure:      "StorageFailure",
	KindAuthMisconfigured:   "AuthMisconfigured",
	KindRateLimited:         "RateLimited",
	KindUpstreamUnavailable: "UpstreamUnavailable",
	KindUpstreamError:       "UpstreamError",
	KindUpstreamProtocol:    "UpstreamProtocol",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned by every pipeline stage.
// Message is safe to show to API clients; Err carries the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error without an underlying cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error that keeps err as its cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// MessageOf returns the client-facing message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal error"
}

// Auth and record store errors
var (
	ErrNotFound           = errors.New("not found")
	ErrUserExists         = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)
