package remote

import (
	"errors"
	"fmt"
	"strings"
)

// Backend error codes surfaced verbatim in *Error values. The client reuses
// a few of them for errors it raises locally.
const (
	OtherCause              = -1
	InternalServerError     = 1
	ConnectionFailed        = 100
	ObjectNotFound          = 101
	InvalidQuery            = 102
	InvalidClassName        = 103
	MissingObjectID         = 104
	InvalidKeyName          = 105
	InvalidPointer          = 106
	InvalidJSON             = 107
	CommandUnavailable      = 108
	IncorrectType           = 111
	InvalidChannelName      = 112
	InvalidNestedKey        = 121
	OperationForbidden      = 119
	InvalidFileName         = 122
	InvalidACL              = 123
	Timeout                 = 124
	InvalidEmailAddress     = 125
	DuplicateValue          = 137
	InvalidRoleName         = 139
	ScriptFailed            = 141
	ValidationFailed        = 142
	InvalidSessionToken     = 209
	UsernameMissing         = 200
	PasswordMissing         = 201
	UsernameTaken           = 202
	EmailTaken              = 203
	EmailMissing            = 204
	EmailNotFound           = 205
	SessionMissing          = 206
	MustCreateThroughSignUp = 207
	AccountAlreadyLinked    = 208
)

// Sentinel errors for local validation and state failures.
var (
	ErrInvalidValue     = errors.New("invalid value")
	ErrUnavailableField = errors.New("field unavailable until fetched")
	ErrUnsavedReference = errors.New("reference to unsaved object")
	ErrCyclicDependency = errors.New("cyclic dependency between unsaved objects")
	ErrInvalidQuery     = errors.New("invalid query")
	ErrNotLoggedIn      = errors.New("no current user")
	ErrNotInitialized   = errors.New("client not initialized")
)

// Error is an application error returned by the backend.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error %d", e.Code)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// IsCode reports whether err is a backend *Error with the given code.
func IsCode(err error, code int) bool {
	var re *Error
	return errors.As(err, &re) && re.Code == code
}

// TransportError is returned when the transport itself failed (DNS, connect,
// TLS, timeout) as opposed to the backend answering with an error.
type TransportError struct {
	Code    int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error %d: %s", e.Code, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ItemError is one failed entry of a batch request.
type ItemError struct {
	Code    int
	Message string
	Record  Record
	Err     error
}

func (e *ItemError) Error() string {
	if e.Record != nil {
		o := e.Record.base()
		return fmt.Sprintf("%s %s: %s (code %d)", o.className, o.id, e.Message, e.Code)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *ItemError) Unwrap() error { return e.Err }

// AggregateError collects every per-item failure of a deep save or batch
// destroy, in the order the failures were observed.
type AggregateError struct {
	Message string
	Errors  []*ItemError
}

func (e *AggregateError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	fmt.Fprintf(&sb, " (%d failed)", len(e.Errors))
	for i, item := range e.Errors {
		if i == 3 {
			fmt.Fprintf(&sb, "; and %d more", len(e.Errors)-3)
			break
		}
		sb.WriteString("; ")
		sb.WriteString(item.Error())
	}
	return sb.String()
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, item := range e.Errors {
		errs[i] = item
	}
	return errs
}

func invalidValuef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidValue, fmt.Sprintf(format, args...))
}
