package wmts

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindUnsupportedParameter Kind = "UnsupportedParameter"
	KindInvalidFormat        Kind = "InvalidFormat"
	KindOutOfBounds          Kind = "OutOfBounds"
	KindUnknownLayer         Kind = "UnknownLayer"
	KindNotFound             Kind = "NotFound"
	KindUnauthorized         Kind = "Unauthorized"
	KindMethodNotAllowed     Kind = "MethodNotAllowed"
	KindBackendTimeout       Kind = "BackendTimeout"
	KindBackendTLSError      Kind = "BackendTLSError"
	KindBackendUnreachable   Kind = "BackendUnreachable"
	KindBackendProtocolError Kind = "BackendProtocolError"
	KindServiceUnavailable   Kind = "ServiceUnavailable"
	KindInternalError        Kind = "InternalError"
)

// InternalErrorMessage is the only text clients see for unhandled failures.
const InternalErrorMessage = "Internal server error, please consult logs"

var kindStatus = map[Kind]int{
	KindUnsupportedParameter: http.StatusBadRequest,
	KindInvalidFormat:        http.StatusBadRequest,
	KindOutOfBounds:          http.StatusBadRequest,
	KindUnknownLayer:         http.StatusBadRequest,
	KindNotFound:             http.StatusNotFound,
	KindUnauthorized:         http.StatusUnauthorized,
	KindMethodNotAllowed:     http.StatusMethodNotAllowed,
	KindBackendTimeout:       http.StatusRequestTimeout,
	KindBackendTLSError:      http.StatusBadGateway,
	KindBackendUnreachable:   http.StatusBadGateway,
	KindBackendProtocolError: http.StatusNotImplemented,
	KindServiceUnavailable:   http.StatusServiceUnavailable,
	KindInternalError:        http.StatusInternalServerError,
}

// Error is a failure with a client facing message and HTTP status.
type Error struct {
	Kind    Kind
	Message string
	// Cause is logged but never shown to the client.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Status() int {
	if status, ok := kindStatus[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func UnsupportedParameter(format string, args ...any) *Error {
	return newError(KindUnsupportedParameter, format, args...)
}

func InvalidFormat(format string, args ...any) *Error {
	return newError(KindInvalidFormat, format, args...)
}

func OutOfBounds(format string, args ...any) *Error {
	return newError(KindOutOfBounds, format, args...)
}

func UnknownLayer(layerID string) *Error {
	return newError(KindUnknownLayer, "Unsupported Layer %s", layerID)
}

func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return newError(KindUnauthorized, format, args...)
}

func MethodNotAllowed(format string, args ...any) *Error {
	return newError(KindMethodNotAllowed, format, args...)
}

func ServiceUnavailable(format string, args ...any) *Error {
	return newError(KindServiceUnavailable, format, args...)
}

// Backend wraps a render backend failure of the given kind.
func Backend(kind Kind, cause error, format string, args ...any) *Error {
	e := newError(kind, format, args...)
	e.Cause = cause
	return e
}

// AsError resolves err to an *Error. Anything that is not one becomes an
// InternalError carrying err as cause.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternalError, Message: InternalErrorMessage, Cause: err}
}
