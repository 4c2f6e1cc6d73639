package dispatcher

import (
	"errors"
	"net/http"
)

// Kind classifies why a request did not produce a turn result.
type Kind string

const (
	KindUnsupportedMediaType Kind = "unsupported_media_type"
	KindMalformedActivity    Kind = "malformed_activity"
	KindUnauthorized         Kind = "unauthorized"
	KindHandlerFailure       Kind = "handler_failure"
)

var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMalformedActivity    = errors.New("malformed activity")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrHandlerFailure       = errors.New("handler failure")
)

// Error is the typed failure returned by Process and RunActivity. Detail is
// safe to show to clients. Err is for logs only.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	sentinel := e.Kind.sentinel()
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// Status is the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindMalformedActivity:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindUnsupportedMediaType:
		return ErrUnsupportedMediaType
	case KindMalformedActivity:
		return ErrMalformedActivity
	case KindUnauthorized:
		return ErrUnauthorized
	default:
		return ErrHandlerFailure
	}
}

// KindOf reports the kind carried by err. Untyped errors are handler failures.
func KindOf(err error) Kind {
	var dispatchErr *Error
	if errors.As(err, &dispatchErr) {
		return dispatchErr.Kind
	}
	return KindHandlerFailure
}
