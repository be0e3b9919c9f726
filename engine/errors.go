package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fabfab/contract-assistant/ingestion"
	"github.com/fabfab/contract-assistant/llm"
)

type ErrorKind string

const (
	KindValidation  ErrorKind = "VALIDATION_ERROR"
	KindConflict    ErrorKind = "CONFLICT"
	KindRateLimited ErrorKind = "RATE_LIMITED"
	KindUpstream    ErrorKind = "UPSTREAM_ERROR"
	KindTimeout     ErrorKind = "TIMEOUT"
	KindInternal    ErrorKind = "INTERNAL_ERROR"
)

// DefaultErrorMessage is reported when no more specific message applies.
const DefaultErrorMessage = "A server error occurred."

// Error is the reported failure of a use-case. Message and Details are safe
// to show to clients; Err is the internal cause and is only logged.
type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("engine: %s (%s)", e.Kind, e.ClientMessage())
	}
	return fmt.Sprintf("engine: %s (%s): %v", e.Kind, e.ClientMessage(), e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) ClientMessage() string {
	if e.Message == "" {
		return DefaultErrorMessage
	}
	return e.Message
}

// Status maps the error kind to an HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func validationError(message string, details map[string]any) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// classify converts a failure from a leaf component into a reported Error.
// Errors that are already reported pass through unchanged.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var reported *Error
	if errors.As(err, &reported) {
		return reported
	}

	switch {
	case errors.Is(err, ingestion.ErrUnsupportedFormat):
		return &Error{Kind: KindValidation, Message: "Uploaded document must be a PDF or text file.", Err: err}
	case errors.Is(err, llm.ErrRunTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "The assistant did not respond in time.", Err: err}
	case llm.IsRateLimited(err):
		return &Error{Kind: KindRateLimited, Message: "The assistant is rate limited, retry later.", Err: err}
	case llm.StatusCode(err) == http.StatusNotFound:
		return &Error{Kind: KindValidation, Message: "Conversation thread not found.", Err: err}
	}

	var failed *llm.RunFailedError
	if errors.As(err, &failed) || llm.StatusCode(err) != 0 || errors.Is(err, llm.ErrEmptyResponse) {
		return &Error{Kind: KindUpstream, Message: message, Err: err}
	}
	return &Error{Kind: KindInternal, Message: message, Err: err}
}
