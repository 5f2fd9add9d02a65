package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

// Validation error kinds reported to webhook callers.
const (
	KindMalformedPayload = "malformed_payload"
	KindUnsupportedEvent = "unsupported_event"
	KindPayloadTooLarge  = "payload_too_large"
	KindInternal         = "internal_error"
)

// ErrInternal marks invariant violations such as a report id collision.
var ErrInternal = errors.New("internal error")

// ValidationError rejects an inbound event before any report is created.
type ValidationError struct {
	Kind    string
	Message string
}

func (e *ValidationError) Error() string { return e.Kind + ": " + e.Message }

func malformed(msg string) error { return &ValidationError{Kind: KindMalformedPayload, Message: msg} }

// Kind returns the error kind exposed in error responses.
func Kind(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindInternal
}

// StatusFor maps pipeline errors to HTTP status codes.
func StatusFor(err error) int {
	switch Kind(err) {
	case KindMalformedPayload:
		return http.StatusBadRequest
	case KindUnsupportedEvent:
		return http.StatusUnprocessableEntity
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// TooLarge rejects a body over limit bytes.
func TooLarge(limit int64) error {
	return &ValidationError{Kind: KindPayloadTooLarge, Message: fmt.Sprintf("request body exceeds %d bytes", limit)}
}
