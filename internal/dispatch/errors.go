// ABOUTME: Error taxonomy for inbound Slack requests and its HTTP status mapping
// ABOUTME: Sentinels for auth, lookup, and parse failures; ExternalServiceError for vendor calls

package dispatch

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidSignature means the request was not signed with our secret.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrWorkspaceNotFound means the payload's team has not installed the app.
	ErrWorkspaceNotFound = errors.New("workspace not found")
	// ErrMalformedPayload means the body could not be understood.
	ErrMalformedPayload = errors.New("malformed payload")
)

// ExternalServiceError wraps a failed call to Slack, the LLM, blob storage,
// or the job queue.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

func external(service, op string, err error) error {
	return &ExternalServiceError{Service: service, Op: op, Err: err}
}

// StatusCode maps an error from Handle to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, ErrWorkspaceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrMalformedPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage is the error text returned to the caller. Internal details
// stay in the logs.
func publicMessage(err error) string {
	switch StatusCode(err) {
	case http.StatusUnauthorized:
		return ErrInvalidSignature.Error()
	case http.StatusNotFound:
		return ErrWorkspaceNotFound.Error()
	case http.StatusBadRequest:
		return ErrMalformedPayload.Error()
	default:
		return "internal error"
	}
}
