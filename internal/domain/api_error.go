package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// APIErrorKind classifies failures at the Identity API client boundary.
type APIErrorKind string

const (
	// KindUnauthenticated is a 401 or expired session. It is an expected state.
	KindUnauthenticated APIErrorKind = "unauthenticated"
	// KindCredentialRejected is a 4xx answer to a login or register call.
	KindCredentialRejected APIErrorKind = "credential_rejected"
	// KindNetworkError means the API could not be reached.
	KindNetworkError APIErrorKind = "network_error"
	// KindServerError is a 5xx or an undecodable answer.
	KindServerError APIErrorKind = "server_error"
)

// APIError is the tagged error returned by the identity client.
type APIError struct {
	Kind    APIErrorKind
	Message string
	Status  int
	Err     error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewAPIError classifies an HTTP status into an APIError. credentialCall marks
// login/register style calls where a 4xx means rejected input.
func NewAPIError(status int, message string, credentialCall bool) *APIError {
	if message == "" {
		message = http.StatusText(status)
	}

	kind := KindServerError

	switch {
	case status >= http.StatusInternalServerError:
		kind = KindServerError
	case credentialCall && status >= http.StatusBadRequest:
		kind = KindCredentialRejected
	case status == http.StatusUnauthorized:
		kind = KindUnauthenticated
	case status >= http.StatusBadRequest:
		kind = KindServerError
	}

	return &APIError{Kind: kind, Message: message, Status: status}
}

// IsAPIErrorKind reports whether err carries an APIError of the given kind.
func IsAPIErrorKind(err error, kind APIErrorKind) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}

	return apiErr.Kind == kind
}
