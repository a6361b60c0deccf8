package client

import (
	"errors"
	"fmt"
)

// ErrUnauthenticated is wrapped by AuthError when a protected call is made
// without an active session.
var ErrUnauthenticated = errors.New("no active session")

var errInvalidOrigin = errors.New("origin must be an absolute URL")

// NetworkError reports a transport failure or timeout.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// BackendError is a non-2xx response carrying the backend error envelope.
type BackendError struct {
	Status  int
	Code    string
	Message string
}

func (e *BackendError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("backend error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *BackendError) Unwrap() error { return nil }

// AuthError reports a missing, rejected or unrenewable session.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	switch {
	case e.Message != "":
		return "auth: " + e.Message
	case e.Err != nil:
		return "auth: " + e.Err.Error()
	default:
		return "auth: " + e.Code
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// SubscriptionError terminates a subscription whose connection could not be
// recovered.
type SubscriptionError struct {
	Collection string
	Attempts   int
	Err        error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription to %s failed after %d attempts: %v", e.Collection, e.Attempts, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

func unauthenticated() error {
	return &AuthError{Code: "UNAUTHENTICATED", Err: ErrUnauthenticated}
}

// asAuthError turns a 401 backend error into an AuthError.
func asAuthError(err error) error {
	var be *BackendError
	if errors.As(err, &be) && be.Status == 401 {
		return &AuthError{Code: be.Code, Message: be.Message, Err: err}
	}
	return err
}
