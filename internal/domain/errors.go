package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Domain errors represent business-level errors that can occur in the system.
// These errors are used across layers to communicate specific failure conditions.
var (
	// Remote state errors
	ErrNotFound     = errors.New("not found")
	ErrManifestType = errors.New("image doesn't have a manifest list")

	// Input errors
	ErrInvalidReference     = errors.New("invalid image reference")
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Signing errors
	ErrSigning = errors.New("signing failed")
)

// BadPushItemError reports a caller-supplied push item that cannot be published.
type BadPushItemError struct {
	Item   string
	Reason string
}

func (e *BadPushItemError) Error() string {
	return fmt.Sprintf("push item %s %s", e.Item, e.Reason)
}

// InvalidRepositoryError reports a destination repository that is not eligible for publishing.
type InvalidRepositoryError struct {
	Repository string
	Reason     string
}

func (e *InvalidRepositoryError) Error() string {
	return fmt.Sprintf("repository %s %s", e.Repository, e.Reason)
}

// RemoteServiceError is returned by adapters for any non-success HTTP status.
// A 404 matches ErrNotFound through errors.Is.
type RemoteServiceError struct {
	Service    string
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *RemoteServiceError) Error() string {
	msg := e.Service + ": " + e.Method + " " + e.URL + " returned " + strconv.Itoa(e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is implements errors.Is matching.
func (e *RemoteServiceError) Is(target error) bool {
	if target == ErrNotFound {
		return e.StatusCode == http.StatusNotFound
	}
	t, ok := target.(*RemoteServiceError)
	if !ok {
		return false
	}
	return t.StatusCode == 0 || t.StatusCode == e.StatusCode
}

// IsNotFound reports whether err represents absent remote state.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
