// Package errs defines the error taxonomy shared by the cache, the mutation
// pipeline, the local mutator and the transport.
//
// Only TransportError ever reaches a mutation caller. ValidationError and
// SerializationError are recovered where they occur and are exported so that
// log handlers and tests can recognise them.
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Keksclan/dishsync/cachekey"
)

var (
	// ErrNotFound is returned when a feature operation targets an entity that
	// is neither cached nor known to the server.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed arguments such as empty names
	// or negative indices.
	ErrInvalidInput = errors.New("invalid input")
)

// TransportError is a failed remote call: a network failure, a timeout or a
// non-2xx response. Status is zero when no response was received.
type TransportError struct {
	Status  int
	Message string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("transport: %d %s: %s", e.Status, http.StatusText(e.Status), e.Message)
	case e.Status != 0:
		return fmt.Sprintf("transport: %d %s", e.Status, http.StatusText(e.Status))
	case e.Timeout:
		return "transport: timeout: " + e.Message
	default:
		return "transport: " + e.Message
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether the failure is worth retrying: timeouts, network
// errors, 429 and 5xx gateway errors.
func (e *TransportError) Temporary() bool {
	switch e.Status {
	case 0:
		return true
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// AsTransport extracts a *TransportError from err.
func AsTransport(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsStatus reports whether err is a TransportError with the given status.
func IsStatus(err error, status int) bool {
	te, ok := AsTransport(err)
	return ok && te.Status == status
}

// ToTransport converts any error returned by a remote operation into a
// *TransportError. A TransportError returned as is comes back unchanged. One
// wrapped by the remote keeps its status, and the wrapping error becomes
// Err with its context prefixed to Message.
func ToTransport(err error) *TransportError {
	if err == nil {
		return nil
	}
	if te, ok := AsTransport(err); ok {
		if error(te) == err {
			return te
		}
		cp := *te
		cp.Err = err
		if prefix, ok := strings.CutSuffix(err.Error(), te.Error()); ok {
			prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
			switch {
			case prefix == "":
			case cp.Message == "":
				cp.Message = prefix
			default:
				cp.Message = prefix + ": " + cp.Message
			}
		}
		return &cp
	}
	return &TransportError{
		Message: err.Error(),
		Timeout: errors.Is(err, context.DeadlineExceeded),
		Err:     err,
	}
}

// ValidationError reports an optimistic transform that could not be applied
// to the value cached under Key. The entry is left untouched.
type ValidationError struct {
	Key cachekey.Key
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %v", e.Key, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SerializationError reports a durable payload under Key that failed to
// decode. The collection is treated as empty.
type SerializationError struct {
	Key string
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization: %s: %v", e.Key, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
