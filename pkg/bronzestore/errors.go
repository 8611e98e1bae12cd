package bronzestore

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

// ====================================================================================
// Store error taxonomy. Transient errors may be retried by the sync engine;
// fatal errors abort the run (there is no point processing units when the
// checkpoint listing itself cannot be trusted).
// ====================================================================================

// TransientError wraps a store failure that is worth retrying: connectivity
// trouble, throttling, server-side 5xx.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError wraps a store failure retrying cannot fix: bad credentials,
// missing bucket, malformed request.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal store error during %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// WriteVerificationError reports that the store acknowledged a write but the
// object could not be confirmed afterwards. The unit stays missing from the
// checkpoint, so the next run heals it.
type WriteVerificationError struct {
	Key string
	Err error
}

func (e *WriteVerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("write verification failed for %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("write verification failed for %s: object absent after successful write", e.Key)
}

func (e *WriteVerificationError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable store error.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// classify maps a raw client error onto the taxonomy. Auth and not-found
// failures are fatal; throttling, server errors and anything without an HTTP
// status (network-level trouble) are treated as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			return &TransientError{Op: op, Err: err}
		default:
			return &FatalError{Op: op, Err: err}
		}
	}

	return &TransientError{Op: op, Err: err}
}
