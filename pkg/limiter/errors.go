package limiter

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrCostExceedsCapacity is returned when a call asks for more tokens
	// than the bucket can ever hold. Retrying would deny forever, so the
	// call fails immediately instead of consuming attempts.
	ErrCostExceedsCapacity = errors.New("cost exceeds bucket capacity")

	// ErrLimiterUnavailable is the base error wrapped by UnavailableError.
	ErrLimiterUnavailable = errors.New("limiter unavailable")
)

// errFetchToken means a commit was handed a token minted by another adapter.
var errFetchToken = errors.New("fetch token does not belong to this store")

// ConfigError reports an invalid policy or limiter configuration. It is
// never retried.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
}

func newConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// StoreError classifies a backing-store failure. Transient failures
// (timeouts, throttling) are retried with backoff; permanent failures
// (access denied, malformed items) abort the call immediately.
type StoreError struct {
	Transient bool
	Err       error
}

func (e *StoreError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s store error: %v", kind, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NewTransientStoreError wraps a retryable store failure.
func NewTransientStoreError(err error) *StoreError {
	return &StoreError{Transient: true, Err: err}
}

// NewPermanentStoreError wraps a non-retryable store failure.
func NewPermanentStoreError(err error) *StoreError {
	return &StoreError{Transient: false, Err: err}
}

// IsTransient reports whether err is a store failure worth retrying.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Transient
}

// UnavailableError is the terminal failure of a Limit call, raised after
// retry exhaustion or a permanent store failure.
//
// It carries the Decision realized from the limiter's exhaustion policy, so
// callers that configured FailOpen or FailClosed can act on the decision
// without branching on the error themselves.
type UnavailableError struct {
	Attempts int
	Fallback Decision
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("limiter unavailable after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return ErrLimiterUnavailable }

// IsUnavailable checks whether err means the limiter itself failed, as
// opposed to a healthy denial.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrLimiterUnavailable)
}
