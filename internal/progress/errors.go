package progress

import (
	"errors"
	"fmt"
)

// Reason explains why an action was denied.
type Reason string

const (
	ReasonLocked                Reason = "locked"
	ReasonRateLimited           Reason = "rate_limited"
	ReasonInsufficientFunds     Reason = "insufficient_funds"
	ReasonAlreadyAttemptedToday Reason = "already_attempted_today"
)

// Denial sentinels, matched with errors.Is against Outcome.Err().
var (
	ErrLocked                = errors.New("locked")
	ErrRateLimited           = errors.New("rate limited")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrAlreadyAttemptedToday = errors.New("already attempted today")
)

var (
	// ErrInvalidScore is returned for scores outside 0..100.
	ErrInvalidScore = errors.New("score must be within 0..100")
	// ErrPersistence marks failures of the progress repository.
	ErrPersistence = errors.New("persistence failure")
	// ErrMalformedRecord is returned when a stored progress document fails validation.
	ErrMalformedRecord = errors.New("malformed progress record")
)

func (r Reason) sentinel() error {
	switch r {
	case ReasonLocked:
		return ErrLocked
	case ReasonRateLimited:
		return ErrRateLimited
	case ReasonInsufficientFunds:
		return ErrInsufficientFunds
	case ReasonAlreadyAttemptedToday:
		return ErrAlreadyAttemptedToday
	}
	return nil
}

// Outcome is the common part of every operation result. Denials are values, not errors.
type Outcome struct {
	Success bool   `json:"success"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	// Warning is set when the change was applied in memory but could not be persisted.
	Warning error `json:"-"`
}

func allowed() Outcome {
	return Outcome{Success: true}
}

func denied(d Decision) Outcome {
	return Outcome{Success: false, Reason: d.Reason, Message: d.Message}
}

// Err returns nil on success, or a *DeniedError wrapping the reason's sentinel.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return &DeniedError{Reason: o.Reason, Message: o.Message}
}

// DeniedError is the error form of a denied Outcome.
type DeniedError struct {
	Reason  Reason
	Message string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *DeniedError) Unwrap() error {
	return e.Reason.sentinel()
}

// PersistenceError reports a repository call that failed after its retry.
type PersistenceError struct {
	UserID string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s progress for user %s: %v", e.Op, e.UserID, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// VersionConflictError is returned by Repository.Save when the stored version is not the
// expected one.
type VersionConflictError struct {
	Expected int64
	Current  int64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: expected %d, store has %d", e.Expected, e.Current)
}
