package models

import (
	"errors"
	"fmt"
)

// Validation failure kinds
const (
	ErrKindRateLimit     = "RateLimitExceeded"
	ErrKindBadName       = "BadName"
	ErrKindTooLarge      = "TooLarge"
	ErrKindEmpty         = "Empty"
	ErrKindWrongType     = "WrongType"
	ErrKindBadSignature  = "BadSignature"
	ErrKindMalicious     = "Malicious"
	ErrKindStructInvalid = "StructureInvalid"
)

// ValidationError is a fatal validation failure with a sub-kind from the
// taxonomy above.
type ValidationError struct {
	Kind    string
	Message string
	Report  *ValidationReport
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed (%s): %s", e.Kind, e.Message)
}

// NewValidationError builds a ValidationError carrying the partial report.
func NewValidationError(kind, message string, report *ValidationReport) *ValidationError {
	return &ValidationError{Kind: kind, Message: message, Report: report}
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// ErrQueueFull is returned by submit when the queue is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// ErrNotFound is returned for unknown ids across the stores.
var ErrNotFound = errors.New("not found")

// StageFailed records a non-fatal pipeline stage failure.
type StageFailed struct {
	Stage string
	Cause error
}

func (e *StageFailed) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Cause)
}

func (e *StageFailed) Unwrap() error { return e.Cause }

// CapabilityUnavailable means an external analyzer refused, was not
// configured, or timed out.
type CapabilityUnavailable struct {
	Name  string
	Cause error
}

func (e *CapabilityUnavailable) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("capability %s unavailable: %v", e.Name, e.Cause)
	}
	return fmt.Sprintf("capability %s unavailable", e.Name)
}

func (e *CapabilityUnavailable) Unwrap() error { return e.Cause }

// BackupError wraps a failed backup operation; it is always recorded in the
// backup history, never silently swallowed.
type BackupError struct {
	Operation string
	Cause     error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup %s failed: %v", e.Operation, e.Cause)
}

func (e *BackupError) Unwrap() error { return e.Cause }
