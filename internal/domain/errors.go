package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common domain errors that can occur while submitting or running analyses.
var (
	// ErrInvalidState indicates that an operation received inconsistent input.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrPayloadTooLarge indicates that a submitted document exceeds the size ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrQueueFull indicates that the orchestrator is at its pending-job ceiling.
	ErrQueueFull = errors.New("queue full")

	// ErrJobNotFound indicates that no job exists for the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrCanceled indicates that a job was canceled before completing.
	ErrCanceled = errors.New("job canceled")

	// ErrDocumentNotFound indicates that a document reference does not resolve.
	ErrDocumentNotFound = errors.New("document not found")
)

// ValidationError represents bad or missing submission fields. It can
// contain multiple validation failures. A submission that fails validation
// never creates a job.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// EvaluatorError records a failure inside a single evaluator. It is isolated
// by the pipeline: the affected grade or dimension becomes absent and the run
// continues.
type EvaluatorError struct {
	// Evaluator is the name of the failing evaluator.
	Evaluator string

	// Grade is the grade being scored, absent for failures outside a grade pass.
	Grade Optional[Grade]

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for EvaluatorError.
func (e *EvaluatorError) Error() string {
	if g, ok := e.Grade.Get(); ok {
		return fmt.Sprintf("evaluator error: evaluator=%s, grade=%s, err=%v", e.Evaluator, g, e.Err)
	}
	return fmt.Sprintf("evaluator error: evaluator=%s, err=%v", e.Evaluator, e.Err)
}

// Unwrap returns the underlying error.
func (e *EvaluatorError) Unwrap() error { return e.Err }

// NewEvaluatorError creates a new EvaluatorError with the given details.
func NewEvaluatorError(evaluator string, grade Optional[Grade], err error) *EvaluatorError {
	return &EvaluatorError{Evaluator: evaluator, Grade: grade, Err: err}
}

// TimeoutError reports that a job passed its deadline. It fails the job.
type TimeoutError struct {
	// JobID identifies the job that timed out.
	JobID string

	// Deadline is the wall-clock cutoff that was exceeded.
	Deadline time.Time
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s exceeded its deadline of %s", e.JobID, e.Deadline.Format(time.RFC3339))
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// StorageError represents a failure of a storage or queue backend. It is
// surfaced as a service-unavailable condition.
type StorageError struct {
	// Op is the storage operation that failed.
	Op string

	// Ref is the document or object reference involved.
	Ref string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: operation=%s, ref=%s, err=%v", e.Op, e.Ref, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError creates a new StorageError with the given details.
func NewStorageError(op, ref string, err error) *StorageError {
	return &StorageError{Op: op, Ref: ref, Err: err}
}
