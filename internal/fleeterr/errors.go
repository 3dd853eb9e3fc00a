// Package fleeterr defines the error taxonomy shared by the fleet services.
// Handlers match these with errors.As to pick a transport status; anything
// that is none of them is treated as a storage failure.
package fleeterr

import "fmt"

// ValidationError reports a missing or malformed field, an unknown command
// type, or an illegal state transition request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidation creates a ValidationError for the given field.
func NewValidation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError reports that the operation collides with existing state,
// e.g. a duplicate mac address on register or a second active maintenance
// order for the same robot.
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists for %s", e.Entity, e.Key)
}

// NotFoundError reports an unknown robot, command or order identity.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// QueueFullError reports that a device's pending command queue is at its
// configured depth bound.
type QueueFullError struct {
	MACAddress string
	Limit      int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("command queue for %s is full (limit %d)", e.MACAddress, e.Limit)
}

// PartialFailureError is the outcome of a compound operation where the first
// write succeeded and the dependent write failed. It must never be collapsed
// into a generic failure: Completed and Failed name the two halves, and State
// describes what a subsequent read will observe.
type PartialFailureError struct {
	Completed string
	Failed    string
	State     string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%s, but %s: %v", e.Completed, e.Failed, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}
