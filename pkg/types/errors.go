package types

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the orchestrator matches exactly one of
// these through errors.Is.
var (
	// ErrNotFound means the tenant or cluster does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument means the request was malformed. Nothing was persisted.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidTransition means the cluster's current status does not allow the operation.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrProvision means the container platform rejected or failed a request.
	ErrProvision = errors.New("provision error")

	// ErrStorage means the record store failed.
	ErrStorage = errors.New("storage error")
)

// ValidationError represents an error that occurs during validation.
type ValidationError struct {
	Message string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	return e.Message
}

// Is makes every ValidationError match ErrInvalidArgument.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// NewValidationError creates a new ValidationError with the given message.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		Message: message,
	}
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError creates a NotFoundError for the given kind ("cluster", "tenant").
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// TransitionError is returned when the state machine rejects a status change.
type TransitionError struct {
	ClusterID string
	From      ClusterStatus
	To        ClusterStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cluster %s: cannot move from %s to %s", e.ClusterID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ProvisionError wraps a container platform failure, including timeouts.
type ProvisionError struct {
	// Op is the provisioner operation that failed (provision, deprovision, locate)
	Op        string
	ClusterID string
	Err       error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("%s cluster %s: %v", e.Op, e.ClusterID, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

func (e *ProvisionError) Is(target error) bool {
	return target == ErrProvision
}

// NewProvisionError wraps err as a ProvisionError. A nil err yields nil.
func NewProvisionError(op, clusterID string, err error) error {
	if err == nil {
		return nil
	}
	return &ProvisionError{Op: op, ClusterID: clusterID, Err: err}
}

// StorageError wraps a record store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError wraps err as a StorageError unless it already carries a
// not-found or storage classification. A nil err yields nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }
func IsInvalidArgument(err error) bool   { return errors.Is(err, ErrInvalidArgument) }
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }
func IsProvisionError(err error) bool    { return errors.Is(err, ErrProvision) }
func IsStorageError(err error) bool      { return errors.Is(err, ErrStorage) }
