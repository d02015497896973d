package session

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing session, message or snapshot.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// InvalidOperationError reports an operation whose precondition failed,
// such as a snapshot restore that did not succeed.
type InvalidOperationError struct {
	Op  string
	Err error
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InvalidOperationError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsInvalidOperation reports whether err is an InvalidOperationError.
func IsInvalidOperation(err error) bool {
	var io *InvalidOperationError
	return errors.As(err, &io)
}

func notFound(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

func invalidOp(op string, format string, args ...any) error {
	return &InvalidOperationError{Op: op, Err: fmt.Errorf(format, args...)}
}
