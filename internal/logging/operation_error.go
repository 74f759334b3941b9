package logging

import (
	"errors"
	"fmt"
)

// OperationError tags an error with the operation that failed and the request
// it failed for.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err. A nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// RequestIDFrom returns the request ID of the outermost OperationError in
// err's chain that carries one.
func RequestIDFrom(err error) (string, bool) {
	for err != nil {
		var opErr *OperationError
		if !errors.As(err, &opErr) {
			return "", false
		}
		if opErr.RequestID != "" {
			return opErr.RequestID, true
		}
		err = opErr.Err
	}
	return "", false
}
