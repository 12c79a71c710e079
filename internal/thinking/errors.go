package thinking

import (
	"errors"
	"fmt"
)

// ErrProcessing is the sentinel wrapped by every [ProcessingError].
var ErrProcessing = errors.New("processing failed")

// ProcessingError reports an unexpected failure after a thought passed
// validation. Stage names the orchestration step that failed.
type ProcessingError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s during %s: %v", ErrProcessing, e.Stage, e.Err)
}

// Unwrap lets errors.Is match ErrProcessing and the underlying cause.
func (e *ProcessingError) Unwrap() []error {
	return []error{ErrProcessing, e.Err}
}

// errorKind labels an error for metrics and events.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrProcessing):
		return "processing"
	default:
		return "internal"
	}
}
