package core

import "fmt"

// StepError ties a failure to the step that raised it. Any StepError aborts
// the whole task instance; there is no per-step continue-on-error.
type StepError struct {
	StepID   string
	Function string
	Err      error
}

func (e *StepError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("%s: %v", e.Function, e.Err)
	}
	return fmt.Sprintf("step %s (%s): %v", e.StepID, e.Function, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError wraps err with step identity for the instance abort path.
func NewStepError(stepID, function string, err error) *StepError {
	return &StepError{StepID: stepID, Function: function, Err: err}
}
