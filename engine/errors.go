package engine

import "fmt"

// ValidationError rejects a malformed template, step or branch before anything
// is persisted. Never retried automatically.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// GraphError means a visual graph cannot be converted into an executable
// step list. Surfaced to the editing UI; nothing is written.
type GraphError struct {
	Message string
}

func (e *GraphError) Error() string {
	return e.Message
}

// AlreadyEnrolledError rejects a second active enrollment of the same lead
// in the same template.
type AlreadyEnrolledError struct {
	LeadID     uint
	TemplateID uint
}

func (e *AlreadyEnrolledError) Error() string {
	return fmt.Sprintf("lead %d already has an active enrollment in template %d", e.LeadID, e.TemplateID)
}

// InvalidTransitionError rejects a status change the state machine forbids.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition enrollment from %s to %s", e.From, e.To)
}

// ExecutionError wraps an action-handler failure discovered inside the sweep.
// It is recorded and retried with backoff; it never escapes to an API caller.
type ExecutionError struct {
	StepID uint
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("step %d execution failed: %v", e.StepID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
