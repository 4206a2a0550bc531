package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxIterations ends a run that keeps requesting tools
	ErrMaxIterations = errors.New("maximum iterations exceeded")
	// ErrRunInProgress rejects a start for a session whose run has not finished
	ErrRunInProgress = errors.New("run already in progress")
)

// DecisionError wraps a failure of the decision function. It is fatal to the run.
type DecisionError struct {
	Err error
}

func (e *DecisionError) Error() string {
	return fmt.Sprintf("decision failed: %v", e.Err)
}

func (e *DecisionError) Unwrap() error {
	return e.Err
}

// ParseError reports a tool result that is not structured data.
// The loop recovers from it by logging the raw text.
type ParseError struct {
	Tool string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s output: %v", e.Tool, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
