package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNotInterrupted is returned by Resume when the run is not in
	// the Interrupted status. The run is left unchanged.
	ErrNotInterrupted = errors.New("run is not interrupted")

	// ErrRunNotFound is returned when no run with the given id is
	// known to the engine or its checkpoint store.
	ErrRunNotFound = errors.New("run not found")

	// ErrStepTimeout marks a step invocation that exceeded the
	// configured timeout. It is classified as transient.
	ErrStepTimeout = errors.New("step timed out")
)

// ValidationError reports a structurally malformed graph. It is
// returned by Compile and never reaches a running engine.
type ValidationError struct {
	Check  string // which validation rule failed
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid graph (%s): %s", e.Check, e.Detail)
}

// TransientError wraps a failure that is eligible for retry. Step
// bodies return it (or use Transient) to request the retry policy;
// everything else is treated as permanent.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable under the default
// classification: a TransientError anywhere in the chain, or a step
// timeout.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te) || errors.Is(err, ErrStepTimeout)
}

// StepError reports a node whose step function failed permanently,
// after any configured retries were exhausted.
type StepError struct {
	Node     string
	Attempts int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("node %s failed after %d attempt(s): %v", e.Node, e.Attempts, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// NonTerminationError reports a cyclic node that exceeded the
// configured iteration ceiling.
type NonTerminationError struct {
	Node       string
	Iterations int
}

func (e *NonTerminationError) Error() string {
	return fmt.Sprintf("node %s exceeded iteration ceiling of %d", e.Node, e.Iterations)
}

// MergeConflictError reports two nodes of the same step writing one
// field with no reducer registered for it. The run fails rather than
// silently picking a winner.
type MergeConflictError struct {
	Field string
	Nodes []string
}

func (e *MergeConflictError) Error() string {
	nodes := append([]string(nil), e.Nodes...)
	sort.Strings(nodes)
	return fmt.Sprintf("merge conflict on field %q written by nodes %s with no reducer",
		e.Field, strings.Join(nodes, ", "))
}

// RouteError reports a conditional edge whose routing function
// returned a target outside its declared candidates.
type RouteError struct {
	Node   string
	Target string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("routing function of node %s returned undeclared target %q", e.Node, e.Target)
}
