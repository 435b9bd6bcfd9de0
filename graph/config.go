package graph

import (
	"time"

	"github.com/flowgraph-go/flowgraph/log"
	"github.com/flowgraph-go/flowgraph/store"
)

// BackoffStrategy selects how the delay between retry attempts grows.
type BackoffStrategy int

const (
	// BackoffFixed waits BaseDelay between every attempt.
	BackoffFixed BackoffStrategy = iota
	// BackoffLinear waits BaseDelay * attempt.
	BackoffLinear
	// BackoffExponential doubles the delay each attempt.
	BackoffExponential
)

// RetryPolicy governs transient step failures. Zero value means no
// retries: the first failure is final.
type RetryPolicy struct {
	// MaxAttempts is the total number of invocations, including the
	// first. Values below 1 are treated as 1.
	MaxAttempts int

	Backoff   BackoffStrategy
	BaseDelay time.Duration
	// MaxDelay caps the computed backoff. Zero means no cap.
	MaxDelay time.Duration

	// Retryable overrides the default transient classification. When
	// nil, IsTransient decides.
	Retryable func(error) bool
}

// delay computes the wait before the given retry attempt (1-based, so
// attempt 1 is the delay before the second invocation).
func (p RetryPolicy) delay(attempt int) time.Duration {
	var d time.Duration
	switch p.Backoff {
	case BackoffLinear:
		d = p.BaseDelay * time.Duration(attempt)
	case BackoffExponential:
		d = p.BaseDelay << (attempt - 1)
	default:
		d = p.BaseDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// retryable reports whether the failure qualifies for another attempt.
func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsTransient(err)
}

// DefaultMaxIterationsPerNode is the iteration ceiling applied to
// cyclic nodes when the config leaves it unset.
const DefaultMaxIterationsPerNode = 25

// Config tunes engine execution. The zero value is usable: in-memory
// checkpoints, default iteration ceiling, no timeout, no retries,
// parallelism bounded only by frontier size.
type Config struct {
	// MaxIterationsPerNode caps how many times a cyclic node may
	// execute within one run.
	MaxIterationsPerNode int

	// StepTimeout bounds each step invocation. Zero disables the
	// timeout. A timed-out step counts as a transient failure.
	StepTimeout time.Duration

	// Retry applies to transient step failures.
	Retry RetryPolicy

	// Parallelism bounds how many frontier nodes execute at once.
	// Zero or negative means unbounded up to frontier size.
	Parallelism int

	// HistoryLimit caps retained history entries per run. Zero keeps
	// everything.
	HistoryLimit int

	// Store receives a checkpoint after every step. Nil selects the
	// in-memory store.
	Store store.Store

	// Logger receives engine diagnostics. Nil selects log.Default().
	Logger log.Logger

	// Listeners observe run lifecycle events.
	Listeners []RunListener
}
