package graph

import (
	"context"
	"fmt"
	"time"
)

// stepResult carries one invocation's outcome across the timeout
// select.
type stepResult struct {
	update State
	err    error
}

// callStep invokes the step body with panic recovery. A panicking step
// is a permanent failure, not a crashed run.
func callStep(ctx context.Context, step StepFunc, state State) (update State, err error) {
	defer func() {
		if r := recover(); r != nil {
			update = nil
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return step(ctx, state)
}

// invokeStep runs one step invocation under the configured timeout.
// On timeout the invocation's context is cancelled and its eventual
// result discarded; the caller sees a transient ErrStepTimeout.
func invokeStep(ctx context.Context, step StepFunc, state State, timeout time.Duration) (State, error) {
	if timeout <= 0 {
		return callStep(ctx, step, state)
	}

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan stepResult, 1)
	go func() {
		update, err := callStep(stepCtx, step, state)
		done <- stepResult{update: update, err: err}
	}()

	select {
	case res := <-done:
		return res.update, res.err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(ErrStepTimeout)
	}
}

// runStep drives one node through the retry policy. It returns the
// node's partial update or a StepError recording how many attempts
// were spent.
func (e *Engine) runStep(ctx context.Context, name string, step StepFunc, state State, runID string) (State, error) {
	policy := e.cfg.Retry
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		update, err := invokeStep(ctx, step, state, e.cfg.StepTimeout)
		if err == nil {
			return update, nil
		}
		lastErr = err

		if ctx.Err() != nil || attempt == attempts || !policy.retryable(err) {
			return nil, &StepError{Node: name, Attempts: attempt, Err: err}
		}

		e.logger.Warn("node %s attempt %d/%d failed, retrying: %v", name, attempt, attempts, err)
		for _, l := range e.listeners {
			l.OnRetry(runID, name, attempt, err)
		}

		if d := policy.delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, &StepError{Node: name, Attempts: attempt, Err: ctx.Err()}
			}
		}
	}
	return nil, &StepError{Node: name, Attempts: attempts, Err: lastErr}
}
