// Package abort provides the cancellation primitives of the orchestration
// core: merging independent cancellation sources into one, bounding a unit
// of work with a wall-clock deadline, and detecting stale results.
//
// Cancellation sources are plain context.Context values. The cancellation
// reason travels as the context cause (context.Cause), using the error
// taxonomy of the model package (model.TimeoutError, model.CanceledError).
package abort

import (
	"context"
	"errors"
	"time"

	"github.com/ascfm/opcore/internal/model"
)

// Task is a cancellable unit of work. It must observe ctx cooperatively
// and unwind when it is cancelled.
type Task func(ctx context.Context) error

// Merge returns a context that is cancelled as soon as any of the given
// contexts is cancelled, carrying that context's cause. If an input is
// already cancelled at merge time the returned context is cancelled
// synchronously, before the caller can observe otherwise.
//
// The returned release function must be called to free the watcher
// registrations; once any input fires the remaining registrations are
// released automatically.
func Merge(ctxs ...context.Context) (context.Context, context.CancelFunc) {
	merged, cancel := context.WithCancelCause(context.Background())
	release := func() { cancel(context.Canceled) }

	for _, ctx := range ctxs {
		if ctx.Err() != nil {
			cancel(context.Cause(ctx))
			return merged, release
		}
	}

	stops := make([]func() bool, 0, len(ctxs))
	for _, ctx := range ctxs {
		stops = append(stops, context.AfterFunc(ctx, func() {
			cancel(context.Cause(ctx))
		}))
	}

	// Whatever fires first (an input or the release func) drops every
	// remaining watcher registration.
	context.AfterFunc(merged, func() {
		for _, stop := range stops {
			stop()
		}
	})

	return merged, release
}

// WithTimeout runs task bounded by a hard wall-clock deadline. If the
// deadline elapses before the task returns, the task's context is cancelled
// with a model.TimeoutError cause and that error is returned. If ctx is
// cancelled first, the call fails with ctx's cause instead. The internal
// timer is released on every exit path. A non-positive timeout disables the
// deadline and simply runs the task.
func WithTimeout(ctx context.Context, timeout time.Duration, task Task) error {
	if timeout <= 0 {
		return resolveCause(ctx, task(ctx))
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(context.Canceled)

	timer := time.AfterFunc(timeout, func() {
		cancel(model.TimeoutError{Timeout: timeout})
	})
	defer timer.Stop()

	return resolveCause(runCtx, task(runCtx))
}

// resolveCause maps a bare context cancellation error returned by a task to
// the context's cause, so callers always see the taxonomy error (timeout or
// canceled-with-reason) instead of context.Canceled.
func resolveCause(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return err
}
