package policy_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascfm/opcore/internal/abort"
	"github.com/ascfm/opcore/internal/log"
	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/policy"
)

func newTestExecutor(t *testing.T, cfg policy.ExecutorConfig) *policy.Executor {
	// Keep the retry loop fast.
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 2 * time.Millisecond
	}

	exec, err := policy.NewExecutor(cfg)
	require.NoError(t, err)
	return exec
}

func TestExecutorRetriesUntilExhausted(t *testing.T) {
	assert := assert.New(t)

	errBoom := errors.New("boom")
	exec := newTestExecutor(t, policy.ExecutorConfig{
		Table: map[string]policy.Override{
			"copy": {Retries: intPtr(3), Predicate: strPtr(policy.PredicateAlways)},
		},
	})

	var attempts atomic.Int64
	err := exec.Execute(context.Background(), "copy", func(ctx context.Context) error {
		attempts.Add(1)
		return errBoom
	}, policy.ExecOptions{})

	// First attempt plus three retries, and the original error unchanged.
	assert.Equal(int64(4), attempts.Load())
	assert.ErrorIs(err, errBoom)
}

func TestExecutorSucceedsMidRetry(t *testing.T) {
	assert := assert.New(t)

	exec := newTestExecutor(t, policy.ExecutorConfig{
		Table: map[string]policy.Override{
			"copy": {Retries: intPtr(5), Predicate: strPtr(policy.PredicateAlways)},
		},
	})

	var attempts atomic.Int64
	err := exec.Execute(context.Background(), "copy", func(ctx context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, policy.ExecOptions{})

	assert.NoError(err)
	assert.Equal(int64(3), attempts.Load())
}

func TestExecutorNeverRetriesCancellations(t *testing.T) {
	assert := assert.New(t)

	exec := newTestExecutor(t, policy.ExecutorConfig{
		Table: map[string]policy.Override{
			"copy": {Retries: intPtr(5), Predicate: strPtr(policy.PredicateAlways)},
		},
	})

	var attempts atomic.Int64
	err := exec.Execute(context.Background(), "copy", func(ctx context.Context) error {
		attempts.Add(1)
		return model.CanceledError{Reason: "user"}
	}, policy.ExecOptions{})

	assert.Equal(int64(1), attempts.Load())
	assert.True(model.IsCanceled(err))
}

func TestExecutorDefaultPredicateIgnoresPlainErrors(t *testing.T) {
	assert := assert.New(t)

	errBoom := errors.New("boom")
	exec := newTestExecutor(t, policy.ExecutorConfig{
		Table: map[string]policy.Override{
			"copy": {Retries: intPtr(5)},
		},
	})

	var attempts atomic.Int64
	err := exec.Execute(context.Background(), "copy", func(ctx context.Context) error {
		attempts.Add(1)
		return errBoom
	}, policy.ExecOptions{})

	// timeout-only: a plain error is not retried.
	assert.Equal(int64(1), attempts.Load())
	assert.ErrorIs(err, errBoom)
}

func TestExecutorTimeoutsAreRetriedAndClassified(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	exec := newTestExecutor(t, policy.ExecutorConfig{
		Table: map[string]policy.Override{
			"scan": {Timeout: durPtr(20 * time.Millisecond), Retries: intPtr(2)},
		},
	})

	var attempts atomic.Int64
	err := exec.Execute(context.Background(), "scan", func(ctx context.Context) error {
		attempts.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}, policy.ExecOptions{})

	assert.Equal(int64(3), attempts.Load())
	var te model.TimeoutError
	require.ErrorAs(err, &te)
	assert.Equal(20*time.Millisecond, te.Timeout)
}

func TestExecutorPreAbortedContext(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	exec := newTestExecutor(t, policy.ExecutorConfig{})

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(model.CanceledError{Reason: "stop"})

	started := false
	err := exec.Execute(ctx, "copy", func(ctx context.Context) error {
		started = true
		return nil
	}, policy.ExecOptions{})

	assert.False(started, "the task must never start on a pre-aborted context")
	var ce model.CanceledError
	require.ErrorAs(err, &ce)
	assert.Equal("stop", ce.Reason)
}

func TestExecutorStaleReceipt(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	exec := newTestExecutor(t, policy.ExecutorConfig{})
	gate := abort.NewGate()

	receipt := gate.Advance()
	gate.Advance()

	err := exec.Execute(context.Background(), "thumbnail", func(ctx context.Context) error {
		return nil
	}, policy.ExecOptions{Receipt: &receipt})

	var ce model.CanceledError
	require.ErrorAs(err, &ce)
	assert.Equal("superseded", ce.Reason)

	// A current receipt lets the success through.
	current := gate.Advance()
	err = exec.Execute(context.Background(), "thumbnail", func(ctx context.Context) error {
		return nil
	}, policy.ExecOptions{Receipt: &current})
	assert.NoError(err)
}

func TestExecutorStaleReceiptKeepsFailures(t *testing.T) {
	assert := assert.New(t)

	errBoom := errors.New("boom")
	exec := newTestExecutor(t, policy.ExecutorConfig{})
	gate := abort.NewGate()

	receipt := gate.Advance()
	gate.Advance()

	err := exec.Execute(context.Background(), "thumbnail", func(ctx context.Context) error {
		return errBoom
	}, policy.ExecOptions{Receipt: &receipt})

	// Staleness only rewrites structural successes.
	assert.ErrorIs(err, errBoom)
}

func TestExecutorResolvePolicy(t *testing.T) {
	assert := assert.New(t)

	exec := newTestExecutor(t, policy.ExecutorConfig{
		Override: &policy.Override{Retries: intPtr(1)},
		Table: map[string]policy.Override{
			"copy": {Timeout: durPtr(10 * time.Minute)},
		},
	})

	pol := exec.ResolvePolicy("copy")
	assert.Equal(10*time.Minute, pol.Timeout)
	assert.Equal(1, pol.Retries)

	pol = exec.ResolvePolicy("unknown")
	assert.Equal(30*time.Second, pol.Timeout)
	assert.Equal(1, pol.Retries)
}

func TestExecutorSetTable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	exec := newTestExecutor(t, policy.ExecutorConfig{})

	err := exec.SetTable(map[string]policy.Override{
		"copy": {Retries: intPtr(7)},
	})
	require.NoError(err)
	assert.Equal(7, exec.ResolvePolicy("copy").Retries)

	// An invalid table must be rejected without touching the current one.
	err = exec.SetTable(map[string]policy.Override{
		"copy": {Predicate: strPtr("sometimes")},
	})
	assert.ErrorIs(err, model.ErrNotValid)
	assert.Equal(7, exec.ResolvePolicy("copy").Retries)
}

// recordLogger counts log calls per level so observer toggles can be
// asserted.
type recordLogger struct {
	log.Logger
	counts map[string]int
}

func newRecordLogger() *recordLogger {
	return &recordLogger{Logger: log.Noop, counts: map[string]int{}}
}

func (l *recordLogger) Infof(format string, args ...interface{})    { l.counts["info"]++ }
func (l *recordLogger) Warningf(format string, args ...interface{}) { l.counts["warning"]++ }
func (l *recordLogger) Errorf(format string, args ...interface{})   { l.counts["error"]++ }
func (l *recordLogger) Debugf(format string, args ...interface{})   { l.counts["debug"]++ }
func (l *recordLogger) WithValues(map[string]interface{}) log.Logger { return l }

func TestExecutorObserverToggles(t *testing.T) {
	errBoom := errors.New("boom")

	tests := map[string]struct {
		observer  policy.ObserverConfig
		taskErr   error
		expCounts map[string]int
	}{
		"The default observer should stay silent on success": {
			observer:  policy.DefaultObserverConfig(),
			taskErr:   nil,
			expCounts: map[string]int{},
		},

		"The default observer should report plain errors": {
			observer:  policy.DefaultObserverConfig(),
			taskErr:   errBoom,
			expCounts: map[string]int{"error": 1},
		},

		"The default observer should report timeouts": {
			observer:  policy.DefaultObserverConfig(),
			taskErr:   model.TimeoutError{Timeout: time.Second},
			expCounts: map[string]int{"warning": 1},
		},

		"The default observer should not report cancels": {
			observer:  policy.DefaultObserverConfig(),
			taskErr:   model.CanceledError{Reason: "user"},
			expCounts: map[string]int{},
		},

		"Enabling every category should report start, success and cancel": {
			observer:  policy.ObserverConfig{Start: true, Success: true, Timeout: true, Cancel: true, Error: true},
			taskErr:   model.CanceledError{Reason: "user"},
			expCounts: map[string]int{"debug": 1, "info": 1},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			logger := newRecordLogger()
			observer := test.observer
			exec := newTestExecutor(t, policy.ExecutorConfig{
				Observer: &observer,
				Logger:   logger,
			})

			_ = exec.Execute(context.Background(), "copy", func(ctx context.Context) error {
				return test.taskErr
			}, policy.ExecOptions{})

			assert.Equal(t, test.expCounts, nonZero(logger.counts))
		})
	}
}

func nonZero(counts map[string]int) map[string]int {
	out := map[string]int{}
	for k, v := range counts {
		if v != 0 {
			out[k] = v
		}
	}
	return out
}

func TestExecutorInvalidConfig(t *testing.T) {
	tests := map[string]struct {
		cfg policy.ExecutorConfig
	}{
		"An invalid global override should fail": {
			cfg: policy.ExecutorConfig{Override: &policy.Override{Retries: intPtr(-1)}},
		},

		"An invalid table override should fail": {
			cfg: policy.ExecutorConfig{Table: map[string]policy.Override{
				"copy": {Predicate: strPtr("sometimes")},
			}},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := policy.NewExecutor(test.cfg)
			assert.Error(t, err)
		})
	}
}
