package policy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ascfm/opcore/internal/abort"
	"github.com/ascfm/opcore/internal/log"
	"github.com/ascfm/opcore/internal/model"
)

// Backoff delay bounds.
const (
	// DefaultBaseDelay is the delay before the first retry; each
	// successive retry doubles it.
	DefaultBaseDelay = 250 * time.Millisecond
	// DefaultMaxDelay caps the doubled delay.
	DefaultMaxDelay = 10 * time.Second
)

// ObserverConfig toggles which outcome categories are reported to the
// observability sink. Each category is independently toggleable.
type ObserverConfig struct {
	Start   bool
	Success bool
	Timeout bool
	Cancel  bool
	Error   bool
}

// DefaultObserverConfig reports only error-class outcomes to reduce noise.
func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{Timeout: true, Error: true}
}

// ExecutorConfig is the configuration for the executor.
type ExecutorConfig struct {
	// Defaults replaces the compiled-in base policy when set.
	Defaults *RetryPolicy
	// Override is the optional global override applied over the defaults.
	Override *Override
	// Table is the named per-kind override table. Hot-swappable later via
	// SetTable.
	Table map[string]Override
	// BaseDelay and MaxDelay bound the retry backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Observer selects the reported outcome categories. Defaults to
	// error-class outcomes only.
	Observer *ObserverConfig
	Logger   log.Logger

	// rand returns a uniform float in [0, 1) for the jitter factor.
	// Overridable in tests.
	rand func() float64
}

func (c *ExecutorConfig) defaults() error {
	if c.Defaults == nil {
		d := Defaults()
		c.Defaults = &d
	}
	if err := c.Override.Validate(); err != nil {
		return fmt.Errorf("invalid global override: %w", err)
	}
	for name, o := range c.Table {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("invalid override for %q: %w", name, err)
		}
	}

	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}

	if c.Observer == nil {
		o := DefaultObserverConfig()
		c.Observer = &o
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "policy.Executor"})

	if c.rand == nil {
		c.rand = rand.Float64
	}

	return nil
}

// Executor drives units of work through the timeout wrapper and the
// retry/backoff loop under the policy resolved for their operation name.
type Executor struct {
	defaults  RetryPolicy
	override  *Override
	baseDelay time.Duration
	maxDelay  time.Duration
	observer  ObserverConfig
	logger    log.Logger
	rand      func() float64

	mu    sync.RWMutex
	table map[string]Override
}

// NewExecutor creates a new executor.
func NewExecutor(cfg ExecutorConfig) (*Executor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	table := map[string]Override{}
	for name, o := range cfg.Table {
		table[name] = o
	}

	return &Executor{
		defaults:  *cfg.Defaults,
		override:  cfg.Override,
		baseDelay: cfg.BaseDelay,
		maxDelay:  cfg.MaxDelay,
		observer:  *cfg.Observer,
		logger:    cfg.Logger,
		rand:      cfg.rand,
		table:     table,
	}, nil
}

// SetTable replaces the named per-kind override table. The host
// application hot-swaps policy configuration through this without touching
// in-flight work.
func (e *Executor) SetTable(table map[string]Override) error {
	newTable := map[string]Override{}
	for name, o := range table {
		if err := o.Validate(); err != nil {
			return fmt.Errorf("invalid override for %q: %w", name, err)
		}
		newTable[name] = o
	}

	e.mu.Lock()
	e.table = newTable
	e.mu.Unlock()

	return nil
}

// ResolvePolicy returns the fully populated policy for the operation name.
func (e *Executor) ResolvePolicy(opName string) RetryPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return Resolve(e.defaults, e.override, e.table, opName)
}

// ExecOptions tunes a single Execute call.
type ExecOptions struct {
	// Receipt, when set, discards a structurally successful result that is
	// no longer current, turning it into a Canceled error.
	Receipt *abort.Receipt
}

// Execute resolves the policy for opName and drives task through the
// timeout wrapper and the retry/backoff loop. ctx is the caller's own
// cancellation source; it is merged with the internal per-attempt sources,
// and if it is already aborted the task is never started. The error kinds
// a caller can observe are model.TimeoutError, model.CanceledError, or the
// task's own error unchanged in identity.
func (e *Executor) Execute(ctx context.Context, opName string, task abort.Task, opts ExecOptions) error {
	pol := e.ResolvePolicy(opName)
	pred, err := PredicateByName(pol.Predicate)
	if err != nil {
		return err
	}

	if e.observer.Start {
		e.logger.Debugf("Operation %s started (timeout %s, retries %d)", opName, pol.Timeout, pol.Retries)
	}

	err = e.run(ctx, pol, pred, task)

	if err == nil && opts.Receipt != nil && !opts.Receipt.IsCurrent() {
		err = model.CanceledError{Reason: "superseded"}
	}

	e.observe(opName, err)
	return err
}

func (e *Executor) run(ctx context.Context, pol RetryPolicy, pred Predicate, task abort.Task) error {
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(pol.Retries), retry.BackoffFunc(func() (time.Duration, bool) {
		delay := backoffDelay(e.baseDelay, e.maxDelay, pol.Jitter, attempt, e.rand())
		attempt++
		return delay, false
	}))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptErr := abort.WithTimeout(ctx, pol.Timeout, task)
		if attemptErr == nil {
			return nil
		}
		// Cancellations are never retried: the abort reason must surface
		// immediately.
		if !model.IsCanceled(attemptErr) && pred(attemptErr) {
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})

	// retry.Do reports a pre-attempt abort as the bare context error;
	// surface the abort's reason instead.
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
	}

	return err
}

// backoffDelay computes the delay before retry number attempt (0-indexed):
// the base doubles per attempt, is capped at max, and with jitter enabled
// is scaled by a uniform factor in [0.5, 1.0). r must be uniform in [0, 1).
func backoffDelay(base, max time.Duration, jitter bool, attempt int, r float64) time.Duration {
	if attempt > 62 {
		attempt = 62
	}
	delay := base << uint(attempt)
	if delay <= 0 || delay > max {
		delay = max
	}
	if jitter {
		delay = time.Duration(float64(delay) * (0.5 + r/2))
	}
	return delay
}

func (e *Executor) observe(opName string, err error) {
	switch {
	case err == nil:
		if e.observer.Success {
			e.logger.Debugf("Operation %s succeeded", opName)
		}
	case model.IsTimeout(err):
		if e.observer.Timeout {
			e.logger.Warningf("Operation %s timed out: %v", opName, err)
		}
	case model.IsCanceled(err):
		if e.observer.Cancel {
			e.logger.Infof("Operation %s canceled: %v", opName, err)
		}
	default:
		if e.observer.Error {
			e.logger.Errorf("Operation %s failed: %v", opName, err)
		}
	}
}
