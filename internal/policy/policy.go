// Package policy resolves named operation kinds to concrete timeout/retry
// policies and executes cancellable units of work under them.
//
// Resolution is a strict three-tier merge: compiled-in defaults, then the
// optional global override, then the named per-kind override. The result is
// always a fully populated policy, so no field can be undefined at call
// time.
package policy

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ascfm/opcore/internal/model"
)

// Predicate decides whether an error is worth retrying.
type Predicate func(err error) bool

// Named retry predicates usable in policy tables.
const (
	// PredicateTimeoutOnly retries only timeout errors. This is the
	// default.
	PredicateTimeoutOnly = "timeout-only"
	// PredicateAlways retries every error.
	PredicateAlways = "always"
	// PredicateNever disables retrying regardless of the retry count.
	PredicateNever = "never"
	// PredicateTransient retries timeouts and transient network errors,
	// but never cancellations.
	PredicateTransient = "transient"
)

// PredicateByName returns the named predicate.
func PredicateByName(name string) (Predicate, error) {
	switch name {
	case "", PredicateTimeoutOnly:
		return func(err error) bool { return model.IsTimeout(err) }, nil
	case PredicateAlways:
		return func(err error) bool { return err != nil }, nil
	case PredicateNever:
		return func(err error) bool { return false }, nil
	case PredicateTransient:
		return isTransient, nil
	default:
		return nil, fmt.Errorf("unknown retry predicate %q: %w", name, model.ErrNotValid)
	}
}

func isTransient(err error) bool {
	if err == nil || model.IsCanceled(err) {
		return false
	}
	if model.IsTimeout(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// RetryPolicy is a fully resolved policy for one operation kind.
type RetryPolicy struct {
	// Timeout is the wall-clock budget of a single attempt. Zero disables
	// the deadline.
	Timeout time.Duration
	// Retries is the number of retry attempts after the first failure.
	Retries int
	// Jitter scales each backoff delay by a uniform factor in [0.5, 1.0)
	// to avoid synchronized retry storms.
	Jitter bool
	// Predicate is the name of the retry predicate.
	Predicate string
}

// Defaults is the compiled-in base policy.
func Defaults() RetryPolicy {
	return RetryPolicy{
		Timeout:   30 * time.Second,
		Retries:   0,
		Jitter:    true,
		Predicate: PredicateTimeoutOnly,
	}
}

// Override is a partial policy; nil fields inherit from the tier below.
type Override struct {
	Timeout   *time.Duration
	Retries   *int
	Jitter    *bool
	Predicate *string
}

func (o *Override) apply(p RetryPolicy) RetryPolicy {
	if o == nil {
		return p
	}
	if o.Timeout != nil {
		p.Timeout = *o.Timeout
	}
	if o.Retries != nil {
		p.Retries = *o.Retries
	}
	if o.Jitter != nil {
		p.Jitter = *o.Jitter
	}
	if o.Predicate != nil {
		p.Predicate = *o.Predicate
	}
	return p
}

// Validate checks the override references a known predicate and sane
// values.
func (o *Override) Validate() error {
	if o == nil {
		return nil
	}
	if o.Predicate != nil {
		if _, err := PredicateByName(*o.Predicate); err != nil {
			return err
		}
	}
	if o.Retries != nil && *o.Retries < 0 {
		return fmt.Errorf("negative retry count: %w", model.ErrNotValid)
	}
	if o.Timeout != nil && *o.Timeout < 0 {
		return fmt.Errorf("negative timeout: %w", model.ErrNotValid)
	}
	return nil
}

// Resolve merges defaults, the global override and the named per-kind
// override, in that priority order, into a fully populated policy.
func Resolve(defaults RetryPolicy, global *Override, named map[string]Override, opName string) RetryPolicy {
	p := global.apply(defaults)
	if o, ok := named[opName]; ok {
		p = o.apply(p)
	}
	return p
}
