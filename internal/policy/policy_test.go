package policy_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/policy"
)

func durPtr(d time.Duration) *time.Duration { return &d }
func intPtr(i int) *int                     { return &i }
func boolPtr(b bool) *bool                  { return &b }
func strPtr(s string) *string               { return &s }

func TestResolve(t *testing.T) {
	tests := map[string]struct {
		global *policy.Override
		named  map[string]policy.Override
		opName string
		expPol policy.RetryPolicy
	}{
		"No overrides should resolve to the defaults": {
			opName: "copy",
			expPol: policy.Defaults(),
		},

		"The global override should apply over the defaults": {
			global: &policy.Override{Timeout: durPtr(time.Minute), Retries: intPtr(2)},
			opName: "copy",
			expPol: policy.RetryPolicy{
				Timeout:   time.Minute,
				Retries:   2,
				Jitter:    true,
				Predicate: policy.PredicateTimeoutOnly,
			},
		},

		"The named override should win over the global one": {
			global: &policy.Override{Timeout: durPtr(time.Minute), Retries: intPtr(2)},
			named: map[string]policy.Override{
				"copy": {Timeout: durPtr(10 * time.Minute), Predicate: strPtr(policy.PredicateTransient)},
			},
			opName: "copy",
			expPol: policy.RetryPolicy{
				Timeout:   10 * time.Minute,
				Retries:   2,
				Jitter:    true,
				Predicate: policy.PredicateTransient,
			},
		},

		"An unknown operation name should fall back to the global tier": {
			global: &policy.Override{Jitter: boolPtr(false)},
			named: map[string]policy.Override{
				"copy": {Retries: intPtr(9)},
			},
			opName: "scan",
			expPol: policy.RetryPolicy{
				Timeout:   30 * time.Second,
				Retries:   0,
				Jitter:    false,
				Predicate: policy.PredicateTimeoutOnly,
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got := policy.Resolve(policy.Defaults(), test.global, test.named, test.opName)
			assert.Equal(t, test.expPol, got)
		})
	}
}

func TestPredicateByName(t *testing.T) {
	errBoom := errors.New("boom")
	netTimeout := &net.DNSError{Err: "lookup", IsTimeout: true}

	tests := map[string]struct {
		predicate string
		expErr    bool
		matches   map[string]struct {
			err error
			exp bool
		}
	}{
		"The empty name should select the timeout-only predicate": {
			predicate: "",
			matches: map[string]struct {
				err error
				exp bool
			}{
				"timeout":   {err: model.TimeoutError{Timeout: time.Second}, exp: true},
				"canceled":  {err: model.CanceledError{Reason: "user"}, exp: false},
				"arbitrary": {err: errBoom, exp: false},
			},
		},

		"The always predicate should match every error": {
			predicate: policy.PredicateAlways,
			matches: map[string]struct {
				err error
				exp bool
			}{
				"timeout":   {err: model.TimeoutError{Timeout: time.Second}, exp: true},
				"arbitrary": {err: errBoom, exp: true},
				"nil":       {err: nil, exp: false},
			},
		},

		"The never predicate should match nothing": {
			predicate: policy.PredicateNever,
			matches: map[string]struct {
				err error
				exp bool
			}{
				"timeout":   {err: model.TimeoutError{Timeout: time.Second}, exp: false},
				"arbitrary": {err: errBoom, exp: false},
			},
		},

		"The transient predicate should match timeouts and transient network errors only": {
			predicate: policy.PredicateTransient,
			matches: map[string]struct {
				err error
				exp bool
			}{
				"timeout":     {err: model.TimeoutError{Timeout: time.Second}, exp: true},
				"net timeout": {err: netTimeout, exp: true},
				"canceled":    {err: model.CanceledError{Reason: "user"}, exp: false},
				"arbitrary":   {err: errBoom, exp: false},
			},
		},

		"An unknown predicate name should fail": {
			predicate: "sometimes",
			expErr:    true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			pred, err := policy.PredicateByName(test.predicate)
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
				return
			}
			require.NoError(t, err)

			for matchName, match := range test.matches {
				assert.Equal(t, match.exp, pred(match.err), matchName)
			}
		})
	}
}

func TestOverrideValidate(t *testing.T) {
	tests := map[string]struct {
		override *policy.Override
		expErr   bool
	}{
		"A nil override should be valid": {
			override: nil,
		},

		"A fully populated valid override should not fail": {
			override: &policy.Override{
				Timeout:   durPtr(time.Minute),
				Retries:   intPtr(3),
				Jitter:    boolPtr(false),
				Predicate: strPtr(policy.PredicateAlways),
			},
		},

		"A negative retry count should fail": {
			override: &policy.Override{Retries: intPtr(-1)},
			expErr:   true,
		},

		"A negative timeout should fail": {
			override: &policy.Override{Timeout: durPtr(-time.Second)},
			expErr:   true,
		},

		"An unknown predicate should fail": {
			override: &policy.Override{Predicate: strPtr("sometimes")},
			expErr:   true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.override.Validate()
			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
