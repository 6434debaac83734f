package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ascfm/opcore/internal/policy"
)

// PolicyYAMLRepository loads policy tables from YAML files. The host
// application uses it to hot-swap the per-kind policy configuration
// without touching the core.
type PolicyYAMLRepository struct {
	fs fs.FS
}

// NewPolicyYAMLRepository creates a new YAML policy repository.
func NewPolicyYAMLRepository(filesystem fs.FS) *PolicyYAMLRepository {
	return &PolicyYAMLRepository{fs: filesystem}
}

// Table is a loaded policy table: the optional global override and the
// named per-kind overrides.
type Table struct {
	Global     *policy.Override
	Operations map[string]policy.Override
}

// GetTable loads a policy table from a YAML file and returns validated
// overrides.
func (r *PolicyYAMLRepository) GetTable(ctx context.Context, path string) (*Table, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var cfg tableConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}

	table, err := cfg.toTable()
	if err != nil {
		return nil, fmt.Errorf("invalid policy table: %w", err)
	}

	return table, nil
}

// tableConfig represents the YAML structure for a policy table.
type tableConfig struct {
	Default    *overrideConfig           `yaml:"default,omitempty"`
	Operations map[string]overrideConfig `yaml:"operations,omitempty"`
}

// overrideConfig represents the YAML structure for one partial policy.
type overrideConfig struct {
	Timeout   *string `yaml:"timeout,omitempty"`
	Retries   *int    `yaml:"retries,omitempty"`
	Jitter    *bool   `yaml:"jitter,omitempty"`
	Predicate *string `yaml:"predicate,omitempty"`
}

func (c tableConfig) toTable() (*Table, error) {
	table := &Table{Operations: map[string]policy.Override{}}

	if c.Default != nil {
		o, err := c.Default.toOverride()
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		table.Global = o
	}

	for name, oc := range c.Operations {
		o, err := oc.toOverride()
		if err != nil {
			return nil, fmt.Errorf("operation %q: %w", name, err)
		}
		table.Operations[name] = *o
	}

	return table, nil
}

func (c overrideConfig) toOverride() (*policy.Override, error) {
	o := &policy.Override{
		Retries:   c.Retries,
		Jitter:    c.Jitter,
		Predicate: c.Predicate,
	}

	if c.Timeout != nil {
		d, err := time.ParseDuration(*c.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", *c.Timeout, err)
		}
		o.Timeout = &d
	}

	if err := o.Validate(); err != nil {
		return nil, err
	}

	return o, nil
}
