package io_test

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascfm/opcore/internal/policy"
	policyio "github.com/ascfm/opcore/internal/policy/io"
)

func TestGetTable(t *testing.T) {
	tests := map[string]struct {
		yaml     string
		expErr   bool
		expCheck func(t *testing.T, table *policyio.Table)
	}{
		"A full table should load the global and named overrides": {
			yaml: `
default:
  timeout: 45s
  retries: 1
operations:
  copy:
    timeout: 10m
    predicate: transient
  folder-scan:
    retries: 3
    jitter: false
`,
			expCheck: func(t *testing.T, table *policyio.Table) {
				require.NotNil(t, table.Global)
				require.NotNil(t, table.Global.Timeout)
				assert.Equal(t, 45*time.Second, *table.Global.Timeout)
				require.NotNil(t, table.Global.Retries)
				assert.Equal(t, 1, *table.Global.Retries)

				require.Len(t, table.Operations, 2)

				copyOv := table.Operations["copy"]
				require.NotNil(t, copyOv.Timeout)
				assert.Equal(t, 10*time.Minute, *copyOv.Timeout)
				require.NotNil(t, copyOv.Predicate)
				assert.Equal(t, policy.PredicateTransient, *copyOv.Predicate)
				assert.Nil(t, copyOv.Retries)

				scanOv := table.Operations["folder-scan"]
				require.NotNil(t, scanOv.Retries)
				assert.Equal(t, 3, *scanOv.Retries)
				require.NotNil(t, scanOv.Jitter)
				assert.False(t, *scanOv.Jitter)
			},
		},

		"An empty file should load an empty table": {
			yaml: ``,
			expCheck: func(t *testing.T, table *policyio.Table) {
				assert.Nil(t, table.Global)
				assert.Empty(t, table.Operations)
			},
		},

		"A table without a default should leave the global tier unset": {
			yaml: `
operations:
  copy:
    retries: 2
`,
			expCheck: func(t *testing.T, table *policyio.Table) {
				assert.Nil(t, table.Global)
				assert.Len(t, table.Operations, 1)
			},
		},

		"An invalid timeout duration should fail": {
			yaml: `
default:
  timeout: ten minutes
`,
			expErr: true,
		},

		"An unknown predicate should fail": {
			yaml: `
operations:
  copy:
    predicate: sometimes
`,
			expErr: true,
		},

		"A negative retry count should fail": {
			yaml: `
operations:
  copy:
    retries: -2
`,
			expErr: true,
		},

		"Malformed YAML should fail": {
			yaml:   `operations: [`,
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			fs := fstest.MapFS{
				"policies.yaml": &fstest.MapFile{Data: []byte(test.yaml)},
			}
			repo := policyio.NewPolicyYAMLRepository(fs)

			table, err := repo.GetTable(context.Background(), "policies.yaml")
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			test.expCheck(t, table)
		})
	}
}

func TestGetTableMissingFile(t *testing.T) {
	repo := policyio.NewPolicyYAMLRepository(fstest.MapFS{})

	_, err := repo.GetTable(context.Background(), "policies.yaml")
	assert.Error(t, err)
}
