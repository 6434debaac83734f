package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/storage/memory"
)

func terminalOp(id, panel string, endedAt time.Time) model.Operation {
	return model.Operation{
		ID:        id,
		Kind:      model.KindCopy,
		Panel:     panel,
		Group:     "fs-heavy",
		Phase:     model.PhaseCompleted,
		Progress:  100,
		CreatedAt: endedAt.Add(-time.Minute),
		EndedAt:   &endedAt,
	}
}

func TestRepositoryRecordOperation(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		op     model.Operation
		expErr error
	}{
		"A terminal operation should be recorded": {
			op: terminalOp("op1", "left", now),
		},

		"A queued operation should be rejected": {
			op:     model.Operation{ID: "op1", Phase: model.PhaseQueued},
			expErr: model.ErrNotValid,
		},

		"A running operation should be rejected": {
			op:     model.Operation{ID: "op1", Phase: model.PhaseRunning},
			expErr: model.ErrNotValid,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo, err := memory.NewRepository(memory.RepositoryConfig{})
			require.NoError(t, err)

			err = repo.RecordOperation(context.Background(), test.op)
			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
				return
			}
			require.NoError(t, err)

			got, err := repo.GetOperation(context.Background(), test.op.ID)
			require.NoError(t, err)
			assert.Equal(t, test.op, *got)
		})
	}
}

func TestRepositoryRecordReplaces(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	now := time.Now().UTC()
	op := terminalOp("op1", "left", now)
	require.NoError(repo.RecordOperation(context.Background(), op))

	op.Phase = model.PhaseFailed
	op.ErrorMessage = "boom"
	require.NoError(repo.RecordOperation(context.Background(), op))

	got, err := repo.GetOperation(context.Background(), "op1")
	require.NoError(err)
	assert.Equal(model.PhaseFailed, got.Phase)
	assert.Equal("boom", got.ErrorMessage)
}

func TestRepositoryGetOperationMissing(t *testing.T) {
	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)

	_, err = repo.GetOperation(context.Background(), "ghost")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRepositoryListOperations(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.NoError(repo.RecordOperation(context.Background(), terminalOp("op1", "left", base.Add(time.Minute))))
	require.NoError(repo.RecordOperation(context.Background(), terminalOp("op2", "right", base.Add(3*time.Minute))))
	require.NoError(repo.RecordOperation(context.Background(), terminalOp("op3", "left", base.Add(2*time.Minute))))

	// Most recently ended first.
	all, err := repo.ListOperations(context.Background(), "")
	require.NoError(err)
	require.Len(all, 3)
	assert.Equal("op2", all[0].ID)
	assert.Equal("op3", all[1].ID)
	assert.Equal("op1", all[2].ID)

	left, err := repo.ListOperations(context.Background(), "left")
	require.NoError(err)
	require.Len(left, 2)
	assert.Equal("op3", left[0].ID)
	assert.Equal("op1", left[1].ID)
}

func TestRepositoryPruneOperations(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.NoError(repo.RecordOperation(context.Background(), terminalOp("old", "left", base.Add(-24*time.Hour))))
	require.NoError(repo.RecordOperation(context.Background(), terminalOp("recent", "left", base)))

	removed, err := repo.PruneOperations(context.Background(), base.Add(-time.Hour))
	require.NoError(err)
	assert.Equal(1, removed)

	_, err = repo.GetOperation(context.Background(), "old")
	assert.ErrorIs(err, model.ErrNotFound)
	_, err = repo.GetOperation(context.Background(), "recent")
	assert.NoError(err)
}
