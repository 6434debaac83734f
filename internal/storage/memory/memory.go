package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ascfm/opcore/internal/log"
	"github.com/ascfm/opcore/internal/model"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	ops    map[string]model.Operation
	mu     sync.RWMutex
	logger log.Logger
}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		ops:    map[string]model.Operation{},
		logger: cfg.Logger,
	}, nil
}

// RecordOperation stores a terminal operation, replacing any previous
// record with the same ID.
func (r *Repository) RecordOperation(ctx context.Context, op model.Operation) error {
	if !op.Phase.Terminal() {
		return fmt.Errorf("operation %s is not terminal (phase %s): %w", op.ID, op.Phase, model.ErrNotValid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.ops[op.ID] = op
	r.logger.Debugf("Recorded operation %s (%s)", op.ID, op.Phase)

	return nil
}

// GetOperation retrieves a recorded operation by ID.
func (r *Repository) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, model.ErrNotFound)
	}

	// Return a copy
	opCopy := op
	return &opCopy, nil
}

// ListOperations returns recorded operations ordered by end time descending.
func (r *Repository) ListOperations(ctx context.Context, panel string) ([]model.Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := make([]model.Operation, 0, len(r.ops))
	for _, op := range r.ops {
		if panel != "" && op.Panel != panel {
			continue
		}
		ops = append(ops, op)
	}

	sort.Slice(ops, func(i, j int) bool {
		ti, tj := opEnd(ops[i]), opEnd(ops[j])
		if ti.Equal(tj) {
			return ops[i].ID > ops[j].ID
		}
		return ti.After(tj)
	})

	return ops, nil
}

// PruneOperations removes records that ended before the given time.
func (r *Repository) PruneOperations(ctx context.Context, olderThan time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, op := range r.ops {
		if opEnd(op).Before(olderThan) {
			delete(r.ops, id)
			removed++
		}
	}

	return removed, nil
}

func opEnd(op model.Operation) time.Time {
	if op.EndedAt != nil {
		return *op.EndedAt
	}
	return op.CreatedAt
}
