// Package storage defines the persistence layer for terminal operation
// records. Live registry and scheduler state never persists; only
// operations that reached a terminal phase are recorded, for diagnostics
// and the history surface of the shell.
package storage

import (
	"context"
	"time"

	"github.com/ascfm/opcore/internal/model"
)

// Repository knows how to store and query terminal operation records.
type Repository interface {
	// RecordOperation stores a terminal operation, replacing any previous
	// record with the same ID.
	RecordOperation(ctx context.Context, op model.Operation) error

	// GetOperation retrieves a recorded operation by ID.
	GetOperation(ctx context.Context, id string) (*model.Operation, error)

	// ListOperations returns recorded operations ordered by end time
	// descending. An empty panel matches every panel.
	ListOperations(ctx context.Context, panel string) ([]model.Operation, error)

	// PruneOperations removes records that ended before the given time and
	// returns how many were removed.
	PruneOperations(ctx context.Context, olderThan time.Time) (int, error)
}
