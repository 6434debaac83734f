package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ascfm/opcore/internal/log"
	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/storage/sqlite/migrations"
)

// RepositoryConfig is the configuration for the SQLite repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.SQLite"})
	return nil
}

// Repository is a SQLite implementation of storage.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite repository initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// RecordOperation stores a terminal operation, replacing any previous
// record with the same ID.
func (r *Repository) RecordOperation(ctx context.Context, op model.Operation) error {
	if !op.Phase.Terminal() {
		return fmt.Errorf("operation %s is not terminal (phase %s): %w", op.ID, op.Phase, model.ErrNotValid)
	}

	query := `
		INSERT OR REPLACE INTO operations (
			id, kind, panel, grp, phase,
			progress, detail, target_path,
			folders, files, bytes,
			error_message,
			created_at, started_at, ended_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		op.ID,
		op.Kind,
		op.Panel,
		op.Group,
		op.Phase,
		op.Progress,
		op.Detail,
		op.TargetPath,
		op.Counters.Folders,
		op.Counters.Files,
		op.Counters.Bytes,
		op.ErrorMessage,
		op.CreatedAt.Unix(),
		unixOrNil(op.StartedAt),
		unixOrNil(op.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("could not record operation: %w", err)
	}

	r.logger.Debugf("Recorded operation %s (%s)", op.ID, op.Phase)
	return nil
}

// GetOperation retrieves a recorded operation by ID.
func (r *Repository) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	query := selectOperations + ` WHERE id = ?`

	op, err := scanOperation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("could not get operation: %w", err)
	}

	return op, nil
}

// ListOperations returns recorded operations ordered by end time descending.
func (r *Repository) ListOperations(ctx context.Context, panel string) ([]model.Operation, error) {
	query := selectOperations
	args := []any{}
	if panel != "" {
		query += ` WHERE panel = ?`
		args = append(args, panel)
	}
	query += ` ORDER BY ended_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("could not list operations: %w", err)
	}
	defer rows.Close()

	ops := []model.Operation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan operation: %w", err)
		}
		ops = append(ops, *op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not list operations: %w", err)
	}

	return ops, nil
}

// PruneOperations removes records that ended before the given time.
func (r *Repository) PruneOperations(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM operations WHERE ended_at IS NOT NULL AND ended_at < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("could not prune operations: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("could not count pruned operations: %w", err)
	}

	return int(removed), nil
}

const selectOperations = `
	SELECT id, kind, panel, grp, phase,
	       progress, detail, target_path,
	       folders, files, bytes,
	       error_message,
	       created_at, started_at, ended_at
	FROM operations
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*model.Operation, error) {
	var op model.Operation
	var createdAt int64
	var startedAt, endedAt *int64

	err := row.Scan(
		&op.ID,
		&op.Kind,
		&op.Panel,
		&op.Group,
		&op.Phase,
		&op.Progress,
		&op.Detail,
		&op.TargetPath,
		&op.Counters.Folders,
		&op.Counters.Files,
		&op.Counters.Bytes,
		&op.ErrorMessage,
		&createdAt,
		&startedAt,
		&endedAt,
	)
	if err != nil {
		return nil, err
	}

	op.CreatedAt = time.Unix(createdAt, 0).UTC()
	op.StartedAt = timeOrNil(startedAt)
	op.EndedAt = timeOrNil(endedAt)

	return &op, nil
}

func unixOrNil(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	u := t.Unix()
	return &u
}

func timeOrNil(u *int64) *time.Time {
	if u == nil {
		return nil
	}
	t := time.Unix(*u, 0).UTC()
	return &t
}
