package lib

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"k8s.io/client-go/util/homedir"

	"github.com/ascfm/opcore/internal/abort"
	"github.com/ascfm/opcore/internal/log"
	"github.com/ascfm/opcore/internal/policy"
	policyio "github.com/ascfm/opcore/internal/policy/io"
	"github.com/ascfm/opcore/internal/registry"
	"github.com/ascfm/opcore/internal/scheduler"
	"github.com/ascfm/opcore/internal/storage/sqlite"
)

const (
	defaultDataDir = ".opcore"
	defaultDBFile  = "history.db"
)

// Config configures the SDK client.
//
// All fields are optional and have sensible defaults: an empty Config{}
// tracks operations in memory only and stays silent.
type Config struct {
	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger

	// Groups maps concurrency group names to their admission limits.
	// Default: the shell's group set (fs-heavy, scan, background, ui).
	Groups map[string]int

	// KindTimeouts overrides the default liveness budget per task kind.
	KindTimeouts map[Kind]time.Duration

	// HistoryDBPath, when set, persists terminal operations to a SQLite
	// database at that path. Use [DefaultHistoryDBPath] for the shell's
	// standard location.
	HistoryDBPath string

	// PolicyFile, when set, loads the per-operation retry policy table
	// from a YAML file.
	PolicyFile string
}

func (c *Config) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	return nil
}

// DefaultHistoryDBPath returns the shell's standard history database path
// (~/.opcore/history.db).
func DefaultHistoryDBPath() string {
	return filepath.Join(homedir.HomeDir(), defaultDataDir, defaultDBFile)
}

// Client is the main SDK entry point for orchestrating long-running
// operations programmatically.
//
// Create a Client with [New] and release its resources with
// [Client.Close]. A Client is safe for concurrent use.
type Client struct {
	registry *registry.Registry
	manager  *scheduler.Manager
	executor *policy.Executor
	logger   log.Logger
	closeFn  func() error
}

// New creates a new SDK client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	reg, err := registry.NewRegistry(registry.RegistryConfig{Logger: cfg.Logger})
	if err != nil {
		return nil, fmt.Errorf("could not create process registry: %w", err)
	}

	mgrCfg := scheduler.ManagerConfig{
		Registry:     reg,
		KindTimeouts: cfg.KindTimeouts,
		Logger:       cfg.Logger,
	}
	for name, limit := range cfg.Groups {
		if mgrCfg.Groups == nil {
			mgrCfg.Groups = map[string]scheduler.GroupConfig{}
		}
		mgrCfg.Groups[name] = scheduler.GroupConfig{Limit: limit}
	}

	closeFn := func() error { return nil }
	if cfg.HistoryDBPath != "" {
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: cfg.HistoryDBPath,
			Logger: cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create history repository: %w", err)
		}
		mgrCfg.History = repo
		closeFn = repo.Close
	}

	mgr, err := scheduler.NewManager(mgrCfg)
	if err != nil {
		return nil, fmt.Errorf("could not create operation manager: %w", err)
	}

	execCfg := policy.ExecutorConfig{Logger: cfg.Logger}
	if cfg.PolicyFile != "" {
		repo := policyio.NewPolicyYAMLRepository(os.DirFS(filepath.Dir(cfg.PolicyFile)))
		table, err := repo.GetTable(ctx, filepath.Base(cfg.PolicyFile))
		if err != nil {
			return nil, fmt.Errorf("could not load policy table: %w", err)
		}
		execCfg.Override = table.Global
		execCfg.Table = table.Operations
	}

	executor, err := policy.NewExecutor(execCfg)
	if err != nil {
		return nil, fmt.Errorf("could not create policy executor: %w", err)
	}

	return &Client{
		registry: reg,
		manager:  mgr,
		executor: executor,
		logger:   cfg.Logger,
		closeFn:  closeFn,
	}, nil
}

// Close releases the client resources.
func (c *Client) Close() error { return c.closeFn() }

// Run schedules a unit of work as a tracked operation. See
// [scheduler.Manager.Run] semantics: the operation queues under its
// concurrency group and the returned snapshot reflects the queued state.
func (c *Client) Run(ctx context.Context, req RunRequest, start StartFunc) (*Operation, error) {
	return c.manager.Run(ctx, req, start)
}

// Cancel requests a manual cancellation of an operation.
func (c *Client) Cancel(id string) error { return c.manager.Cancel(id) }

// OnProgress feeds a progress event from the progress transport.
func (c *Client) OnProgress(ev ProgressEvent) { c.manager.OnProgress(ev) }

// GetOperation returns a snapshot of the operation.
func (c *Client) GetOperation(id string) (*Operation, error) { return c.manager.Get(id) }

// ListOperations returns snapshots of the known operations. An empty panel
// matches every panel.
func (c *Client) ListOperations(panel string) []Operation { return c.manager.List(panel) }

// ListActiveProcesses returns snapshots of the live liveness records.
func (c *Client) ListActiveProcesses(panel string) []TrackedProcess {
	return c.registry.ListActive(panel)
}

// Ping records activity for a process, re-arming its liveness window.
func (c *Client) Ping(id string, timeout time.Duration, label string) {
	c.registry.Touch(id, timeout, label)
}

// Execute runs a cancellable unit of work under the retry/timeout policy
// resolved for opName.
func (c *Client) Execute(ctx context.Context, opName string, task func(ctx context.Context) error, opts ExecOptions) error {
	return c.executor.Execute(ctx, opName, abort.Task(task), opts)
}

// ResolvePolicy returns the fully populated policy for the operation name.
func (c *Client) ResolvePolicy(opName string) RetryPolicy {
	return c.executor.ResolvePolicy(opName)
}

// SetPolicyTable hot-swaps the named per-kind policy override table.
func (c *Client) SetPolicyTable(table map[string]policy.Override) error {
	return c.executor.SetTable(table)
}
