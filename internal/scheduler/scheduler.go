// Package scheduler implements the operation manager: it turns a requested
// unit of work into a concurrency-bounded, liveness-tracked operation.
//
// Operations are admitted per named concurrency group in strict FIFO order.
// Liveness is delegated to the process registry; cancellation always flows
// through the registry so manual-vs-timeout bookkeeping stays centralized,
// and is translated into the context handed to the unit of work.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ascfm/opcore/internal/abort"
	"github.com/ascfm/opcore/internal/log"
	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/registry"
	"github.com/ascfm/opcore/internal/storage"
)

// Default liveness budgets used when the caller supplies no timeout.
const (
	// DefaultTimeout bounds moderate tasks (invoke, sort, rename...).
	DefaultTimeout = 30 * time.Second
	// ScanTimeout bounds scan-class tasks: folder loads and scans,
	// thumbnail and icon batches.
	ScanTimeout = 2 * time.Minute
	// BulkTimeout bounds bulk file operations (copy, delete...), the
	// longest-running class.
	BulkTimeout = 10 * time.Minute
)

// Well-known concurrency group names.
const (
	GroupFSHeavy    = "fs-heavy"
	GroupScan       = "scan"
	GroupBackground = "background"
	GroupUI         = "ui"
)

// StartFunc is the unit of work of an operation. The context is cancelled
// with a model.TimeoutError or model.CanceledError cause when the process
// registry cancels the operation, or when the caller's own context fires.
type StartFunc func(ctx context.Context) error

// GroupConfig configures one concurrency group.
type GroupConfig struct {
	// Limit is the maximum number of operations of the group running at
	// the same time.
	Limit int
}

// DefaultGroups returns the group set used by the shell.
func DefaultGroups() map[string]GroupConfig {
	return map[string]GroupConfig{
		GroupFSHeavy:    {Limit: 1},
		GroupScan:       {Limit: 2},
		GroupBackground: {Limit: 4},
		GroupUI:         {Limit: 4},
	}
}

// ManagerConfig is the configuration for the manager.
type ManagerConfig struct {
	Registry *registry.Registry
	// Groups maps group names to their configuration. Defaults to
	// DefaultGroups when empty.
	Groups map[string]GroupConfig
	// KindTimeouts overrides the default liveness budget per kind.
	KindTimeouts map[model.Kind]time.Duration
	// History, when set, receives every operation that reaches a terminal
	// phase.
	History storage.Repository
	Logger  log.Logger
}

func (c *ManagerConfig) defaults() error {
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}

	if len(c.Groups) == 0 {
		c.Groups = DefaultGroups()
	}
	for name, g := range c.Groups {
		if g.Limit <= 0 {
			return fmt.Errorf("group %s has invalid limit %d", name, g.Limit)
		}
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "scheduler.Manager"})

	return nil
}

// Manager schedules operations.
type Manager struct {
	registry *registry.Registry
	timeouts map[model.Kind]time.Duration
	history  storage.Repository
	logger   log.Logger

	mu     sync.Mutex
	groups map[string]*group
	ops    map[string]*trackedOp
}

type group struct {
	limit   int
	queue   []string
	running int
}

type trackedOp struct {
	op          model.Operation
	timeout     time.Duration
	start       StartFunc
	callerCtx   context.Context
	opCtx       context.Context
	cancel      context.CancelCauseFunc
	unsubscribe func()
	recorded    bool
}

// NewManager creates a new operation manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	groups := map[string]*group{}
	for name, g := range cfg.Groups {
		groups[name] = &group{limit: g.Limit}
	}

	return &Manager{
		registry: cfg.Registry,
		timeouts: cfg.KindTimeouts,
		history:  cfg.History,
		logger:   cfg.Logger,
		groups:   groups,
		ops:      map[string]*trackedOp{},
	}, nil
}

// RunRequest describes the operation to run.
type RunRequest struct {
	// ID identifies the operation. Generated when empty.
	ID    string
	Kind  model.Kind
	Panel string
	// Group is the concurrency group name. It must exist in the manager
	// configuration.
	Group      string
	TargetPath string
	// Timeout is the liveness window. Zero selects the kind-derived
	// default; a negative value disables auto-cancellation.
	Timeout time.Duration
}

// Run creates a queued operation, registers its liveness with the process
// registry and enqueues it under its concurrency group. The returned
// operation is a snapshot of the queued state. The caller's ctx is merged
// into the work's cancellation, so cancelling it aborts the dispatched
// work.
func (m *Manager) Run(ctx context.Context, req RunRequest, start StartFunc) (*model.Operation, error) {
	if start == nil {
		return nil, fmt.Errorf("start function is required: %w", model.ErrNotValid)
	}
	if req.Kind == "" {
		req.Kind = model.KindOther
	}

	m.mu.Lock()
	g, ok := m.groups[req.Group]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("unknown concurrency group %q: %w", req.Group, model.ErrNotValid)
	}

	id := req.ID
	if id == "" {
		id = ulid.Make().String()
	}
	if existing, ok := m.ops[id]; ok && !existing.op.Phase.Terminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("operation %s: %w", id, model.ErrAlreadyExists)
	}

	timeout := m.timeoutFor(req.Kind, req.Timeout)

	opCtx, opCancel := context.WithCancelCause(context.Background())
	t := &trackedOp{
		op: model.Operation{
			ID:         id,
			Kind:       req.Kind,
			Panel:      req.Panel,
			Group:      req.Group,
			Phase:      model.PhaseQueued,
			TargetPath: req.TargetPath,
			CreatedAt:  time.Now().UTC(),
		},
		timeout:   timeout,
		start:     start,
		callerCtx: ctx,
		opCtx:     opCtx,
		cancel:    opCancel,
	}
	m.ops[id] = t
	m.mu.Unlock()

	if err := m.registry.Register(id, req.Kind, req.Panel, timeout); err != nil {
		m.mu.Lock()
		delete(m.ops, id)
		m.mu.Unlock()
		opCancel(context.Canceled)
		return nil, fmt.Errorf("could not register liveness: %w", err)
	}

	unsub, err := m.registry.SubscribeCancel(id, func(reason model.CancelReason, _ model.TrackedProcess) {
		m.onRegistryCancel(id, reason)
	})
	if err != nil {
		// The process was cancelled before the subscription landed.
		m.onRegistryCancel(id, model.CancelReasonManual)
		m.mu.Lock()
		op := t.op
		m.mu.Unlock()
		return &op, nil
	}

	m.mu.Lock()
	t.unsubscribe = unsub
	op := t.op
	if !t.op.Phase.Terminal() {
		g.queue = append(g.queue, id)
		m.pump(req.Group, g)
	}
	m.mu.Unlock()

	m.logger.Debugf("Queued operation %s (kind %s, group %s)", id, req.Kind, req.Group)
	return &op, nil
}

// Cancel requests a manual cancellation. It always delegates to the
// process registry so timeout-vs-manual bookkeeping stays centralized.
// Cancelling an operation that already reached a terminal phase is a
// no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	_, ok := m.ops[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("operation %s: %w", id, model.ErrNotFound)
	}

	m.registry.Cancel(id)
	return nil
}

// OnProgress applies a progress event produced by the running task or the
// external progress transport. Events for unknown or terminal operations
// are ignored. A non-terminal event counts as a liveness ping and re-arms
// the registry window; a terminal event ends the registry entry as a
// normal completion.
func (m *Manager) OnProgress(ev model.ProgressEvent) {
	m.mu.Lock()
	t, ok := m.ops[ev.ID]
	if !ok || t.op.Phase.Terminal() {
		m.mu.Unlock()
		return
	}

	if ev.Progress > 0 {
		t.op.Progress = ev.Progress
	}
	if ev.Detail != "" {
		t.op.Detail = ev.Detail
	}
	if ev.Counters != nil {
		t.op.Counters = *ev.Counters
	}
	if ev.ErrorMessage != "" {
		t.op.ErrorMessage = ev.ErrorMessage
	}

	if ev.Phase.Terminal() {
		t.op.Phase = ev.Phase
		now := time.Now().UTC()
		t.op.EndedAt = &now
		m.finishLocked(t)
		m.mu.Unlock()
		return
	}

	label := ev.Detail
	if label == "" {
		label = string(ev.Phase)
	}
	timeout := t.timeout
	m.mu.Unlock()

	m.registry.Touch(ev.ID, timeout, label)
}

// Get returns a copy of the operation.
func (m *Manager) Get(id string) (*model.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.ops[id]
	if !ok {
		return nil, fmt.Errorf("operation %s: %w", id, model.ErrNotFound)
	}

	op := t.op
	return &op, nil
}

// List returns copies of the known operations ordered by creation time
// ascending. An empty panel matches every panel.
func (m *Manager) List(panel string) []model.Operation {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := make([]model.Operation, 0, len(m.ops))
	for _, t := range m.ops {
		if panel != "" && t.op.Panel != panel {
			continue
		}
		ops = append(ops, t.op)
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].ID < ops[j].ID
		}
		return ops[i].CreatedAt.Before(ops[j].CreatedAt)
	})

	return ops
}

func (m *Manager) timeoutFor(kind model.Kind, requested time.Duration) time.Duration {
	if requested < 0 {
		return 0
	}
	if requested > 0 {
		return requested
	}
	if d, ok := m.timeouts[kind]; ok {
		return d
	}

	switch kind {
	case model.KindFolderLoad, model.KindFolderScan, model.KindThumbnail, model.KindIcons, model.KindWatcher:
		return ScanTimeout
	case model.KindCopy, model.KindCut, model.KindPaste, model.KindDelete, model.KindCompress:
		return BulkTimeout
	default:
		return DefaultTimeout
	}
}

// pump dispatches queued operations while the group has free slots. Must
// be called with the manager lock held; the lock makes back-to-back
// completions pump serially, so a freed slot is refilled exactly once.
func (m *Manager) pump(name string, g *group) {
	for g.running < g.limit && len(g.queue) > 0 {
		id := g.queue[0]
		g.queue = g.queue[1:]

		t, ok := m.ops[id]
		if !ok || t.op.Phase.Terminal() {
			continue
		}

		g.running++
		t.op.Phase = model.PhaseRunning
		now := time.Now().UTC()
		t.op.StartedAt = &now

		merged, release := abort.Merge(t.callerCtx, t.opCtx)
		m.logger.Debugf("Dispatched operation %s (group %s, running %d/%d)", id, name, g.running, g.limit)

		go func(t *trackedOp) {
			err := t.start(merged)
			release()
			m.complete(t.op.ID, err)
		}(t)
	}
}

// complete records the outcome of a dispatched operation and refills the
// freed slot. When the registry already cancelled the operation the phase
// set by the cancellation wins and err is ignored.
func (m *Manager) complete(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.ops[id]
	if !ok {
		return
	}

	name := t.op.Group
	g := m.groups[name]
	if g != nil {
		g.running--
	}

	if !t.op.Phase.Terminal() {
		switch {
		case err == nil:
			t.op.Phase = model.PhaseCompleted
			t.op.Progress = 100
		case model.IsTimeout(err):
			t.op.Phase = model.PhaseTimedOut
			t.op.ErrorMessage = err.Error()
		case model.IsCanceled(err):
			t.op.Phase = model.PhaseCancelled
			t.op.ErrorMessage = err.Error()
		default:
			t.op.Phase = model.PhaseFailed
			t.op.ErrorMessage = err.Error()
		}
		now := time.Now().UTC()
		t.op.EndedAt = &now
	}

	m.finishLocked(t)
	if g != nil {
		m.pump(name, g)
	}
}

// onRegistryCancel translates a registry cancellation into the operation's
// terminal phase and aborts the in-flight unit of work. Queued operations
// are pulled out of their queue so they never dispatch.
func (m *Manager) onRegistryCancel(id string, reason model.CancelReason) {
	m.mu.Lock()
	t, ok := m.ops[id]
	if !ok || t.op.Phase.Terminal() {
		m.mu.Unlock()
		return
	}

	var cause error
	if reason == model.CancelReasonTimeout {
		t.op.Phase = model.PhaseTimedOut
		cause = model.TimeoutError{Timeout: t.timeout}
	} else {
		t.op.Phase = model.PhaseCancelled
		cause = model.CanceledError{Reason: string(reason)}
	}
	t.op.ErrorMessage = cause.Error()
	now := time.Now().UTC()
	t.op.EndedAt = &now

	// Still queued: make sure it never dispatches.
	if t.op.StartedAt == nil {
		if g, ok := m.groups[t.op.Group]; ok {
			g.queue = removeID(g.queue, id)
		}
	}

	t.cancel(cause)
	m.finishLocked(t)
	m.mu.Unlock()

	m.logger.Debugf("Operation %s cancelled (%s)", id, reason)
}

// finishLocked runs the shared terminal bookkeeping: ends the registry
// entry (a no-op when the registry initiated the end), drops the cancel
// subscription and records history exactly once. Must be called with the
// manager lock held.
func (m *Manager) finishLocked(t *trackedOp) {
	if t.recorded {
		return
	}
	t.recorded = true
	t.cancel(model.CanceledError{Reason: "operation ended"})
	op := t.op
	unsub := t.unsubscribe

	go func() {
		m.registry.End(op.ID)
		if unsub != nil {
			unsub()
		}
		if m.history != nil {
			if err := m.history.RecordOperation(context.Background(), op); err != nil {
				m.logger.Errorf("Could not record operation %s: %v", op.ID, err)
			}
		}
	}()
}

func removeID(queue []string, id string) []string {
	for i, qid := range queue {
		if qid == id {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}
