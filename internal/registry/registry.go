// Package registry implements the liveness tracker for long-running
// processes. It is the single authority deciding when a task has gone
// silent and must be force-cancelled, and the single place where
// manual-vs-timeout cancellation bookkeeping lives.
//
// The timeout window is a sliding window: it is measured from the last
// recorded activity, and every Touch re-arms it. When a timer fires the
// registry recomputes the age of the record first, so activity that landed
// just before the fire never causes a false-positive cancellation.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ascfm/opcore/internal/log"
	"github.com/ascfm/opcore/internal/model"
)

// CancelListener is invoked exactly once with the cancel reason and a
// frozen snapshot of the process when it ends through cancellation.
type CancelListener func(reason model.CancelReason, process model.TrackedProcess)

// RegistryConfig is the configuration for the registry.
type RegistryConfig struct {
	Clock  Clock
	Logger log.Logger
}

func (c *RegistryConfig) defaults() error {
	if c.Clock == nil {
		c.Clock = NewRealClock()
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "registry.Registry"})

	return nil
}

// Registry tracks every live long-running process.
type Registry struct {
	mu     sync.Mutex
	procs  map[string]*entry
	clock  Clock
	logger log.Logger
}

type entry struct {
	process   model.TrackedProcess
	timer     Timer
	listeners map[int]CancelListener
	nextSubID int
}

// NewRegistry creates a new process registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Registry{
		procs:  map[string]*entry{},
		clock:  cfg.Clock,
		logger: cfg.Logger,
	}, nil
}

// Register creates a tracked process. A positive timeout arms a liveness
// timer measured from registration time; a zero timeout means the process
// is never auto-cancelled.
func (r *Registry) Register(id string, kind model.Kind, panel string, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.procs[id]; ok {
		return fmt.Errorf("process %s: %w", id, model.ErrAlreadyExists)
	}

	now := r.clock.Now()
	e := &entry{
		process: model.TrackedProcess{
			ID:           id,
			Kind:         kind,
			Panel:        panel,
			CreatedAt:    now,
			LastActivity: now,
			Timeout:      timeout,
		},
		listeners: map[int]CancelListener{},
	}
	if timeout > 0 {
		e.timer = r.clock.AfterFunc(timeout, func() { r.onTimer(id) })
	}
	r.procs[id] = e

	r.logger.Debugf("Registered process %s (kind %s, timeout %s)", id, kind, timeout)
	return nil
}

// Touch records activity: it updates the last-activity time to now, sets
// the window to the given timeout and re-arms the timer from now. A zero
// timeout clears the timer (no auto-cancel). A non-empty label overwrites
// the diagnostic event label. Touching an unknown id is a no-op, never an
// error.
func (r *Registry) Touch(id string, timeout time.Duration, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.procs[id]
	if !ok {
		return
	}

	e.process.LastActivity = r.clock.Now()
	e.process.Timeout = timeout
	if label != "" {
		e.process.LastEvent = label
	}

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if timeout > 0 {
		e.timer = r.clock.AfterFunc(timeout, func() { r.onTimer(id) })
	}
}

// SubscribeCancel registers a listener invoked exactly once when the
// process ends through cancellation (not on normal completion). It returns
// an unsubscribe handle. Listener panics are swallowed so a faulty
// observer can never corrupt registry state.
func (r *Registry) SubscribeCancel(id string, listener CancelListener) (unsubscribe func(), err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.procs[id]
	if !ok {
		return func() {}, fmt.Errorf("process %s: %w", id, model.ErrNotFound)
	}

	subID := e.nextSubID
	e.nextSubID++
	e.listeners[subID] = listener

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if e, ok := r.procs[id]; ok {
			delete(e.listeners, subID)
		}
	}, nil
}

// Cancel marks the process ended with the manual reason, fires its cancel
// listeners with a frozen snapshot, clears its timer and removes it.
// Cancelling an unknown (or already ended) id is a no-op.
func (r *Registry) Cancel(id string) {
	r.mu.Lock()
	e, ok := r.procs[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	listeners, snapshot := r.removeLocked(e, model.CancelReasonManual)
	r.mu.Unlock()

	r.logger.Debugf("Cancelled process %s (manual)", id)
	r.notify(listeners, model.CancelReasonManual, snapshot)
}

// End removes the record on normal completion, clearing its timer without
// firing cancel listeners. Ending an unknown id is a no-op.
func (r *Registry) End(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.procs[id]
	if !ok {
		return
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	now := r.clock.Now()
	e.process.EndedAt = &now
	delete(r.procs, id)
}

// Pause sets the advisory paused flag. It does not alter timer behavior:
// callers that want to suspend timeout enforcement must clear the window
// with Touch(id, 0, "").
func (r *Registry) Pause(id string) { r.setPaused(id, true) }

// Resume clears the advisory paused flag.
func (r *Registry) Resume(id string) { r.setPaused(id, false) }

func (r *Registry) setPaused(id string, paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.procs[id]; ok {
		e.process.Paused = paused
	}
}

// IsActive reports whether the process is live.
func (r *Registry) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.procs[id]
	return ok
}

// Get returns a copy of the tracked process.
func (r *Registry) Get(id string) (*model.TrackedProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.procs[id]
	if !ok {
		return nil, fmt.Errorf("process %s: %w", id, model.ErrNotFound)
	}

	process := e.process
	return &process, nil
}

// ListActive returns copies of the live processes ordered by registration
// time ascending. An empty panel matches every panel.
func (r *Registry) ListActive(panel string) []model.TrackedProcess {
	r.mu.Lock()
	defer r.mu.Unlock()

	procs := make([]model.TrackedProcess, 0, len(r.procs))
	for _, e := range r.procs {
		if panel != "" && e.process.Panel != panel {
			continue
		}
		procs = append(procs, e.process)
	}

	sort.Slice(procs, func(i, j int) bool {
		if procs[i].CreatedAt.Equal(procs[j].CreatedAt) {
			return procs[i].ID < procs[j].ID
		}
		return procs[i].CreatedAt.Before(procs[j].CreatedAt)
	})

	return procs
}

// onTimer handles a liveness timer firing. Activity may have landed just
// before the fire, so the age of the record is recomputed and the timer
// re-armed for the remainder when the window has not truly elapsed. The
// record's current window field is the single source of truth: the value
// the timer was installed with is never consulted again.
func (r *Registry) onTimer(id string) {
	r.mu.Lock()
	e, ok := r.procs[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	cancelNow, rearm := timerDecision(r.clock.Now(), e.process.LastActivity, e.process.Timeout)
	if !cancelNow {
		// A concurrent Touch may have installed a fresh timer while this
		// callback was in flight; replace it so only one stays armed.
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		if rearm > 0 {
			e.timer = r.clock.AfterFunc(rearm, func() { r.onTimer(id) })
		}
		r.mu.Unlock()
		return
	}

	listeners, snapshot := r.removeLocked(e, model.CancelReasonTimeout)
	r.mu.Unlock()

	r.logger.Debugf("Cancelled process %s (timeout after %s)", id, snapshot.Timeout)
	r.notify(listeners, model.CancelReasonTimeout, snapshot)
}

// timerDecision decides what to do when a liveness timer fires: cancel
// when the window has truly elapsed since the last activity, otherwise
// re-arm for the remainder. A zero window means the timeout was cleared
// after the timer was installed, so neither.
func timerDecision(now, lastActivity time.Time, window time.Duration) (cancel bool, rearm time.Duration) {
	if window <= 0 {
		return false, 0
	}

	age := now.Sub(lastActivity)
	if age >= window {
		return true, 0
	}

	return false, window - age
}

// removeLocked marks the entry cancelled, clears its timer, removes it
// from the live map and returns the listeners with a frozen snapshot.
// Must be called with the registry lock held.
func (r *Registry) removeLocked(e *entry, reason model.CancelReason) ([]CancelListener, model.TrackedProcess) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	now := r.clock.Now()
	e.process.EndedAt = &now
	e.process.Canceled = true
	e.process.CancelReason = reason
	delete(r.procs, e.process.ID)

	// Deliver in subscription order.
	subIDs := make([]int, 0, len(e.listeners))
	for subID := range e.listeners {
		subIDs = append(subIDs, subID)
	}
	sort.Ints(subIDs)

	listeners := make([]CancelListener, 0, len(subIDs))
	for _, subID := range subIDs {
		listeners = append(listeners, e.listeners[subID])
	}
	e.listeners = map[int]CancelListener{}

	return listeners, e.process
}

// notify delivers the cancellation outside the registry lock. Listener
// panics are recovered: a misbehaving observer must never prevent the
// registry from completing a cancellation.
func (r *Registry) notify(listeners []CancelListener, reason model.CancelReason, snapshot model.TrackedProcess) {
	for _, listener := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warningf("Cancel listener for %s panicked: %v", snapshot.ID, rec)
				}
			}()
			listener(reason, snapshot)
		}()
	}
}
