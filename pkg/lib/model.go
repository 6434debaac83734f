package lib

import (
	"github.com/ascfm/opcore/internal/abort"
	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/policy"
	"github.com/ascfm/opcore/internal/scheduler"
)

// Kind classifies a long-running task.
type Kind = model.Kind

// Task kinds.
const (
	KindInvoke     = model.KindInvoke
	KindFolderLoad = model.KindFolderLoad
	KindFolderScan = model.KindFolderScan
	KindThumbnail  = model.KindThumbnail
	KindIcons      = model.KindIcons
	KindSort       = model.KindSort
	KindGroup      = model.KindGroup
	KindCopy       = model.KindCopy
	KindCut        = model.KindCut
	KindPaste      = model.KindPaste
	KindDelete     = model.KindDelete
	KindRename     = model.KindRename
	KindCompress   = model.KindCompress
	KindWatcher    = model.KindWatcher
	KindOther      = model.KindOther
)

// Phase is the lifecycle state of an operation.
type Phase = model.Phase

// Operation phases.
const (
	PhaseQueued    = model.PhaseQueued
	PhaseRunning   = model.PhaseRunning
	PhaseCompleted = model.PhaseCompleted
	PhaseFailed    = model.PhaseFailed
	PhaseCancelled = model.PhaseCancelled
	PhaseTimedOut  = model.PhaseTimedOut
)

// Operation is a read-only snapshot of one tracked unit of work.
type Operation = model.Operation

// TrackedProcess is a read-only snapshot of one liveness record.
type TrackedProcess = model.TrackedProcess

// ProgressEvent is the payload accepted from the progress transport.
type ProgressEvent = model.ProgressEvent

// Counters aggregates the work an operation has done so far.
type Counters = model.Counters

// TimeoutError reports that a unit of work exceeded its deadline.
type TimeoutError = model.TimeoutError

// CanceledError reports a cooperative cancellation.
type CanceledError = model.CanceledError

// Well-known concurrency group names.
const (
	GroupFSHeavy    = scheduler.GroupFSHeavy
	GroupScan       = scheduler.GroupScan
	GroupBackground = scheduler.GroupBackground
	GroupUI         = scheduler.GroupUI
)

// RunRequest describes the operation to run.
type RunRequest = scheduler.RunRequest

// StartFunc is the unit of work of an operation.
type StartFunc = scheduler.StartFunc

// Gate detects superseded requests for the same logical slot.
type Gate = abort.Gate

// Receipt is a stale-result gate receipt.
type Receipt = abort.Receipt

// NewGate returns an empty stale-result gate.
var NewGate = abort.NewGate

// RetryPolicy is a fully resolved retry/timeout policy.
type RetryPolicy = policy.RetryPolicy

// ExecOptions tunes a single Execute call.
type ExecOptions = policy.ExecOptions

// IsTimeout reports whether err is (or wraps) a timeout error.
var IsTimeout = model.IsTimeout

// IsCanceled reports whether err is a cancellation.
var IsCanceled = model.IsCanceled

// Sentinel errors returned by the SDK.
var (
	ErrNotFound      = model.ErrNotFound
	ErrAlreadyExists = model.ErrAlreadyExists
	ErrNotValid      = model.ErrNotValid
)
