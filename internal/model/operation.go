package model

import "time"

// Phase is the lifecycle state of an operation.
type Phase string

const (
	// PhaseQueued indicates the operation waits for a free slot in its group.
	PhaseQueued Phase = "queued"
	// PhaseRunning indicates the operation has been dispatched.
	PhaseRunning Phase = "running"
	// PhaseCompleted indicates the operation finished successfully.
	PhaseCompleted Phase = "completed"
	// PhaseFailed indicates the operation finished with a task error.
	PhaseFailed Phase = "failed"
	// PhaseCancelled indicates the operation was cancelled manually.
	PhaseCancelled Phase = "cancelled"
	// PhaseTimedOut indicates the operation was cancelled by the liveness timeout.
	PhaseTimedOut Phase = "timed-out"
)

// Terminal reports whether the phase is final. Once a phase is terminal,
// further progress events for the operation are ignored.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled, PhaseTimedOut:
		return true
	}
	return false
}

// Counters aggregates the work an operation has done so far.
type Counters struct {
	Folders int64
	Files   int64
	Bytes   int64
}

// Operation is one user-visible tracked unit of work. Every operation owns
// exactly one TrackedProcess with the same ID for its queued→terminal
// lifetime.
type Operation struct {
	ID           string
	Kind         Kind
	Panel        string
	Group        string
	Phase        Phase
	Progress     float64
	Detail       string
	TargetPath   string
	Counters     Counters
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
}

// ProgressEvent is the payload accepted from the external progress
// transport (e.g. a native-backend-to-UI event bus).
type ProgressEvent struct {
	ID           string
	Kind         Kind
	Phase        Phase
	Progress     float64
	Detail       string
	Counters     *Counters
	ErrorMessage string
}
