package model

import "time"

// Kind classifies a long-running task.
type Kind string

const (
	KindInvoke     Kind = "invoke"
	KindFolderLoad Kind = "folder-load"
	KindFolderScan Kind = "folder-scan"
	KindThumbnail  Kind = "thumbnail"
	KindIcons      Kind = "icons"
	KindSort       Kind = "sort"
	KindGroup      Kind = "group"
	KindCopy       Kind = "copy"
	KindCut        Kind = "cut"
	KindPaste      Kind = "paste"
	KindDelete     Kind = "delete"
	KindRename     Kind = "rename"
	KindCompress   Kind = "compress"
	KindWatcher    Kind = "watcher"
	KindOther      Kind = "other"
)

// CancelReason tells why a tracked process ended through cancellation.
type CancelReason string

const (
	// CancelReasonManual indicates an explicit cancel request.
	CancelReasonManual CancelReason = "manual"
	// CancelReasonTimeout indicates the liveness window elapsed.
	CancelReasonTimeout CancelReason = "timeout"
)

// TrackedProcess is the liveness record for one long-running task.
//
// The timeout window, when present, is always measured from LastActivity,
// never from creation time. A zero Timeout means the process is never
// auto-cancelled.
type TrackedProcess struct {
	ID           string
	Kind         Kind
	Panel        string
	CreatedAt    time.Time
	LastActivity time.Time
	Timeout      time.Duration
	LastEvent    string
	EndedAt      *time.Time
	Canceled     bool
	CancelReason CancelReason
	// Paused is advisory only: it never alters timer behavior.
	Paused bool
}
