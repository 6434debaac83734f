package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/policy"
)

// JSONPrinter prints orchestration information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// operationItem represents an operation in the list output.
type operationItem struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Panel        string     `json:"panel,omitempty"`
	Group        string     `json:"group,omitempty"`
	Phase        string     `json:"phase"`
	Progress     float64    `json:"progress"`
	Detail       string     `json:"detail,omitempty"`
	TargetPath   string     `json:"target_path,omitempty"`
	Folders      int64      `json:"folders"`
	Files        int64      `json:"files"`
	Bytes        int64      `json:"bytes"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// policyItem represents a resolved policy output.
type policyItem struct {
	Timeout   string `json:"timeout"`
	Retries   int    `json:"retries"`
	Jitter    bool   `json:"jitter"`
	Predicate string `json:"predicate"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

// PrintOperations prints operations in JSON format.
func (j *JSONPrinter) PrintOperations(ops []model.Operation) error {
	items := make([]operationItem, len(ops))
	for i, op := range ops {
		items[i] = operationItem{
			ID:           op.ID,
			Kind:         string(op.Kind),
			Panel:        op.Panel,
			Group:        op.Group,
			Phase:        string(op.Phase),
			Progress:     op.Progress,
			Detail:       op.Detail,
			TargetPath:   op.TargetPath,
			Folders:      op.Counters.Folders,
			Files:        op.Counters.Files,
			Bytes:        op.Counters.Bytes,
			ErrorMessage: op.ErrorMessage,
			CreatedAt:    op.CreatedAt.UTC(),
			StartedAt:    utcOrNil(op.StartedAt),
			EndedAt:      utcOrNil(op.EndedAt),
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintPolicies prints resolved policies in JSON format.
func (j *JSONPrinter) PrintPolicies(policies map[string]policy.RetryPolicy) error {
	items := make(map[string]policyItem, len(policies))
	for name, p := range policies {
		items[name] = policyItem{
			Timeout:   p.Timeout.String(),
			Retries:   p.Retries,
			Jitter:    p.Jitter,
			Predicate: p.Predicate,
		}
	}

	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(messageOutput{Message: msg})
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
