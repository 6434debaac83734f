package printer

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/policy"
)

// TablePrinter prints orchestration information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintOperations prints operations in a table format.
func (t *TablePrinter) PrintOperations(ops []model.Operation) error {
	if len(ops) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tKIND\tPANEL\tPHASE\tPROGRESS\tFILES\tBYTES\tENDED\tERROR")

	for _, op := range ops {
		ended := ""
		if op.EndedAt != nil {
			ended = TimeAgo(*op.EndedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%%\t%d\t%s\t%s\t%s\n",
			op.ID,
			op.Kind,
			op.Panel,
			op.Phase,
			op.Progress,
			op.Counters.Files,
			FormatBytes(op.Counters.Bytes),
			ended,
			op.ErrorMessage,
		)
	}

	return nil
}

// PrintPolicies prints resolved policies in a table format.
func (t *TablePrinter) PrintPolicies(policies map[string]policy.RetryPolicy) error {
	if len(policies) == 0 {
		return nil
	}

	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "OPERATION\tTIMEOUT\tRETRIES\tJITTER\tPREDICATE")

	for _, name := range names {
		p := policies[name]
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%s\n", name, p.Timeout, p.Retries, p.Jitter, p.Predicate)
	}

	return nil
}

// PrintMessage prints a simple message.
func (t *TablePrinter) PrintMessage(msg string) error {
	_, err := fmt.Fprintln(t.writer, msg)
	return err
}
