// Package printer renders operation and policy information for the
// diagnostic CLI.
package printer

import (
	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/policy"
)

// Printer knows how to print orchestration information in different
// formats.
type Printer interface {
	PrintOperations(ops []model.Operation) error
	PrintPolicies(policies map[string]policy.RetryPolicy) error
	PrintMessage(msg string) error
}
