package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"github.com/ascfm/opcore/internal/policy"
	policyio "github.com/ascfm/opcore/internal/policy/io"
	"github.com/ascfm/opcore/internal/printer"
)

type PoliciesCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	policyFile string
	format     string
}

// NewPoliciesCommand returns the policies command.
func NewPoliciesCommand(rootCmd *RootCommand, app *kingpin.Application) *PoliciesCommand {
	c := &PoliciesCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("policies", "Print the resolved per-operation retry policies.")
	c.Cmd.Flag("policy-file", "Path to a YAML policy table.").StringVar(&c.policyFile)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c PoliciesCommand) Name() string { return c.Cmd.FullCommand() }

func (c PoliciesCommand) Run(ctx context.Context) error {
	cfg := policy.ExecutorConfig{Logger: c.rootCmd.Logger}

	names := map[string]bool{}
	if c.policyFile != "" {
		repo := policyio.NewPolicyYAMLRepository(os.DirFS(filepath.Dir(c.policyFile)))
		table, err := repo.GetTable(ctx, filepath.Base(c.policyFile))
		if err != nil {
			return fmt.Errorf("could not load policy table: %w", err)
		}
		cfg.Override = table.Global
		cfg.Table = table.Operations
		for name := range table.Operations {
			names[name] = true
		}
	}

	exec, err := policy.NewExecutor(cfg)
	if err != nil {
		return fmt.Errorf("could not create executor: %w", err)
	}

	// Always show the base policy next to the named ones.
	names["default"] = true
	policies := map[string]policy.RetryPolicy{}
	for name := range names {
		policies[name] = exec.ResolvePolicy(name)
	}

	var p printer.Printer
	switch c.format {
	case "json":
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default: // table
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	if err := p.PrintPolicies(policies); err != nil {
		return fmt.Errorf("could not print policies: %w", err)
	}

	return nil
}
