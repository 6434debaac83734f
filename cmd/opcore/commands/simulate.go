package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/ascfm/opcore/internal/abort"
	"github.com/ascfm/opcore/internal/model"
	"github.com/ascfm/opcore/internal/policy"
	"github.com/ascfm/opcore/internal/printer"
	"github.com/ascfm/opcore/internal/registry"
	"github.com/ascfm/opcore/internal/scheduler"
	"github.com/ascfm/opcore/internal/storage/sqlite"
)

type SimulateCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewSimulateCommand returns the simulate command. It runs a synthetic
// workload through the orchestration core so the scheduling, retry and
// timeout behavior can be observed end to end.
func NewSimulateCommand(rootCmd *RootCommand, app *kingpin.Application) *SimulateCommand {
	c := &SimulateCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("simulate", "Run a synthetic workload through the orchestration core.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c SimulateCommand) Name() string { return c.Cmd.FullCommand() }

func (c SimulateCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	history, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: c.rootCmd.DBPath,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create history repository: %w", err)
	}
	defer history.Close()

	reg, err := registry.NewRegistry(registry.RegistryConfig{Logger: logger})
	if err != nil {
		return fmt.Errorf("could not create registry: %w", err)
	}

	mgr, err := scheduler.NewManager(scheduler.ManagerConfig{
		Registry: reg,
		History:  history,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create manager: %w", err)
	}

	exec, err := policy.NewExecutor(policy.ExecutorConfig{
		Observer: &policy.ObserverConfig{Start: true, Success: true, Timeout: true, Cancel: true, Error: true},
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("could not create executor: %w", err)
	}

	var wg sync.WaitGroup
	run := func(req scheduler.RunRequest, start scheduler.StartFunc) error {
		wg.Add(1)
		_, err := mgr.Run(ctx, req, func(ctx context.Context) error {
			defer wg.Done()
			return start(ctx)
		})
		if err != nil {
			wg.Done()
		}
		return err
	}

	// Two bulk copies on the fs-heavy group (limit 1): the second queues
	// until the first finishes.
	for i := 1; i <= 2; i++ {
		id := fmt.Sprintf("copy-%d", i)
		err := run(scheduler.RunRequest{
			ID:         id,
			Kind:       model.KindCopy,
			Panel:      "left",
			Group:      scheduler.GroupFSHeavy,
			TargetPath: fmt.Sprintf("/tmp/dest-%d", i),
		}, func(taskCtx context.Context) error {
			for pct := 20; pct <= 100; pct += 20 {
				select {
				case <-taskCtx.Done():
					return context.Cause(taskCtx)
				case <-time.After(150 * time.Millisecond):
				}
				mgr.OnProgress(model.ProgressEvent{
					ID:       id,
					Kind:     model.KindCopy,
					Phase:    model.PhaseRunning,
					Progress: float64(pct),
					Detail:   "copying files",
					Counters: &model.Counters{Files: int64(pct / 20), Bytes: int64(pct) * 1024},
				})
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("could not run %s: %w", id, err)
		}
	}

	// A folder scan driven through the policy executor, flaky on the
	// first attempt.
	err = run(scheduler.RunRequest{
		ID:    "scan-1",
		Kind:  model.KindFolderScan,
		Panel: "right",
		Group: scheduler.GroupScan,
	}, func(taskCtx context.Context) error {
		attempts := 0
		return exec.Execute(taskCtx, "folder-scan", func(ctx context.Context) error {
			attempts++
			if attempts == 1 {
				return model.TimeoutError{Timeout: 50 * time.Millisecond}
			}
			return nil
		}, policy.ExecOptions{})
	})
	if err != nil {
		return fmt.Errorf("could not run scan-1: %w", err)
	}

	// A background task that goes silent and is reaped by the liveness
	// window.
	err = run(scheduler.RunRequest{
		ID:      "stuck-1",
		Kind:    model.KindInvoke,
		Panel:   "left",
		Group:   scheduler.GroupBackground,
		Timeout: 300 * time.Millisecond,
	}, func(taskCtx context.Context) error {
		<-taskCtx.Done()
		return context.Cause(taskCtx)
	})
	if err != nil {
		return fmt.Errorf("could not run stuck-1: %w", err)
	}

	// A stale-gated thumbnail request superseded before it resolves.
	gate := abort.NewGate()
	receipt := gate.Advance()
	gate.Advance()
	err = run(scheduler.RunRequest{
		ID:    "thumbs-1",
		Kind:  model.KindThumbnail,
		Panel: "right",
		Group: scheduler.GroupUI,
	}, func(taskCtx context.Context) error {
		return exec.Execute(taskCtx, "thumbnail", func(ctx context.Context) error {
			return nil
		}, policy.ExecOptions{Receipt: &receipt})
	})
	if err != nil {
		return fmt.Errorf("could not run thumbs-1: %w", err)
	}

	wg.Wait()

	var p printer.Printer
	switch c.format {
	case "json":
		p = printer.NewJSONPrinter(c.rootCmd.Stdout)
	default: // table
		p = printer.NewTablePrinter(c.rootCmd.Stdout)
	}

	if err := p.PrintOperations(mgr.List("")); err != nil {
		return fmt.Errorf("could not print operations: %w", err)
	}

	return nil
}
