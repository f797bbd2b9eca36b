package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/orgsync/pkg/client"
	"github.com/openfroyo/orgsync/pkg/engine"
	"github.com/openfroyo/orgsync/pkg/filter"
	"github.com/openfroyo/orgsync/pkg/policy"
	"github.com/openfroyo/orgsync/pkg/report"
	"github.com/openfroyo/orgsync/pkg/resources"
	"github.com/openfroyo/orgsync/pkg/state"
	"github.com/openfroyo/orgsync/pkg/stores"
	"github.com/openfroyo/orgsync/pkg/telemetry"
)

// phaseFunc runs one orchestrator phase.
type phaseFunc func(o *engine.Orchestrator, ctx context.Context) (*engine.RunResult, error)

// clientsFor returns the accounts phase talks to.
func clientsFor(phase engine.Phase) []engine.Origin {
	switch phase {
	case engine.PhaseImport:
		return []engine.Origin{engine.OriginSource}
	case engine.PhaseSync, engine.PhaseReset:
		return []engine.Origin{engine.OriginDestination}
	case engine.PhaseMigrate:
		return []engine.Origin{engine.OriginSource, engine.OriginDestination}
	default:
		return nil
	}
}

// runPhase wires the orchestrator from the loaded configuration, runs fn and
// renders the result.
func runPhase(cmd *cobra.Command, a *app, phase engine.Phase, fn phaseFunc) (err error) {
	cfg := a.cfg
	logger := a.logger()

	format, err := report.ParseFormat(cfg.Output)
	if err != nil {
		return err
	}

	op := telemetry.StartOperation(cmd.Context(), "orgsync."+string(phase),
		telemetry.AttrCommand.String(cmd.Name()))
	defer func() { op.End(err) }()
	ctx := op.Ctx

	adapters, err := resources.Build(cfg.Resources, cfg.ForceMissingDependencies)
	if err != nil {
		return err
	}

	options := []engine.Option{
		engine.WithMetrics(a.tel.Metrics),
		engine.WithTracer(a.tel.Tracer.Tracer()),
		engine.WithConfirmer(newPromptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr())),
	}

	for _, origin := range clientsFor(phase) {
		c, err := client.New(string(origin), cfg.ClientConfig(origin), logger)
		if err != nil {
			return fmt.Errorf("failed to create %s client: %w", origin, err)
		}
		if origin == engine.OriginSource {
			options = append(options, engine.WithSourceClient(c))
		} else {
			options = append(options, engine.WithDestinationClient(c))
		}
	}

	if phase.IsWrite() {
		guard, err := policy.NewEngine(logger)
		if err != nil {
			return fmt.Errorf("failed to create policy engine: %w", err)
		}
		if len(cfg.Policies) > 0 {
			if err := guard.LoadPolicies(ctx, cfg.Policies); err != nil {
				return err
			}
		}
		options = append(options, engine.WithWriteGuard(guard))
	}

	if len(cfg.Filters) > 0 {
		operator, err := filter.ParseOperator(cfg.FilterOperator)
		if err != nil {
			return err
		}
		set, err := filter.New(cfg.Filters, operator)
		if err != nil {
			return err
		}
		if !set.Empty() {
			options = append(options, engine.WithFilter(set))
		}
	}

	if cfg.History.Enabled {
		store, err := openHistory(ctx, cfg.History.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		options = append(options, engine.WithRecorder(stores.NewRecorder(store)))
	}

	orch, err := engine.NewOrchestrator(adapters, state.NewFileStore(cfg.StateDir, logger), logger,
		cfg.EngineOptions(), options...)
	if err != nil {
		return err
	}

	result, runErr := fn(orch, ctx)
	if result != nil {
		op.SetAttributes(
			telemetry.AttrRunID.String(result.RunID),
			telemetry.AttrRunStatus.String(string(result.Status)),
		)
		op.Logger.WithRunID(result.RunID).WithFields(map[string]interface{}{
			"status":      string(result.Status),
			"errors":      result.ErrorCount,
			"duration_ms": op.Duration().Milliseconds(),
		}).Info("Run finished")
		if err := report.Render(cmd.OutOrStdout(), result, format); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if result.ExitCode() != 0 {
		return ErrRunFailed
	}
	return nil
}

// openHistory opens the run ledger, creating its directory.
func openHistory(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path != stores.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	store, err := stores.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history %s: %w", path, err)
	}
	return store, nil
}

// promptConfirmer asks on out and reads the answer from in.
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func newPromptConfirmer(in io.Reader, out io.Writer) *promptConfirmer {
	return &promptConfirmer{in: bufio.NewReader(in), out: out}
}

// Confirm implements engine.Confirmer. Only y and yes approve.
func (p *promptConfirmer) Confirm(prompt string) (bool, error) {
	if _, err := fmt.Fprintf(p.out, "%s [y/N]: ", prompt); err != nil {
		return false, err
	}
	answer, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
