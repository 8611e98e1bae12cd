package dbt

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// ====================================================================================
// The dbt trigger. Once a run has materialized enough of the expected units,
// the transformation project is invoked as a subprocess in the same order an
// operator would run it by hand.
// ====================================================================================

// Command is one dbt subcommand.
type Command string

const (
	CommandClean     Command = "clean"
	CommandDeps      Command = "deps"
	CommandDebug     Command = "debug"
	CommandFreshness Command = "source freshness"
	CommandRun       Command = "run"
	CommandTest      Command = "test"
	CommandDocs      Command = "docs generate"
)

// ErrIngestionIncomplete reports that the run did not materialize enough units
// to justify transforming.
var ErrIngestionIncomplete = errors.New("ingestion incomplete, transformation not triggered")

// RunnerConfig locates the dbt project.
type RunnerConfig struct {
	// ProjectDir is the dbt project root; commands run with this working
	// directory.
	ProjectDir string

	// Bin is the dbt executable. Default "dbt".
	Bin string

	// Timeout bounds each individual command. Default 30m.
	Timeout time.Duration

	// MinCompletionPercent is the materialization threshold below which
	// TransformAll refuses to run. Default 100.
	MinCompletionPercent float64
}

// Runner invokes dbt commands.
type Runner struct {
	cfg    RunnerConfig
	logger zerolog.Logger

	// runFunc executes one prepared command line; tests substitute it.
	runFunc func(ctx context.Context, bin string, args []string, dir string) ([]byte, error)
}

// NewRunner creates a runner for the configured project.
func NewRunner(cfg RunnerConfig, logger zerolog.Logger) (*Runner, error) {
	if cfg.ProjectDir == "" {
		return nil, errors.New("dbt project directory is required")
	}
	if cfg.Bin == "" {
		cfg.Bin = "dbt"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if cfg.MinCompletionPercent <= 0 {
		cfg.MinCompletionPercent = 100
	}
	return &Runner{
		cfg:    cfg,
		logger: logger.With().Str("component", "DBTRunner").Logger(),
		runFunc: func(ctx context.Context, bin string, args []string, dir string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, bin, args...)
			cmd.Dir = dir
			return cmd.CombinedOutput()
		},
	}, nil
}

// Invoke runs one dbt command with optional extra arguments.
func (r *Runner) Invoke(ctx context.Context, command Command, extraArgs ...string) error {
	args := strings.Fields(string(command))
	args = append(args, extraArgs...)

	cmdCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	started := time.Now()
	output, err := r.runFunc(cmdCtx, r.cfg.Bin, args, r.cfg.ProjectDir)
	if err != nil {
		r.logger.Error().
			Err(err).
			Str("command", string(command)).
			Str("output", string(output)).
			Msg("dbt command failed.")
		return fmt.Errorf("dbt %s: %w", command, err)
	}

	r.logger.Info().
		Str("command", string(command)).
		Dur("elapsed", time.Since(started)).
		Msg("dbt command finished.")
	return nil
}

// TransformAll runs the full transformation sequence, gated on the run
// summary's materialization. Freshness failures are logged but do not stop the
// sequence: stale sources are a warning condition, the models can still build.
func (r *Runner) TransformAll(ctx context.Context, summary *types.RunSummary) error {
	if summary == nil {
		return errors.New("run summary cannot be nil")
	}
	if summary.CompletionPercent < r.cfg.MinCompletionPercent {
		r.logger.Warn().
			Float64("completion_percent", summary.CompletionPercent).
			Float64("threshold", r.cfg.MinCompletionPercent).
			Msg("Materialization below threshold, skipping transformation.")
		return fmt.Errorf("%w: %.1f%% materialized, need %.1f%%",
			ErrIngestionIncomplete, summary.CompletionPercent, r.cfg.MinCompletionPercent)
	}

	for _, command := range []Command{CommandClean, CommandDeps, CommandDebug} {
		if err := r.Invoke(ctx, command); err != nil {
			return err
		}
	}

	if err := r.Invoke(ctx, CommandFreshness); err != nil {
		r.logger.Warn().Err(err).Msg("Source freshness check failed, continuing.")
	}

	for _, command := range []Command{CommandRun, CommandTest, CommandDocs} {
		if err := r.Invoke(ctx, command); err != nil {
			return err
		}
	}

	r.logger.Info().Str("run_id", summary.RunID).Msg("Transformation sequence finished.")
	return nil
}
