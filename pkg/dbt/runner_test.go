package dbt

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

type invocation struct {
	bin  string
	args string
	dir  string
}

func newTestRunner(t *testing.T, failOn string) (*Runner, *[]invocation) {
	t.Helper()
	runner, err := NewRunner(RunnerConfig{ProjectDir: "/srv/dbt/bikeshare"}, zerolog.Nop())
	require.NoError(t, err)

	var calls []invocation
	runner.runFunc = func(_ context.Context, bin string, args []string, dir string) ([]byte, error) {
		joined := strings.Join(args, " ")
		calls = append(calls, invocation{bin: bin, args: joined, dir: dir})
		if failOn != "" && joined == failOn {
			return []byte("Compilation Error"), errors.New("exit status 1")
		}
		return []byte("Done."), nil
	}
	return runner, &calls
}

func completeSummary() *types.RunSummary {
	return &types.RunSummary{RunID: "run-1", ExpectedUnits: 4, Succeeded: 4, CompletionPercent: 100}
}

func TestRunner_TransformAllSequence(t *testing.T) {
	runner, calls := newTestRunner(t, "")

	err := runner.TransformAll(context.Background(), completeSummary())
	require.NoError(t, err)

	var commands []string
	for _, call := range *calls {
		assert.Equal(t, "dbt", call.bin)
		assert.Equal(t, "/srv/dbt/bikeshare", call.dir)
		commands = append(commands, call.args)
	}
	assert.Equal(t, []string{
		"clean", "deps", "debug", "source freshness", "run", "test", "docs generate",
	}, commands)
}

func TestRunner_IncompleteRunGated(t *testing.T) {
	runner, calls := newTestRunner(t, "")

	summary := &types.RunSummary{RunID: "run-2", ExpectedUnits: 4, Succeeded: 3, CompletionPercent: 75}
	err := runner.TransformAll(context.Background(), summary)

	require.ErrorIs(t, err, ErrIngestionIncomplete)
	assert.Empty(t, *calls, "no dbt command may run on incomplete ingestion")
}

func TestRunner_ThresholdAllowsPartial(t *testing.T) {
	runner, err := NewRunner(RunnerConfig{ProjectDir: "/srv/dbt/bikeshare", MinCompletionPercent: 50}, zerolog.Nop())
	require.NoError(t, err)
	var calls int
	runner.runFunc = func(context.Context, string, []string, string) ([]byte, error) {
		calls++
		return nil, nil
	}

	summary := &types.RunSummary{ExpectedUnits: 4, Succeeded: 3, CompletionPercent: 75}
	require.NoError(t, runner.TransformAll(context.Background(), summary))
	assert.Equal(t, 7, calls)
}

func TestRunner_FreshnessFailureIsNonFatal(t *testing.T) {
	runner, calls := newTestRunner(t, "source freshness")

	err := runner.TransformAll(context.Background(), completeSummary())
	require.NoError(t, err)

	last := (*calls)[len(*calls)-1]
	assert.Equal(t, "docs generate", last.args, "sequence continues past freshness")
}

func TestRunner_RunFailureStopsSequence(t *testing.T) {
	runner, calls := newTestRunner(t, "run")

	err := runner.TransformAll(context.Background(), completeSummary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dbt run")

	last := (*calls)[len(*calls)-1]
	assert.Equal(t, "run", last.args, "nothing runs after the failure")
}

func TestRunner_InvokeExtraArgs(t *testing.T) {
	runner, calls := newTestRunner(t, "")

	require.NoError(t, runner.Invoke(context.Background(), CommandRun, "--select", "staging"))
	assert.Equal(t, "run --select staging", (*calls)[0].args)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(RunnerConfig{}, zerolog.Nop())
	assert.Error(t, err)

	runner, err := NewRunner(RunnerConfig{ProjectDir: "/srv/dbt"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "dbt", runner.cfg.Bin)
	assert.InDelta(t, 100.0, runner.cfg.MinCompletionPercent, 0.001)
}

func TestRunner_NilSummary(t *testing.T) {
	runner, _ := newTestRunner(t, "")
	assert.Error(t, runner.TransformAll(context.Background(), nil))
}
