package syncengine

import (
	"sort"
	"time"

	"github.com/illmade-knight/go-lakesync/pkg/types"
)

// buildSummary aggregates per-unit outcomes into the run summary. Outcomes are
// sorted by key so the summary is stable regardless of worker scheduling.
func buildSummary(runID string, startedAt, finishedAt time.Time, expected int, outcomes []types.IngestionOutcome) *types.RunSummary {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Key < outcomes[j].Key })

	summary := &types.RunSummary{
		RunID:         runID,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		ExpectedUnits: expected,
		Outcomes:      outcomes,
	}

	for _, outcome := range outcomes {
		switch outcome.Status {
		case types.StatusSuccess:
			summary.Succeeded++
			summary.TotalBytes += outcome.TargetBytes
		case types.StatusSkippedExists:
			summary.SkippedExists++
		case types.StatusSourceMissing:
			summary.SourceMissing++
		case types.StatusFailed:
			summary.Failed++
		}
	}

	if expected > 0 {
		summary.CompletionPercent = float64(summary.Materialized()) / float64(expected) * 100
	}
	return summary
}
