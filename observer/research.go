package observer

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// RecordResearch records one completed (or failed) deep research run.
func (i *Instruments) RecordResearch(ctx context.Context, planID, status string, agents int, durationMs float64) {
	i.ResearchRuns.Add(ctx, 1, metric.WithAttributes(
		AttrPlanID.String(planID),
		AttrRunStatus.String(status),
		AttrAgentCount.Int(agents),
	))
	i.ResearchDuration.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String("research.status", status),
	))
}
