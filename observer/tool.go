package observer

import (
	"context"
	"encoding/json"
	"time"

	conductor "github.com/nevindra/conductor"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedTool wraps a conductor.Tool with OTEL instrumentation.
type ObservedTool struct {
	inner conductor.Tool
	inst  *Instruments
}

// WrapTool returns an instrumented tool.
func WrapTool(inner conductor.Tool, inst *Instruments) *ObservedTool {
	return &ObservedTool{inner: inner, inst: inst}
}

func (o *ObservedTool) Name() string { return o.inner.Name() }

func (o *ObservedTool) Schema() conductor.ToolSchema { return o.inner.Schema() }

func (o *ObservedTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "tool.execute", trace.WithAttributes(
		AttrToolName.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, args)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		AttrToolStatus.String(status),
		AttrToolResultLength.Int(len(result)),
	)

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(o.inner.Name()),
		attribute.String("status", status),
	))
	o.inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrToolName.String(o.inner.Name()),
	))

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("tool executed"))
	rec.AddAttributes(
		otellog.String("tool.name", o.inner.Name()),
		otellog.String("tool.status", status),
		otellog.Int("tool.result_length", len(result)),
		otellog.Float64("tool.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)

	return result, err
}

var _ conductor.Tool = (*ObservedTool)(nil)
