package observer

import (
	"context"
	"time"

	conductor "github.com/nevindra/conductor"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedAdapter wraps a conductor.Adapter with OTEL instrumentation.
type ObservedAdapter struct {
	inner conductor.Adapter
	inst  *Instruments
}

// WrapAdapter returns an instrumented adapter that emits traces, metrics, and logs.
func WrapAdapter(inner conductor.Adapter, inst *Instruments) *ObservedAdapter {
	return &ObservedAdapter{inner: inner, inst: inst}
}

func (o *ObservedAdapter) Describe() conductor.ModelSpec { return o.inner.Describe() }

func (o *ObservedAdapter) Generate(ctx context.Context, req conductor.ChatRequest) (conductor.Envelope, error) {
	model := o.inner.Describe().ID
	spanAttrs := []trace.SpanStartOption{
		trace.WithAttributes(AttrModelID.String(model)),
	}
	spanName := "model.generate"
	if len(req.Tools) > 0 {
		toolNames := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			toolNames[i] = t.Name
		}
		spanAttrs = append(spanAttrs, trace.WithAttributes(
			AttrToolCount.Int(len(req.Tools)),
			AttrToolNames.StringSlice(toolNames),
		))
		spanName = "model.generate_with_tools"
	}

	ctx, span := o.inst.Tracer.Start(ctx, spanName, spanAttrs...)
	defer span.End()
	start := time.Now()

	env, err := o.inner.Generate(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.record(ctx, span, model, status, durationMs, env.Usage)
	return env, err
}

func (o *ObservedAdapter) record(ctx context.Context, span trace.Span, model, status string, durationMs float64, usage conductor.Usage) {
	cost := o.inst.Cost.Calculate(model, usage.InputTokens, usage.OutputTokens)

	attrs := metric.WithAttributes(AttrModelID.String(model))

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrModelID.String(model),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrModelID.String(model),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.ModelRequests.Add(ctx, 1, metric.WithAttributes(
		AttrModelID.String(model),
		attribute.String("status", status),
	))
	o.inst.ModelDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("model call completed"))
	rec.AddAttributes(
		otellog.String("model.id", model),
		otellog.Int("model.tokens.input", usage.InputTokens),
		otellog.Int("model.tokens.output", usage.OutputTokens),
		otellog.Float64("model.cost_usd", cost),
		otellog.Float64("model.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}

var _ conductor.Adapter = (*ObservedAdapter)(nil)
