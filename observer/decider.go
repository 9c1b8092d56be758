package observer

import (
	"context"
	"errors"
	"time"

	"github.com/maestrohq/maestro"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedDecider wraps a maestro.Decider with OTEL instrumentation.
type ObservedDecider struct {
	inner maestro.Decider
	inst  *Instruments
	model string
}

// WrapDecider returns an instrumented decider that emits traces, metrics, and logs.
func WrapDecider(inner maestro.Decider, model string, inst *Instruments) *ObservedDecider {
	return &ObservedDecider{inner: inner, inst: inst, model: model}
}

func (o *ObservedDecider) Name() string { return o.inner.Name() }

func (o *ObservedDecider) Decide(ctx context.Context, p maestro.Prompt) (maestro.Decision, error) {
	intent := p.Intent.String()
	spanAttrs := []attribute.KeyValue{
		AttrDeciderProvider.String(o.inner.Name()),
		AttrDeciderModel.String(o.model),
		AttrDeciderIntent.String(intent),
		AttrWorkflowName.String(p.WorkflowName),
	}
	// First-step decisions run before an instance exists.
	if p.Instance.ID != "" {
		spanAttrs = append(spanAttrs, AttrInstanceID.String(p.Instance.ID))
	}

	ctx, span := o.inst.Tracer.Start(ctx, "decider."+intent, trace.WithAttributes(spanAttrs...))
	defer span.End()
	start := time.Now()

	ctx, usage := maestro.WithUsageCollector(ctx)
	decision, err := o.inner.Decide(ctx, p)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = errorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(AttrNextStep.String(decision.NextStepName))
	}

	o.record(ctx, span, intent, status, durationMs, *usage)
	return decision, err
}

// errorKind buckets a decider failure for the status metric attribute.
func errorKind(err error) string {
	var safety *maestro.ErrSafetyBlocked
	var invalid *maestro.ErrInvalidDecision
	var api *maestro.ErrDeciderAPI
	var dec *maestro.ErrDecider
	switch {
	case errors.As(err, &safety):
		return "safety_blocked"
	case errors.As(err, &invalid):
		return "invalid_decision"
	case errors.As(err, &api):
		return "api_error"
	case errors.As(err, &dec):
		if dec.Timeout {
			return "timeout"
		}
		return "transport_error"
	}
	return "error"
}

func (o *ObservedDecider) record(ctx context.Context, span trace.Span, intent, status string, durationMs float64, usage maestro.TokenUsage) {
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)

	attrs := metric.WithAttributes(
		AttrDeciderProvider.String(o.inner.Name()),
		AttrDeciderModel.String(o.model),
		AttrDeciderIntent.String(intent),
	)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		AttrDeciderProvider.String(o.inner.Name()),
		AttrDeciderModel.String(o.model),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		AttrDeciderProvider.String(o.inner.Name()),
		AttrDeciderModel.String(o.model),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, cost, attrs)
	o.inst.DeciderRequests.Add(ctx, 1, metric.WithAttributes(
		AttrDeciderProvider.String(o.inner.Name()),
		AttrDeciderModel.String(o.model),
		AttrDeciderIntent.String(intent),
		attribute.String("status", status),
	))
	o.inst.DeciderDuration.Record(ctx, durationMs, attrs)

	// Structured log
	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("decision completed"))
	rec.AddAttributes(
		otellog.String("decider.provider", o.inner.Name()),
		otellog.String("decider.model", o.model),
		otellog.String("decider.intent", intent),
		otellog.Int("decider.tokens.input", usage.InputTokens),
		otellog.Int("decider.tokens.output", usage.OutputTokens),
		otellog.Float64("decider.cost_usd", cost),
		otellog.Float64("decider.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
