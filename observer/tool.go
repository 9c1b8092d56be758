package observer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/maestrohq/maestro/mcp"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// WrapTool returns a copy of h whose Execute emits traces, metrics, and logs.
func WrapTool(h mcp.ToolHandler, inst *Instruments) mcp.ToolHandler {
	name := h.Definition.Name
	inner := h.Execute

	h.Execute = func(ctx context.Context, args json.RawMessage) mcp.ToolCallResult {
		ctx, span := inst.Tracer.Start(ctx, "tool.call", trace.WithAttributes(
			AttrToolName.String(name),
		))
		defer span.End()
		start := time.Now()

		result := inner(ctx, args)

		durationMs := float64(time.Since(start).Milliseconds())
		status := "ok"
		if result.IsError {
			status = "error"
			span.SetStatus(codes.Error, result.Text())
		}

		span.SetAttributes(
			AttrToolStatus.String(status),
			AttrToolResultLength.Int(len(result.Text())),
		)

		inst.ToolCalls.Add(ctx, 1, metric.WithAttributes(
			AttrToolName.String(name),
			attribute.String("status", status),
		))
		inst.ToolDuration.Record(ctx, durationMs, metric.WithAttributes(
			AttrToolName.String(name),
		))

		// Structured log
		var rec otellog.Record
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetBody(otellog.StringValue("tool call completed"))
		rec.AddAttributes(
			otellog.String("tool.name", name),
			otellog.String("tool.status", status),
			otellog.Int("tool.result_length", len(result.Text())),
			otellog.Float64("tool.duration_ms", durationMs),
		)
		inst.Logger.Emit(ctx, rec)

		return result
	}
	return h
}
