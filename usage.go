package maestro

import "context"

// TokenUsage carries model token counts for a single decider call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

type usageKey struct{}

// WithUsageCollector returns a context carrying a collector that a decider
// fills via [ReportUsage] during one call. The caller reads the collector
// after the call returns.
func WithUsageCollector(ctx context.Context) (context.Context, *TokenUsage) {
	u := &TokenUsage{}
	return context.WithValue(ctx, usageKey{}, u), u
}

// ReportUsage stores token counts into the collector in ctx, if one is
// present. Deciders that know their token counts call this once per model
// call; deciders that don't simply never call it.
func ReportUsage(ctx context.Context, usage TokenUsage) {
	if u, ok := ctx.Value(usageKey{}).(*TokenUsage); ok {
		*u = usage
	}
}
