package maestro

import (
	"context"
	"sync"
	"time"
)

// rateLimitDecider wraps a Decider with proactive rate limiting.
// Decisions are blocked until the rate budget allows them to proceed.
type rateLimitDecider struct {
	inner Decider
	mu    sync.Mutex

	// RPM state: sliding window of request timestamps.
	rpm       int
	rpmWindow []time.Time

	// TPM state: sliding window of (timestamp, tokenCount) pairs.
	tpm       int
	tpmWindow []tpmEntry
}

type tpmEntry struct {
	at     time.Time
	tokens int
}

// RateLimitOption configures a rateLimitDecider.
type RateLimitOption func(*rateLimitDecider)

// RPM sets the maximum decisions per minute.
func RPM(n int) RateLimitOption {
	return func(r *rateLimitDecider) { r.rpm = n }
}

// TPM sets the maximum tokens per minute (input + output combined).
// Token counts come from whatever the backend reports via [ReportUsage]
// after each decision. This is a soft limit: the decision that exceeds
// the budget completes, but subsequent decisions block until the window
// slides.
func TPM(n int) RateLimitOption {
	return func(r *rateLimitDecider) { r.tpm = n }
}

// WithRateLimit wraps d with proactive rate limiting, keeping the
// orchestrator inside a model's quota. Compose with other wrappers:
//
//	decider := maestro.WithRateLimit(gemini.New(apiKey, model), maestro.RPM(15))
//	decider := maestro.WithRateLimit(maestro.WithRetry(gemini.New(apiKey, model)), maestro.RPM(15), maestro.TPM(250000))
func WithRateLimit(d Decider, opts ...RateLimitOption) Decider {
	r := &rateLimitDecider{inner: d}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *rateLimitDecider) Name() string { return r.inner.Name() }

func (r *rateLimitDecider) Decide(ctx context.Context, p Prompt) (Decision, error) {
	if err := r.waitForBudget(ctx); err != nil {
		return Decision{}, err
	}

	// Reuse a caller-installed usage collector so an outer observer still
	// sees the counts; install one of our own otherwise.
	usage, ok := ctx.Value(usageKey{}).(*TokenUsage)
	if !ok {
		ctx, usage = WithUsageCollector(ctx)
	}

	decision, err := r.inner.Decide(ctx, p)
	if err == nil {
		r.recordUsage(*usage)
	}
	return decision, err
}

// waitForBudget blocks until both RPM and TPM budgets allow a decision.
// Returns ctx.Err() if the context is cancelled while waiting.
func (r *rateLimitDecider) waitForBudget(ctx context.Context) error {
	for {
		r.mu.Lock()
		now := time.Now()
		cutoff := now.Add(-time.Minute)

		r.rpmWindow = pruneTime(r.rpmWindow, cutoff)
		r.tpmWindow = pruneTpm(r.tpmWindow, cutoff)

		rpmOK := r.rpm <= 0 || len(r.rpmWindow) < r.rpm

		tpmOK := true
		if r.tpm > 0 {
			var total int
			for _, e := range r.tpmWindow {
				total += e.tokens
			}
			tpmOK = total < r.tpm
		}

		if rpmOK && tpmOK {
			if r.rpm > 0 {
				r.rpmWindow = append(r.rpmWindow, now)
			}
			r.mu.Unlock()
			return nil
		}

		// Wait until the oldest entry in the blocking window expires.
		var wait time.Duration
		if !rpmOK && len(r.rpmWindow) > 0 {
			wait = r.rpmWindow[0].Add(time.Minute).Sub(now)
		}
		if !tpmOK && len(r.tpmWindow) > 0 {
			w := r.tpmWindow[0].at.Add(time.Minute).Sub(now)
			if wait == 0 || w < wait {
				wait = w
			}
		}
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		r.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// recordUsage adds token counts to the TPM sliding window.
func (r *rateLimitDecider) recordUsage(u TokenUsage) {
	if r.tpm <= 0 {
		return
	}
	total := u.InputTokens + u.OutputTokens
	if total <= 0 {
		return
	}
	r.mu.Lock()
	r.tpmWindow = append(r.tpmWindow, tpmEntry{at: time.Now(), tokens: total})
	r.mu.Unlock()
}

// pruneTime removes entries older than cutoff from a sorted time slice.
func pruneTime(s []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(s) && s[i].Before(cutoff) {
		i++
	}
	return s[i:]
}

// pruneTpm removes entries older than cutoff from a sorted tpmEntry slice.
func pruneTpm(s []tpmEntry, cutoff time.Time) []tpmEntry {
	i := 0
	for i < len(s) && s[i].at.Before(cutoff) {
		i++
	}
	return s[i:]
}

var _ Decider = (*rateLimitDecider)(nil)
