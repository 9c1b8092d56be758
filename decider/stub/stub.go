// Package stub implements a deterministic maestro.Decider for tests and
// offline development.
//
// With no configuration the client walks the workflow's step list in
// order: the first step on a start, the step after the instance's current
// step on an advance, and the client's assumed step on a resume. Scripted
// responses and per-step rules override the walk.
package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/maestrohq/maestro"
)

// Client implements maestro.Decider without calling any model.
// Safe for concurrent use.
type Client struct {
	mu    sync.Mutex
	queue []response
	rules map[string]maestro.Decision
	calls []maestro.Prompt
}

type response struct {
	decision maestro.Decision
	err      error
}

var _ maestro.Decider = (*Client)(nil)

// New creates a stub client with walker defaults and no scripted responses.
func New() *Client {
	return &Client{rules: make(map[string]maestro.Decision)}
}

// Name returns "stub".
func (c *Client) Name() string { return "stub" }

// On registers a fixed decision for an intent and step pair. The step is
// the instance's current step for next-step calls, the assumed step for
// reconcile calls, and "" for first-step calls.
func (c *Client) On(intent maestro.Intent, step string, d maestro.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules[ruleKey(intent, step)] = d
}

// Enqueue schedules a decision for the next Decide call. Queued responses
// take priority over rules and the walker, in FIFO order.
func (c *Client) Enqueue(d maestro.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, response{decision: d})
}

// EnqueueError schedules an error for the next Decide call.
func (c *Client) EnqueueError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, response{err: err})
}

// Calls returns a copy of every prompt seen so far.
func (c *Client) Calls() []maestro.Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]maestro.Prompt(nil), c.calls...)
}

// Decide returns the next queued response if any, then any matching rule,
// then the deterministic walk of the workflow's step list.
func (c *Client) Decide(ctx context.Context, p maestro.Prompt) (maestro.Decision, error) {
	if err := ctx.Err(); err != nil {
		return maestro.Decision{}, err
	}

	c.mu.Lock()
	c.calls = append(c.calls, p)
	if len(c.queue) > 0 {
		r := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		return r.decision, r.err
	}
	d, ok := c.rules[ruleKey(p.Intent, ruleStep(p))]
	c.mu.Unlock()

	if ok {
		return d, nil
	}
	return walk(p), nil
}

func ruleKey(intent maestro.Intent, step string) string {
	return fmt.Sprintf("%s|%s", intent, step)
}

// ruleStep picks the prompt field rules are keyed on for each intent.
func ruleStep(p maestro.Prompt) string {
	switch p.Intent {
	case maestro.IntentNextStep:
		return p.Instance.CurrentStepName
	case maestro.IntentReconcile:
		return p.AssumedStep
	}
	return ""
}

// walk advances linearly through the step list.
func walk(p maestro.Prompt) maestro.Decision {
	switch p.Intent {
	case maestro.IntentFirstStep:
		if len(p.Steps) > 0 {
			return decision(p.Steps[0], "starting at the first step")
		}
		return decision(maestro.StepFinish, "workflow has no steps")

	case maestro.IntentReconcile:
		if step, ok := maestro.CanonicalStep(p.Steps, p.AssumedStep); ok {
			return decision(step, fmt.Sprintf("resuming at assumed step %q", p.AssumedStep))
		}
		if step, ok := maestro.CanonicalStep(p.Steps, p.Instance.CurrentStepName); ok {
			return decision(step, "assumed step unknown, keeping the stored step")
		}
		return decision(maestro.StepFinish, "no recognizable step to resume")

	default: // IntentNextStep
		current, ok := maestro.CanonicalStep(p.Steps, p.Instance.CurrentStepName)
		if ok {
			for i, s := range p.Steps {
				if s == current && i+1 < len(p.Steps) {
					return decision(p.Steps[i+1], fmt.Sprintf("advancing past %q", current))
				}
			}
		}
		return decision(maestro.StepFinish, "no further steps")
	}
}

func decision(step, reasoning string) maestro.Decision {
	return maestro.Decision{
		NextStepName:   step,
		UpdatedContext: []maestro.ContextUpdate{},
		Reasoning:      "stub: " + reasoning,
	}
}
