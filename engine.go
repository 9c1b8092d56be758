package maestro

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// --- Per-instance serialization ---

// instanceLocks serializes transitions per instance ID. Entries are
// refcounted and removed once the last holder releases, so the map stays
// bounded by in-flight requests rather than by instances ever seen.
type instanceLocks struct {
	mu sync.Mutex
	m  map[string]*instanceLock
}

type instanceLock struct {
	sync.Mutex
	refs int
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{m: make(map[string]*instanceLock)}
}

func (r *instanceLocks) lock(id string) *instanceLock {
	r.mu.Lock()
	l := r.m[id]
	if l == nil {
		l = &instanceLock{}
		r.m[id] = l
	}
	l.refs++
	r.mu.Unlock()
	l.Lock()
	return l
}

func (r *instanceLocks) unlock(id string, l *instanceLock) {
	l.Unlock()
	r.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(r.m, id)
	}
	r.mu.Unlock()
}

// --- Engine ---

// defaultHistoryLimit caps the recent-history slice handed to the decider,
// bounding prompt size.
const defaultHistoryLimit = 5

// Engine drives workflow instances: it loads definitions, asks the decider
// for each transition, and commits the history entry and instance update
// as one unit. Transitions on a single instance are serialized; distinct
// instances proceed independently.
type Engine struct {
	defs    Definitions
	store   Store
	decider Decider

	logger       *slog.Logger
	historyLimit int
	locks        *instanceLocks
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// EngineLogger sets the structured logger. If not set, a no-op logger is used.
func EngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// EngineHistoryLimit sets how many recent history entries accompany each
// decider call (default: 5). Zero or negative means all.
func EngineHistoryLimit(n int) EngineOption {
	return func(e *Engine) { e.historyLimit = n }
}

// NewEngine wires a definition source, a store, and a decider into an Engine.
func NewEngine(defs Definitions, store Store, decider Decider, opts ...EngineOption) *Engine {
	e := &Engine{
		defs:         defs,
		store:        store,
		decider:      decider,
		historyLimit: defaultHistoryLimit,
		locks:        newInstanceLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	return e
}

// Start creates a new instance of the named workflow. The decider picks
// the entry step before anything is persisted, so a failed decision leaves
// no record behind. No history entry is written at start; the first entry
// is whatever the client reports on the subsequent Advance.
func (e *Engine) Start(ctx context.Context, workflow string, initial map[string]any) (Transition, error) {
	def, err := e.defs.Load(ctx, workflow)
	if err != nil {
		return Transition{}, err
	}

	decision, err := e.decide(ctx, Prompt{
		Intent:       IntentFirstStep,
		WorkflowName: workflow,
		Blob:         def.Blob,
		Steps:        def.StepIDs(),
	})
	if err != nil {
		return Transition{}, err
	}

	now := time.Now()
	inst := WorkflowInstance{
		ID:              NewID(),
		WorkflowName:    workflow,
		CurrentStepName: decision.NextStepName,
		Status:          statusAfter(StatusRunning, decision),
		Context:         ApplyUpdates(initial, decision.UpdatedContext),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if inst.Status == StatusCompleted {
		inst.CompletedAt = &now
	}

	l := e.locks.lock(inst.ID)
	err = e.store.CreateInstance(ctx, inst)
	e.locks.unlock(inst.ID, l)
	if err != nil {
		return Transition{}, err
	}

	e.logger.Info("engine: instance started",
		"instance_id", inst.ID,
		"workflow", workflow,
		"first_step", inst.CurrentStepName,
		"status", inst.Status)

	tr, err := e.transitionFor(def, inst)
	if err != nil {
		e.failInstance(ctx, inst, err)
		return Transition{}, err
	}
	return tr, nil
}

// Advance records the client's report on the current step and moves the
// instance to whatever step the decider picks next. A terminal instance is
// returned as-is: no history, no error.
func (e *Engine) Advance(ctx context.Context, id string, report Report, updates map[string]any) (Transition, error) {
	return e.transact(ctx, id, transitionRequest{
		intent:  IntentNextStep,
		report:  report,
		updates: updates,
	})
}

// Resume re-anchors a reconnecting client. The history entry records the
// client's assumed step with outcome RESUMING, and the decider sees both
// the persisted and the assumed position when picking the next step.
func (e *Engine) Resume(ctx context.Context, id, assumedStep string, report Report, updates map[string]any) (Transition, error) {
	return e.transact(ctx, id, transitionRequest{
		intent:      IntentReconcile,
		assumedStep: assumedStep,
		report:      report,
		updates:     updates,
	})
}

// ListWorkflows returns the workflow names the definition source serves.
func (e *Engine) ListWorkflows(ctx context.Context) ([]string, error) {
	return e.defs.List(ctx)
}

// Status returns the persisted instance record.
func (e *Engine) Status(ctx context.Context, id string) (WorkflowInstance, error) {
	return e.store.GetInstance(ctx, id)
}

// History returns the instance's event log, most recent first.
func (e *Engine) History(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	if _, err := e.store.GetInstance(ctx, id); err != nil {
		return nil, err
	}
	return e.store.GetHistory(ctx, id, limit)
}

// Instances returns persisted instances newest-first, optionally filtered
// by workflow name. limit <= 0 returns all.
func (e *Engine) Instances(ctx context.Context, workflow string, limit int) ([]WorkflowInstance, error) {
	return e.store.ListInstances(ctx, workflow, limit)
}

// Delete removes an instance and its history.
func (e *Engine) Delete(ctx context.Context, id string) error {
	l := e.locks.lock(id)
	defer e.locks.unlock(id, l)
	return e.store.DeleteInstance(ctx, id)
}

// transitionRequest carries the per-call inputs shared by Advance and Resume.
type transitionRequest struct {
	intent      Intent
	assumedStep string
	report      Report
	updates     map[string]any
}

// transact runs one serialized advance/resume transition.
func (e *Engine) transact(ctx context.Context, id string, req transitionRequest) (Transition, error) {
	l := e.locks.lock(id)
	defer e.locks.unlock(id, l)

	inst, err := e.store.GetInstance(ctx, id)
	if err != nil {
		return Transition{}, err
	}

	if inst.Status.Terminal() {
		e.logger.Info("engine: transition on terminal instance",
			"instance_id", id,
			"status", inst.Status)
		return terminalTransition(inst), nil
	}

	working := MergeContext(inst.Context, req.updates)

	stepName := inst.CurrentStepName
	outcome := req.report.Status
	if outcome == "" {
		outcome = "unknown"
	}
	if req.intent == IntentReconcile {
		stepName = req.assumedStep
		outcome = OutcomeResuming
	}
	rawReport, err := json.Marshal(req.report)
	if err != nil {
		return Transition{}, fmt.Errorf("engine: encode report: %w", err)
	}

	def, err := e.defs.Load(ctx, inst.WorkflowName)
	if err != nil {
		e.failInstance(ctx, inst, err)
		return Transition{}, err
	}

	history, err := e.store.GetHistory(ctx, id, e.historyLimit)
	if err != nil {
		return Transition{}, err
	}

	report := req.report
	prompt := Prompt{
		Intent:       req.intent,
		WorkflowName: inst.WorkflowName,
		Blob:         def.Blob,
		Steps:        def.StepIDs(),
		Instance:     inst,
		History:      history,
		Report:       &report,
	}
	if req.intent == IntentReconcile {
		prompt.AssumedStep = req.assumedStep
	}
	decision, err := e.decide(ctx, prompt)
	if err != nil {
		e.failInstance(ctx, inst, err)
		return Transition{}, err
	}

	now := time.Now()
	entry := HistoryEntry{
		InstanceID:         id,
		Timestamp:          now,
		StepName:           stepName,
		UserReport:         rawReport,
		OutcomeStatus:      outcome,
		DeterminedNextStep: decision.NextStepName,
	}

	updated := inst
	updated.CurrentStepName = decision.NextStepName
	updated.Status = statusAfter(inst.Status, decision)
	updated.Context = ApplyUpdates(working, decision.UpdatedContext)
	updated.UpdatedAt = now
	if updated.Status == StatusCompleted && inst.CompletedAt == nil {
		updated.CompletedAt = &now
	}

	if err := e.store.CommitTransition(ctx, entry, updated); err != nil {
		return Transition{}, err
	}

	e.logger.Info("engine: transition committed",
		"instance_id", id,
		"intent", req.intent.String(),
		"from_step", stepName,
		"to_step", updated.CurrentStepName,
		"status", updated.Status)

	tr, err := e.transitionFor(def, updated)
	if err != nil {
		// The committed step has no definition. Only a decider that skips
		// step validation can get here; strand the instance as FAILED
		// rather than leave it pointing nowhere.
		e.failInstance(ctx, updated, err)
		return Transition{}, err
	}
	return tr, nil
}

// decide calls the decider and logs the outcome.
func (e *Engine) decide(ctx context.Context, p Prompt) (Decision, error) {
	start := time.Now()
	d, err := e.decider.Decide(ctx, p)
	if err != nil {
		e.logger.Error("engine: decider call failed",
			"decider", e.decider.Name(),
			"intent", p.Intent.String(),
			"workflow", p.WorkflowName,
			"error", err)
		return Decision{}, err
	}
	e.logger.Debug("engine: decider call",
		"decider", e.decider.Name(),
		"intent", p.Intent.String(),
		"workflow", p.WorkflowName,
		"next_step", d.NextStepName,
		"duration", time.Since(start))
	return d, nil
}

// failInstance flips the instance to FAILED after a definition or decider
// failure. Best effort: a store error here is logged and the original
// failure still surfaces. Skipped when the caller has already gone away.
func (e *Engine) failInstance(ctx context.Context, inst WorkflowInstance, cause error) {
	if ctx.Err() != nil {
		return
	}
	inst.Status = StatusFailed
	inst.UpdatedAt = time.Now()
	if err := e.store.UpdateInstance(context.WithoutCancel(ctx), inst); err != nil {
		e.logger.Error("engine: could not mark instance FAILED",
			"instance_id", inst.ID,
			"cause", cause,
			"error", err)
		return
	}
	e.logger.Warn("engine: instance marked FAILED",
		"instance_id", inst.ID,
		"cause", cause)
}

// statusAfter derives the post-decision status. FINISH forces COMPLETED,
// an explicit suggestion wins otherwise, and absent both the prior status
// is kept.
func statusAfter(prior Status, d Decision) Status {
	if d.NextStepName == StepFinish {
		return StatusCompleted
	}
	if d.StatusSuggestion != "" {
		return d.StatusSuggestion
	}
	return prior
}

// transitionFor assembles the caller-facing triple for a committed state.
func (e *Engine) transitionFor(def *WorkflowDefinition, inst WorkflowInstance) (Transition, error) {
	if inst.Status.Terminal() {
		return terminalTransition(inst), nil
	}
	step, ok := def.FindStep(inst.CurrentStepName)
	if !ok {
		return Transition{}, &ErrStepNotFound{Workflow: inst.WorkflowName, Step: inst.CurrentStepName}
	}
	return Transition{
		InstanceID: inst.ID,
		NextStep: NextStep{
			StepName:     step.ID,
			Instructions: step.Instructions,
		},
		CurrentContext: CloneContext(inst.Context),
	}, nil
}

// terminalTransition reports a terminal instance back without touching it.
func terminalTransition(inst WorkflowInstance) Transition {
	instructions := CompletedInstructions
	if inst.Status == StatusFailed {
		instructions = FailedInstructions
	}
	return Transition{
		InstanceID: inst.ID,
		NextStep: NextStep{
			StepName:     inst.CurrentStepName,
			Instructions: instructions,
		},
		CurrentContext: CloneContext(inst.Context),
	}
}
