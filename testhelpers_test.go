package maestro

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// --- In-memory Store ---

// memStore is a full in-memory Store with the same transactional
// semantics expected from the durable implementations. Error fields, when
// set, make the matching method fail without touching state.
type memStore struct {
	mu        sync.Mutex
	instances map[string]WorkflowInstance
	history   []HistoryEntry
	nextID    int64

	createErr  error
	getErr     error
	updateErr  error
	historyErr error
	commitErr  error
}

func newMemStore() *memStore {
	return &memStore{instances: make(map[string]WorkflowInstance), nextID: 1}
}

func (s *memStore) CreateInstance(_ context.Context, inst WorkflowInstance) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; ok {
		return fmt.Errorf("duplicate instance %q", inst.ID)
	}
	inst.Context = CloneContext(inst.Context)
	s.instances[inst.ID] = inst
	return nil
}

func (s *memStore) GetInstance(_ context.Context, id string) (WorkflowInstance, error) {
	if s.getErr != nil {
		return WorkflowInstance{}, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return WorkflowInstance{}, &ErrInstanceNotFound{ID: id}
	}
	inst.Context = CloneContext(inst.Context)
	return inst, nil
}

func (s *memStore) UpdateInstance(_ context.Context, inst WorkflowInstance) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; !ok {
		return &ErrInstanceNotFound{ID: inst.ID}
	}
	inst.Context = CloneContext(inst.Context)
	s.instances[inst.ID] = inst
	return nil
}

func (s *memStore) DeleteInstance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return &ErrInstanceNotFound{ID: id}
	}
	delete(s.instances, id)
	kept := s.history[:0]
	for _, h := range s.history {
		if h.InstanceID != id {
			kept = append(kept, h)
		}
	}
	s.history = kept
	return nil
}

func (s *memStore) ListInstances(_ context.Context, workflow string, limit int) ([]WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WorkflowInstance
	for _, inst := range s.instances {
		if workflow == "" || inst.WorkflowName == workflow {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) GetHistory(_ context.Context, instanceID string, limit int) ([]HistoryEntry, error) {
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HistoryEntry
	for i := len(s.history) - 1; i >= 0; i-- {
		if s.history[i].InstanceID != instanceID {
			continue
		}
		out = append(out, s.history[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) CommitTransition(_ context.Context, entry HistoryEntry, inst WorkflowInstance) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[inst.ID]; !ok {
		return &ErrInstanceNotFound{ID: inst.ID}
	}
	entry.ID = s.nextID
	s.nextID++
	s.history = append(s.history, entry)
	inst.Context = CloneContext(inst.Context)
	s.instances[inst.ID] = inst
	return nil
}

func (s *memStore) Init(_ context.Context) error { return nil }
func (s *memStore) Close() error                 { return nil }

// allHistory returns every stored entry in commit order.
func (s *memStore) allHistory() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// mustGet fetches an instance directly, bypassing error injection.
func (s *memStore) mustGet(id string) (WorkflowInstance, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	return inst, ok
}

// --- Definitions fakes ---

// stubDefs serves definitions from a literal map.
type stubDefs struct {
	defs    map[string]*WorkflowDefinition
	loadErr error
}

func (d *stubDefs) List(_ context.Context) ([]string, error) {
	names := make([]string, 0, len(d.defs))
	for name := range d.defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (d *stubDefs) Load(_ context.Context, name string) (*WorkflowDefinition, error) {
	if d.loadErr != nil {
		return nil, d.loadErr
	}
	def, ok := d.defs[name]
	if !ok {
		return nil, &ErrWorkflowNotFound{Workflow: name}
	}
	return def, nil
}

// testDefinition builds a minimal definition whose steps carry "Do <id>."
// client instructions.
func testDefinition(name string, steps ...string) *WorkflowDefinition {
	def := &WorkflowDefinition{
		Name:        name,
		Description: "Test workflow " + name + ".",
	}
	var blob strings.Builder
	blob.WriteString("# " + name + "\n")
	for _, id := range steps {
		def.Steps = append(def.Steps, Step{
			ID:           id,
			Path:         "steps/" + id + ".md",
			Guidance:     "Guide " + id + ".",
			Instructions: "Do " + id + ".",
		})
		blob.WriteString("\n## Step: " + id + "\nDo " + id + ".\n")
	}
	def.Blob = blob.String()
	return def
}

// --- Decider fakes ---

type scriptedCall struct {
	decision Decision
	err      error
}

// scriptDecider pops one scripted response per call and records every
// prompt it saw. Safe for concurrent use.
type scriptDecider struct {
	mu      sync.Mutex
	queue   []scriptedCall
	prompts []Prompt
}

func (d *scriptDecider) push(dec Decision, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queue = append(d.queue, scriptedCall{decision: dec, err: err})
}

func (d *scriptDecider) Decide(_ context.Context, p Prompt) (Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompts = append(d.prompts, p)
	if len(d.queue) == 0 {
		return Decision{}, fmt.Errorf("scripted decider exhausted after %d calls", len(d.prompts))
	}
	call := d.queue[0]
	d.queue = d.queue[1:]
	return call.decision, call.err
}

func (d *scriptDecider) Name() string { return "script" }

func (d *scriptDecider) seen() []Prompt {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Prompt, len(d.prompts))
	copy(out, d.prompts)
	return out
}

// deciderFunc adapts a function to the Decider interface.
type deciderFunc func(ctx context.Context, p Prompt) (Decision, error)

func (f deciderFunc) Decide(ctx context.Context, p Prompt) (Decision, error) { return f(ctx, p) }
func (f deciderFunc) Name() string                                           { return "func" }

// nextInList walks the prompt's step list: first step when anchored at
// nothing, successor otherwise, FINISH past the end.
func nextInList(p Prompt) Decision {
	current := p.Instance.CurrentStepName
	if p.Intent == IntentFirstStep || current == "" {
		if len(p.Steps) == 0 {
			return Decision{NextStepName: StepFinish}
		}
		return Decision{NextStepName: p.Steps[0]}
	}
	for i, s := range p.Steps {
		if s == current {
			if i+1 < len(p.Steps) {
				return Decision{NextStepName: p.Steps[i+1]}
			}
			return Decision{NextStepName: StepFinish}
		}
	}
	return Decision{NextStepName: StepFinish}
}

// --- Engine fixture ---

type engineFixture struct {
	engine  *Engine
	store   *memStore
	defs    *stubDefs
	decider *scriptDecider
}

// testEngine wires an Engine over in-memory fakes with a two-step GREET
// workflow installed.
func testEngine(opts ...EngineOption) *engineFixture {
	store := newMemStore()
	defs := &stubDefs{defs: map[string]*WorkflowDefinition{
		"GREET": testDefinition("GREET", "greet", "farewell"),
	}}
	decider := &scriptDecider{}
	return &engineFixture{
		engine:  NewEngine(defs, store, decider, opts...),
		store:   store,
		defs:    defs,
		decider: decider,
	}
}
