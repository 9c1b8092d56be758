// Package definition loads workflow definitions from directories of
// markdown files.
//
// A definitions root holds one subdirectory per workflow. Each workflow
// directory contains an index.md whose first list of markdown links names
// the steps in order, plus one file per step under steps/. Step files
// carry a "# Orchestrator Guidance" section for the decider and a
// "# Client Instructions" section returned verbatim to clients. Any file
// may pull in another with {{file:<relative path>}} markers.
//
// Parsed definitions are cached behind a content fingerprint, so editing
// a workflow on disk takes effect on the next load without a restart.
package definition

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/maestrohq/maestro"
)

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Service reads, validates, and caches workflow definitions under a root
// directory. It implements maestro.Definitions.
type Service struct {
	root   string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cached
}

type cached struct {
	fingerprint uint64
	def         *maestro.WorkflowDefinition
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. If not set, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a definition service over the given root directory.
func New(root string, opts ...Option) *Service {
	s := &Service{
		root:  root,
		cache: make(map[string]cached),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	return s
}

// List returns the workflow names under the root: every subdirectory
// holding an index.md, sorted.
func (s *Service) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("definition: read root %s: %w", s.root, err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.root, entry.Name(), "index.md")); err != nil {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

// Load returns the named workflow definition, re-parsing when the files
// on disk no longer match the cached fingerprint.
func (s *Service) Load(_ context.Context, name string) (*maestro.WorkflowDefinition, error) {
	if !validName(name) {
		return nil, &maestro.ErrWorkflowNotFound{Workflow: name}
	}

	files, err := snapshot(filepath.Join(s.root, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &maestro.ErrWorkflowNotFound{Workflow: name}
		}
		return nil, &maestro.ErrDefinitionParse{Workflow: name, Message: err.Error()}
	}
	if _, ok := files["index.md"]; !ok {
		return nil, &maestro.ErrWorkflowNotFound{Workflow: name, Path: "index.md"}
	}

	fp := fingerprint(files)
	s.mu.RLock()
	entry, hit := s.cache[name]
	s.mu.RUnlock()
	if hit && entry.fingerprint == fp {
		return entry.def, nil
	}

	start := time.Now()
	def, err := parse(name, files)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[name] = cached{fingerprint: fp, def: def}
	s.mu.Unlock()

	s.logger.Debug("definition: parsed",
		"workflow", name,
		"steps", len(def.Steps),
		"files", len(files),
		"duration", time.Since(start))
	return def, nil
}

// Preload parses every workflow under the root, logging and skipping the
// invalid ones. It returns the names that loaded cleanly.
func (s *Service) Preload(ctx context.Context) ([]string, error) {
	names, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	valid := names[:0]
	for _, name := range names {
		if _, err := s.Load(ctx, name); err != nil {
			s.logger.Warn("definition: skipping invalid workflow",
				"workflow", name,
				"error", err)
			continue
		}
		valid = append(valid, name)
	}
	return valid, nil
}

// Blob returns the flattened full-definition text for the named workflow.
func (s *Service) Blob(ctx context.Context, name string) (string, error) {
	def, err := s.Load(ctx, name)
	if err != nil {
		return "", err
	}
	return def.Blob, nil
}

// Steps returns the canonical step IDs in index order.
func (s *Service) Steps(ctx context.Context, name string) ([]string, error) {
	def, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	return def.StepIDs(), nil
}

// Instructions returns the verbatim client instructions for one step.
func (s *Service) Instructions(ctx context.Context, name, stepID string) (string, error) {
	def, err := s.Load(ctx, name)
	if err != nil {
		return "", err
	}
	step, ok := def.FindStep(stepID)
	if !ok {
		return "", &maestro.ErrStepNotFound{Workflow: name, Step: stepID}
	}
	return step.Instructions, nil
}

// Description returns the workflow's summary text: the High-Level Plan
// section when the index has one, the leading index prose otherwise.
func (s *Service) Description(ctx context.Context, name string) (string, error) {
	def, err := s.Load(ctx, name)
	if err != nil {
		return "", err
	}
	return def.Description, nil
}

// validName rejects names that cannot be a plain subdirectory.
func validName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// parse builds a WorkflowDefinition from a directory snapshot.
func parse(name string, files map[string][]byte) (*maestro.WorkflowDefinition, error) {
	index, err := expandIncludes(files, "index.md")
	if err != nil {
		return nil, &maestro.ErrDefinitionParse{Workflow: name, Path: "index.md", Message: err.Error()}
	}
	indexSrc := []byte(index)

	// The step list lives inside the High-Level Plan section when the
	// index has one, anywhere in the index otherwise.
	listSrc := indexSrc
	plan := ""
	if start, end, ok := sectionRange(indexSrc, 2, "High-Level Plan"); ok {
		listSrc = indexSrc[start:end]
		plan = strings.TrimSpace(string(listSrc))
	}
	links := ScanSteps(listSrc)
	if len(links) == 0 {
		return nil, &maestro.ErrDefinitionParse{Workflow: name, Path: "index.md", Message: "no step list found"}
	}

	def := &maestro.WorkflowDefinition{Name: name, Plan: plan}
	parts := []string{strings.TrimSpace(index)}
	seen := make(map[string]struct{}, len(links))
	for _, link := range links {
		id := strings.TrimSpace(link.Text)
		if id == "" {
			return nil, &maestro.ErrDefinitionParse{Workflow: name, Path: "index.md", Message: fmt.Sprintf("step link %q has no text", link.Target)}
		}
		if _, dup := seen[id]; dup {
			return nil, &maestro.ErrDefinitionParse{Workflow: name, Path: "index.md", Message: fmt.Sprintf("duplicate step ID %q", id)}
		}
		seen[id] = struct{}{}

		target := path.Clean(link.Target)
		if _, ok := files[target]; !ok {
			return nil, &maestro.ErrWorkflowNotFound{Workflow: name, Path: target}
		}
		body, err := expandIncludes(files, target)
		if err != nil {
			return nil, &maestro.ErrDefinitionParse{Workflow: name, Path: target, Message: err.Error()}
		}

		step := maestro.Step{ID: id, Path: target, Body: body}
		bodySrc := []byte(body)
		for _, sec := range []struct {
			title string
			dst   *string
		}{
			{"Orchestrator Guidance", &step.Guidance},
			{"Client Instructions", &step.Instructions},
		} {
			text, ok := sectionBody(bodySrc, 1, sec.title)
			if !ok {
				return nil, &maestro.ErrDefinitionParse{Workflow: name, Path: target, Message: fmt.Sprintf("missing %q section", "# "+sec.title)}
			}
			if text == "" {
				return nil, &maestro.ErrDefinitionParse{Workflow: name, Path: target, Message: fmt.Sprintf("empty %q section", "# "+sec.title)}
			}
			*sec.dst = text
		}

		def.Steps = append(def.Steps, step)
		parts = append(parts, "## Step: "+id+"\n"+strings.TrimSpace(body))
	}

	def.Blob = strings.Join(parts, "\n\n---\n\n")
	def.Description = plan
	if def.Description == "" {
		def.Description = leadingProse(indexSrc)
	}
	return def, nil
}

var _ maestro.Definitions = (*Service)(nil)
