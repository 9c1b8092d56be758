package definition

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/maestrohq/maestro"
)

// writeFiles lays out a definitions tree under a fresh temp root.
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", p, err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
	return root
}

const greetIndex = `# GREET

Greets the user and says goodbye.

## Steps

1. [greet](steps/greet.md)
2. [farewell](steps/farewell.md)
`

const greetStep = `# Goal

Open warmly.

# Orchestrator Guidance

Pick a warm greeting that fits the context.

# Client Instructions

Greet the user by name.
`

const farewellStep = `# Orchestrator Guidance

Wrap the conversation up.

# Client Instructions

Say goodbye.
`

func greetFiles() map[string]string {
	return map[string]string{
		"GREET/index.md":          greetIndex,
		"GREET/steps/greet.md":    greetStep,
		"GREET/steps/farewell.md": farewellStep,
	}
}

func TestList(t *testing.T) {
	files := greetFiles()
	files["TRIAGE/index.md"] = "# TRIAGE\n\n1. [only](steps/only.md)\n"
	files["TRIAGE/steps/only.md"] = "# Orchestrator Guidance\n\nG.\n\n# Client Instructions\n\nI.\n"
	files["notadir.md"] = "stray file"
	files["empty/readme.md"] = "a directory without an index"
	root := writeFiles(t, files)

	svc := New(root)
	names, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"GREET", "TRIAGE"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("List = %v, want %v", names, want)
	}
}

func TestLoadParsesWorkflow(t *testing.T) {
	svc := New(writeFiles(t, greetFiles()))

	def, err := svc.Load(context.Background(), "GREET")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def.Name != "GREET" {
		t.Errorf("name = %q", def.Name)
	}
	if got := def.StepIDs(); !reflect.DeepEqual(got, []string{"greet", "farewell"}) {
		t.Errorf("steps = %v, want [greet farewell]", got)
	}
	if def.Steps[0].Path != "steps/greet.md" {
		t.Errorf("step path = %q", def.Steps[0].Path)
	}
	if def.Steps[0].Guidance != "Pick a warm greeting that fits the context." {
		t.Errorf("guidance = %q", def.Steps[0].Guidance)
	}
	if def.Steps[0].Instructions != "Greet the user by name." {
		t.Errorf("instructions = %q", def.Steps[0].Instructions)
	}
	if def.Description != "Greets the user and says goodbye." {
		t.Errorf("description = %q", def.Description)
	}
}

func TestLoadBlobLayout(t *testing.T) {
	svc := New(writeFiles(t, greetFiles()))

	def, err := svc.Load(context.Background(), "GREET")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := strings.TrimSpace(greetIndex) +
		"\n\n---\n\n" +
		"## Step: greet\n" + strings.TrimSpace(greetStep) +
		"\n\n---\n\n" +
		"## Step: farewell\n" + strings.TrimSpace(farewellStep)
	if def.Blob != want {
		t.Errorf("blob mismatch:\n--- got ---\n%s\n--- want ---\n%s", def.Blob, want)
	}
}

func TestLoadHighLevelPlanSection(t *testing.T) {
	files := greetFiles()
	files["GREET/index.md"] = `# GREET

Intro prose.

Related reading:

- [background](notes/background.md)

## High-Level Plan

1. [greet](steps/greet.md)
2. [farewell](steps/farewell.md)

## Appendix

More prose.
`
	files["GREET/notes/background.md"] = "not a step"
	svc := New(writeFiles(t, files))

	def, err := svc.Load(context.Background(), "GREET")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := def.StepIDs(); !reflect.DeepEqual(got, []string{"greet", "farewell"}) {
		t.Errorf("steps = %v, want the list from the plan section only", got)
	}
	if !strings.Contains(def.Plan, "[greet](steps/greet.md)") {
		t.Errorf("plan = %q, want the raw plan body", def.Plan)
	}
	if def.Description != def.Plan {
		t.Errorf("description = %q, want the plan body", def.Description)
	}
}

func TestLoadIncludes(t *testing.T) {
	files := map[string]string{
		"W/index.md": "# W\n\n1. [step](steps/step.md)\n",
		"W/steps/step.md": `# Orchestrator Guidance

{{file:../shared/guide.md}}

# Client Instructions

Before. {{file:../shared/frag.md}} After.
`,
		"W/shared/guide.md": "Shared guidance text.",
		"W/shared/frag.md":  "MIDDLE",
	}
	svc := New(writeFiles(t, files))

	def, err := svc.Load(context.Background(), "W")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def.Steps[0].Guidance != "Shared guidance text." {
		t.Errorf("guidance = %q, want the include expanded", def.Steps[0].Guidance)
	}
	if def.Steps[0].Instructions != "Before. MIDDLE After." {
		t.Errorf("instructions = %q", def.Steps[0].Instructions)
	}
	if strings.Contains(def.Blob, "{{file:") {
		t.Error("blob must not contain unexpanded include markers")
	}
}

func TestLoadFailures(t *testing.T) {
	tests := []struct {
		name      string
		files     map[string]string
		workflow  string
		wantParse string // substring of the parse error; empty = expect not-found
	}{
		{
			name:     "missing workflow dir",
			files:    greetFiles(),
			workflow: "NOPE",
		},
		{
			name: "missing index",
			files: map[string]string{
				"W/steps/a.md": "# Orchestrator Guidance\n\nG.\n\n# Client Instructions\n\nI.\n",
			},
			workflow: "W",
		},
		{
			name: "missing step file",
			files: map[string]string{
				"W/index.md": "# W\n\n1. [a](steps/a.md)\n",
			},
			workflow: "W",
		},
		{
			name: "no step list",
			files: map[string]string{
				"W/index.md": "# W\n\nProse only, no links.\n",
			},
			workflow:  "W",
			wantParse: "no step list",
		},
		{
			name: "duplicate step IDs",
			files: map[string]string{
				"W/index.md":   "# W\n\n1. [a](steps/a.md)\n2. [a](steps/b.md)\n",
				"W/steps/a.md": "# Orchestrator Guidance\n\nG.\n\n# Client Instructions\n\nI.\n",
				"W/steps/b.md": "# Orchestrator Guidance\n\nG.\n\n# Client Instructions\n\nI.\n",
			},
			workflow:  "W",
			wantParse: "duplicate step ID",
		},
		{
			name: "missing client instructions",
			files: map[string]string{
				"W/index.md":   "# W\n\n1. [a](steps/a.md)\n",
				"W/steps/a.md": "# Orchestrator Guidance\n\nG.\n",
			},
			workflow:  "W",
			wantParse: "Client Instructions",
		},
		{
			name: "missing orchestrator guidance",
			files: map[string]string{
				"W/index.md":   "# W\n\n1. [a](steps/a.md)\n",
				"W/steps/a.md": "# Client Instructions\n\nI.\n",
			},
			workflow:  "W",
			wantParse: "Orchestrator Guidance",
		},
		{
			name: "empty client instructions",
			files: map[string]string{
				"W/index.md":   "# W\n\n1. [a](steps/a.md)\n",
				"W/steps/a.md": "# Orchestrator Guidance\n\nG.\n\n# Client Instructions\n",
			},
			workflow:  "W",
			wantParse: "empty",
		},
		{
			name: "include cycle",
			files: map[string]string{
				"W/index.md":   "# W\n\n1. [a](steps/a.md)\n",
				"W/steps/a.md": "# Orchestrator Guidance\n\n{{file:b.md}}\n\n# Client Instructions\n\nI.\n",
				"W/steps/b.md": "{{file:a.md}}",
			},
			workflow:  "W",
			wantParse: "circular include",
		},
		{
			name: "include missing",
			files: map[string]string{
				"W/index.md":   "# W\n\n1. [a](steps/a.md)\n",
				"W/steps/a.md": "# Orchestrator Guidance\n\n{{file:gone.md}}\n\n# Client Instructions\n\nI.\n",
			},
			workflow:  "W",
			wantParse: "file not found",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := New(writeFiles(t, tt.files))
			_, err := svc.Load(context.Background(), tt.workflow)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantParse == "" {
				var nf *maestro.ErrWorkflowNotFound
				if !errors.As(err, &nf) {
					t.Fatalf("err = %v, want ErrWorkflowNotFound", err)
				}
				return
			}
			var pe *maestro.ErrDefinitionParse
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want ErrDefinitionParse", err)
			}
			if !strings.Contains(pe.Message, tt.wantParse) {
				t.Errorf("message = %q, want substring %q", pe.Message, tt.wantParse)
			}
		})
	}
}

func TestLoadRejectsTraversal(t *testing.T) {
	svc := New(writeFiles(t, greetFiles()))
	for _, name := range []string{"", ".", "..", "../GREET", `a\b`} {
		if _, err := svc.Load(context.Background(), name); err == nil {
			t.Errorf("Load(%q) should fail", name)
		}
	}
}

func TestLoadCachesByFingerprint(t *testing.T) {
	root := writeFiles(t, greetFiles())
	svc := New(root)
	ctx := context.Background()

	def1, err := svc.Load(ctx, "GREET")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def2, err := svc.Load(ctx, "GREET")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def1 != def2 {
		t.Error("unchanged files should return the cached definition")
	}
}

func TestLoadReparsesOnEdit(t *testing.T) {
	root := writeFiles(t, greetFiles())
	svc := New(root)
	ctx := context.Background()

	def1, err := svc.Load(ctx, "GREET")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	edited := strings.Replace(greetStep, "Greet the user by name.", "Wave enthusiastically.", 1)
	if err := os.WriteFile(filepath.Join(root, "GREET", "steps", "greet.md"), []byte(edited), 0o644); err != nil {
		t.Fatalf("edit step: %v", err)
	}

	def2, err := svc.Load(ctx, "GREET")
	if err != nil {
		t.Fatalf("Load after edit: %v", err)
	}
	if def1 == def2 {
		t.Fatal("edited files must invalidate the cache")
	}
	if def2.Steps[0].Instructions != "Wave enthusiastically." {
		t.Errorf("instructions = %q, want the edited text", def2.Steps[0].Instructions)
	}
}

func TestLoadIdempotent(t *testing.T) {
	files := greetFiles()
	a := New(writeFiles(t, files))
	b := New(writeFiles(t, files))
	ctx := context.Background()

	defA, err := a.Load(ctx, "GREET")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defB, err := b.Load(ctx, "GREET")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(defA, defB) {
		t.Error("parsing the same bytes must yield equal definitions")
	}
	if defA.Blob != defB.Blob {
		t.Error("blob assembly must be deterministic")
	}
}

func TestViews(t *testing.T) {
	svc := New(writeFiles(t, greetFiles()))
	ctx := context.Background()

	blob, err := svc.Blob(ctx, "GREET")
	if err != nil || !strings.Contains(blob, "## Step: greet") {
		t.Errorf("Blob = %q, %v", blob, err)
	}

	steps, err := svc.Steps(ctx, "GREET")
	if err != nil || !reflect.DeepEqual(steps, []string{"greet", "farewell"}) {
		t.Errorf("Steps = %v, %v", steps, err)
	}

	instr, err := svc.Instructions(ctx, "GREET", "greet")
	if err != nil || instr != "Greet the user by name." {
		t.Errorf("Instructions = %q, %v", instr, err)
	}

	// Step lookup folds case and separators.
	instr, err = svc.Instructions(ctx, "GREET", "FAREWELL")
	if err != nil || instr != "Say goodbye." {
		t.Errorf("Instructions(FAREWELL) = %q, %v", instr, err)
	}

	_, err = svc.Instructions(ctx, "GREET", "missing")
	var snf *maestro.ErrStepNotFound
	if !errors.As(err, &snf) {
		t.Errorf("err = %v, want ErrStepNotFound", err)
	}

	desc, err := svc.Description(ctx, "GREET")
	if err != nil || desc != "Greets the user and says goodbye." {
		t.Errorf("Description = %q, %v", desc, err)
	}
}

func TestPreload(t *testing.T) {
	files := greetFiles()
	files["BROKEN/index.md"] = "# BROKEN\n\nNo list here.\n"
	svc := New(writeFiles(t, files))

	valid, err := svc.Preload(context.Background())
	if err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if !reflect.DeepEqual(valid, []string{"GREET"}) {
		t.Errorf("valid = %v, want [GREET]", valid)
	}
}

func TestFingerprint(t *testing.T) {
	base := map[string][]byte{"a.md": []byte("content")}
	if fingerprint(base) != fingerprint(map[string][]byte{"a.md": []byte("content")}) {
		t.Error("equal snapshots must produce equal fingerprints")
	}
	if fingerprint(base) == fingerprint(map[string][]byte{"b.md": []byte("content")}) {
		t.Error("renaming a file must change the fingerprint")
	}
	if fingerprint(base) == fingerprint(map[string][]byte{"a.md": []byte("changed")}) {
		t.Error("editing a file must change the fingerprint")
	}
	if fingerprint(map[string][]byte{"a": []byte("bc")}) == fingerprint(map[string][]byte{"ab": []byte("c")}) {
		t.Error("path/content boundaries must not collide")
	}
}
