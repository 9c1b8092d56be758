package definition

import "testing"

func TestScanSteps(t *testing.T) {
	src := []byte(`# Workflow

Intro prose.

1. [First Step](steps/first.md)
2. [Second Step](steps/second.md)
`)
	links := ScanSteps(src)
	if len(links) != 2 {
		t.Fatalf("links = %d, want 2", len(links))
	}
	if links[0].Text != "First Step" || links[0].Target != "steps/first.md" {
		t.Errorf("link 0 = %+v", links[0])
	}
	if links[1].Text != "Second Step" || links[1].Target != "steps/second.md" {
		t.Errorf("link 1 = %+v", links[1])
	}
}

func TestScanStepsSkipsNonStepLists(t *testing.T) {
	src := []byte(`# Workflow

- plain item, no link
- another plain item

Reference links:

- [docs](https://example.com/docs.md)
- [spec](https://example.com/spec)

Steps:

- [real](steps/real.md)
`)
	links := ScanSteps(src)
	if len(links) != 1 {
		t.Fatalf("links = %v, want only the local markdown link", links)
	}
	if links[0].Text != "real" {
		t.Errorf("link = %+v, want the steps list entry", links[0])
	}
}

func TestScanStepsUnorderedList(t *testing.T) {
	src := []byte("- [a](steps/a.md)\n- [b](steps/b.md)\n")
	links := ScanSteps(src)
	if len(links) != 2 || links[0].Text != "a" || links[1].Text != "b" {
		t.Errorf("links = %+v, want a then b", links)
	}
}

func TestScanStepsFirstListWins(t *testing.T) {
	src := []byte(`1. [one](steps/one.md)

Other list:

1. [two](steps/two.md)
`)
	links := ScanSteps(src)
	if len(links) != 1 || links[0].Text != "one" {
		t.Errorf("links = %+v, want just the first list", links)
	}
}

func TestSectionBody(t *testing.T) {
	src := []byte(`# Goal

Ship it.

# Orchestrator Guidance

Pick the next move.
Consider the report.

## Notes

Still guidance.

# Client Instructions

Do the thing.
`)
	tests := []struct {
		title string
		want  string
	}{
		{"Orchestrator Guidance", "Pick the next move.\nConsider the report.\n\n## Notes\n\nStill guidance."},
		{"Client Instructions", "Do the thing."},
		{"Goal", "Ship it."},
	}
	for _, tt := range tests {
		got, ok := sectionBody(src, 1, tt.title)
		if !ok {
			t.Fatalf("section %q not found", tt.title)
		}
		if got != tt.want {
			t.Errorf("section %q = %q, want %q", tt.title, got, tt.want)
		}
	}

	if _, ok := sectionBody(src, 1, "Missing"); ok {
		t.Error("missing section should not resolve")
	}
}

func TestSectionBodyHeaderVariants(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"lowercase", "# client instructions\n\nBody.\n"},
		{"padded", "#   Client Instructions  \n\nBody.\n"},
		{"mixed case", "# CLIENT Instructions\n\nBody.\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := sectionBody([]byte(tt.src), 1, "Client Instructions")
			if !ok || got != "Body." {
				t.Errorf("sectionBody = %q, %v; want Body., true", got, ok)
			}
		})
	}
}

func TestSectionBodyIgnoresCodeFences(t *testing.T) {
	src := []byte("# Client Instructions\n\nRun this:\n\n```\n# not a heading\n```\n\nDone.\n")
	got, ok := sectionBody(src, 1, "Client Instructions")
	if !ok {
		t.Fatal("section not found")
	}
	want := "Run this:\n\n```\n# not a heading\n```\n\nDone."
	if got != want {
		t.Errorf("body = %q, want fenced content kept verbatim", got)
	}
}

func TestSectionRangeLevel(t *testing.T) {
	src := []byte(`# Title

## High-Level Plan

1. [a](steps/a.md)

## Other

Text.
`)
	body, ok := sectionBody(src, 2, "High-Level Plan")
	if !ok {
		t.Fatal("plan section not found")
	}
	if body != "1. [a](steps/a.md)" {
		t.Errorf("plan = %q", body)
	}

	if _, ok := sectionBody(src, 1, "High-Level Plan"); ok {
		t.Error("H2 section must not match at level 1")
	}
}

func TestLeadingProse(t *testing.T) {
	src := []byte(`# GREET

Greets the user and says goodbye.

Second paragraph.

## Steps

1. [greet](steps/greet.md)
`)
	got := leadingProse(src)
	want := "Greets the user and says goodbye.\n\nSecond paragraph."
	if got != want {
		t.Errorf("leadingProse = %q, want %q", got, want)
	}
}

func TestLeadingProseStopsAtList(t *testing.T) {
	src := []byte("# W\n\nIntro.\n\n1. [a](steps/a.md)\n\nTrailing text.\n")
	if got := leadingProse(src); got != "Intro." {
		t.Errorf("leadingProse = %q, want Intro.", got)
	}
}
