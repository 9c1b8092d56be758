package maestro

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// foldStep reduces a step name to a comparison key: NFKC-normalized,
// lowercased, with underscore/hyphen treated as spaces and whitespace
// runs collapsed. Model output drifts in exactly these ways.
func foldStep(name string) string {
	s := norm.NFKC.String(name)
	s = strings.ToLower(s)
	s = strings.NewReplacer("_", " ", "-", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// CanonicalStep resolves a possibly sloppy step name against the known
// step IDs and returns the canonical spelling. Candidates are matched in
// order; callers that accept the finish sentinel prepend StepFinish.
func CanonicalStep(steps []string, name string) (string, bool) {
	want := foldStep(name)
	if want == "" {
		return "", false
	}
	for _, s := range steps {
		if foldStep(s) == want {
			return s, true
		}
	}
	return "", false
}
