package definition

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"
)

// maxIncludeDepth caps how deep {{file:...}} expansion may nest.
const maxIncludeDepth = 10

var includePattern = regexp.MustCompile(`\{\{file:([^{}]+)\}\}`)

// expandIncludes substitutes {{file:<rel>}} markers in the named snapshot
// file, recursively. Targets resolve relative to the including file.
// Expansion fails on a missing target, on an include cycle, and past
// maxIncludeDepth levels of nesting; each failure cites the include chain.
func expandIncludes(files map[string][]byte, file string) (string, error) {
	content, ok := files[file]
	if !ok {
		return "", fmt.Errorf("%s: file not found", file)
	}
	return expand(files, file, string(content), []string{file})
}

// expand runs one level of substitution. stack holds the files whose
// expansion is in progress, the current file last.
func expand(files map[string][]byte, file, content string, stack []string) (string, error) {
	var expandErr error
	out := includePattern.ReplaceAllStringFunc(content, func(marker string) string {
		if expandErr != nil {
			return ""
		}
		rel := strings.TrimSpace(includePattern.FindStringSubmatch(marker)[1])
		target := path.Join(path.Dir(file), rel)

		if slices.Contains(stack, target) {
			expandErr = fmt.Errorf("circular include: %s", chain(stack, target))
			return ""
		}
		if len(stack) > maxIncludeDepth {
			expandErr = fmt.Errorf("include depth exceeds %d: %s", maxIncludeDepth, chain(stack, target))
			return ""
		}
		body, ok := files[target]
		if !ok {
			expandErr = fmt.Errorf("include {{file:%s}} in %s: file not found", rel, file)
			return ""
		}

		expanded, err := expand(files, target, string(body), append(slices.Clone(stack), target))
		if err != nil {
			expandErr = err
			return ""
		}
		return expanded
	})
	if expandErr != nil {
		return "", expandErr
	}
	return out, nil
}

// chain renders an include stack for error messages.
func chain(stack []string, next string) string {
	return strings.Join(append(slices.Clone(stack), next), " -> ")
}
