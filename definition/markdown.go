package definition

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// parseDoc parses markdown into a goldmark AST rooted at the document node.
func parseDoc(src []byte) ast.Node {
	return goldmark.New().Parser().Parse(text.NewReader(src))
}

// Link is one step hyperlink from an index document: the link text is the
// canonical step ID, the target the step file path.
type Link struct {
	Text   string
	Target string
}

// ScanSteps returns the links of the first ordered or unordered list
// whose items link to markdown files. Lists without such links are
// skipped; within the matched list, items lacking one are ignored.
func ScanSteps(src []byte) []Link {
	var links []Link
	_ = ast.Walk(parseDoc(src), func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || n.Kind() != ast.KindList {
			return ast.WalkContinue, nil
		}
		links = listLinks(n, src)
		if links == nil {
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkStop, nil
	})
	return links
}

// listLinks collects the first markdown-file link of each item in a list
// node.
func listLinks(list ast.Node, src []byte) []Link {
	var links []Link
	for item := list.FirstChild(); item != nil; item = item.NextSibling() {
		if item.Kind() != ast.KindListItem {
			continue
		}
		var link *ast.Link
		_ = ast.Walk(item, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
			if entering && n.Kind() == ast.KindLink {
				if l := n.(*ast.Link); stepTarget(string(l.Destination)) {
					link = l
					return ast.WalkStop, nil
				}
			}
			return ast.WalkContinue, nil
		})
		if link == nil {
			continue
		}
		links = append(links, Link{
			Text:   textOf(link, src),
			Target: string(link.Destination),
		})
	}
	return links
}

// stepTarget reports whether a link destination looks like a local
// markdown file rather than an external reference.
func stepTarget(dest string) bool {
	return strings.HasSuffix(dest, ".md") && !strings.Contains(dest, "://")
}

// textOf flattens the inline text content of a node.
func textOf(node ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(node, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// foldTitle reduces a heading title for comparison: lowercased with
// whitespace runs collapsed.
func foldTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// sectionRange locates the first heading at the given level whose title
// folds equal to want, and returns the byte range of its body: from the
// line after the heading to the start of the next heading at the same or
// a shallower level, or EOF.
func sectionRange(src []byte, level int, want string) (start, end int, ok bool) {
	want = foldTitle(want)
	doc := parseDoc(src)
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		h, isHeading := n.(*ast.Heading)
		if !isHeading || h.Lines().Len() == 0 {
			continue
		}
		if !ok {
			if h.Level == level && foldTitle(textOf(h, src)) == want {
				start = lineAfter(src, headingStop(h, src))
				end = len(src)
				ok = true
			}
			continue
		}
		if h.Level <= level {
			end = lineStart(src, headingStart(h, src))
			break
		}
	}
	return start, end, ok
}

// sectionBody returns the trimmed raw text of the section located by
// sectionRange.
func sectionBody(src []byte, level int, want string) (string, bool) {
	start, end, ok := sectionRange(src, level, want)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(string(src[start:end])), true
}

// leadingProse collects the index prose before the first list or
// sub-heading, skipping top-level titles.
func leadingProse(src []byte) string {
	doc := parseDoc(src)
	var parts []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		switch t := n.(type) {
		case *ast.Heading:
			if t.Level > 1 {
				return strings.Join(parts, "\n\n")
			}
		case *ast.List:
			return strings.Join(parts, "\n\n")
		default:
			lines := n.Lines()
			if lines.Len() == 0 {
				continue
			}
			raw := src[lines.At(0).Start:lines.At(lines.Len()-1).Stop]
			if s := strings.TrimSpace(string(raw)); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// headingStart returns the byte offset of the heading's text. Callers
// skip headings with no line information.
func headingStart(h *ast.Heading, _ []byte) int {
	return h.Lines().At(0).Start
}

// headingStop returns the byte offset just past the heading's text.
func headingStop(h *ast.Heading, _ []byte) int {
	lines := h.Lines()
	return lines.At(lines.Len() - 1).Stop
}

// lineStart backs off to the first byte of the line containing off.
func lineStart(src []byte, off int) int {
	for off > 0 && src[off-1] != '\n' {
		off--
	}
	return off
}

// lineAfter advances past the end of the line containing off.
func lineAfter(src []byte, off int) int {
	for off < len(src) && src[off] != '\n' {
		off++
	}
	if off < len(src) {
		off++
	}
	return off
}
