package main

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"strings"

	"github.com/maestrohq/maestro/definition"
	"github.com/maestrohq/maestro/docs"
	"github.com/maestrohq/maestro/mcp"
)

// registerWorkflowResources exposes each workflow definition as an MCP
// resource under workflow://<name>.
func registerWorkflowResources(ctx context.Context, srv *mcp.Server, defs *definition.Service, workflows []string) {
	for _, r := range workflowResources(ctx, defs, workflows) {
		srv.AddResource(r)
	}
}

// registerDocResources exposes the embedded server documentation under
// maestro://docs/<slug>.
func registerDocResources(srv *mcp.Server) {
	for _, r := range docResources() {
		srv.AddResource(r)
	}
}

// workflowResources builds one resource per workflow. Reads go through
// the definition service, so a client always sees the current file
// content even when definitions are edited while the server runs.
func workflowResources(ctx context.Context, defs *definition.Service, workflows []string) []mcp.Resource {
	resources := make([]mcp.Resource, 0, len(workflows))
	for _, name := range workflows {
		desc, err := defs.Description(ctx, name)
		if err != nil || desc == "" {
			desc = "Workflow definition for " + name
		}
		resources = append(resources, mcp.Resource{
			URI:         "workflow://" + name,
			Name:        name,
			Description: desc,
			MimeType:    "text/markdown",
			Read: func(ctx context.Context) (string, error) {
				return defs.Blob(ctx, name)
			},
		})
	}
	return resources
}

// docResources builds one resource per embedded documentation file.
func docResources() []mcp.Resource {
	entries, err := fs.ReadDir(docs.FS, ".")
	if err != nil {
		return nil
	}
	var resources []mcp.Resource
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		content, err := fs.ReadFile(docs.FS, entry.Name())
		if err != nil {
			continue
		}
		slug := strings.TrimSuffix(entry.Name(), ".md")
		resources = append(resources, mcp.Resource{
			URI:         "maestro://docs/" + slug,
			Name:        slug,
			Description: docTitle(content, slug),
			MimeType:    "text/markdown",
			Read: func(_ context.Context) (string, error) {
				return string(content), nil
			},
		})
	}
	return resources
}

// docTitle returns the first H1 heading of a doc, or the fallback when
// it has none.
func docTitle(content []byte, fallback string) string {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if after, ok := strings.CutPrefix(line, "# "); ok {
			return after
		}
	}
	return fallback
}
