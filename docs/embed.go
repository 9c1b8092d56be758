// Package docs embeds the maestro server documentation so the MCP server
// can expose it to clients as readable resources at runtime.
package docs

import "embed"

// FS contains the documentation files. Use embed.FS methods to read them.
//
//go:embed *.md
var FS embed.FS
