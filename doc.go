// Package maestro orchestrates multi-step workflows whose routing decisions
// are delegated to an LLM.
//
// Workflows are authored as directories of markdown documents: an index that
// lists the ordered steps, and one document per step split into guidance for
// the orchestrator and instructions for the client. The engine walks client
// sessions through those steps, asking a decider to pick each transition and
// persisting every instance and history record along the way.
//
// # Quick Start
//
// Wire a store, a definition source, and a decider into an Engine:
//
//	store := sqlite.New("maestro.db")
//	defs := definition.New("./workflows")
//	decider := maestro.WithRetry(gemini.New(apiKey, model))
//
//	eng := maestro.NewEngine(defs, store, decider)
//
//	tr, err := eng.Start(ctx, "onboarding", map[string]any{"user": "ada"})
//	tr, err = eng.Advance(ctx, tr.InstanceID, maestro.Report{Status: "success"}, nil)
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Definitions]: workflow definition source (list, load, flatten)
//   - [Store]: instance and history persistence
//   - [Decider]: model backend that picks the next step
//
// # Included Implementations
//
// Definitions: definition (markdown directories with include expansion).
// Storage: store/sqlite (local), store/postgres (shared).
// Deciders: decider/gemini (Google Gemini), decider/stub (deterministic,
// for tests and offline use).
//
// See the cmd/maestro-mcp directory for the stdio MCP server that exposes
// the engine to MCP clients.
package maestro
