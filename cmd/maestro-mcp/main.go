// Binary maestro-mcp is the workflow orchestration MCP server. It exposes
// workflow tools (list, start, status, advance, resume) and per-workflow
// definition resources to MCP clients over stdio.
//
// Usage in .mcp.json:
//
//	{
//	  "mcpServers": {
//	    "maestro": {
//	      "type": "stdio",
//	      "command": "maestro-mcp",
//	      "env": {
//	        "WORKFLOW_DEFINITIONS_DIR": "./workflows",
//	        "WORKFLOW_DB_PATH": "./maestro.db",
//	        "GEMINI_MODEL_NAME": "gemini-2.5-flash",
//	        "GEMINI_API_KEY": "..."
//	      }
//	    }
//	  }
//	}
//
// Configuration comes from maestro.toml (path in MAESTRO_CONFIG) with
// environment overrides; see the configuration doc resource.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maestrohq/maestro"
	"github.com/maestrohq/maestro/decider/gemini"
	"github.com/maestrohq/maestro/decider/stub"
	"github.com/maestrohq/maestro/definition"
	"github.com/maestrohq/maestro/internal/config"
	"github.com/maestrohq/maestro/mcp"
	"github.com/maestrohq/maestro/observer"
	"github.com/maestrohq/maestro/store/postgres"
	"github.com/maestrohq/maestro/store/sqlite"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "maestro-mcp:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load(os.Getenv("MAESTRO_CONFIG"))
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Stdout carries the MCP protocol, so all logging goes to stderr and
	// the configured log files.
	logger, aiLogger, closeLogs := openLoggers(cfg.Logging)
	defer closeLogs()

	store, closeStore, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	defs := definition.New(cfg.Workflows.DefinitionsDir, definition.WithLogger(logger))
	workflows, err := defs.Preload(ctx)
	if err != nil {
		return fmt.Errorf("scan workflow definitions: %w", err)
	}
	logger.Info("definitions loaded",
		"dir", cfg.Workflows.DefinitionsDir,
		"workflows", strings.Join(workflows, ","))

	decider := buildDecider(cfg.Decider, aiLogger, logger)

	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return fmt.Errorf("init observer: %w", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdown(sctx); err != nil {
				logger.Error("observer shutdown", "error", err)
			}
		}()
		decider = observer.WrapDecider(decider, cfg.Decider.Model, inst)
	}

	engine := maestro.NewEngine(defs, store, decider, maestro.EngineLogger(logger))

	srv := mcp.New("maestro", version, mcp.WithLogger(logger))
	for _, h := range workflowTools(engine) {
		if inst != nil {
			h = observer.WrapTool(h, inst)
		}
		srv.AddTool(h)
	}
	registerWorkflowResources(ctx, srv, defs, workflows)
	registerDocResources(srv)

	logger.Info("serving",
		"version", version,
		"decider", decider.Name(),
		"workflows", len(workflows))
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shut down")
	return nil
}

// buildDecider assembles the decider stack: the configured backend wrapped
// with one transparent retry, then rate limiting when budgets are set.
func buildDecider(cfg config.DeciderConfig, aiLogger, logger *slog.Logger) maestro.Decider {
	var base maestro.Decider
	if cfg.UseStub {
		base = stub.New()
	} else {
		base = gemini.New(cfg.APIKey, cfg.Model,
			gemini.WithTimeout(cfg.Timeout()),
			gemini.WithLogger(aiLogger))
	}

	d := maestro.WithRetry(base, maestro.RetryLogger(logger))
	if cfg.RPM > 0 || cfg.TPM > 0 {
		d = maestro.WithRateLimit(d, maestro.RPM(cfg.RPM), maestro.TPM(cfg.TPM))
	}
	return d
}

// openStore picks PostgreSQL when a DSN is configured, the local SQLite
// file otherwise. The returned closer releases the underlying handles.
func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (maestro.Store, func(), error) {
	if cfg.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("store: postgres")
		return postgres.New(pool), pool.Close, nil
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	s := sqlite.New(cfg.Path, sqlite.WithLogger(logger))
	logger.Info("store: sqlite", "path", cfg.Path)
	return s, func() {
		if err := s.Close(); err != nil {
			logger.Error("close store", "error", err)
		}
	}, nil
}

// openLoggers builds the orchestrator logger (stderr plus the main log
// file) and the decision audit logger (AI interactions file only). Log
// files that cannot be opened are skipped with a note on stderr; logging
// then degrades to stderr alone.
func openLoggers(cfg config.LoggingConfig) (logger, aiLogger *slog.Logger, closeAll func()) {
	level := parseLevel(cfg.Level)
	var files []*os.File

	openFile := func(path string) *os.File {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "maestro-mcp: create log directory for %s: %v\n", path, err)
			return nil
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "maestro-mcp: open log file %s: %v\n", path, err)
			return nil
		}
		files = append(files, f)
		return f
	}

	out := io.Writer(os.Stderr)
	if f := openFile(cfg.File); f != nil {
		out = io.MultiWriter(os.Stderr, f)
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))

	// Decision prompts and raw responses are bulky; they go to their own
	// file and stay off stderr.
	if f := openFile(cfg.AIFile); f != nil {
		aiLogger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: level}))
	} else {
		aiLogger = logger
	}

	return logger, aiLogger, func() {
		for _, f := range files {
			f.Close()
		}
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
