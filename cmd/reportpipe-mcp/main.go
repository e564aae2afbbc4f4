// Entry point for the report analysis MCP server over stdio.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/finlens/reportpipe/observability"
	"github.com/finlens/reportpipe/pipeline"
	"github.com/finlens/reportpipe/store"
)

func main() {
	// Stdout carries the MCP protocol; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := pipeline.DefaultConfig()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		var err error
		cfg, err = pipeline.LoadConfig(path)
		if err != nil {
			slog.Error("config", "path", path, "error", err)
			os.Exit(1)
		}
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		slog.Error("store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := observability.Init(st.DB()); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}

	runner, err := pipeline.New(pipeline.Options{
		Config: cfg,
		Store:  st,
		Events: observability.NewStageLogger(st.DB()),
		Logger: logger,
	})
	if err != nil {
		slog.Error("pipeline", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "reportpipe",
		Version: "1.0.0",
	}, nil)
	runner.RegisterMCP(srv)

	slog.Info("MCP server starting", "transport", "stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		slog.Error("MCP server", "error", err)
		os.Exit(1)
	}
	slog.Info("MCP server stopped")
}
