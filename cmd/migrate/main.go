package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/odyssey-erp/odyssey-pricing/db/migrations"
	"github.com/odyssey-erp/odyssey-pricing/internal/app"
)

var commands = map[string]bool{"up": true, "down": true, "status": true, "version": true, "redo": true}

// parseArgs accepts either `-cmd <command> [args]` or `<command> [args]`.
// A positional command wins over the flag; the default is up.
func parseArgs(args []string) (string, []string, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd := fs.String("cmd", "up", "migration command: up|down|status|version|redo")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	rest := fs.Args()
	if len(rest) > 0 && commands[rest[0]] {
		*cmd, rest = rest[0], rest[1:]
	}
	if !commands[*cmd] {
		return "", nil, fmt.Errorf("unknown migration command %q", *cmd)
	}
	return *cmd, rest, nil
}

func main() {
	cmd, args, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: migrate [-cmd] up|down|status|version|redo [args]:", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg).With(slog.String("cmd", cmd))

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		logger.Error("open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("close database", slog.Any("error", err))
		}
	}()
	if err := db.PingContext(ctx); err != nil {
		logger.Error("ping database", slog.Any("error", err))
		os.Exit(1)
	}

	if err := migrations.Run(ctx, db, cmd, args...); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("migrate finished")
}
