package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/daviddao/skylog/pkg/config"
	"github.com/daviddao/skylog/pkg/logger"
	"github.com/daviddao/skylog/pkg/model"
	"github.com/daviddao/skylog/pkg/store"
)

// exitInconsistent is returned when a check completes but its result is
// not clean.
const exitInconsistent = 3

// app holds shared state for all CLI subcommands.
type app struct {
	cfg    config.Config
	log    *logger.Logger
	ledger store.Ledger // opened on first use
}

// newApp loads the configuration and builds the logger. The ledger is
// opened lazily so commands that do not need it work without one.
func newApp() (*app, error) {
	cfg, err := config.Load(envOr("SKYLOG_CONFIG", ""))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.LogDevelopment})
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &app{cfg: cfg, log: log}, nil
}

// Close releases the ledger and flushes the logger.
func (a *app) Close() {
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}

// openLedger returns the run ledger, opening it on first use.
func (a *app) openLedger() (store.Ledger, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	path := a.cfg.ReportDB
	if path == "" {
		return nil, errors.New("no run ledger: set report_db or SKYLOG_DB")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", dir, err)
		}
	}
	s, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open ledger %q: %w", path, err)
	}
	a.ledger = s
	return s, nil
}

// resolveRun returns the run with the given ID, or the latest run when id
// is empty.
func (a *app) resolveRun(id string) (*model.Run, error) {
	l, err := a.openLedger()
	if err != nil {
		return nil, err
	}
	if id == "" {
		r, err := l.LatestRun()
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.New("no runs recorded")
		}
		return r, err
	}
	return l.GetRun(id)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) {
	enc := model.JSON.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// firstArg splits a leading positional argument off args so flags may
// follow it.
func firstArg(args []string) (string, []string) {
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		return args[0], args[1:]
	}
	return "", args
}
