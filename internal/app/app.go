// Package app wires the engine together: configuration, logger, action
// registry, history store, and the run lifecycle from workflow file to
// final report.
package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/stagehand-ci/stagehand/internal/action"
	"github.com/stagehand-ci/stagehand/internal/config"
	"github.com/stagehand-ci/stagehand/internal/history"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	cfg     *config.Config
	actions *action.Registry
	history *history.Store
}

// New constructs a fully initialized App with its own isolated logger and
// action registry. The history store is opened lazily by callers that need
// it via History.
func New(outW io.Writer, logW io.Writer, cfg *config.Config) (*App, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel(), cfg.Log.Format, logW)
	logger.Debug("Logger configured successfully.")

	registry := action.NewRegistry()
	action.RegisterBuiltins(registry)
	logger.Debug("Built-in actions registered.", "actions", registry.Names())

	return &App{
		outW:    outW,
		logger:  logger,
		cfg:     cfg,
		actions: registry,
	}, nil
}

// Logger returns the app's logger. Primarily for tests.
func (a *App) Logger() *slog.Logger { return a.logger }

// Actions returns the app's action registry so embedders and tests can
// register additional handlers before a run.
func (a *App) Actions() *action.Registry { return a.actions }

// History returns the run history store, opening it on first use. Returns
// nil when history is disabled by configuration.
func (a *App) History() (*history.Store, error) {
	if a.cfg.HistoryDB == "" {
		return nil, nil
	}
	if a.history != nil {
		return a.history, nil
	}
	store, err := history.Open(a.cfg.HistoryDB)
	if err != nil {
		return nil, err
	}
	a.history = store
	return store, nil
}

// Close releases resources held by the app.
func (a *App) Close() error {
	if a.history != nil {
		return a.history.Close()
	}
	return nil
}
