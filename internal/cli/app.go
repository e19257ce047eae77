package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/streamsync/internal/config"
	"github.com/roach88/streamsync/internal/ingest"
	"github.com/roach88/streamsync/internal/outbox"
	"github.com/roach88/streamsync/internal/replay"
	"github.com/roach88/streamsync/internal/store"
)

// app is the service graph a command runs against.
type app struct {
	process config.Process
	runtime *config.RuntimeInput
	logger  *slog.Logger
	store   *store.Store
	ingest  *ingest.Service
	worker  *outbox.Worker
	replay  *replay.Service
}

// openApp loads process settings, opens the database and wires the
// services. The ingest service wakes the worker on every commit that
// queued a task. The caller must Close the app.
func openApp(cmd *cobra.Command, opts *RootOptions, workerOpts ...outbox.Option) (*app, error) {
	proc, err := config.LoadEnv(opts.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load environment", err)
	}
	if opts.DB != "" {
		proc.DBPath = opts.DB
	}
	logger := newLogger(cmd.ErrOrStderr(), opts, proc.LogLevel)

	var runtime *config.RuntimeInput
	if proc.RuntimeFile != "" {
		runtime, err = config.LoadRuntimeFile(proc.RuntimeFile)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load runtime options", err)
		}
		logger.Debug("runtime defaults loaded", "file", proc.RuntimeFile)
	}

	logger.Debug("opening database", "path", proc.DBPath)
	st, err := store.Open(proc.DBPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	workerOpts = append([]outbox.Option{outbox.WithLogger(logger)}, workerOpts...)
	worker := outbox.New(st, workerOpts...)

	return &app{
		process: proc,
		runtime: runtime,
		logger:  logger,
		store:   st,
		worker:  worker,
		ingest: ingest.New(st,
			ingest.WithLogger(logger),
			ingest.WithNotifier(worker),
			ingest.WithRuntimeDefaults(runtime),
		),
		replay: replay.New(st,
			replay.WithLogger(logger),
			replay.WithRuntimeDefaults(runtime),
		),
	}, nil
}

// Close closes the database.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
