package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/streamsync/internal/outbox"
)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Once bool
	Poll time.Duration
}

// PurgeOptions holds flags for the worker purge command.
type PurgeOptions struct {
	*RootOptions
	OlderThan time.Duration
}

type drainOutput struct {
	Ran int `json:"ran"`
}

func (o drainOutput) WriteText(w io.Writer) {
	fmt.Fprintf(w, "ran %d task(s)\n", o.Ran)
}

type purgeOutput struct {
	Purged int `json:"purged"`
}

func (o purgeOutput) WriteText(w io.Writer) {
	fmt.Fprintf(w, "purged %d task(s)\n", o.Purged)
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run deferred outbox tasks",
		Long: `Run the outbox worker: turn finalization, stream cleanup and timeouts,
expired delta cleanup and stale session timeouts.

Without --once the worker runs until interrupted, waking when tasks fall
due or every poll interval.

Examples:
  streamsync worker
  streamsync worker --poll 5s --log-json
  streamsync worker --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run due tasks and exit")
	cmd.Flags().DurationVar(&opts.Poll, "poll", outbox.DefaultPollInterval, "poll interval when idle")

	cmd.AddCommand(newPurgeCommand(rootOpts))

	return cmd
}

func runWorker(opts *WorkerOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions, outbox.WithPollInterval(opts.Poll))
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	parentCtx := commandContext(cmd)

	if opts.Once {
		n, err := a.worker.RunOnce(parentCtx)
		if err != nil {
			return out.Fail("drain failed", err)
		}
		return out.Success(drainOutput{Ran: n})
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			a.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a.logger.Info("worker starting", "db", a.process.DBPath, "poll", opts.Poll)
	if err := a.worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "worker error", err)
	}
	a.logger.Info("worker stopped gracefully")
	return nil
}

func newPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete finished outbox tasks",
		Long: `Delete done tasks last updated more than --older-than ago.
Pending and failed tasks are kept.

Example:
  streamsync worker purge --older-than 72h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.OlderThan, "older-than", 7*24*time.Hour, "minimum age of purged tasks")

	return cmd
}

func runPurge(opts *PurgeOptions, cmd *cobra.Command) error {
	if opts.OlderThan < 0 {
		return NewExitError(ExitCommandError, "--older-than must not be negative")
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	n, err := a.worker.Purge(commandContext(cmd), opts.OlderThan)
	if err != nil {
		return out.Fail("purge failed", err)
	}
	return out.Success(purgeOutput{Purged: n})
}
