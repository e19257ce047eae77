package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/streamsync/internal/store"
)

// AuditOptions holds flags for the audit command.
type AuditOptions struct {
	*RootOptions
	Strict bool
}

// AuditReport summarizes leftovers a healthy database should not carry.
type AuditReport struct {
	OrphanStreams []store.StreamStats `json:"orphanStreams"`
	FailedTasks   []store.Task        `json:"failedTasks"`
	TaskCounts    map[string]int      `json:"taskCounts"`
}

// Clean reports whether the audit found nothing to fix.
func (r AuditReport) Clean() bool {
	return len(r.OrphanStreams) == 0 && len(r.FailedTasks) == 0
}

func (r AuditReport) WriteText(w io.Writer) {
	fmt.Fprintf(w, "tasks: %d pending, %d done, %d failed\n",
		r.TaskCounts[store.TaskPending], r.TaskCounts[store.TaskDone], r.TaskCounts[store.TaskFailed])
	fmt.Fprintf(w, "orphan stream stats: %d\n", len(r.OrphanStreams))
	for _, s := range r.OrphanStreams {
		fmt.Fprintf(w, "  %s (thread=%s turn=%s state=%s)\n", s.StreamID, s.ThreadID, s.TurnID, s.State)
	}
	for _, t := range r.FailedTasks {
		fmt.Fprintf(w, "failed task %s %s after %d attempt(s): %s\n", t.ID, t.Kind, t.Attempts, t.LastError)
	}
}

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report orphaned stream stats and outbox health",
		Long: `Report stream stats rows whose stream is gone, outbox tasks that
exhausted their retries, and task counts per status.

Exit codes:
  0 - Report written (or clean with --strict)
  1 - --strict and the audit found something
  2 - Command error (database cannot open)

Examples:
  streamsync audit
  streamsync audit --strict --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "exit 1 when anything is found")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	report := AuditReport{TaskCounts: make(map[string]int)}
	err = a.store.View(ctx, func(tx *store.Tx) error {
		orphans, err := tx.ListOrphanStreamStats(ctx)
		if err != nil {
			return err
		}
		report.OrphanStreams = orphans

		tasks, err := tx.ListTasks(ctx, "")
		if err != nil {
			return err
		}
		report.FailedTasks = []store.Task{}
		for _, t := range tasks {
			report.TaskCounts[t.Status]++
			if t.Status == store.TaskFailed {
				report.FailedTasks = append(report.FailedTasks, t)
			}
		}
		return nil
	})
	if err != nil {
		return out.Fail("audit failed", err)
	}
	if report.OrphanStreams == nil {
		report.OrphanStreams = []store.StreamStats{}
	}

	if err := out.Success(report); err != nil {
		return err
	}
	if opts.Strict && !report.Clean() {
		return NewExitError(ExitFailure, "audit found orphaned or failed rows")
	}
	return nil
}
