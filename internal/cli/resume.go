package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/streamsync/internal/replay"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	Thread string
	Turn   string
	From   int64
	Strict bool
}

type resumeOutput struct {
	replay.ResumeResult
}

func (o resumeOutput) WriteText(w io.Writer) {
	fmt.Fprintf(w, "%s %s: %d delta(s), next cursor %d\n", o.Window.StreamID, o.Window.Status, len(o.Deltas), o.NextCursor)
	for _, d := range o.Deltas {
		fmt.Fprintf(w, "  [%d, %d) %s\n", d.CursorStart, d.CursorEnd, d.Kind)
	}
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a turn's primary stream from a cursor",
		Long: `Read the buffered deltas of a turn's primary stream after a cursor.

With --strict, a window that cannot continue from the cursor fails with
E_SYNC_REPLAY_GAP instead of returning an empty page.

Examples:
  streamsync resume --thread th-1 --turn t1 --from 0
  streamsync resume --thread th-1 --turn t1 --from 12 --strict`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResume(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Thread, "thread", "", "thread id (required)")
	cmd.Flags().StringVar(&opts.Turn, "turn", "", "turn id (required)")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "cursor the client holds")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when the window is not ok")
	_ = cmd.MarkFlagRequired("thread")
	_ = cmd.MarkFlagRequired("turn")

	return cmd
}

func runResume(opts *ResumeOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	res, err := a.replay.ResumeFromCursor(commandContext(cmd), replay.ResumeArgs{
		Actor:      opts.Actor(),
		ThreadID:   opts.Thread,
		TurnID:     opts.Turn,
		FromCursor: opts.From,
		Strict:     opts.Strict,
	})
	if err != nil {
		return out.Fail("resume failed", err)
	}
	return out.Success(resumeOutput{res})
}
