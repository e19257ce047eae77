package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/streamsync/internal/replay"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Thread  string
	Cursors []string // streamId=cursor
}

type replayOutput struct {
	replay.State
}

func (o replayOutput) WriteText(w io.Writer) {
	fmt.Fprintf(w, "%d stream(s), %d delta(s), %d snapshot(s)\n", len(o.Streams), len(o.Deltas), len(o.Snapshots))
	for _, win := range o.StreamWindows {
		fmt.Fprintf(w, "  %s %s [%d, %d)\n", win.StreamID, win.Status, win.ServerCursorStart, win.ServerCursorEnd)
	}
	for _, cp := range o.NextCheckpoints {
		fmt.Fprintf(w, "  next %s -> %d\n", cp.StreamID, cp.Cursor)
	}
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Pull thread state from stream cursors",
		Long: `Pull the state of a thread: its streams, item snapshots, and the
buffered deltas after each given stream cursor.

Each --cursor names a stream and the cursor the client holds for it.
Streams without a cursor flag are reported but not read.

Examples:
  streamsync replay --thread th-1
  streamsync replay --thread th-1 --cursor th-1:t1:0=12 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Thread, "thread", "", "thread id (required)")
	cmd.Flags().StringArrayVar(&opts.Cursors, "cursor", nil, "stream cursor as streamId=N (repeatable)")
	_ = cmd.MarkFlagRequired("thread")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	cursors, err := parseStreamCursors(opts.Cursors)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --cursor", err)
	}

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	state, err := a.replay.PullState(commandContext(cmd), replay.Args{
		Actor:             opts.Actor(),
		ThreadID:          opts.Thread,
		StreamCursorsByID: cursors,
	})
	if err != nil {
		return out.Fail("replay failed", err)
	}
	return out.Success(replayOutput{state})
}

// parseStreamCursors parses streamId=N pairs. Stream ids may contain '=',
// so the cursor is taken after the last one.
func parseStreamCursors(values []string) ([]replay.StreamCursor, error) {
	cursors := make([]replay.StreamCursor, 0, len(values))
	for _, v := range values {
		i := strings.LastIndexByte(v, '=')
		if i <= 0 {
			return nil, fmt.Errorf("%q: expected streamId=cursor", v)
		}
		n, err := strconv.ParseInt(v[i+1:], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: cursor: %w", v, err)
		}
		cursors = append(cursors, replay.StreamCursor{StreamID: v[:i], Cursor: n})
	}
	return cursors, nil
}
