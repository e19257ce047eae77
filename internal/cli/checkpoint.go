package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/streamsync/internal/ingest"
)

// CheckpointOptions holds flags for the checkpoint command.
type CheckpointOptions struct {
	*RootOptions
	Thread string
	Stream string
	Cursor int64
}

type checkpointOutput struct {
	ThreadID string `json:"threadId"`
	StreamID string `json:"streamId"`
	Cursor   int64  `json:"cursor"`
}

func (o checkpointOutput) WriteText(w io.Writer) {
	fmt.Fprintf(w, "checkpoint %s -> %d\n", o.StreamID, o.Cursor)
}

// NewCheckpointCommand creates the checkpoint command.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckpointOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Acknowledge a stream cursor",
		Long: `Record that the client has applied a stream up to a cursor.

Checkpoints never move backwards; a lower cursor is ignored.

Example:
  streamsync checkpoint --thread th-1 --stream th-1:t1:0 --cursor 12`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoint(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Thread, "thread", "", "thread id (required)")
	cmd.Flags().StringVar(&opts.Stream, "stream", "", "stream id (required)")
	cmd.Flags().Int64Var(&opts.Cursor, "cursor", 0, "acknowledged cursor")
	_ = cmd.MarkFlagRequired("thread")
	_ = cmd.MarkFlagRequired("stream")

	return cmd
}

func runCheckpoint(opts *CheckpointOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	err = a.ingest.UpsertCheckpoint(commandContext(cmd), ingest.CheckpointArgs{
		Actor:    opts.Actor(),
		ThreadID: opts.Thread,
		StreamID: opts.Stream,
		Cursor:   opts.Cursor,
	})
	if err != nil {
		return out.Fail("checkpoint failed", err)
	}
	return out.Success(checkpointOutput{ThreadID: opts.Thread, StreamID: opts.Stream, Cursor: opts.Cursor})
}
