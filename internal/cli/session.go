package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/streamsync/internal/ingest"
)

// HeartbeatOptions holds flags for the session heartbeat command.
type HeartbeatOptions struct {
	*RootOptions
	Thread  string
	Session string
	Cursor  int64
}

type sessionOutput struct {
	ingest.SessionResult
}

func (o sessionOutput) WriteText(w io.Writer) {
	fmt.Fprintf(w, "session %s %s on thread %s\n", o.SessionID, o.Status, o.ThreadID)
}

// NewSessionCommand creates the session command group.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage ingest sessions",
	}
	cmd.AddCommand(newHeartbeatCommand(rootOpts))
	return cmd
}

func newHeartbeatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HeartbeatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Create or refresh a session",
		Long: `Create a session bound to a thread, or mark an existing one active.

The session's last event cursor only moves forward.

Examples:
  streamsync session heartbeat --thread th-1 --session se-1
  streamsync session heartbeat --thread th-1 --session se-1 --cursor 42`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeartbeat(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Thread, "thread", "", "thread id (required)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id (required)")
	cmd.Flags().Int64Var(&opts.Cursor, "cursor", 0, "last event cursor seen by the client")
	_ = cmd.MarkFlagRequired("thread")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func runHeartbeat(opts *HeartbeatOptions, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	res, err := a.ingest.EnsureSession(commandContext(cmd), ingest.SessionArgs{
		Actor:           opts.Actor(),
		SessionID:       opts.Session,
		ThreadID:        opts.Thread,
		LastEventCursor: opts.Cursor,
	})
	if err != nil {
		return out.Fail("heartbeat failed", err)
	}
	return out.Success(sessionOutput{res})
}
