package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/streamsync/internal/store"
)

// ThreadOptions holds flags for the thread create command.
type ThreadOptions struct {
	*RootOptions
	Model string
	Cwd   string
}

type threadOutput struct {
	store.Thread
}

func (o threadOutput) WriteText(w io.Writer) {
	fmt.Fprintf(w, "thread %s (%s)\n", o.ThreadID, o.Status)
}

// NewThreadCommand creates the thread command group.
func NewThreadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread",
		Short: "Manage threads",
	}
	cmd.AddCommand(newThreadCreateCommand(rootOpts))
	return cmd
}

func newThreadCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ThreadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create <threadId>",
		Short: "Create a thread owned by the current actor",
		Long: `Create an active thread owned by the current actor.

Creating a thread that already exists in the same scope returns it
unchanged. A thread of another scope is rejected.

Examples:
  streamsync thread create th-1 --user alice
  streamsync thread create th-1 --model gpt-5 --cwd /work`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runThreadCreate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Model, "model", "", "model the thread runs with")
	cmd.Flags().StringVar(&opts.Cwd, "cwd", "", "working directory of the thread")

	return cmd
}

func runThreadCreate(opts *ThreadOptions, threadID string, cmd *cobra.Command) error {
	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	out := opts.formatter(cmd)
	th, err := a.ingest.EnsureThread(commandContext(cmd), opts.Actor(), threadID, opts.Model, opts.Cwd)
	if err != nil {
		return out.Fail("failed to create thread", err)
	}
	return out.Success(threadOutput{th})
}
