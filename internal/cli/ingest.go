package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/jsonc"

	"github.com/roach88/streamsync/internal/config"
	"github.com/roach88/streamsync/internal/ingest"
)

// IngestOptions holds flags for the ingest command.
type IngestOptions struct {
	*RootOptions
	File    string
	Safe    bool
	Runtime string
}

type ingestOutput struct {
	ingest.Result
}

func (o ingestOutput) WriteText(w io.Writer) {
	fmt.Fprintf(w, "ingest %s: %d stream(s) acked\n", o.IngestStatus, len(o.AckedStreams))
	writeAcked(w, o.AckedStreams)
}

type safeIngestOutput struct {
	ingest.SafeResult
}

func (o safeIngestOutput) WriteText(w io.Writer) {
	fmt.Fprintf(w, "ingest %s", o.Status)
	if o.IngestStatus != "" {
		fmt.Fprintf(w, " (%s)", o.IngestStatus)
	}
	fmt.Fprintln(w)
	if r := o.Recovery; r != nil {
		fmt.Fprintf(w, "  %s: %s -> %s\n", r.Action, r.PreviousSessionID, r.SessionID)
	}
	writeAcked(w, o.AckedStreams)
	for _, e := range o.Errors {
		fmt.Fprintf(w, "  %s: %s (recoverable=%t)\n", e.Code, e.Message, e.Recoverable)
	}
}

func writeAcked(w io.Writer, acked []ingest.AckedStream) {
	for _, s := range acked {
		fmt.Fprintf(w, "  %s -> %d\n", s.StreamID, s.AckCursorEnd)
	}
}

// NewIngestCommand creates the ingest command.
func NewIngestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest a batch of events",
		Long: `Ingest one batch of stream deltas and lifecycle events.

The batch file is JSON and may carry comments and trailing commas. It holds
sessionId, threadId, streamDeltas, lifecycleEvents and an optional runtime
block. The actor always comes from --user/--anon. Use "-" to read stdin.

With --safe, an unknown session is rolled over and failures are reported
as a classified result instead of an error.

Exit codes:
  0 - Batch accepted (or recovered with --safe)
  1 - Batch rejected
  2 - Command error (unreadable file, database cannot open)

Examples:
  streamsync ingest --file batch.jsonc
  streamsync ingest --file batch.json --safe --runtime runtime.yaml
  cat batch.json | streamsync ingest --file - --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "batch file, or - for stdin (required)")
	cmd.Flags().BoolVar(&opts.Safe, "safe", false, "recover unknown sessions and classify failures")
	cmd.Flags().StringVar(&opts.Runtime, "runtime", "", "runtime options file (yaml, json or cue) overriding the batch")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runIngest(opts *IngestOptions, cmd *cobra.Command) error {
	args, err := readBatch(opts.File, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read batch", err)
	}
	if opts.Runtime != "" {
		rt, err := config.LoadRuntimeFile(opts.Runtime)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load runtime options", err)
		}
		args.Runtime = config.Merge(args.Runtime, rt)
	}
	args.Actor = opts.Actor()

	a, err := openApp(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	if !opts.Safe {
		res, err := a.ingest.Ingest(ctx, args.Args)
		if err != nil {
			return out.Fail("ingest rejected", err)
		}
		return out.Success(ingestOutput{res})
	}

	res, err := a.ingest.SafeIngest(ctx, args)
	if err != nil {
		return out.Fail("ingest failed", err)
	}
	if err := out.Success(safeIngestOutput{res}); err != nil {
		return err
	}
	if res.Status == ingest.SafeRejected {
		return NewExitError(ExitFailure, "ingest rejected")
	}
	return nil
}

// readBatch decodes a batch file. Comments and trailing commas are
// stripped before decoding; unknown fields are an error.
func readBatch(path string, stdin io.Reader) (ingest.SafeArgs, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return ingest.SafeArgs{}, err
	}

	var args ingest.SafeArgs
	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return ingest.SafeArgs{}, fmt.Errorf("decode batch: %w", err)
	}
	return args, nil
}
