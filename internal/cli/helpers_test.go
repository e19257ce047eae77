package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// runRoot executes the root command with args and returns stdout.
// The command must succeed.
func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execRoot(t, args...)
	require.NoError(t, err, "output: %s", out)
	return out
}

// execRoot executes the root command with args. Logs are discarded.
func execRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// decodeOK decodes a JSON success envelope and returns its data.
func decodeOK(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(t, "ok", resp.Status, "output: %s", out)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return data
}

// decodeError decodes a JSON error envelope.
func decodeError(t *testing.T, out string) *CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	require.Equal(t, "error", resp.Status, "output: %s", out)
	require.NotNil(t, resp.Error)
	return resp.Error
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// newSyncDB returns a database path holding thread th-1 and session se-1
// owned by alice.
func newSyncDB(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "sync.db")
	runRoot(t, "--db", db, "--user", "alice", "thread", "create", "th-1")
	runRoot(t, "--db", db, "--user", "alice", "session", "heartbeat", "--thread", "th-1", "--session", "se-1")
	return db
}

const startedBatch = `{
  // one turn/started delta on the primary stream of t1
  "sessionId": "se-1",
  "threadId": "th-1",
  "streamDeltas": [
    {
      "eventId": "e1",
      "turnId": "t1",
      "streamId": "th-1:t1:0",
      "kind": "turn/started",
      "payloadJson": "{\"method\":\"turn/started\",\"params\":{\"threadId\":\"th-1\",\"turn\":{\"id\":\"t1\",\"status\":\"inProgress\"}}}",
      "cursorStart": 0,
      "cursorEnd": 1,
    },
  ],
}`
