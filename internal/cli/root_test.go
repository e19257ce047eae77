package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamsync/internal/model"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "streamsync", cmd.Use)
	assert.Contains(t, cmd.Long, "STREAMSYNC_DB")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"thread", "create"},
		{"session", "heartbeat"},
		{"ingest"},
		{"checkpoint"},
		{"replay"},
		{"resume"},
		{"worker"},
		{"worker", "purge"},
		{"audit"},
		{"test"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"db", "env-file", "log-json", "user", "anon"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestRootInvalidFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--format", "xml", "--db", filepath.Join(t.TempDir(), "x.db"), "audit"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRootGlobalFlagsReachSubcommands(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	out := runRoot(t, "--db", db, "--user", "alice", "--format", "json", "thread", "create", "th-1")
	data := decodeOK(t, out)
	assert.Equal(t, "th-1", data["threadId"])

	// The thread is alice's; another actor is refused.
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", db, "--user", "bob", "thread", "create", "th-1"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), string(model.ErrCodeThreadForbidden))
}

func TestRootOptionsActor(t *testing.T) {
	assert.Equal(t, "alice", (&RootOptions{User: "alice", Anon: "d1"}).Actor().Scope())
	assert.Equal(t, "anon:d1", (&RootOptions{Anon: "d1"}).Actor().Scope())
	assert.Equal(t, model.AnonymousScope, (&RootOptions{}).Actor().Scope())
}

func TestIsValidFormat(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))
	assert.False(t, isValidFormat("yaml"))
	assert.False(t, isValidFormat(""))
}
