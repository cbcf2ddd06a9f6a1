package main

import (
	"bytes"
	"flag"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toom/toom/internal/board"
	"github.com/toom/toom/internal/server"
	"github.com/toom/toom/internal/store"
	"github.com/urfave/cli/v2"
)

func argsOf(t *testing.T, values ...string) cli.Args {
	t.Helper()
	set := flag.NewFlagSet("toomd", flag.ContinueOnError)
	require.NoError(t, set.Parse(values))
	return cli.NewContext(cli.NewApp(), set, nil).Args()
}

func TestApplyPositional(t *testing.T) {
	config := server.DefaultConfig()
	require.NoError(t, applyPositional(&config, argsOf(t)))
	assert.Equal(t, server.DefaultConfig(), config)

	require.NoError(t, applyPositional(&config, argsOf(t, "9000", "4")))
	assert.Equal(t, ":9000", config.ListenAddr)
	assert.Equal(t, 4, config.AllowedFailedAttempts)

	assert.Error(t, applyPositional(&config, argsOf(t, "9000")))
	assert.Error(t, applyPositional(&config, argsOf(t, "port", "3")))
	assert.Error(t, applyPositional(&config, argsOf(t, "9000", "three")))
}

func TestDump(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "toom.db"))
	require.NoError(t, err)
	defer st.Close()

	const stamp = "05 Mar 2024 14:07:09"
	_, err = st.Messages.Append(stamp, "alice", "hello")
	require.NoError(t, err)
	_, err = st.Messages.Append(stamp, "bob", "hi")
	require.NoError(t, err)
	_, err = st.Messages.UpdateAt(2, func(m *board.MessageRecord) error {
		m.Body = "hi there"
		m.Edited = true
		return nil
	})
	require.NoError(t, err)
	_, err = st.Sessions.Append(board.SessionRecord{Timestamp: stamp, Username: "alice", Host: "127.0.0.1", UDPPort: 6000})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, dump(&buf, st, true, true))
	assert.Equal(t,
		"1; 05 Mar 2024 14:07:09; alice; hello; no\n"+
			"2; 05 Mar 2024 14:07:09; bob; hi there; yes\n"+
			"1; 05 Mar 2024 14:07:09; alice; 127.0.0.1; 6000\n",
		buf.String())

	buf.Reset()
	require.NoError(t, dump(&buf, st, false, true))
	assert.Equal(t, "1; 05 Mar 2024 14:07:09; alice; 127.0.0.1; 6000\n", buf.String())
}

func TestPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "toomd.pid")
	require.NoError(t, writePIDFile(path))
	require.FileExists(t, path)
	require.NoError(t, removePIDFile(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, removePIDFile(path))
}
