package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toom/toom/internal/board"
)

func TestParseCredentials(t *testing.T) {
	creds, err := ParseCredentials(strings.NewReader("alice secret\n\nbob  hunter2\r\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"alice": "secret", "bob": "hunter2"}, creds)

	_, err = ParseCredentials(strings.NewReader("alice secret\nbob\n"))
	assert.ErrorContains(t, err, "line 2")

	_, err = ParseCredentials(strings.NewReader("alice secret extra\n"))
	assert.Error(t, err)
}

func TestLoadCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.txt")
	require.NoError(t, os.WriteFile(path, []byte("alice secret\n"), 0600))

	creds, err := LoadCredentials(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", creds["alice"])

	_, err = LoadCredentials(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	c := NewCredentials(map[string]string{"alice": "secret"}, 3, time.Hour)
	defer c.Close()

	outcome, _ := c.Authenticate("mallory", "secret")
	assert.Equal(t, LoginUnknownUser, outcome)
	assert.ErrorIs(t, outcome.Err(), board.ErrAuthenticationRejected)

	outcome, remaining := c.Authenticate("alice", "wrong")
	assert.Equal(t, LoginWrongPassword, outcome)
	assert.Equal(t, 2, remaining)

	outcome, _ = c.Authenticate("alice", "secret")
	assert.Equal(t, LoginAccepted, outcome)
	assert.NoError(t, outcome.Err())

	// A success resets the consecutive count.
	outcome, remaining = c.Authenticate("alice", "wrong")
	assert.Equal(t, LoginWrongPassword, outcome)
	assert.Equal(t, 2, remaining)
}

func TestLockoutAndUnlock(t *testing.T) {
	const lockout = 100 * time.Millisecond
	c := NewCredentials(map[string]string{"alice": "secret", "bob": "pw"}, 3, lockout)
	defer c.Close()

	outcome, remaining := c.Authenticate("alice", "wrong")
	require.Equal(t, LoginWrongPassword, outcome)
	require.Equal(t, 2, remaining)
	outcome, remaining = c.Authenticate("alice", "wrong")
	require.Equal(t, LoginWrongPassword, outcome)
	require.Equal(t, 1, remaining)

	outcome, _ = c.Authenticate("alice", "wrong")
	require.Equal(t, LoginLockedOut, outcome)
	assert.ErrorIs(t, outcome.Err(), board.ErrLockedOut)

	outcome, _ = c.Authenticate("alice", "secret")
	assert.Equal(t, LoginBlocked, outcome, "correct password is refused while locked")

	outcome, _ = c.Authenticate("bob", "pw")
	assert.Equal(t, LoginAccepted, outcome, "other accounts are unaffected")

	require.Eventually(t, func() bool {
		outcome, _ := c.Authenticate("alice", "secret")
		return outcome == LoginAccepted
	}, 2*time.Second, 20*time.Millisecond)
}

func TestLoginOutcomeString(t *testing.T) {
	assert.Equal(t, "LockedOut", LoginLockedOut.String())
	assert.Equal(t, "Unknown", LoginOutcome(42).String())
}
