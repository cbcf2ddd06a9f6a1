package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toom/toom/internal/client"
	"github.com/toom/toom/internal/protocol"
	"github.com/toom/toom/internal/secretstore"
	"github.com/toom/toom/internal/session"
	"github.com/urfave/cli/v2"
)

func argsOf(t *testing.T, values ...string) cli.Args {
	t.Helper()
	set := flag.NewFlagSet("toom", flag.ContinueOnError)
	require.NoError(t, set.Parse(values))
	return cli.NewContext(cli.NewApp(), set, nil).Args()
}

func TestApplyPositional(t *testing.T) {
	config := client.DefaultConfig()
	require.NoError(t, applyPositional(&config, argsOf(t)))
	assert.Equal(t, "127.0.0.1:7000", config.ServerAddr)

	require.NoError(t, applyPositional(&config, argsOf(t, "localhost", "9000", "6001")))
	assert.Equal(t, "localhost:9000", config.ServerAddr)
	assert.Equal(t, 6001, config.UDPPort)

	assert.Error(t, applyPositional(&config, argsOf(t, "localhost", "9000")))
	assert.Error(t, applyPositional(&config, argsOf(t, "localhost", "x", "6001")))
	assert.Error(t, applyPositional(&config, argsOf(t, "localhost", "9000", "-2")))
}

type memSecrets map[string][]byte

func (m memSecrets) Put(n string, d []byte) error { m[n] = d; return nil }
func (m memSecrets) Get(n string) ([]byte, error) {
	d, ok := m[n]
	if !ok {
		return nil, fmt.Errorf("%s: %w", n, secretstore.ErrNotFound)
	}
	return d, nil
}
func (m memSecrets) Delete(n string) error { delete(m, n); return nil }

type fakeLogin struct {
	password string
	attempts []string
}

func (f *fakeLogin) Login(_ context.Context, username, password string) (string, bool, error) {
	f.attempts = append(f.attempts, username+"/"+password)
	if password != f.password {
		return "Invalid password! Attempts remaining for this user before timeout: 2", false, nil
	}
	return session.ReplyWelcome, true, nil
}

func newPrompter(input string) (*prompter, *bytes.Buffer) {
	var out bytes.Buffer
	return &prompter{in: bufio.NewReader(strings.NewReader(input)), out: &out, fd: -1}, &out
}

func TestLoginRetries(t *testing.T) {
	p, out := newPrompter("alice\nwrong\nalice\nsecret\n")
	fake := &fakeLogin{password: "secret"}
	opts := options{config: client.DefaultConfig()}

	require.NoError(t, login(context.Background(), fake, p, memSecrets{}, opts))
	assert.Equal(t, []string{"alice/wrong", "alice/secret"}, fake.attempts)
	assert.Contains(t, out.String(), "Username: Password: ")
	assert.Contains(t, out.String(), session.ReplyWelcome)
}

func TestLoginRemember(t *testing.T) {
	secrets := memSecrets{}
	opts := options{config: client.DefaultConfig(), username: "alice", remember: true}
	name := secretstore.Name(opts.config.ServerAddr, "alice")

	p, _ := newPrompter("secret\n")
	require.NoError(t, login(context.Background(), &fakeLogin{password: "secret"}, p, secrets, opts))
	assert.Equal(t, "secret", string(secrets[name]))

	// The stored password is used without prompting.
	p, _ = newPrompter("")
	fake := &fakeLogin{password: "secret"}
	require.NoError(t, login(context.Background(), fake, p, secrets, opts))
	assert.Equal(t, []string{"alice/secret"}, fake.attempts)

	// A stale stored password is forgotten and the user is asked.
	p, _ = newPrompter("changed\n")
	fake = &fakeLogin{password: "changed"}
	require.NoError(t, login(context.Background(), fake, p, secrets, opts))
	assert.Equal(t, []string{"alice/secret", "alice/changed"}, fake.attempts)
	assert.Equal(t, "changed", string(secrets[name]))
}

func TestLoginInputClosed(t *testing.T) {
	p, _ := newPrompter("")
	err := login(context.Background(), &fakeLogin{}, p, memSecrets{}, options{})
	assert.Error(t, err)
}

type fakeCommander struct {
	lines   []string
	replies map[string]string
	errs    map[string]error
	err     error
}

func (f *fakeCommander) Execute(_ context.Context, line string) (string, error) {
	f.lines = append(f.lines, line)
	if f.err != nil {
		return "", f.err
	}
	if err := f.errs[line]; err != nil {
		return "", err
	}
	return f.replies[line], nil
}

func TestREPL(t *testing.T) {
	fake := &fakeCommander{replies: map[string]string{
		"MSG; hi": "Message #1 posted at 05 Mar 2024 14:07:09.",
		"ATU":     "bob, 127.0.0.1, 6000, active since 05 Mar 2024 14:07:09\n",
		"OUT":     "Bye, alice!",
	}}
	var out bytes.Buffer
	in := bufio.NewReader(strings.NewReader("MSG; hi\nATU\nOUT\nRDM; never sent\n"))

	require.NoError(t, repl(context.Background(), fake, in, &out))
	assert.Equal(t, []string{"MSG; hi", "ATU", "OUT"}, fake.lines)
	assert.Equal(t,
		Prompt+"Message #1 posted at 05 Mar 2024 14:07:09.\n"+
			Prompt+"bob, 127.0.0.1, 6000, active since 05 Mar 2024 14:07:09\n"+
			Prompt+"Bye, alice!\n",
		out.String())
}

func TestREPLLogsOutAtEndOfInput(t *testing.T) {
	fake := &fakeCommander{replies: map[string]string{"OUT": "Bye, alice!"}}
	var out bytes.Buffer

	require.NoError(t, repl(context.Background(), fake, bufio.NewReader(strings.NewReader("ATU")), &out))
	assert.Equal(t, []string{"ATU", "OUT"}, fake.lines)

	fake.lines = nil
	require.NoError(t, repl(context.Background(), fake, bufio.NewReader(strings.NewReader("")), &out))
	assert.Equal(t, []string{"OUT"}, fake.lines)
}

func TestREPLConnectionLost(t *testing.T) {
	fake := &fakeCommander{err: errors.New("broken pipe")}
	var out bytes.Buffer
	err := repl(context.Background(), fake, bufio.NewReader(strings.NewReader("ATU\n")), &out)
	assert.ErrorContains(t, err, "connection to server lost")
}

func TestREPLOversizedCommandKeepsGoing(t *testing.T) {
	fake := &fakeCommander{
		replies: map[string]string{"OUT": "Bye, alice!"},
		errs:    map[string]error{"MSG; huge": fmt.Errorf("%w: too many bytes", protocol.ErrFrameTooLarge)},
	}
	var out bytes.Buffer

	require.NoError(t, repl(context.Background(), fake, bufio.NewReader(strings.NewReader("MSG; huge\nOUT\n")), &out))
	assert.Equal(t, []string{"MSG; huge", "OUT"}, fake.lines)
	assert.Contains(t, out.String(), "Error. Command too large!\n")
	assert.Contains(t, out.String(), "Bye, alice!\n")
}
