package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/toom/toom/internal/log"
	"github.com/toom/toom/internal/protocol"
	"github.com/toom/toom/internal/secretstore"
	"github.com/toom/toom/internal/session"
	"golang.org/x/term"
)

// Prompt is printed before every command.
const Prompt = "Enter one of the following commands (MSG, DLT, EDT, RDM, ATU, OUT, UPD): "

type prompter struct {
	in  *bufio.Reader
	out io.Writer
	// fd is the terminal to read passwords from without echo; -1 disables it.
	fd int
}

func (p *prompter) line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	s, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || s == "") {
		return "", err
	}
	return strings.TrimRight(s, "\r\n"), nil
}

func (p *prompter) password(prompt string) (string, error) {
	if p.fd < 0 || !term.IsTerminal(p.fd) {
		return p.line(prompt)
	}
	fmt.Fprint(p.out, prompt)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type loginClient interface {
	Login(ctx context.Context, username, password string) (string, bool, error)
}

// login repeats attempts until the server accepts one. With remember set,
// a stored password is tried first and a newly accepted one is stored.
func login(ctx context.Context, c loginClient, p *prompter, secrets secretstore.Store, opts options) error {
	for {
		username := opts.username
		if username == "" {
			var err error
			if username, err = p.line("Username: "); err != nil {
				return err
			}
		}

		name := secretstore.Name(opts.config.ServerAddr, username)
		var password string
		remembered := false
		if opts.remember {
			if d, err := secrets.Get(name); err == nil {
				password, remembered = string(d), true
			} else if !errors.Is(err, secretstore.ErrNotFound) {
				log.Warn().Err(err).Msg("Failed to read remembered password")
			}
		}
		if !remembered {
			var err error
			if password, err = p.password("Password: "); err != nil {
				return err
			}
		}

		reply, ok, err := c.Login(ctx, username, password)
		if err != nil {
			return err
		}
		fmt.Fprintln(p.out, reply)

		if ok {
			if opts.remember && !remembered {
				if err := secrets.Put(name, []byte(password)); err != nil {
					log.Warn().Err(err).Msg("Failed to remember password")
				}
			}
			return nil
		}
		if remembered {
			if err := secrets.Delete(name); err != nil {
				log.Warn().Err(err).Msg("Failed to forget password")
			}
		}
	}
}

type commander interface {
	Execute(ctx context.Context, line string) (string, error)
}

// repl relays user commands until OUT. End of input logs out.
func repl(ctx context.Context, c commander, in *bufio.Reader, out io.Writer) error {
	for {
		fmt.Fprint(out, Prompt)
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil
		line = strings.TrimRight(line, "\r\n")
		if eof && line == "" {
			line = session.CmdLogout
		}

		reply, err := c.Execute(ctx, line)
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			fmt.Fprintln(out, "Error. Command too large!")
			continue
		}
		if err != nil {
			return fmt.Errorf("connection to server lost: %w", err)
		}
		if reply != "" {
			fmt.Fprintln(out, strings.TrimRight(reply, "\n"))
		}

		command, args := session.ParseRequest(line)
		if command == session.CmdLogout && len(args) == 0 {
			return nil
		}
		if eof {
			line = session.CmdLogout
			reply, err := c.Execute(ctx, line)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, reply)
			return nil
		}
	}
}
