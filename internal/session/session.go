// Package session runs the per-connection state machine of the board
// server: login with attempt-limited lockout, registration of the client's
// datagram port, and the command loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/toom/toom/internal/board"
	"github.com/toom/toom/internal/log"
	"github.com/toom/toom/internal/protocol"
	"github.com/toom/toom/internal/store"
)

// State represents the state of a session.
type State int32

const (
	// StateConnecting indicates the stream was accepted but Run has not started.
	StateConnecting State = iota
	// StateAuthenticating indicates the session is in the login loop.
	StateAuthenticating
	// StateActive indicates the session is processing commands.
	StateActive
	// StateTerminated indicates the session has ended.
	StateTerminated
)

// String returns a string representation of the session state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StateActive:
		return "Active"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Replies sent by the login loop and the command handlers.
const (
	ReplyWelcome        = "Welcome to TOOM!"
	ReplyUnknownUser    = "Invalid username! Please try again."
	ReplyBlocked        = "Your account is blocked due to multiple login failures. Please try again later."
	ReplyLockedOut      = "Invalid Password! Your account has been timed out. Please try again later."
	ReplyWrongPassword  = "Invalid password! Attempts remaining for this user before timeout: %d"
	ReplyInvalidCommand = "Error. Invalid command!"
	ReplyNoNewMessage   = "no new message"
	ReplyNoActiveUser   = "no other active user"
	ReplyTooLarge       = "Error. Reply too large!"
)

// Command names.
const (
	CmdPost        = "MSG"
	CmdDelete      = "DLT"
	CmdEdit        = "EDT"
	CmdRecent      = "RDM"
	CmdActiveUsers = "ATU"
	CmdLogout      = "OUT"
)

// Separator splits a request into command and arguments.
const Separator = "; "

type handler struct {
	arity int
	run   func(args []string) (string, error)
}

// Session serves one client connection.
type Session struct {
	id    string
	conn  *protocol.Conn
	store *store.Store
	creds *store.Credentials
	now   func() time.Time
	log   zerolog.Logger

	state    atomic.Int32
	username string
	record   board.SessionRecord

	handlers map[string]handler
}

// New creates a session for an accepted connection.
func New(conn *protocol.Conn, st *store.Store, creds *store.Credentials) *Session {
	s := &Session{
		id:    uuid.New().String(),
		conn:  conn,
		store: st,
		creds: creds,
		now:   time.Now,
	}
	s.log = log.With().Str("session", s.id).Str("remote", conn.RemoteHost()).Logger()
	s.handlers = map[string]handler{
		CmdPost:        {arity: 1, run: s.post},
		CmdDelete:      {arity: 2, run: s.delete},
		CmdEdit:        {arity: 3, run: s.edit},
		CmdRecent:      {arity: 1, run: s.recent},
		CmdActiveUsers: {arity: 0, run: s.activeUsers},
	}
	return s
}

// ID returns the session identifier, also used as the session record key.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Username returns the bound username, empty before login.
func (s *Session) Username() string {
	if s.State() < StateActive {
		return ""
	}
	return s.username
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

func (s *Session) timestamp() string { return board.FormatTime(s.now()) }

// Run drives the session until logout or until the stream fails. A
// registered session record is removed however Run returns.
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateTerminated)
	defer s.conn.Close()

	s.setState(StateAuthenticating)
	if err := s.login(ctx); err != nil {
		s.log.Info().Err(err).Msg("Connection ended before login")
		return err
	}

	if err := s.register(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Failed to register session")
		return err
	}
	defer s.unregister()

	s.setState(StateActive)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		request, err := s.conn.ReceiveString(ctx)
		if err != nil {
			if errors.Is(err, protocol.ErrFraming) {
				s.log.Info().Err(err).Msg("Connection lost, logging out")
			}
			return err
		}

		command, args := ParseRequest(request)
		if command == CmdLogout && len(args) == 0 {
			return s.logout(ctx)
		}

		reply := s.dispatch(command, args)
		err = s.conn.SendString(ctx, reply)
		if errors.Is(err, protocol.ErrFrameTooLarge) {
			s.log.Warn().Err(err).Str("command", command).Msg("Reply too large")
			err = s.conn.SendString(ctx, ReplyTooLarge)
		}
		if err != nil {
			return err
		}
	}
}

func (s *Session) login(ctx context.Context) error {
	for {
		username, err := s.conn.ReceiveString(ctx)
		if err != nil {
			return err
		}
		password, err := s.conn.ReceiveString(ctx)
		if err != nil {
			return err
		}

		outcome, remaining := s.creds.Authenticate(username, password)

		var reply string
		switch outcome {
		case store.LoginAccepted:
			reply = ReplyWelcome
		case store.LoginUnknownUser:
			reply = ReplyUnknownUser
		case store.LoginBlocked:
			reply = ReplyBlocked
		case store.LoginLockedOut:
			reply = ReplyLockedOut
		default:
			reply = fmt.Sprintf(ReplyWrongPassword, remaining)
		}

		if err := s.conn.SendString(ctx, reply); err != nil {
			return err
		}

		if outcome == store.LoginAccepted {
			s.username = username
			s.log = s.log.With().Str("username", username).Logger()
			s.log.Info().Msg("User logged in")
			return nil
		}
		s.log.Info().
			Err(outcome.Err()).
			Str("username", username).
			Str("outcome", outcome.String()).
			Msg("Login rejected")
	}
}

func (s *Session) register(ctx context.Context) error {
	raw, err := s.conn.ReceiveString(ctx)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: datagram port %q", board.ErrValidation, raw)
	}

	rec, err := s.store.Sessions.Append(board.SessionRecord{
		ID:        s.id,
		Timestamp: s.timestamp(),
		Username:  s.username,
		Host:      s.conn.RemoteHost(),
		UDPPort:   port,
	})
	if err != nil {
		return err
	}
	s.record = rec
	s.log.Info().Int("number", rec.Number).Int("udp_port", port).Msg("Session registered")
	return nil
}

func (s *Session) unregister() {
	if _, err := s.store.Sessions.Remove(s.id); err != nil && !errors.Is(err, board.ErrNotFound) {
		s.log.Error().Err(err).Msg("Failed to remove session record")
	}
}

func (s *Session) logout(ctx context.Context) error {
	s.unregister()
	s.log.Info().Msg("User logged out")
	return s.conn.SendString(ctx, fmt.Sprintf("Bye, %s!", s.username))
}

// ParseRequest splits "COMMAND; arg1; arg2" into the command and its
// arguments. A bare command has no arguments.
func ParseRequest(request string) (string, []string) {
	parts := strings.Split(request, Separator)
	return parts[0], parts[1:]
}

func (s *Session) dispatch(command string, args []string) string {
	h, ok := s.handlers[command]
	if !ok || len(args) != h.arity {
		s.log.Warn().
			Err(board.ErrInvalidCommand).
			Str("command", command).
			Int("args", len(args)).
			Msg("Invalid command")
		return ReplyInvalidCommand
	}

	reply, err := h.run(args)
	if err != nil {
		s.log.Warn().Err(err).Str("command", command).Msg("Command rejected")
	}
	return reply
}
