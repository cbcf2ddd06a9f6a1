package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/toom/toom/internal/board"
)

func (s *Session) post(args []string) (string, error) {
	body := args[0]
	if body == "" {
		return "Invalid message was sent.", fmt.Errorf("%w: empty message", board.ErrValidation)
	}

	rec, err := s.store.Messages.Append(s.timestamp(), s.username, body)
	if err != nil {
		return "Failed to post message.", err
	}

	s.log.Info().Int("number", rec.Number).Str("body", body).Str("at", rec.Timestamp).Msg("Message posted")
	return fmt.Sprintf("Message #%d posted at %s.", rec.Number, rec.Timestamp), nil
}

// parseNumber reads a message number argument.
func parseNumber(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: message number %q", board.ErrValidation, raw)
	}
	return n, nil
}

// guard rejects a mutation of m unless the caller saw the current version
// and wrote the message.
func (s *Session) guard(m board.MessageRecord, timestamp string) error {
	if m.Timestamp != timestamp {
		return fmt.Errorf("%w: message #%d is at %s, not %s", board.ErrStaleState, m.Number, m.Timestamp, timestamp)
	}
	if m.Username != s.username {
		return fmt.Errorf("%w: message #%d belongs to %s", board.ErrUnauthorized, m.Number, m.Username)
	}
	return nil
}

// rejection maps a delete/edit failure onto its reply.
func rejection(verb string, number int, err error) string {
	switch {
	case errors.Is(err, board.ErrValidation), errors.Is(err, board.ErrNotFound):
		return "Invalid message number."
	case errors.Is(err, board.ErrStaleState):
		return fmt.Sprintf("Invalid timestamp for message #%d.", number)
	case errors.Is(err, board.ErrUnauthorized):
		return fmt.Sprintf("Unauthorised to %s message #%d.", verb, number)
	default:
		return fmt.Sprintf("Failed to %s message #%d.", verb, number)
	}
}

func (s *Session) delete(args []string) (string, error) {
	number, err := parseNumber(args[0])
	if err != nil {
		return rejection("delete", 0, err), err
	}
	timestamp := args[1]

	rec, err := s.store.Messages.DeleteAt(number, func(m board.MessageRecord) error {
		return s.guard(m, timestamp)
	})
	if err != nil {
		return rejection("delete", number, err), err
	}

	at := s.timestamp()
	s.log.Info().Int("number", number).Str("body", rec.Body).Str("at", at).Msg("Message deleted")
	return fmt.Sprintf("Message #%d deleted at %s.", number, at), nil
}

func (s *Session) edit(args []string) (string, error) {
	number, err := parseNumber(args[0])
	if err != nil {
		return rejection("edit", 0, err), err
	}
	timestamp, body := args[1], args[2]

	at := s.timestamp()
	_, err = s.store.Messages.UpdateAt(number, func(m *board.MessageRecord) error {
		if err := s.guard(*m, timestamp); err != nil {
			return err
		}
		m.Body = body
		m.Timestamp = at
		m.Edited = true
		return nil
	})
	if err != nil {
		return rejection("edit", number, err), err
	}

	s.log.Info().Int("number", number).Str("body", body).Str("at", at).Msg("Message edited")
	return fmt.Sprintf("Message #%d edited at %s.", number, at), nil
}

// FormatMessage renders one RDM result line.
func FormatMessage(m board.MessageRecord) string {
	return fmt.Sprintf("#%d %s: \"%s\", %s at %s\n", m.Number, m.Username, m.Body, m.Action(), m.Timestamp)
}

func (s *Session) recent(args []string) (string, error) {
	msgs, err := s.store.Messages.Since(args[0])
	if err != nil {
		if errors.Is(err, board.ErrValidation) {
			return "Invalid timestamp.", err
		}
		return "Failed to read messages.", err
	}

	if len(msgs) == 0 {
		s.log.Info().Str("since", args[0]).Int("count", 0).Msg("Read messages")
		return ReplyNoNewMessage, nil
	}

	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(FormatMessage(m))
	}
	s.log.Info().Str("since", args[0]).Int("count", len(msgs)).Msg("Read messages")
	return b.String(), nil
}

// FormatActiveUser renders one ATU result line.
func FormatActiveUser(r board.SessionRecord) string {
	return fmt.Sprintf("%s, %s, %d, active since %s\n", r.Username, r.Host, r.UDPPort, r.Timestamp)
}

func (s *Session) activeUsers([]string) (string, error) {
	sessions, err := s.store.Sessions.ReadAll()
	if err != nil {
		return "Failed to list active users.", err
	}

	var b strings.Builder
	others := 0
	for _, r := range sessions {
		if r.ID == s.id {
			continue
		}
		b.WriteString(FormatActiveUser(r))
		others++
	}

	s.log.Info().Int("count", others).Msg("Listed active users")
	if others == 0 {
		return ReplyNoActiveUser, nil
	}
	return b.String(), nil
}
