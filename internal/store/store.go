// Package store holds the board's shared state: the message log, the
// session log and the credential table. Each log lives in its own sqlite
// database behind its own lock, so operations on one never wait for the
// other, and every mutation runs in a single transaction under that lock,
// keeping numbers dense.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/toom/toom/internal/migrations"
	"github.com/toom/toom/internal/sqlite"
)

// Store owns the two logs.
type Store struct {
	messagesDB *sql.DB
	sessionsDB *sql.DB
	Messages   *MessageLog
	Sessions   *SessionLog
}

// SessionsPath returns the session log database kept next to the message
// log at path: "toom.db" gives "toom-sessions.db".
func SessionsPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "-sessions" + ext
}

// Open opens (or creates) the board databases for path, applies migrations
// and clears the session log left over from a previous run. Stored messages
// are kept and numbering continues after the last one.
func Open(path string) (*Store, error) {
	messagesDB, sessionsDB, err := openPair(path)
	if err != nil {
		return nil, err
	}

	s, err := New(messagesDB, sessionsDB)
	if err != nil {
		messagesDB.Close()
		sessionsDB.Close()
		return nil, err
	}
	return s, nil
}

// Inspect opens existing board databases for reading without migrating or
// clearing anything. Used by offline inspection.
func Inspect(path string) (*Store, error) {
	for _, p := range []string{path, SessionsPath(path)} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("failed to open board database '%s': %w", p, err)
		}
	}

	messagesDB, sessionsDB, err := openPair(path)
	if err != nil {
		return nil, err
	}
	return Attach(messagesDB, sessionsDB), nil
}

func openPair(path string) (*sql.DB, *sql.DB, error) {
	messagesDB, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, err
	}
	sessionsDB, err := sqlite.Open(SessionsPath(path))
	if err != nil {
		messagesDB.Close()
		return nil, nil, err
	}
	return messagesDB, sessionsDB, nil
}

// New wraps the open message and session databases.
func New(messagesDB, sessionsDB *sql.DB) (*Store, error) {
	if err := migrations.BootstrapMessages(messagesDB); err != nil {
		return nil, fmt.Errorf("failed to bootstrap message schema: %w", err)
	}
	if err := migrations.BootstrapSessions(sessionsDB); err != nil {
		return nil, fmt.Errorf("failed to bootstrap session schema: %w", err)
	}

	s := Attach(messagesDB, sessionsDB)
	if err := s.Sessions.Truncate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Attach wraps databases that already carry the board schema without
// migrating or clearing anything.
func Attach(messagesDB, sessionsDB *sql.DB) *Store {
	return &Store{
		messagesDB: messagesDB,
		sessionsDB: sessionsDB,
		Messages:   &MessageLog{db: messagesDB},
		Sessions:   &SessionLog{db: sessionsDB},
	}
}

// Close closes both databases.
func (s *Store) Close() error {
	mErr := s.messagesDB.Close()
	sErr := s.sessionsDB.Close()
	if mErr != nil {
		return mErr
	}
	return sErr
}

// renumber closes the gap left by deleting position n.
func renumber(tx *sql.Tx, table string, n int) error {
	_, err := tx.Exec("UPDATE "+table+" SET number = number - 1 WHERE number > ?", n)
	if err != nil {
		return fmt.Errorf("failed to renumber %s: %w", table, err)
	}
	return nil
}

func count(q interface {
	QueryRow(query string, args ...any) *sql.Row
}, table string) (int, error) {
	var n int
	if err := q.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
