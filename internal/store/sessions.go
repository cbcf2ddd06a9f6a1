package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/toom/toom/internal/board"
)

// SessionLog is the ordered log of logged-in clients.
type SessionLog struct {
	db *sql.DB
	mu sync.RWMutex
}

const sessionColumns = "id, number, logged_in_at, username, host, udp_port"

func scanSession(sc scanner) (board.SessionRecord, error) {
	var rec board.SessionRecord
	err := sc.Scan(&rec.ID, &rec.Number, &rec.Timestamp, &rec.Username, &rec.Host, &rec.UDPPort)
	return rec, err
}

// Append adds rec at the end of the log. A missing ID is generated.
func (l *SessionLog) Append(rec board.SessionRecord) (board.SessionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return board.SessionRecord{}, fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	n, err := count(tx, "sessions")
	if err != nil {
		return board.SessionRecord{}, err
	}
	rec.Number = n + 1

	_, err = tx.Exec(
		"INSERT INTO sessions (id, number, logged_in_at, username, host, udp_port) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, rec.Number, rec.Timestamp, rec.Username, rec.Host, rec.UDPPort,
	)
	if err != nil {
		return board.SessionRecord{}, fmt.Errorf("failed to insert session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return board.SessionRecord{}, fmt.Errorf("failed to commit append: %w", err)
	}
	return rec, nil
}

// ReadAll returns a consistent snapshot of the log in number order.
func (l *SessionLog) ReadAll() ([]board.SessionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.Query("SELECT " + sessionColumns + " FROM sessions ORDER BY number")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []board.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return out, nil
}

// DeleteAt removes the session at position number and renumbers the rest.
func (l *SessionLog) DeleteAt(number int) (board.SessionRecord, error) {
	return l.remove("number = ?", number)
}

// Remove removes the session with the given ID and renumbers the rest.
func (l *SessionLog) Remove(id string) (board.SessionRecord, error) {
	return l.remove("id = ?", id)
}

func (l *SessionLog) remove(where string, arg any) (board.SessionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return board.SessionRecord{}, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanSession(tx.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE "+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return board.SessionRecord{}, fmt.Errorf("session %v: %w", arg, board.ErrNotFound)
		}
		return board.SessionRecord{}, fmt.Errorf("failed to get session: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM sessions WHERE id = ?", rec.ID); err != nil {
		return board.SessionRecord{}, fmt.Errorf("failed to delete session: %w", err)
	}
	if err := renumber(tx, "sessions", rec.Number); err != nil {
		return board.SessionRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return board.SessionRecord{}, fmt.Errorf("failed to commit delete: %w", err)
	}
	return rec, nil
}

// Truncate empties the log.
func (l *SessionLog) Truncate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.Exec("DELETE FROM sessions"); err != nil {
		return fmt.Errorf("failed to truncate sessions: %w", err)
	}
	return nil
}
