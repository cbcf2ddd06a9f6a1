package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/toom/toom/internal/board"
)

// MessageLog is the ordered log of posted messages.
type MessageLog struct {
	db *sql.DB
	mu sync.RWMutex
}

const messageColumns = "id, number, posted_at, username, body, edited"

type messageRow struct {
	id int64
	board.MessageRecord
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc scanner) (messageRow, error) {
	var row messageRow
	err := sc.Scan(&row.id, &row.Number, &row.Timestamp, &row.Username, &row.Body, &row.Edited)
	return row, err
}

// Append adds a message at the end of the log and returns it with its
// assigned number.
func (l *MessageLog) Append(timestamp, username, body string) (board.MessageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return board.MessageRecord{}, fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback()

	n, err := count(tx, "messages")
	if err != nil {
		return board.MessageRecord{}, err
	}

	rec := board.MessageRecord{
		Number:    n + 1,
		Timestamp: timestamp,
		Username:  username,
		Body:      body,
	}
	_, err = tx.Exec(
		"INSERT INTO messages (number, posted_at, username, body, edited) VALUES (?, ?, ?, ?, 0)",
		rec.Number, rec.Timestamp, rec.Username, rec.Body,
	)
	if err != nil {
		return board.MessageRecord{}, fmt.Errorf("failed to insert message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return board.MessageRecord{}, fmt.Errorf("failed to commit append: %w", err)
	}
	return rec, nil
}

// ReadAll returns a consistent snapshot of the log in number order.
func (l *MessageLog) ReadAll() ([]board.MessageRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rows, err := l.db.Query("SELECT " + messageColumns + " FROM messages ORDER BY number")
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var out []board.MessageRecord
	for rows.Next() {
		row, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, row.MessageRecord)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return out, nil
}

// Len returns the number of messages.
func (l *MessageLog) Len() (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return count(l.db, "messages")
}

// Get returns the message at position number.
func (l *MessageLog) Get(number int) (board.MessageRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	row, err := scanMessage(l.db.QueryRow("SELECT "+messageColumns+" FROM messages WHERE number = ?", number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return board.MessageRecord{}, fmt.Errorf("message #%d: %w", number, board.ErrNotFound)
		}
		return board.MessageRecord{}, fmt.Errorf("failed to get message: %w", err)
	}
	return row.MessageRecord, nil
}

func lookupMessage(tx *sql.Tx, number int) (messageRow, error) {
	row, err := scanMessage(tx.QueryRow("SELECT "+messageColumns+" FROM messages WHERE number = ?", number))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return messageRow{}, fmt.Errorf("message #%d: %w", number, board.ErrNotFound)
		}
		return messageRow{}, fmt.Errorf("failed to get message: %w", err)
	}
	return row, nil
}

// UpdateAt applies mutate to the message at position number. A mutator
// error aborts the update and is returned unchanged. Only the timestamp,
// body and edited flag are written back.
func (l *MessageLog) UpdateAt(number int, mutate func(*board.MessageRecord) error) (board.MessageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return board.MessageRecord{}, fmt.Errorf("failed to begin update: %w", err)
	}
	defer tx.Rollback()

	row, err := lookupMessage(tx, number)
	if err != nil {
		return board.MessageRecord{}, err
	}

	rec := row.MessageRecord
	if err := mutate(&rec); err != nil {
		return row.MessageRecord, err
	}
	rec.Number = row.Number
	rec.Username = row.Username

	_, err = tx.Exec(
		"UPDATE messages SET posted_at = ?, body = ?, edited = ? WHERE id = ?",
		rec.Timestamp, rec.Body, rec.Edited, row.id,
	)
	if err != nil {
		return board.MessageRecord{}, fmt.Errorf("failed to update message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return board.MessageRecord{}, fmt.Errorf("failed to commit update: %w", err)
	}
	return rec, nil
}

// DeleteAt removes the message at position number and shifts every later
// message down by one. check, when non-nil, may veto the delete.
func (l *MessageLog) DeleteAt(number int, check func(board.MessageRecord) error) (board.MessageRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return board.MessageRecord{}, fmt.Errorf("failed to begin delete: %w", err)
	}
	defer tx.Rollback()

	row, err := lookupMessage(tx, number)
	if err != nil {
		return board.MessageRecord{}, err
	}
	if check != nil {
		if err := check(row.MessageRecord); err != nil {
			return row.MessageRecord, err
		}
	}

	if _, err := tx.Exec("DELETE FROM messages WHERE id = ?", row.id); err != nil {
		return board.MessageRecord{}, fmt.Errorf("failed to delete message: %w", err)
	}
	if err := renumber(tx, "messages", number); err != nil {
		return board.MessageRecord{}, err
	}

	if err := tx.Commit(); err != nil {
		return board.MessageRecord{}, fmt.Errorf("failed to commit delete: %w", err)
	}
	return row.MessageRecord, nil
}

// Since returns the messages whose timestamp is strictly later than cutoff.
func (l *MessageLog) Since(cutoff string) ([]board.MessageRecord, error) {
	after, err := board.ParseTime(cutoff)
	if err != nil {
		return nil, err
	}

	all, err := l.ReadAll()
	if err != nil {
		return nil, err
	}

	var out []board.MessageRecord
	for _, m := range all {
		at, err := board.ParseTime(m.Timestamp)
		if err != nil {
			// Not ErrValidation: the cutoff was fine, the row is not.
			return nil, fmt.Errorf("stored message #%d has unreadable timestamp %q", m.Number, m.Timestamp)
		}
		if at.After(after) {
			out = append(out, m)
		}
	}
	return out, nil
}
