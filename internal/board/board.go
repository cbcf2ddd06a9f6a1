// Package board defines the records kept by the bulletin board server and
// the errors its operations report.
package board

import (
	"errors"
	"fmt"
	"time"
)

// Errors reported by store and session operations. All of them except the
// framing error in package protocol are recoverable: the session replies
// and keeps running.
var (
	ErrAuthenticationRejected = errors.New("authentication rejected")
	ErrLockedOut              = errors.New("account locked out")
	ErrInvalidCommand         = errors.New("invalid command")
	ErrValidation             = errors.New("validation failed")
	ErrStaleState             = errors.New("stale timestamp")
	ErrUnauthorized           = errors.New("not the author")
	ErrNotFound               = errors.New("record not found")
)

// TimeLayout is the wire and storage format of every timestamp, for
// example "05 Mar 2024 14:07:09".
const TimeLayout = "02 Jan 2006 15:04:05"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp in the local zone.
func ParseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", ErrValidation, s, err)
	}
	return t, nil
}

// MessageRecord is one posted message. Number is its current position in
// the message log and changes when an earlier message is deleted.
type MessageRecord struct {
	Number    int
	Timestamp string
	Username  string
	Body      string
	Edited    bool
}

// Action is "edited" for edited messages and "posted" otherwise.
func (m MessageRecord) Action() string {
	if m.Edited {
		return "edited"
	}
	return "posted"
}

// SessionRecord is one logged-in client. ID is stable for the life of the
// session; Number is its current position in the session log.
type SessionRecord struct {
	ID        string
	Number    int
	Timestamp string
	Username  string
	Host      string
	UDPPort   int
}
