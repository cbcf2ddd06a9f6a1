package store

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/toom/toom/internal/board"
	"github.com/toom/toom/internal/log"
)

// LoginOutcome is the result of one login attempt.
type LoginOutcome int

const (
	// LoginAccepted means the password matched.
	LoginAccepted LoginOutcome = iota
	// LoginUnknownUser means the username is not in the credential table.
	LoginUnknownUser
	// LoginBlocked means the account was already locked out.
	LoginBlocked
	// LoginWrongPassword means the password did not match and attempts remain.
	LoginWrongPassword
	// LoginLockedOut means this wrong password used up the last attempt.
	LoginLockedOut
)

// String returns a string representation of the outcome.
func (o LoginOutcome) String() string {
	switch o {
	case LoginAccepted:
		return "Accepted"
	case LoginUnknownUser:
		return "UnknownUser"
	case LoginBlocked:
		return "Blocked"
	case LoginWrongPassword:
		return "WrongPassword"
	case LoginLockedOut:
		return "LockedOut"
	default:
		return "Unknown"
	}
}

// Err maps the outcome onto the board error taxonomy.
func (o LoginOutcome) Err() error {
	switch o {
	case LoginAccepted:
		return nil
	case LoginBlocked, LoginLockedOut:
		return board.ErrLockedOut
	default:
		return board.ErrAuthenticationRejected
	}
}

type credential struct {
	password string
	failed   int
}

// Credentials is the credential table with its failed-attempt counters.
// The set of usernames is fixed at construction.
type Credentials struct {
	allowed int
	lockout time.Duration

	mu      sync.Mutex
	entries map[string]*credential
	timers  map[string]*time.Timer
}

// NewCredentials builds a table from username to password. allowed is the
// number of consecutive wrong passwords that locks an account; lockout is
// how long it stays locked.
func NewCredentials(passwords map[string]string, allowed int, lockout time.Duration) *Credentials {
	entries := make(map[string]*credential, len(passwords))
	for user, pass := range passwords {
		entries[user] = &credential{password: pass}
	}
	return &Credentials{
		allowed: allowed,
		lockout: lockout,
		entries: entries,
		timers:  make(map[string]*time.Timer),
	}
}

// Authenticate checks one username/password attempt. It returns the
// outcome and, for LoginWrongPassword, the attempts left before lockout.
func (c *Credentials) Authenticate(username, password string) (LoginOutcome, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[username]
	if !ok {
		return LoginUnknownUser, 0
	}
	if c.allowed-entry.failed <= 0 {
		return LoginBlocked, 0
	}
	if entry.password != password {
		entry.failed++
		remaining := c.allowed - entry.failed
		if remaining <= 0 {
			c.scheduleUnlock(username)
			return LoginLockedOut, 0
		}
		return LoginWrongPassword, remaining
	}

	entry.failed = 0
	return LoginAccepted, 0
}

// scheduleUnlock must be called with c.mu held.
func (c *Credentials) scheduleUnlock(username string) {
	if _, pending := c.timers[username]; pending {
		return
	}
	c.timers[username] = time.AfterFunc(c.lockout, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.timers, username)
		if entry, ok := c.entries[username]; ok {
			entry.failed = 0
		}
		log.Info().Str("username", username).Msg("Account unlocked")
	})
	log.Info().Str("username", username).Dur("lockout", c.lockout).Msg("Account locked")
}

// Close stops pending unlock timers. Used at server shutdown only.
func (c *Credentials) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for user, t := range c.timers {
		t.Stop()
		delete(c.timers, user)
	}
}

// ParseCredentials reads whitespace-separated "username password" lines.
// Blank lines are skipped; any other line without exactly two fields is an
// error.
func ParseCredentials(r io.Reader) (map[string]string, error) {
	out := make(map[string]string)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("credentials line %d: expected \"username password\", got %d fields", line, len(fields))
		}
		out[fields[0]] = fields[1]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read credentials: %w", err)
	}
	return out, nil
}

// LoadCredentials reads a credentials file.
func LoadCredentials(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials file: %w", err)
	}
	defer f.Close()
	return ParseCredentials(f)
}
