package server

import (
	"fmt"
	"time"
)

// Config represents the configuration for the board server.
type Config struct {
	// ListenAddr is the TCP address to accept clients on.
	ListenAddr string
	// AllowedFailedAttempts is the number of consecutive wrong passwords
	// that locks an account, between 1 and 5.
	AllowedFailedAttempts int
	// LockoutDuration is how long a locked account stays locked.
	LockoutDuration time.Duration
	// CredentialsPath is the "username password" file.
	CredentialsPath string
	// DatabasePath is the sqlite file holding the message log. The session
	// log is kept beside it, see store.SessionsPath.
	DatabasePath string
	// LogLevel is the logging level.
	LogLevel string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ListenAddr:            ":7000",
		AllowedFailedAttempts: 3,
		LockoutDuration:       10 * time.Second,
		CredentialsPath:       "credentials.txt",
		DatabasePath:          "toom.db",
		LogLevel:              "info",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.AllowedFailedAttempts < 1 || c.AllowedFailedAttempts > 5 {
		return fmt.Errorf("invalid number of allowed failed consecutive attempts: %d. Valid value is an integer between 1 and 5", c.AllowedFailedAttempts)
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("invalid lockout duration %s", c.LockoutDuration)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if c.CredentialsPath == "" || c.DatabasePath == "" {
		return fmt.Errorf("credentials and database paths are required")
	}
	return nil
}
