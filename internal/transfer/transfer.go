// Package transfer moves files directly between clients over UDP.
//
// A transfer is one control datagram "<username>; <filename>" followed by
// the file content in fixed-size datagrams, all from the same source
// address. There is no acknowledgement and no end marker: the receiver
// treats a quiet period of Config.IdleTimeout on an address as the end of
// that address's file.
package transfer

import (
	"encoding/hex"
	"hash"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

// Placeholder names used when a transfer starts without a control datagram.
const (
	UnknownUsername = "generic_username"
	UnknownFilename = "generic_filename"
)

// Config contains configuration options for sending and receiving files.
type Config struct {
	// PacketSize is the content bytes carried by each datagram.
	PacketSize int
	// IdleTimeout is how long an address may stay quiet before its
	// transfer is considered complete.
	IdleTimeout time.Duration
	// PollInterval bounds each blocking read of the receive loop so it can
	// notice cancellation.
	PollInterval time.Duration
	// Dir is where received files are written.
	Dir string
}

// DefaultConfig returns the default transfer configuration.
func DefaultConfig() Config {
	return Config{
		PacketSize:   1024,
		IdleTimeout:  4 * time.Second,
		PollInterval: 2 * time.Second,
		Dir:          ".",
	}
}

// ControlSeparator joins the username and filename of a control datagram.
const ControlSeparator = "; "

// EncodeControl builds the control datagram payload.
func EncodeControl(username, filename string) []byte {
	return []byte(username + ControlSeparator + filename)
}

// ParseControl reports whether payload is a control datagram and returns
// its fields. It must be printable UTF-8 of the exact form
// "<username>; <filename>" with both fields non-empty.
func ParseControl(payload []byte) (username, filename string, ok bool) {
	if !utf8.Valid(payload) {
		return "", "", false
	}
	text := string(payload)
	for _, r := range text {
		if !unicode.IsPrint(r) {
			return "", "", false
		}
	}

	parts := strings.Split(text, ControlSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// OutputName is the name a received file is stored under.
func OutputName(username, filename string) string {
	if username == "" || filename == "" {
		username, filename = UnknownUsername, UnknownFilename
	}
	name := username + "_" + filename
	// Keep the file inside the download directory.
	return strings.NewReplacer("/", "_", "\\", "_").Replace(name)
}

func newDigest() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// Only returned for an oversized key.
		panic(err)
	}
	return h
}

func digestString(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
