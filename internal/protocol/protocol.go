// Package protocol implements the length-prefixed framing used between the
// board server and its clients. A frame is
//
//	Content-Length: <decimal byte count>\r\n<payload>
//
// with no other headers.
package protocol

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// ErrFraming is returned when a frame header is malformed or the stream
// ends inside a frame. It is fatal to the connection.
var ErrFraming = errors.New("framing error")

// ErrFrameTooLarge is returned by Send for a payload over MaxFrameSize.
// Nothing is written, so the connection stays usable.
var ErrFrameTooLarge = errors.New("frame too large")

// MaxFrameSize bounds the payload length of a frame in both directions.
const MaxFrameSize = 16 << 20

const headerPrefix = "Content-Length: "

// Conn sends and receives frames over a byte stream. Sends are serialised so
// frames from concurrent senders never interleave. Bytes read past the end
// of a frame stay buffered for the next Receive.
type Conn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader

	wmu sync.Mutex
	rmu sync.Mutex
}

// NewConn wraps a stream.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	return &Conn{
		rwc: rwc,
		r:   bufio.NewReader(rwc),
	}
}

// AppendFrame appends the encoded frame for payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = append(dst, headerPrefix...)
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, '\r', '\n')
	return append(dst, payload...)
}

// Send writes one frame.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(payload), MaxFrameSize)
	}
	frame := AppendFrame(make([]byte, 0, len(headerPrefix)+12+len(payload)), payload)

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if nc, ok := c.rwc.(net.Conn); ok {
		if deadline, ok := ctx.Deadline(); ok {
			nc.SetWriteDeadline(deadline)
			defer nc.SetWriteDeadline(time.Time{})
		}
	}

	if _, err := c.rwc.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// SendString writes one frame carrying s.
func (c *Conn) SendString(ctx context.Context, s string) error {
	return c.Send(ctx, []byte(s))
}

// Receive blocks until a whole frame has arrived and returns its payload.
// A stream that closes cleanly between frames yields an error matching both
// ErrFraming and io.EOF.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()

	if nc, ok := c.rwc.(net.Conn); ok {
		if deadline, ok := ctx.Deadline(); ok {
			nc.SetReadDeadline(deadline)
			defer nc.SetReadDeadline(time.Time{})
		}
	}

	length, err := c.readHeader()
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(c.r, payload); err != nil {
		return nil, fmt.Errorf("%w: read %d byte payload: %w", ErrFraming, length, err)
	}
	return payload, nil
}

// ReceiveString is Receive returning the payload as a string.
func (c *Conn) ReceiveString(ctx context.Context) (string, error) {
	payload, err := c.Receive(ctx)
	return string(payload), err
}

func (c *Conn) readHeader() (int, error) {
	line, err := c.r.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return 0, fmt.Errorf("%w: %w", ErrFraming, io.EOF)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			return 0, fmt.Errorf("%w: header too long", ErrFraming)
		}
		return 0, fmt.Errorf("%w: read header: %w", ErrFraming, err)
	}
	return ParseHeader(line)
}

// ParseHeader parses a complete header line, including its trailing CRLF,
// and returns the declared payload length.
func ParseHeader(line []byte) (int, error) {
	digits, ok := bytes.CutPrefix(line, []byte(headerPrefix))
	if !ok {
		return 0, fmt.Errorf("%w: missing %q in header %q", ErrFraming, headerPrefix, line)
	}
	digits, ok = bytes.CutSuffix(digits, []byte("\r\n"))
	if !ok {
		return 0, fmt.Errorf("%w: header %q not terminated by CRLF", ErrFraming, line)
	}
	if len(digits) == 0 {
		return 0, fmt.Errorf("%w: empty length in header", ErrFraming)
	}
	for _, b := range digits {
		if b < '0' || b > '9' {
			return 0, fmt.Errorf("%w: invalid length %q", ErrFraming, digits)
		}
	}

	n, err := strconv.Atoi(string(digits))
	if err != nil || n > MaxFrameSize {
		return 0, fmt.Errorf("%w: length %q out of range", ErrFraming, digits)
	}
	return n, nil
}

// Close closes the underlying stream.
func (c *Conn) Close() error {
	return c.rwc.Close()
}

// RemoteHost returns the host part of the peer address, or "" when the
// stream is not a network connection.
func (c *Conn) RemoteHost() string {
	nc, ok := c.rwc.(net.Conn)
	if !ok {
		return ""
	}
	addr := nc.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
