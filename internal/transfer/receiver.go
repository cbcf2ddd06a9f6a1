package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/toom/toom/internal/log"
)

// Received describes a finished download.
type Received struct {
	From     string
	Username string
	Filename string
	Path     string
	Bytes    int64
	Packets  int
	Digest   string
	Err      error
}

// peerBuffer is the unbounded queue of payloads from one address.
type peerBuffer struct {
	mu    sync.Mutex
	queue [][]byte
	ready chan struct{}
}

func newPeerBuffer() *peerBuffer {
	return &peerBuffer{ready: make(chan struct{}, 1)}
}

func (b *peerBuffer) push(p []byte) {
	b.mu.Lock()
	b.queue = append(b.queue, p)
	b.mu.Unlock()

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

func (b *peerBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// pop waits up to timeout for the next payload.
func (b *peerBuffer) pop(timeout time.Duration) ([]byte, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			p := b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return p, true
		}
		b.mu.Unlock()

		select {
		case <-b.ready:
		case <-timer.C:
			return nil, false
		}
	}
}

// Receiver owns one datagram socket and reassembles the files sent to it,
// one reassembly goroutine per source address.
type Receiver struct {
	conn   net.PacketConn
	config Config

	// OnComplete, if set before Run, is called after each transfer ends.
	OnComplete func(Received)

	mu      sync.Mutex
	buffers map[string]*peerBuffer
	wg      sync.WaitGroup
}

// NewReceiver creates a receiver on conn.
func NewReceiver(conn net.PacketConn, config Config) *Receiver {
	return &Receiver{
		conn:    conn,
		config:  config,
		buffers: make(map[string]*peerBuffer),
	}
}

// LocalAddr returns the address datagrams should be sent to.
func (r *Receiver) LocalAddr() net.Addr {
	return r.conn.LocalAddr()
}

// Run receives datagrams until ctx is cancelled or the socket is closed,
// then waits for in-flight transfers to finish.
func (r *Receiver) Run(ctx context.Context) error {
	defer r.wg.Wait()

	buf := make([]byte, 64*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}

		if err := r.conn.SetReadDeadline(time.Now().Add(r.config.PollInterval)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, addr, err := r.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to receive datagram: %w", err)
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])
		r.dispatch(addr, payload)
	}
}

func (r *Receiver) dispatch(addr net.Addr, payload []byte) {
	key := addr.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.buffers[key]; ok {
		b.push(payload)
		return
	}

	b := newPeerBuffer()
	username, filename, ok := ParseControl(payload)
	if !ok {
		log.Warn().Str("from", key).Msg("Transfer started without a control datagram")
		b.push(payload)
	}
	r.buffers[key] = b

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res := r.reassemble(key, b, username, filename)
		if r.OnComplete != nil {
			r.OnComplete(res)
		}
	}()
}

// idle reports whether the transfer from key is over, removing its buffer
// if so. A payload that arrived after the pop timed out keeps it open.
func (r *Receiver) idle(key string, b *peerBuffer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.len() > 0 {
		return false
	}
	delete(r.buffers, key)
	return true
}

func (r *Receiver) reassemble(key string, b *peerBuffer, username, filename string) Received {
	res := Received{From: key, Username: username, Filename: filename}
	if username == "" || filename == "" {
		res.Username, res.Filename = UnknownUsername, UnknownFilename
	}
	res.Path = filepath.Join(r.config.Dir, OutputName(username, filename))

	logger := log.With().Str("from", key).Str("username", res.Username).Str("filename", res.Filename).Logger()

	tmp, err := os.CreateTemp(r.config.Dir, ".toom-*.part")
	if err != nil {
		res.Err = fmt.Errorf("failed to create temp file: %w", err)
		r.drain(key, b)
		logger.Error().Err(res.Err).Msg("Transfer failed")
		return res
	}

	digest := newDigest()
	w := io.MultiWriter(tmp, digest)
	for {
		p, ok := b.pop(r.config.IdleTimeout)
		if !ok {
			if r.idle(key, b) {
				break
			}
			continue
		}
		if res.Err != nil {
			continue
		}
		if _, err := w.Write(p); err != nil {
			res.Err = fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
			continue
		}
		res.Bytes += int64(len(p))
		res.Packets++
	}

	if err := finish(tmp, res.Path, res.Err); err != nil {
		res.Err = err
		logger.Error().Err(err).Msg("Transfer failed")
		return res
	}

	res.Digest = digestString(digest)
	logger.Info().
		Str("path", res.Path).
		Int64("bytes", res.Bytes).
		Int("packets", res.Packets).
		Str("blake2b", res.Digest).
		Msg("File received")
	return res
}

// drain discards payloads from key until it goes idle.
func (r *Receiver) drain(key string, b *peerBuffer) {
	for {
		if _, ok := b.pop(r.config.IdleTimeout); !ok && r.idle(key, b) {
			return
		}
	}
}

// finish closes tmp and moves it into place, or removes it on failure.
func finish(tmp *os.File, path string, writeErr error) error {
	closeErr := tmp.Close()
	if writeErr == nil && closeErr != nil {
		writeErr = fmt.Errorf("failed to close %s: %w", tmp.Name(), closeErr)
	}
	if writeErr != nil {
		os.Remove(tmp.Name())
		return writeErr
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move received file into place: %w", err)
	}
	return nil
}
