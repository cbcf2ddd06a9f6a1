package transfer

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseControl(t *testing.T) {
	user, file, ok := ParseControl([]byte("alice; notes.txt"))
	require.True(t, ok)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "notes.txt", file)

	for _, raw := range [][]byte{
		[]byte("alice;notes.txt"),
		[]byte("alice; notes; txt"),
		[]byte("; notes.txt"),
		[]byte("alice; "),
		[]byte("alice; notes\n.txt"),
		{0xff, 0xfe, ';', ' ', 'x'},
		{0x00, 0x01, 0x02},
		nil,
	} {
		_, _, ok := ParseControl(raw)
		assert.False(t, ok, "%q should not parse as a control datagram", raw)
	}
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "alice_notes.txt", OutputName("alice", "notes.txt"))
	assert.Equal(t, "generic_username_generic_filename", OutputName("", ""))
	assert.Equal(t, "alice_.._etc_passwd", OutputName("alice", "../etc/passwd"))
}

func TestPeerBufferPop(t *testing.T) {
	b := newPeerBuffer()

	_, ok := b.pop(20 * time.Millisecond)
	assert.False(t, ok)

	b.push([]byte("one"))
	b.push([]byte("two"))
	p, ok := b.pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, "one", string(p))

	go func() {
		time.Sleep(20 * time.Millisecond)
		b.push([]byte("three"))
	}()
	p, ok = b.pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, "two", string(p))
	p, ok = b.pop(time.Second)
	require.True(t, ok)
	assert.Equal(t, "three", string(p))
}

type harness struct {
	t        *testing.T
	dir      string
	receiver *Receiver
	cancel   context.CancelFunc
	done     chan error

	mu       sync.Mutex
	received []Received
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	h := &harness{t: t, dir: t.TempDir(), done: make(chan error, 1)}
	config := Config{
		PacketSize:   256,
		IdleTimeout:  300 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
		Dir:          h.dir,
	}
	h.receiver = NewReceiver(conn, config)
	h.receiver.OnComplete = func(r Received) {
		h.mu.Lock()
		h.received = append(h.received, r)
		h.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.receiver.Run(ctx) }()
	t.Cleanup(cancel)
	return h
}

func (h *harness) waitFor(n int) []Received {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.received) >= n
	}, 5*time.Second, 20*time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Received(nil), h.received...)
}

func sender(t *testing.T) net.PacketConn {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0600))
	return path
}

// pattern returns n bytes that are not printable text.
func pattern(n int, seed byte) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)*7 + seed
	}
	return out
}

func TestSendAndReceive(t *testing.T) {
	h := newHarness(t)
	content := pattern(256*5+17, 1)
	path := writeFile(t, "notes.bin", content)

	sent, err := SendFile(context.Background(), sender(t), h.receiver.LocalAddr(), "alice", path, 256)
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), sent.Bytes)
	assert.Equal(t, 6, sent.Packets)
	assert.Equal(t, "notes.bin", sent.Filename)

	got := h.waitFor(1)[0]
	require.NoError(t, got.Err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "notes.bin", got.Filename)
	assert.Equal(t, filepath.Join(h.dir, "alice_notes.bin"), got.Path)
	assert.Equal(t, sent.Digest, got.Digest)

	data, err := os.ReadFile(got.Path)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	leftovers, err := filepath.Glob(filepath.Join(h.dir, ".toom-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers, "temp files are renamed into place")
}

func TestEmptyFile(t *testing.T) {
	h := newHarness(t)
	path := writeFile(t, "empty.txt", nil)

	sent, err := SendFile(context.Background(), sender(t), h.receiver.LocalAddr(), "bob", path, 256)
	require.NoError(t, err)
	assert.Zero(t, sent.Packets)

	got := h.waitFor(1)[0]
	require.NoError(t, got.Err)
	data, err := os.ReadFile(filepath.Join(h.dir, "bob_empty.txt"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestConcurrentPeersDoNotMix(t *testing.T) {
	h := newHarness(t)
	contentA := pattern(256*8, 3)
	contentB := pattern(256*6+99, 101)
	pathA := writeFile(t, "a.bin", contentA)
	pathB := writeFile(t, "b.bin", contentB)

	var wg sync.WaitGroup
	for _, tc := range []struct{ user, path string }{{"alice", pathA}, {"bob", pathB}} {
		wg.Add(1)
		conn := sender(t)
		go func(user, path string) {
			defer wg.Done()
			_, err := SendFile(context.Background(), conn, h.receiver.LocalAddr(), user, path, 256)
			assert.NoError(t, err)
		}(tc.user, tc.path)
	}
	wg.Wait()

	got := h.waitFor(2)
	require.Len(t, got, 2)
	for _, r := range got {
		require.NoError(t, r.Err)
	}

	dataA, err := os.ReadFile(filepath.Join(h.dir, "alice_a.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(contentA, dataA), "alice's file must hold exactly her bytes")

	dataB, err := os.ReadFile(filepath.Join(h.dir, "bob_b.bin"))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(contentB, dataB), "bob's file must hold exactly his bytes")
}

func TestMissingControlUsesPlaceholders(t *testing.T) {
	h := newHarness(t)
	conn := sender(t)
	first := pattern(100, 0)
	second := pattern(50, 9)

	_, err := conn.WriteTo(first, h.receiver.LocalAddr())
	require.NoError(t, err)
	_, err = conn.WriteTo(second, h.receiver.LocalAddr())
	require.NoError(t, err)

	got := h.waitFor(1)[0]
	require.NoError(t, got.Err)
	assert.Equal(t, UnknownUsername, got.Username)
	assert.Equal(t, UnknownFilename, got.Filename)

	data, err := os.ReadFile(filepath.Join(h.dir, "generic_username_generic_filename"))
	require.NoError(t, err)
	assert.Equal(t, append(first, second...), data)
}

func TestSameAddressStartsNewTransferAfterIdle(t *testing.T) {
	h := newHarness(t)
	conn := sender(t)

	_, err := SendFile(context.Background(), conn, h.receiver.LocalAddr(), "alice", writeFile(t, "one.bin", pattern(300, 1)), 256)
	require.NoError(t, err)
	h.waitFor(1)

	_, err = SendFile(context.Background(), conn, h.receiver.LocalAddr(), "alice", writeFile(t, "two.bin", pattern(40, 2)), 256)
	require.NoError(t, err)
	got := h.waitFor(2)

	assert.Equal(t, "two.bin", got[1].Filename)
	data, err := os.ReadFile(filepath.Join(h.dir, "alice_two.bin"))
	require.NoError(t, err)
	assert.Equal(t, pattern(40, 2), data)
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	h.cancel()

	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop")
	}
}

func TestSendFileMissing(t *testing.T) {
	_, err := SendFile(context.Background(), sender(t), &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}, "alice", filepath.Join(t.TempDir(), "nope"), 256)
	assert.Error(t, err)
}
