package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/toom/toom/internal/log"
)

// Sent describes a finished upload.
type Sent struct {
	To       string
	Filename string
	Bytes    int64
	Packets  int
	Digest   string
}

// SendFile uploads the file at path to the peer at to, announcing it as
// coming from username. The advertised filename is the base name of path.
// Delivery is best effort.
func SendFile(ctx context.Context, conn net.PacketConn, to net.Addr, username, path string, packetSize int) (Sent, error) {
	if packetSize <= 0 {
		return Sent{}, fmt.Errorf("invalid packet size %d", packetSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return Sent{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	sent := Sent{To: to.String(), Filename: filepath.Base(path)}

	if _, err := conn.WriteTo(EncodeControl(username, sent.Filename), to); err != nil {
		return sent, fmt.Errorf("failed to send control datagram: %w", err)
	}

	digest := newDigest()
	buf := make([]byte, packetSize)
	for {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			if _, err := conn.WriteTo(buf[:n], to); err != nil {
				return sent, fmt.Errorf("failed to send datagram %d: %w", sent.Packets+1, err)
			}
			digest.Write(buf[:n])
			sent.Bytes += int64(n)
			sent.Packets++
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				break
			}
			return sent, fmt.Errorf("failed to read file: %w", readErr)
		}
	}

	sent.Digest = digestString(digest)
	log.Info().
		Str("to", sent.To).
		Str("filename", sent.Filename).
		Int64("bytes", sent.Bytes).
		Int("packets", sent.Packets).
		Str("blake2b", sent.Digest).
		Msg("File uploaded")
	return sent, nil
}
