// Package client is the board client: it logs in over the framed stream,
// relays commands, keeps the last active-user listing and exchanges files
// with other clients over UDP.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/toom/toom/internal/log"
	"github.com/toom/toom/internal/protocol"
	"github.com/toom/toom/internal/session"
	"github.com/toom/toom/internal/transfer"
)

// CmdUpload is the client-side file upload command: "UPD; <user>; <file>".
const CmdUpload = "UPD"

var (
	// ErrPeerOffline is returned when an upload target is not in the last
	// active-user listing.
	ErrPeerOffline = errors.New("peer offline")
	// ErrNotStarted is returned when a command is issued before Start.
	ErrNotStarted = errors.New("client not started")
)

// Config contains configuration options for the client.
type Config struct {
	// ServerAddr is the host:port of the board server.
	ServerAddr string
	// UDPHost is the local address the transfer socket binds to.
	UDPHost string
	// UDPPort is the local transfer port; 0 picks a free one.
	UDPPort int
	// Transport configures the server connection.
	Transport protocol.TransportConfig
	// Transfer configures file exchange.
	Transfer transfer.Config
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		ServerAddr: "127.0.0.1:7000",
		UDPHost:    "",
		UDPPort:    0,
		Transport:  protocol.DefaultTransportConfig(),
		Transfer:   transfer.DefaultConfig(),
	}
}

// Client is one logged-in board user.
type Client struct {
	config Config
	conn   *protocol.Conn

	// OnReceive is called for every finished download.
	OnReceive func(transfer.Received)
	// OnUpload is called for every finished upload.
	OnUpload func(transfer.Sent, error)

	username string

	udp      net.PacketConn
	receiver *transfer.Receiver
	cancel   context.CancelFunc
	recvDone chan error
	uploads  sync.WaitGroup

	mu        sync.Mutex
	directory string
}

// Dial connects to the server.
func Dial(ctx context.Context, config Config) (*Client, error) {
	conn, err := protocol.Dial(ctx, config.ServerAddr, config.Transport)
	if err != nil {
		return nil, err
	}
	return &Client{config: config, conn: conn}, nil
}

// Username returns the logged-in user.
func (c *Client) Username() string { return c.username }

// Login makes one login attempt and returns the server's reply.
func (c *Client) Login(ctx context.Context, username, password string) (string, bool, error) {
	if err := c.conn.SendString(ctx, username); err != nil {
		return "", false, err
	}
	if err := c.conn.SendString(ctx, password); err != nil {
		return "", false, err
	}
	reply, err := c.conn.ReceiveString(ctx)
	if err != nil {
		return "", false, err
	}
	if reply != session.ReplyWelcome {
		return reply, false, nil
	}
	c.username = username
	return reply, true, nil
}

// Start binds the transfer socket, starts receiving files and reports the
// socket's port to the server. Call it once, after a successful Login.
func (c *Client) Start(ctx context.Context) error {
	udp, err := net.ListenPacket("udp", net.JoinHostPort(c.config.UDPHost, strconv.Itoa(c.config.UDPPort)))
	if err != nil {
		return fmt.Errorf("failed to bind transfer socket: %w", err)
	}

	c.udp = udp
	c.receiver = transfer.NewReceiver(udp, c.config.Transfer)
	c.receiver.OnComplete = func(r transfer.Received) {
		if c.OnReceive != nil {
			c.OnReceive(r)
		}
	}

	rctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.recvDone = make(chan error, 1)
	go func() { c.recvDone <- c.receiver.Run(rctx) }()

	port := udp.LocalAddr().(*net.UDPAddr).Port
	log.Debug().Int("udp_port", port).Msg("Transfer socket ready")
	if err := c.conn.SendString(ctx, strconv.Itoa(port)); err != nil {
		c.stopReceiver()
		return err
	}
	return nil
}

// UDPAddr returns the local transfer address, nil before Start.
func (c *Client) UDPAddr() net.Addr {
	if c.udp == nil {
		return nil
	}
	return c.udp.LocalAddr()
}

// Do sends one server command and returns the reply. After "OUT" the
// client is shut down.
func (c *Client) Do(ctx context.Context, request string) (string, error) {
	if c.receiver == nil {
		return "", ErrNotStarted
	}
	if err := c.conn.SendString(ctx, request); err != nil {
		return "", err
	}
	reply, err := c.conn.ReceiveString(ctx)
	if err != nil {
		return "", err
	}

	command, args := session.ParseRequest(request)
	switch {
	case command == session.CmdActiveUsers && len(args) == 0:
		c.mu.Lock()
		c.directory = reply
		c.mu.Unlock()
	case command == session.CmdLogout && len(args) == 0:
		c.shutdown()
	}
	return reply, nil
}

// Execute runs one line of user input: UPD is handled locally, anything
// else goes to the server.
func (c *Client) Execute(ctx context.Context, line string) (string, error) {
	command, args := session.ParseRequest(line)
	if command != CmdUpload {
		return c.Do(ctx, line)
	}
	if len(args) != 2 {
		return session.ReplyInvalidCommand, nil
	}
	if err := c.Upload(ctx, args[0], args[1]); err != nil {
		if errors.Is(err, ErrPeerOffline) {
			return fmt.Sprintf("%s is offline", args[0]), nil
		}
		return "", err
	}
	return "", nil
}

// Upload starts sending path to username in the background. The peer is
// looked up in the most recent ATU reply.
func (c *Client) Upload(ctx context.Context, username, path string) error {
	if c.udp == nil {
		return ErrNotStarted
	}

	c.mu.Lock()
	peer, ok := FindPeer(c.directory, username)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%s: %w", username, ErrPeerOffline)
	}

	addr, err := peer.Addr()
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", username, err)
	}

	c.uploads.Add(1)
	go func() {
		defer c.uploads.Done()
		sent, err := transfer.SendFile(ctx, c.udp, addr, c.username, path, c.config.Transfer.PacketSize)
		if err != nil {
			log.Warn().Err(err).Str("to", username).Str("path", path).Msg("Upload failed")
		}
		if c.OnUpload != nil {
			c.OnUpload(sent, err)
		}
	}()
	return nil
}

func (c *Client) stopReceiver() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.recvDone
	c.udp.Close()
	c.cancel = nil
}

func (c *Client) shutdown() {
	c.conn.Close()
	c.uploads.Wait()
	c.stopReceiver()
}

// Close tears the client down without logging out; the server treats the
// dropped stream as a logout.
func (c *Client) Close() error {
	c.shutdown()
	return nil
}
