package protocol

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TransportConfig contains configuration options for client connections.
type TransportConfig struct {
	// ConnectTimeout is the timeout for establishing a connection.
	ConnectTimeout time.Duration
	// KeepAliveInterval is the TCP keep-alive period.
	KeepAliveInterval time.Duration
}

// DefaultTransportConfig returns the default transport configuration.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		ConnectTimeout:    10 * time.Second,
		KeepAliveInterval: 30 * time.Second,
	}
}

// Dial connects to a board server and returns a framed connection.
func Dial(ctx context.Context, addr string, config TransportConfig) (*Conn, error) {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial TCP: %w", err)
	}

	return NewConn(conn), nil
}
