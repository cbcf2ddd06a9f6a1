// Package server accepts board clients and runs one session per connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/toom/toom/internal/log"
	"github.com/toom/toom/internal/protocol"
	"github.com/toom/toom/internal/session"
	"github.com/toom/toom/internal/store"
	"golang.org/x/sync/errgroup"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("server closed")

// Server is the board server.
type Server struct {
	config Config
	store  *store.Store
	creds  *store.Credentials

	ln net.Listener

	mu       sync.Mutex
	conns    map[*protocol.Conn]struct{}
	sessions sync.WaitGroup
	closed   bool
}

// New loads the credentials and opens the board database.
func New(config Config) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	passwords, err := store.LoadCredentials(config.CredentialsPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open board database: %w", err)
	}

	return &Server{
		config: config,
		store:  st,
		creds:  store.NewCredentials(passwords, config.AllowedFailedAttempts, config.LockoutDuration),
		conns:  make(map[*protocol.Conn]struct{}),
	}, nil
}

// Store returns the board store.
func (s *Server) Store() *store.Store { return s.store }

// Listen binds the listening socket.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called,
// then closes every client connection and waits for the sessions to end.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	log.Info().Str("addr", s.ln.Addr().String()).Msg("Server started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		s.shutdown()
		return nil
	})
	g.Go(func() error {
		return s.acceptLoop(gctx)
	})

	err := g.Wait()
	s.sessions.Wait()
	log.Info().Msg("Server stopped")

	if errors.Is(err, ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}
			return fmt.Errorf("failed to accept: %w", err)
		}

		conn := protocol.NewConn(nc)
		if !s.track(conn) {
			conn.Close()
			return ErrServerClosed
		}

		sess := session.New(conn, s.store, s.creds)
		log.Debug().Str("session", sess.ID()).Str("remote", nc.RemoteAddr().String()).Msg("Accepted connection")

		s.sessions.Add(1)
		go func() {
			defer s.sessions.Done()
			defer s.untrack(conn)
			sess.Run(ctx)
		}()
	}
}

func (s *Server) track(c *protocol.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *protocol.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.ln != nil {
		s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
}

// Close stops Serve. It does not release the store; see Shutdown.
func (s *Server) Close() error {
	s.shutdown()
	return nil
}

// Shutdown releases the store and the lockout timers. Call it after Serve
// has returned.
func (s *Server) Shutdown() error {
	s.creds.Close()
	return s.store.Close()
}
