// Package server accepts UI/CLI client connections on a Unix domain socket,
// feeds their requests into the router, and broadcasts responses to every
// connected client.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/aresa/glimpse/internal/log"
	"github.com/aresa/glimpse/internal/protocol"
)

// clientBuffer is the per-client outbound queue. A client that falls this
// far behind gets responses dropped rather than blocking the router.
const clientBuffer = 128

// MessageSink receives requests and notifications read from clients.
type MessageSink interface {
	HandleClientMessage(msg *protocol.Message)
}

// Server is the client-facing half of the daemon.
type Server struct {
	path   string
	sink   MessageSink
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	id   string
	conn net.Conn
	out  chan *protocol.Message
}

// New creates a Server listening at socketPath once Run is called.
func New(socketPath string, sink MessageSink) *Server {
	return &Server{
		path:    socketPath,
		sink:    sink,
		logger:  log.WithComponent("server"),
		clients: make(map[string]*client),
	}
}

// Run binds the socket and serves connections until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	l, err := s.bind()
	if err != nil {
		return err
	}
	s.logger.Info("listening for clients", "socket", s.path)

	go func() {
		<-ctx.Done()
		_ = l.Close()
		_ = os.Remove(s.path)
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept client: %w", err)
		}
		go s.serveConn(ctx, conn)
	}
}

// bind claims the socket path. On address-in-use it probes with a connect:
// success means another daemon owns the socket, failure means the file is
// stale and can be replaced.
func (s *Server) bind() (net.Listener, error) {
	l, err := net.Listen("unix", s.path)
	if err == nil {
		return l, nil
	}
	if !isAddrInUse(err) {
		return nil, fmt.Errorf("bind %s: %w", s.path, err)
	}

	probe, probeErr := net.Dial("unix", s.path)
	if probeErr == nil {
		_ = probe.Close()
		return nil, fmt.Errorf("another instance is already listening on %s", s.path)
	}

	s.logger.Warn("removing stale socket", "socket", s.path)
	if err := os.Remove(s.path); err != nil {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	l, err = net.Listen("unix", s.path)
	if err != nil {
		return nil, fmt.Errorf("rebind %s: %w", s.path, err)
	}
	return l, nil
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	var sysErr *os.SyscallError
	if !errors.As(opErr.Err, &sysErr) {
		return false
	}
	return sysErr.Err.Error() == "address already in use"
}

// serveConn runs one client: a writer draining the outbound queue and a
// reader feeding the sink. Either side ending tears the connection down.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		out:  make(chan *protocol.Message, clientBuffer),
	}
	logger := s.logger.With("client", c.id)
	logger.Info("client connected")

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
		_ = conn.Close()
		logger.Info("client disconnected")
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		w := protocol.NewWriter(conn)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-c.out:
				if err := w.Write(msg); err != nil {
					logger.Warn("write to client failed", "error", err)
					return
				}
			}
		}
	}()

	sc := protocol.NewScanner(conn, logger)
	for {
		msg, err := sc.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("client read failed", "error", err)
			}
			return
		}
		switch msg.Type {
		case protocol.MessageRequest, protocol.MessageNotification:
			s.sink.HandleClientMessage(msg)
		default:
			logger.Debug("ignoring client message", "type", msg.Type)
		}
		select {
		case <-writeDone:
			return
		default:
		}
	}
}

// Broadcast queues msg for every connected client. Slow clients lose
// messages instead of blocking the caller.
func (s *Server) Broadcast(msg *protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		select {
		case c.out <- msg:
		default:
			s.logger.Warn("dropping response for slow client", "client", c.id)
		}
	}
}

// ClientCount reports the number of connected clients, for the status API.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
