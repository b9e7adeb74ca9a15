// Package telnet implements the client's single-session TELNET front end:
// raw option negotiation, screen rendering via ANSI escapes, and forwarding
// of raw input bytes to the model's event queue.
package telnet

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/streamrelay/streamrelay/internal/model"
	"github.com/streamrelay/streamrelay/internal/wire"
)

// PollInterval bounds every blocking read and render write, so shutdown
// stays responsive. Accept runs unbounded on its own goroutine; Run stops
// waiting for it as soon as ctx is cancelled.
const PollInterval = 100 * time.Millisecond

// Option negotiation bytes sent once, right after accept.
var (
	doLinemode      = []byte{255, 253, 34}
	linemodeOptions = []byte{255, 250, 34, 1, 0, 255, 240}
	willEcho        = []byte{255, 251, 1}
)

// Screen control sequences used by render.
var clearScreen = []byte{27, '[', 'H', 27, '[', '2', 'J'}

// Server accepts exactly one TELNET client at a time and renders model
// output to it. Raw input bytes are forwarded to Events.
type Server struct {
	ln     net.Listener
	logger *log.Logger
	Events chan<- model.Event

	mu         sync.Mutex
	activeConn net.Conn
}

func (s *Server) setActiveConn(c net.Conn) {
	s.mu.Lock()
	s.activeConn = c
	s.mu.Unlock()
}

func (s *Server) getActiveConn() net.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeConn
}

// clearActiveConnIf clears activeConn only if it still points at conn,
// avoiding a race where a newer connection's close is mistaken for the
// current one's.
func (s *Server) clearActiveConnIf(conn net.Conn) {
	s.mu.Lock()
	if s.activeConn == conn {
		s.activeConn = nil
	}
	s.mu.Unlock()
}

// NewServer binds a TCP listener on INADDR_ANY:port. The listen backlog is
// the system default.
func NewServer(port int, events chan<- model.Event, logger *log.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("telnet: listen: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{ln: ln, logger: logger, Events: events}, nil
}

// Run accepts connections one at a time, forever, until ctx is cancelled. A
// new connection preempts whatever session is currently active.
func (s *Server) Run(ctx context.Context) error {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	accepted := make(chan acceptResult)
	done := make(chan struct{})
	go func() {
		for {
			conn, err := s.ln.Accept()
			select {
			case accepted <- acceptResult{conn, err}:
			case <-done:
				if conn != nil {
					conn.Close()
				}
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			close(done)
			if conn := s.getActiveConn(); conn != nil {
				conn.Close()
			}
			return nil
		case res := <-accepted:
			if res.err != nil {
				return fmt.Errorf("telnet: accept: %w", res.err)
			}
			s.acceptNewConnection(ctx, res.conn)
		}
	}
}

func (s *Server) acceptNewConnection(ctx context.Context, conn net.Conn) {
	if prev := s.getActiveConn(); prev != nil {
		prev.Close()
	}
	s.setActiveConn(conn)

	sessionID := uuid.New().String()
	s.logger.Printf("telnet: session %s connected from %s", sessionID, conn.RemoteAddr())

	negotiation := append(append(append([]byte{}, doLinemode...), linemodeOptions...), willEcho...)
	if _, err := conn.Write(negotiation); err != nil {
		s.logger.Printf("telnet: session %s: negotiation write failed: %v", sessionID, err)
		conn.Close()
		s.clearActiveConnIf(conn)
		return
	}

	go s.readLoop(ctx, conn, sessionID)
}

func (s *Server) readLoop(ctx context.Context, conn net.Conn, sessionID string) {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(PollInterval))
		n, err := conn.Read(buf)
		if err != nil {
			if wire.IsTimeout(err) {
				continue
			}
			s.logger.Printf("telnet: session %s disconnected: %v", sessionID, err)
			s.clearActiveConnIf(conn)
			return
		}
		for i := 0; i < n; i++ {
			s.emit(model.UserInput{Byte: buf[i]})
		}
	}
}

func (s *Server) emit(ev model.Event) {
	select {
	case s.Events <- ev:
	default:
		s.logger.Printf("telnet: event queue full, dropping %T", ev)
	}
}

// Render clears the screen, writes text, and positions the cursor at row on
// the currently active connection. It is a no-op if nobody is connected.
func (s *Server) Render(text string, row int) {
	conn := s.getActiveConn()
	if conn == nil {
		return
	}
	out := append([]byte{}, clearScreen...)
	out = append(out, []byte(text)...)
	out = append(out, setCursorPos(row)...)

	conn.SetWriteDeadline(time.Now().Add(PollInterval))
	if _, err := conn.Write(out); err != nil {
		s.logger.Printf("telnet: render write failed: %v", err)
	}
}

func setCursorPos(row int) []byte {
	return []byte(fmt.Sprintf("\x1b[%d;0H", row))
}

// Close releases the listener and any active connection.
func (s *Server) Close() error {
	if conn := s.getActiveConn(); conn != nil {
		conn.Close()
	}
	return s.ln.Close()
}
