package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/tkallio/rivet/config"
)

// maxLineBytes bounds one request line. Oversized lines fail as
// malformed rather than stalling the connection.
const maxLineBytes = 1 << 20

// Server accepts control connections and feeds request lines to the
// dispatcher. One request/response per line, no batching; each
// request runs synchronously to completion on its connection's
// goroutine.
type Server struct {
	state    *ControlState
	listener net.Listener

	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	closed bool
}

// NewServer creates a server over the given control state.
func NewServer(state *ControlState) *Server {
	return &Server{
		state: state,
		conns: make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured endpoint (tcp://loopback:port or a
// local socket path) and starts accepting in the background.
func (s *Server) Listen(endpoint string) error {
	network, addr, err := config.ParseEndpoint(endpoint)
	if err != nil {
		return err
	}
	if network == "unix" {
		// A stale socket from an unclean shutdown would fail the bind.
		_ = os.Remove(addr)
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return err
	}
	s.listener = ln
	log.Infof("control service listening on %s", endpoint)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound address, nil before Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Errorf("accept failed: %s", err.Error())
			}
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

// serveConn reads newline-delimited requests until EOF. Every line
// gets exactly one response line tied to its request id.
func (s *Server) serveConn(conn net.Conn) {
	client := conn.RemoteAddr().String()
	log.Infof("client connected: %s", client)
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		log.Infof("client disconnected: %s", client)
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	writer := bufio.NewWriter(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.state.Dispatch(line, client)
		data, err := json.Marshal(resp)
		if err != nil {
			// The envelope only holds marshalable values; treat this
			// as a per-request internal error.
			data, _ = json.Marshal(errorResponse(resp.ID, errors.New("internal encoding error")))
		}
		writer.Write(data)
		writer.WriteByte('\n')
		if err := writer.Flush(); err != nil {
			return
		}
	}

	// An oversized line never reaches the dispatcher; answer it as
	// malformed before dropping the connection.
	if errors.Is(scanner.Err(), bufio.ErrTooLong) {
		resp := errorResponse(0, ErrMalformed)
		s.state.emitAudit(AuditEvent{
			Time:   time.Now(),
			OK:     false,
			Error:  resp.Error,
			Client: client,
		})
		data, _ := json.Marshal(resp)
		writer.Write(data)
		writer.WriteByte('\n')
		writer.Flush()
	}
}

// Close stops accepting and drops open connections.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
