package uds

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/bmwcarit/joynr-cc/internal/frame"
	"github.com/bmwcarit/joynr-cc/internal/log"
	"github.com/rs/zerolog"
)

// ServerConfig configures a Server. OnConnected is invoked once per
// connection from that connection's read-loop goroutine; OnDisconnected
// at most once per connection, from whichever of its read loop, its
// writer or Server.Shutdown closes it first; OnMessage is invoked for
// every message frame received.
type ServerConfig struct {
	SocketPath    string
	SendQueueSize int

	OnConnected    func(client ClientAddress, sender Sender)
	OnMessage      func(client ClientAddress, body []byte)
	OnDisconnected func(client ClientAddress)
}

// Server is the UDS server half of spec §4.6. It holds a weakly
// referenced connection registry, per the design notes' "shared_ptr to
// the event loop keeps the connection alive independent of server
// lifetime": live connections own themselves via their own goroutines,
// the registry only observes them.
type Server struct {
	cfg      ServerConfig
	logger   zerolog.Logger
	listener net.Listener

	mu        sync.Mutex
	conns     map[uint64]weak.Pointer[connection]
	nextConnID uint64

	wg       sync.WaitGroup // live connection goroutines
	closed   chan struct{}
	closeOnce sync.Once
}

// connection is one accepted peer. It is referenced strongly only by its
// own goroutines and weakly by the server's registry, so it is collected
// once both goroutines exit even if Server.Shutdown is never called.
type connection struct {
	fc      *frameConn
	server  *Server
	id      uint64
	addr    ClientAddress
	peer    PeerCredentials
	closed  int32 // atomic, guards onDisconnected idempotency
}

// NewServer constructs a Server bound to cfg.SocketPath. Call Start to
// begin accepting connections.
func NewServer(cfg ServerConfig) *Server {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 100
	}
	return &Server{
		cfg:    cfg,
		logger: log.WithComponent("uds-server"),
		conns:  make(map[uint64]weak.Pointer[connection]),
		closed: make(chan struct{}),
	}
}

// Start unlinks any stale socket file at SocketPath, sets a umask that
// denies access to "others", listens, and spawns the accept loop. Server
// restart after a previous Start is supported: the stale-socket unlink
// makes that safe.
func (s *Server) Start() error {
	if err := os.RemoveAll(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("uds server: failed to remove stale socket %s: %w", s.cfg.SocketPath, err)
	}

	previousUmask := setUmask(0o077)
	l, err := net.Listen("unix", s.cfg.SocketPath)
	restoreUmask(previousUmask)
	if err != nil {
		return fmt.Errorf("uds server: failed to listen on %s: %w", s.cfg.SocketPath, err)
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}
			s.logger.Warn().Err(err).Msg("accept failed")
			return
		}
		s.wg.Add(1)
		go s.serve(nc)
	}
}

func (s *Server) serve(nc net.Conn) {
	defer s.wg.Done()

	peer, err := peerCredentials(nc)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to read peer credentials")
	}

	fc := newFrameConn(nc, s.cfg.SendQueueSize, s.logger)
	conn := &connection{fc: fc, server: s, peer: peer}

	h, body, err := frame.ReadFrame(nc)
	if err != nil {
		s.logger.Warn().Err(err).Msg("connection closed before init frame")
		fc.close(true)
		return
	}
	if !h.IsInit() {
		s.logger.Warn().Msg("rejecting connection: first frame is not an init frame")
		fc.close(true)
		return
	}
	addr, err := parseClientAddress(body)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rejecting connection: invalid init frame body")
		fc.close(true)
		return
	}
	conn.addr = addr

	id := s.register(conn)
	conn.id = id
	defer s.unregister(id)

	fc.wg.Add(1)
	go fc.runWriter(func(err error) { s.onTransportError(conn, err) })

	if s.cfg.OnConnected != nil {
		s.cfg.OnConnected(addr, &connSender{fc: fc})
	}

	s.readLoop(conn)
	fc.waitWriter()
	s.doClose(conn)
}

func (s *Server) readLoop(conn *connection) {
	for {
		h, body, err := frame.ReadFrame(conn.fc.netConn)
		if err != nil {
			s.onTransportError(conn, err)
			return
		}
		if !h.IsMessage() {
			s.onTransportError(conn, errors.New("uds server: received a duplicate init frame"))
			return
		}
		if s.cfg.OnMessage != nil {
			s.cfg.OnMessage(conn.addr, body)
		}
	}
}

func (s *Server) onTransportError(conn *connection, err error) {
	s.logger.Debug().Err(err).Str("client", conn.addr.ID).Msg("uds server connection error")
	s.doClose(conn)
}

// doClose is idempotent: failures cascade here from either the reader or
// the writer goroutine, and both race to call it.
func (s *Server) doClose(conn *connection) {
	if !atomic.CompareAndSwapInt32(&conn.closed, 0, 1) {
		return
	}
	conn.fc.close(true)
	if s.cfg.OnDisconnected != nil {
		s.cfg.OnDisconnected(conn.addr)
	}
}

func (s *Server) register(conn *connection) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextConnID++
	id := s.nextConnID
	s.conns[id] = weak.Make(conn)
	return id
}

func (s *Server) unregister(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// Shutdown cancels the acceptor, asks every live connection to close
// without holding the registry lock (avoiding the deadlock the original
// single-lock design risked), then waits for every connection and
// accept-loop goroutine to finish. This replaces the sleep-poll-until-
// weak-reference-empty pattern with a sync.WaitGroup join.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.listener != nil {
			s.listener.Close()
		}
	})

	s.mu.Lock()
	targets := make([]*connection, 0, len(s.conns))
	for _, wp := range s.conns {
		if c := wp.Value(); c != nil {
			targets = append(targets, c)
		}
	}
	s.mu.Unlock()

	for _, c := range targets {
		s.doClose(c)
	}

	s.wg.Wait()
}
