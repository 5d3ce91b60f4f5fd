package uds

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmwcarit/joynr-cc/internal/frame"
	"github.com/bmwcarit/joynr-cc/internal/log"
	"github.com/rs/zerolog"
)

// ClientState is one point in the START -> CONNECTED -> STOP state
// machine from spec §4.5, plus the terminal FAILED state.
type ClientState int32

const (
	ClientStart ClientState = iota
	ClientConnected
	ClientStop
	ClientFailed
)

func (s ClientState) String() string {
	switch s {
	case ClientStart:
		return "START"
	case ClientConnected:
		return "CONNECTED"
	case ClientStop:
		return "STOP"
	case ClientFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// ClientConfig configures a Client. OnConnected, OnMessage and
// OnFatalRuntimeError are invoked from the client's single worker
// goroutine, matching spec §4.5's "all user callbacks are invoked on the
// event-loop thread".
type ClientConfig struct {
	SocketPath          string
	ClientID            string
	ConnectSleepTime    time.Duration
	SendQueueSize       int
	OnConnected         func(sender Sender)
	OnMessage           func(body []byte)
	OnFatalRuntimeError func(err error)

	// Dial is overridable for tests; defaults to net.Dial("unix", ...).
	Dial func(socketPath string) (net.Conn, error)
}

// Client is the UDS client half of spec §4.5: one worker goroutine owns
// connect-retry, the init handshake, and the read loop; a second
// goroutine per live connection drains the send queue.
type Client struct {
	cfg    ClientConfig
	logger zerolog.Logger

	state int32 // ClientState, accessed atomically

	mu sync.Mutex
	fc *frameConn

	stopCh   chan struct{}
	stopOnce sync.Once
	runDone  chan struct{}
	failOnce sync.Once
}

// NewClient constructs a Client in the START state. Call Start to begin
// the connect-retry worker.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ConnectSleepTime <= 0 {
		cfg.ConnectSleepTime = 2 * time.Second
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 100
	}
	if cfg.Dial == nil {
		cfg.Dial = func(socketPath string) (net.Conn, error) {
			return net.Dial("unix", socketPath)
		}
	}
	return &Client{
		cfg:     cfg,
		logger:  log.WithComponent("uds-client"),
		stopCh:  make(chan struct{}),
		runDone: make(chan struct{}),
	}
}

// State returns the client's current state.
func (c *Client) State() ClientState {
	return ClientState(atomic.LoadInt32(&c.state))
}

func (c *Client) setState(s ClientState) {
	atomic.StoreInt32(&c.state, int32(s))
}

// Start spawns the worker goroutine that drives connect-retry, the init
// handshake and the read loop.
func (c *Client) Start() {
	go c.run()
}

func (c *Client) run() {
	defer close(c.runDone)

	for {
		select {
		case <-c.stopCh:
			if c.State() != ClientFailed {
				c.setState(ClientStop)
			}
			return
		default:
		}

		conn, err := c.cfg.Dial(c.cfg.SocketPath)
		if err != nil {
			c.logger.Warn().Err(err).Str("socket", c.cfg.SocketPath).Msg("connect failed, retrying")
			select {
			case <-time.After(c.cfg.ConnectSleepTime):
				continue
			case <-c.stopCh:
				if c.State() != ClientFailed {
					c.setState(ClientStop)
				}
				return
			}
		}

		c.handleConnection(conn)
	}
}

func (c *Client) handleConnection(conn net.Conn) {
	fc := newFrameConn(conn, c.cfg.SendQueueSize, c.logger)

	c.mu.Lock()
	c.fc = fc
	c.mu.Unlock()

	fc.wg.Add(1)
	go fc.runWriter(func(err error) { c.onTransportError(fc, err) })

	addr := NewClientAddress(c.cfg.ClientID)
	body, err := addr.marshal()
	if err != nil {
		c.fail(err)
		fc.waitWriter()
		return
	}
	initFrame, err := frame.NewInitFrame(body)
	if err != nil {
		c.fail(err)
		fc.waitWriter()
		return
	}
	fc.send(initFrame, nil)

	c.setState(ClientConnected)
	if c.cfg.OnConnected != nil {
		c.cfg.OnConnected(&connSender{fc: fc})
	}

	c.readLoop(fc)
	fc.waitWriter()
}

func (c *Client) readLoop(fc *frameConn) {
	for {
		h, body, err := frame.ReadFrame(fc.netConn)
		if err != nil {
			c.onTransportError(fc, err)
			return
		}
		if !h.IsMessage() {
			c.onTransportError(fc, errors.New("uds client: received an unexpected init frame from the server"))
			return
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(body)
		}
	}
}

// onTransportError closes the connection. A fatal framing error (bad
// cookie, oversized body) drives the client into FAILED and invokes
// onFatalRuntimeError exactly once; any other error is treated as an
// ordinary disconnect and the worker goroutine redials.
func (c *Client) onTransportError(fc *frameConn, err error) {
	fc.close(true)

	var de *frame.DecodeError
	if errors.As(err, &de) && de.Fatal() {
		c.fail(err)
		return
	}
	c.logger.Debug().Err(err).Msg("uds client connection lost, will retry")
}

func (c *Client) fail(err error) {
	c.failOnce.Do(func() {
		c.setState(ClientFailed)
		c.requestStop()
		if c.cfg.OnFatalRuntimeError != nil {
			c.cfg.OnFatalRuntimeError(err)
		}
	})
}

func (c *Client) requestStop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.mu.Lock()
	fc := c.fc
	c.mu.Unlock()
	if fc != nil {
		fc.close(true)
	}
}

// Shutdown is idempotent and joins the worker goroutine, per spec §4.5.
func (c *Client) Shutdown() {
	c.requestStop()
	<-c.runDone
}
