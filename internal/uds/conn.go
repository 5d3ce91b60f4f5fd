package uds

import (
	"net"
	"sync"

	"github.com/bmwcarit/joynr-cc/internal/frame"
	"github.com/bmwcarit/joynr-cc/internal/sendqueue"
	"github.com/rs/zerolog"
)

// frameConn is the per-connection write chain shared by Client and
// Server connections: a bounded send queue plus a single writer
// goroutine draining it, matching spec §4.4/§4.5's "send posts to the
// event loop, which starts the write chain if idle" behaviour with one
// goroutine standing in for the event loop's write-ready callback.
type frameConn struct {
	netConn net.Conn
	queue   *sendqueue.Queue
	signal  chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	logger zerolog.Logger
}

func newFrameConn(nc net.Conn, sendQueueSize int, logger zerolog.Logger) *frameConn {
	return &frameConn{
		netConn: nc,
		queue:   sendqueue.New(sendQueueSize),
		signal:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
		logger:  logger,
	}
}

// send pushes f onto the queue and wakes the writer if it was idle.
func (c *frameConn) send(f frame.Frame, onFail sendqueue.FailureCallback) {
	if c.queue.PushBack(f, onFail) {
		c.wake()
	}
}

func (c *frameConn) wake() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// runWriter drains the send queue until the connection is closed. It is
// the connection's one writer goroutine; callers start it with
// c.wg.Add(1); go c.runWriter(onWriteErr).
func (c *frameConn) runWriter(onWriteErr func(error)) {
	defer c.wg.Done()
	for {
		f, ok := c.queue.ShowFront()
		if !ok {
			select {
			case <-c.signal:
				continue
			case <-c.closed:
				return
			}
		}

		err := frame.WriteFrame(c.netConn, f)
		more := c.queue.PopFrontOnSuccess(err)
		if err != nil {
			c.logger.Warn().Err(err).Msg("frame write failed")
			// The write just returned synchronously in this goroutine, so
			// the in-flight frame is not actually in flight anymore (Go's
			// net.Conn.Write is synchronous) — fail its callback directly
			// rather than leaving it for a later close(true) to silently
			// swallow.
			c.queue.FailInFlight(err)
			onWriteErr(err)
			return
		}
		if more {
			continue
		}
		select {
		case <-c.signal:
		case <-c.closed:
			return
		}
	}
}

// close is idempotent: it stops the writer, closes the socket, and
// drains the send queue with failure callbacks. writeInFlight tells the
// queue whether the socket write currently in progress should be left
// alone (its buffer may still be referenced by the kernel) or notified
// like any other entry.
func (c *frameConn) close(writeInFlight bool) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.netConn.Close()
		c.queue.EmptyQueueAndNotify("connection closed", writeInFlight)
	})
}

func (c *frameConn) waitWriter() {
	c.wg.Wait()
}
