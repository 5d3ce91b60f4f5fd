package uds

import "github.com/bmwcarit/joynr-cc/internal/frame"

// Sender is handed to onConnected/onMessage callbacks so the router can
// push outbound message bytes for this connection without reaching back
// into Client/Server internals.
type Sender interface {
	// Send enqueues body as an MJM1 message frame. onFail, if non-nil, is
	// invoked at most once if the frame cannot be delivered.
	Send(body []byte, onFail func(error))
	Close()
}

type connSender struct {
	fc *frameConn
}

func (s *connSender) Send(body []byte, onFail func(error)) {
	f, err := frame.NewMessageFrame(body)
	if err != nil {
		if onFail != nil {
			onFail(err)
		}
		return
	}
	s.fc.send(f, onFail)
}

func (s *connSender) Close() {
	s.fc.close(true)
}
