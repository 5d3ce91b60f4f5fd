// Package frame implements UDS frame format V1 from spec §4.3 and §6: a
// 4-byte magic cookie, a 4-byte big-endian body length, and the body
// itself. MJI1 frames carry a serialised client-address descriptor; MJM1
// frames carry a serialised message.
package frame

import (
	"encoding/binary"
	"io"
	"math"
)

const (
	CookieSize  = 4
	LengthSize  = 4
	HeaderSize  = CookieSize + LengthSize
	MaxBodyLen  = math.MaxUint32
)

// Cookie values, ASCII, exactly as specified on the wire.
var (
	InitCookie = [CookieSize]byte{'M', 'J', 'I', '1'}
	MsgCookie  = [CookieSize]byte{'M', 'J', 'M', '1'}
)

// Header is the decoded fixed-size prefix of a frame.
type Header struct {
	Cookie     [CookieSize]byte
	BodyLength uint32
}

// IsInit reports whether the header carries the init-frame cookie.
func (h Header) IsInit() bool { return h.Cookie == InitCookie }

// IsMessage reports whether the header carries the message-frame cookie.
func (h Header) IsMessage() bool { return h.Cookie == MsgCookie }

// Frame is a fully serialised header+body byte sequence ready to write to
// a connection, or read from one.
type Frame struct {
	raw []byte
}

// Bytes returns the complete wire representation (header + body).
func (f Frame) Bytes() []byte { return f.raw }

// Body returns the frame's body, excluding the header.
func (f Frame) Body() []byte { return f.raw[HeaderSize:] }

// NewInitFrame encodes body as an MJI1 init frame.
func NewInitFrame(body []byte) (Frame, error) {
	return encode(InitCookie, body)
}

// NewMessageFrame encodes body as an MJM1 message frame.
func NewMessageFrame(body []byte) (Frame, error) {
	return encode(MsgCookie, body)
}

func encode(cookie [CookieSize]byte, body []byte) (Frame, error) {
	if uint64(len(body)) > MaxBodyLen {
		return Frame{}, &DecodeError{Kind: ErrBodyTooLarge}
	}
	raw := make([]byte, HeaderSize+len(body))
	copy(raw[:CookieSize], cookie[:])
	binary.BigEndian.PutUint32(raw[CookieSize:HeaderSize], uint32(len(body)))
	copy(raw[HeaderSize:], body)
	return Frame{raw: raw}, nil
}

// ReadHeader reads the fixed 8-byte header from r. A cookie that matches
// neither InitCookie nor MsgCookie is a fatal framing error per spec §4.3:
// the caller must terminate the connection.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, &DecodeError{Kind: ErrShortRead, Err: err}
		}
		return Header{}, &DecodeError{Kind: ErrIO, Err: err}
	}
	var h Header
	copy(h.Cookie[:], buf[:CookieSize])
	h.BodyLength = binary.BigEndian.Uint32(buf[CookieSize:HeaderSize])

	if !h.IsInit() && !h.IsMessage() {
		return Header{}, &DecodeError{Kind: ErrBadCookie}
	}
	return h, nil
}

// ReadBody reads exactly length bytes, resizing the returned buffer to
// that exact size, per spec §4.3.
func ReadBody(r io.Reader, length uint32) ([]byte, error) {
	body := make([]byte, length)
	if length == 0 {
		return body, nil
	}
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, &DecodeError{Kind: ErrShortRead, Err: err}
		}
		return nil, &DecodeError{Kind: ErrIO, Err: err}
	}
	return body, nil
}

// ReadFrame reads one full frame (header + body) from r.
func ReadFrame(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	body, err := ReadBody(r, h.BodyLength)
	if err != nil {
		return Header{}, nil, err
	}
	return h, body, nil
}

// WriteFrame writes f's complete wire representation to w.
func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(f.raw)
	return err
}
