package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFrameRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{},
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, 65536),
	}
	for _, payload := range cases {
		f, err := NewMessageFrame(payload)
		require.NoError(t, err)

		h, body, err := ReadFrame(bytes.NewReader(f.Bytes()))
		require.NoError(t, err)
		assert.True(t, h.IsMessage())
		assert.Equal(t, len(payload), len(body))
		assert.True(t, bytes.Equal(payload, body))
	}
}

func TestInitFrameCookie(t *testing.T) {
	f, err := NewInitFrame([]byte(`{"_typeName":"joynr.system.RoutingTypes.UdsClientAddress","id":"c1"}`))
	require.NoError(t, err)

	h, _, err := ReadFrame(bytes.NewReader(f.Bytes()))
	require.NoError(t, err)
	assert.True(t, h.IsInit())
	assert.False(t, h.IsMessage())
}

func TestReadHeaderRejectsBadCookie(t *testing.T) {
	bad := append([]byte{0x01, 0x01, 0x01, 0x01}, []byte{0, 0, 0, 0}...)
	_, err := ReadHeader(bytes.NewReader(bad))
	require.Error(t, err)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrBadCookie, de.Kind)
	assert.True(t, de.Fatal())
}

func TestReadFrameShortReadOnTruncatedBody(t *testing.T) {
	f, err := NewMessageFrame([]byte("0123456789"))
	require.NoError(t, err)

	truncated := f.Bytes()[:HeaderSize+3]
	_, _, err = ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)

	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrShortRead, de.Kind)
	assert.False(t, de.Fatal())
}

func TestReadHeaderShortReadOnEmptyStream(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader(nil))
	require.Error(t, err)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrShortRead, de.Kind)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestReadHeaderPropagatesIOError(t *testing.T) {
	_, err := ReadHeader(errReader{})
	require.Error(t, err)
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrIO, de.Kind)
}

func TestEmptyBodyRoundTrip(t *testing.T) {
	f, err := NewMessageFrame(nil)
	require.NoError(t, err)
	h, body, err := ReadFrame(bytes.NewReader(f.Bytes()))
	require.NoError(t, err)
	assert.True(t, h.IsMessage())
	assert.Equal(t, uint32(0), h.BodyLength)
	assert.Empty(t, body)
}
