package uds

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "cc.sock")
}

func TestServerAndClientHandshakeAndExchangeMessages(t *testing.T) {
	path := socketPath(t)

	var (
		mu            sync.Mutex
		serverGotAddr ClientAddress
		serverGotBody []byte
		clientGotBody []byte
	)
	serverConnected := make(chan Sender, 1)
	serverReceived := make(chan struct{}, 1)
	clientConnected := make(chan Sender, 1)
	clientReceived := make(chan struct{}, 1)

	srv := NewServer(ServerConfig{
		SocketPath: path,
		OnConnected: func(addr ClientAddress, sender Sender) {
			mu.Lock()
			serverGotAddr = addr
			mu.Unlock()
			serverConnected <- sender
		},
		OnMessage: func(addr ClientAddress, body []byte) {
			mu.Lock()
			serverGotBody = body
			mu.Unlock()
			serverReceived <- struct{}{}
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Shutdown()

	cli := NewClient(ClientConfig{
		SocketPath:       path,
		ClientID:         "client-1",
		ConnectSleepTime: 10 * time.Millisecond,
		OnConnected: func(sender Sender) {
			clientConnected <- sender
		},
		OnMessage: func(body []byte) {
			mu.Lock()
			clientGotBody = body
			mu.Unlock()
			clientReceived <- struct{}{}
		},
	})
	cli.Start()
	defer cli.Shutdown()

	var serverSender Sender
	select {
	case serverSender = <-serverConnected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed a connection")
	}

	select {
	case <-clientConnected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never observed onConnected")
	}

	mu.Lock()
	assert.Equal(t, "client-1", serverGotAddr.ID)
	mu.Unlock()

	serverSender.Send([]byte("hello from server"), func(error) { t.Error("unexpected send failure") })
	select {
	case <-clientReceived:
	case <-time.After(2 * time.Second):
		t.Fatal("client never received the server's message")
	}
	mu.Lock()
	assert.Equal(t, []byte("hello from server"), clientGotBody)
	mu.Unlock()

	select {
	case <-serverReceived:
		t.Fatal("server should not have received anything yet")
	default:
	}
}

func TestServerRejectsConnectionWhoseFirstFrameIsNotAnInitFrame(t *testing.T) {
	path := socketPath(t)

	disconnected := make(chan ClientAddress, 1)
	srv := NewServer(ServerConfig{
		SocketPath: path,
		OnConnected: func(ClientAddress, Sender) {
			t.Error("onConnected must not be invoked for a rejected connection")
		},
		OnDisconnected: func(addr ClientAddress) {
			disconnected <- addr
		},
	})
	require.NoError(t, srv.Start())
	defer srv.Shutdown()

	raw, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer raw.Close()

	garbage := make([]byte, 100)
	for i := range garbage {
		garbage[i] = 0x01
	}
	_, err = raw.Write(garbage)
	require.NoError(t, err)

	buf := make([]byte, 1)
	raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = raw.Read(buf)
	assert.Error(t, err, "server should close the connection after rejecting the init frame")

	select {
	case <-disconnected:
		t.Fatal("onDisconnected must not fire for a connection that never connected")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServerStartIsRestartableAfterStaleSocketFile(t *testing.T) {
	path := socketPath(t)

	first := NewServer(ServerConfig{SocketPath: path})
	require.NoError(t, first.Start())
	first.Shutdown()

	second := NewServer(ServerConfig{SocketPath: path})
	require.NoError(t, second.Start())
	defer second.Shutdown()
}

func TestServerShutdownClosesLiveConnectionsWithoutHanging(t *testing.T) {
	path := socketPath(t)

	connected := make(chan struct{}, 1)
	srv := NewServer(ServerConfig{
		SocketPath: path,
		OnConnected: func(ClientAddress, Sender) {
			connected <- struct{}{}
		},
	})
	require.NoError(t, srv.Start())

	cli := NewClient(ClientConfig{
		SocketPath:       path,
		ClientID:         "client-2",
		ConnectSleepTime: 10 * time.Millisecond,
	})
	cli.Start()
	defer cli.Shutdown()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed a connection")
	}

	done := make(chan struct{})
	go func() {
		srv.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Server.Shutdown deadlocked")
	}
}
