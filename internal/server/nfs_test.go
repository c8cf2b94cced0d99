package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNFSServer_ServeShutdown(t *testing.T) {
	t.Parallel()

	b, _ := newTestAdapter(t)
	srv := NewNFSServer(b)
	assert.Nil(t, srv.Addr())
	assert.Error(t, srv.Serve(), "serve before listen")

	require.NoError(t, srv.Listen("127.0.0.1:0"))
	addr := srv.Addr()
	require.NotNil(t, addr)

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	conn.Close()

	srv.Shutdown()
	srv.Shutdown()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestNFSServer_ListenError(t *testing.T) {
	t.Parallel()

	b, _ := newTestAdapter(t)
	assert.Error(t, NewNFSServer(b).ListenAndServe("256.0.0.1:0"))
}
