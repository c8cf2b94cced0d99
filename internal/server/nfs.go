package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
	nfs "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"

	"keyfs/internal/util"
)

// handleCacheSize bounds the caching handler's file handle table.
const handleCacheSize = 65536

// NFSServer wraps the go-nfs server
type NFSServer struct {
	mu       sync.Mutex
	listener net.Listener
	server   *nfs.Server
	cancel   context.CancelFunc
	closed   bool
	serving  bool
}

// NewNFSServer creates an NFSv3 server exporting the adapter's tree at "/".
func NewNFSServer(adapter *BillyAdapter) *NFSServer {
	handler := nfshelper.NewNullAuthHandler(adapter)
	cacheHelper := nfshelper.NewCachingHandler(handler, handleCacheSize)

	ctx, cancel := context.WithCancel(context.Background())
	return &NFSServer{
		server: &nfs.Server{
			Handler: cacheHelper,
			Context: ctx,
		},
		cancel: cancel,
	}
}

// Listen binds addr. Use Addr to learn the chosen port when addr ends in ":0".
func (s *NFSServer) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *NFSServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Shutdown. It returns nil after a
// shutdown and the accept error otherwise.
func (s *NFSServer) Serve() error {
	s.mu.Lock()
	listener := s.listener
	if listener == nil {
		s.mu.Unlock()
		return errors.New("nfs server is not listening")
	}
	s.serving = true
	s.mu.Unlock()

	log.Infof("[NFS] serving on %s", listener.Addr())
	err := s.server.Serve(listener)

	s.mu.Lock()
	closed := s.closed
	s.serving = false
	s.mu.Unlock()
	if closed {
		return nil
	}
	return err
}

// ListenAndServe binds addr and serves.
func (s *NFSServer) ListenAndServe(addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Shutdown stops accepting connections, cancels in-flight handlers and
// waits (bounded) for Serve to return.
func (s *NFSServer) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	err := util.PollUntil(context.Background(), util.DefaultPollConfig(), func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.serving
	})
	if err != nil {
		log.Warnf("[NFS] serve loop still running after shutdown: %v", err)
	}
}
