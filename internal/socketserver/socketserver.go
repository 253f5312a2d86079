// Package socketserver listens on the daemon's local Unix socket and
// turns each accepted connection into one client session: a reader that
// decodes DaemonRequests onto the shared request queue and a writer that
// drains the session's Outbound queue onto the wire, per spec.md §4.2.
package socketserver

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/halfwit/hircd/internal/model"
	"github.com/halfwit/hircd/internal/queue"
	"github.com/halfwit/hircd/internal/wire"
)

// Server owns the Unix socket listener and the set of live sessions.
type Server struct {
	path     string
	state    *model.State
	requests *queue.Unbounded[wire.DaemonRequest]
	log      *zerolog.Logger

	wg sync.WaitGroup
}

// New returns a Server bound to path (created on Run, not here).
func New(path string, state *model.State, requests *queue.Unbounded[wire.DaemonRequest], logger *zerolog.Logger) *Server {
	return &Server{path: path, state: state, requests: requests, log: logger}
}

// Run listens on the configured socket path and accepts sessions until
// ctx is cancelled, returning once every accepted session's goroutines
// have exited. A stale socket file left behind by an unclean shutdown is
// removed before binding, per spec.md §6.
func (s *Server) Run(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("socketserver: create socket dir: %w", err)
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("socketserver: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("socketserver: listen: %w", err)
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("socketserver: chmod socket: %w", err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info().Str("path", s.path).Msg("socket listening")

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.log.Warn().Err(err).Msg("accept failed")
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(ctx, conn)
		}()
	}

	s.wg.Wait()
	return nil
}

// serve runs one client session end to end: compose and send Hello, then
// run the reader and writer loops until either exits.
func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	outbound := queue.NewOutbound()
	entry := s.state.AllocateClient(outbound)

	channels := s.state.AllChannelIds()
	sort.Slice(channels, func(i, j int) bool { return channels[i].Less(channels[j]) })

	if err := wire.WriteClientMsg(conn, wire.Hello{ClientId: entry.ClientId, AvailableChannels: channels}); err != nil {
		s.log.Warn().Err(err).Uint64("client", uint64(entry.ClientId)).Msg("failed to send hello")
		s.requests.Push(wire.DaemonRequest{SourceClient: entry.ClientId, Msg: wire.Goodbye{}})
		return
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.readLoop(conn, entry.ClientId)
		cancel()
	}()
	go func() {
		defer wg.Done()
		s.writeLoop(sessionCtx, conn, outbound)
		conn.Close() // unblocks the reader when the writer stops first
	}()

	wg.Wait()
}

// readLoop decodes DaemonRequests off conn and pushes them to the shared
// request queue, stamping each with this session's true, locally
// allocated ClientId regardless of what the wire envelope carries — a
// client has no way to claim another session's id. It returns once the
// connection errors, is closed, or a Goodbye is observed. Teardown is the
// dispatcher's job, never this reader's: on any terminal condition the
// reader pushes a Goodbye onto the shared request queue (synthesizing one
// if the peer never sent one) instead of touching State itself, so
// disconnect — graceful or not — always goes through the same single
// mutator as every other state change.
func (s *Server) readLoop(conn net.Conn, clientId model.ClientId) {
	for {
		req, err := wire.ReadDaemonRequest(conn)
		if err != nil {
			s.requests.Push(wire.DaemonRequest{SourceClient: clientId, Msg: wire.Goodbye{}})
			return
		}
		req.SourceClient = clientId
		s.requests.Push(req)

		if _, ok := req.Msg.(wire.Goodbye); ok {
			return
		}
	}
}

// writeLoop drains outbound and encodes each item onto conn until the
// queue is closed (by Teardown) or ctx is cancelled.
func (s *Server) writeLoop(ctx context.Context, conn net.Conn, outbound *queue.Outbound) {
	for {
		v, ok := outbound.Recv(ctx)
		if !ok {
			return
		}
		msg, ok := v.(wire.ClientMsg)
		if !ok {
			continue
		}
		if err := wire.WriteClientMsg(conn, msg); err != nil {
			return
		}
	}
}
