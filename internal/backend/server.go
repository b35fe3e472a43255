package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/face-retrieval/internal/logger"
)

// IdleTimeout closes connections that send nothing for this long.
const IdleTimeout = 24 * time.Hour

// Handler answers one request payload with one reply payload.
type Handler interface {
	Serve(ctx context.Context, payload []byte) []byte
}

// Server accepts connections and serves each on its own goroutine. A connection
// may carry several requests in sequence.
type Server struct {
	addr    string
	handler Handler
	log     *zap.Logger

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a server for addr ("host:port").
func NewServer(addr string, handler Handler, log *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		handler: handler,
		log:     log,
		conns:   make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then closes open connections
// and waits for their handlers.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("backend listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.closeConns()
				s.wg.Wait()
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handleConn(ctx, conn)
		}()
	}
}

// Addr returns the listener address once serving.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))
	r := bufio.NewReader(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(IdleTimeout))
		payload, err := ReadMessage(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Warn("reading request", zap.Error(err))
			}
			return
		}

		reqLog := log.With(zap.String("request_id", uuid.NewString()))
		start := time.Now()
		reply := s.handler.Serve(logger.ContextWithLogger(ctx, reqLog), payload)
		if err := WriteMessage(conn, reply); err != nil {
			reqLog.Warn("writing reply", zap.Error(err))
			return
		}
		reqLog.Debug("request served", zap.Duration("duration", time.Since(start)))
	}
}
