package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"sync"

	"soundd/internal/session"
)

// Server accepts TCP connections and hands each one to a new Context
// Session wired to the shared Audio Engine.
type Server struct {
	addr   string
	engine session.Engine
	logger *slog.Logger

	mu   sync.Mutex
	ctxs map[*session.Context]struct{}
}

// NewServer returns a Server that has not yet started listening.
func NewServer(addr string, engine session.Engine, logger *slog.Logger) *Server {
	return &Server{
		addr:   addr,
		engine: engine,
		logger: logger,
		ctxs:   make(map[*session.Context]struct{}),
	}
}

// Run listens on s.addr and accepts connections until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	log.Printf("[server] listening on %s", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		c := session.NewContext(conn, s.engine, s, s.logger)
		s.mu.Lock()
		s.ctxs[c] = struct{}{}
		s.mu.Unlock()
		go c.Serve()
	}
}

// NotifyClosed implements session.Master: it drops the Context reference
// once its connection has gone away.
func (s *Server) NotifyClosed(ctx *session.Context, reason session.CloseReason) {
	s.mu.Lock()
	delete(s.ctxs, ctx)
	count := len(s.ctxs)
	s.mu.Unlock()
	s.logger.Info("context closed", "reason", reason, "active_contexts", count)
}
