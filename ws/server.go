// Package ws is the server-side entry point: it turns accepted upgrade
// requests into persock.ServerSession instances and hands them to the
// application's connect handler.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"persock"
	"persock/internal/session"
	"persock/internal/wire"
)

type RateLimitConfig = session.RateLimitConfig

// CheckOriginFn validates the origin of an upgrade request. Return true to
// allow the connection.
type CheckOriginFn = func(r *http.Request) bool

// OnDisconnectFn is invoked when a connection ends, for any reason.
type OnDisconnectFn = func(sess persock.ServerSession)

// ServerConfig configures a managed Server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// Path is the upgrade endpoint; defaults to "/ws".
	Path string
	// RateLimit bounds inbound envelopes per connection. Nil means
	// DefaultRateLimitConfig.
	RateLimit *RateLimitConfig
	// CheckOrigin validates upgrade origins; nil allows all.
	CheckOrigin CheckOriginFn
	// OnConnect receives every started session, with its reconnectData.
	OnConnect persock.ConnectHandler
	// OnDisconnect is invoked when a connection ends. Optional.
	OnDisconnect OnDisconnectFn
}

// Handler returns an http.Handler performing the upgrade and serving each
// resulting connection, for hosts that own their own listener and mux.
func Handler(cfg *ServerConfig) http.Handler {
	rl := cfg.RateLimit
	if rl == nil {
		rl = DefaultRateLimitConfig()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cfg.CheckOrigin != nil && !cfg.CheckOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		conn, err := wire.Upgrade(w, r)
		if err != nil {
			// The connection is already gone; nothing to answer.
			return
		}
		sc := session.NewServerConn(conn, rl, cfg.OnConnect)
		go func() {
			sc.Serve()
			if cfg.OnDisconnect != nil {
				cfg.OnDisconnect(sc)
			}
		}()
	})
}

// Server owns an HTTP listener with the upgrade endpoint mounted, for hosts
// that don't.
type Server struct {
	cfg *ServerConfig

	mu      sync.Mutex
	running bool
	server  *http.Server
	conns   sync.Map // map[string]*session.ServerConn
}

// New creates a managed server from cfg.
func New(cfg *ServerConfig) *Server {
	return &Server{cfg: cfg}
}

// Start begins listening for connections. It returns once the listener is
// up, or with the startup error.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.mu.Unlock()

	path := s.cfg.Path
	if path == "" {
		path = "/ws"
	}

	rl := s.cfg.RateLimit
	if rl == nil {
		rl = DefaultRateLimitConfig()
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.CheckOrigin != nil && !s.cfg.CheckOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}
		conn, err := wire.Upgrade(w, r)
		if err != nil {
			return
		}
		sc := session.NewServerConn(conn, rl, s.cfg.OnConnect)
		s.conns.Store(sc.ID(), sc)
		go func() {
			sc.Serve()
			s.conns.Delete(sc.ID())
			if s.cfg.OnDisconnect != nil {
				s.cfg.OnDisconnect(sc)
			}
		}()
	})

	s.server = &http.Server{
		Addr:    s.cfg.Addr,
		Handler: mux,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Surface immediate bind errors instead of reporting a dead server as
	// started.
	select {
	case err := <-errChan:
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	case <-ctx.Done():
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(stopCtx)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop closes every connection and shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.conns.Range(func(key, value any) bool {
		if sc, ok := value.(*session.ServerConn); ok {
			sc.Close()
		}
		return true
	})

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// AllOrigins returns a CheckOriginFn that allows every origin. Development
// only.
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig returns the default rate limit configuration.
func DefaultRateLimitConfig() *RateLimitConfig {
	return session.DefaultRateLimitConfig()
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return session.NoRateLimit()
}
