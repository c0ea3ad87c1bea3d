package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/louisbranch/relay.chat/internal/platform/timeouts"
)

const (
	defaultHelloTimeout    = 5 * time.Second
	defaultMaxMessageRunes = 2000
	defaultCloseGraceDelay = 50 * time.Millisecond

	maxFramePayloadBytes   = 16 * 1024
	maxDecodeErrorsPerConn = 3
)

// Config defines the inputs for the relay transport boundary. Zero values
// fall back to the package defaults.
type Config struct {
	HTTPAddr          string
	HelloTimeout      time.Duration
	MaxMessageRunes   int
	CloseGraceDelay   time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the relay HTTP/WebSocket process.
//
// All presence state lives in memory and dies with the process; the server
// only owns the transport lifecycle around it.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// NewServer builds a configured relay server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.HelloTimeout <= 0 {
		config.HelloTimeout = defaultHelloTimeout
	}
	if config.MaxMessageRunes <= 0 {
		config.MaxMessageRunes = defaultMaxMessageRunes
	}
	if config.CloseGraceDelay <= 0 {
		config.CloseGraceDelay = defaultCloseGraceDelay
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	httpServer := &http.Server{
		Addr: httpAddr,
		Handler: newHandler(handlerOptions{
			helloTimeout:    config.HelloTimeout,
			maxMessageRunes: config.MaxMessageRunes,
			closeGrace:      config.CloseGraceDelay,
		}),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
	}, nil
}

// Run creates and serves a relay server until the context ends.
//
// Operators can treat this as the lifecycle boundary for the real-time
// surface.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init relay server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve relay: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("relay server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("relay server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases the listener and any connections still open.
func (s *Server) Close() {
	if s == nil {
		return
	}
	_ = s.httpServer.Close()
}
