// Package server runs the Kadali HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rzbill/kadali/pkg/api/rest"
	"github.com/rzbill/kadali/pkg/log"
)

// APIServer serves the REST API, health and metrics endpoints.
type APIServer struct {
	options *Options
	logger  log.Logger

	httpServer *http.Server
	listener   net.Listener

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a new API server with the given options.
func New(opts ...Option) (*APIServer, error) {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	if options.Clusters == nil {
		return nil, fmt.Errorf("cluster service is required")
	}
	if options.EnableTLS && (options.TLSCertFile == "" || options.TLSKeyFile == "") {
		return nil, fmt.Errorf("TLS requires both a certificate and a key file")
	}

	logger := options.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	return &APIServer{
		options: options,
		logger:  logger.WithComponent("api-server"),
	}, nil
}

// Handler builds the routed, middleware-wrapped handler.
func (s *APIServer) Handler() http.Handler {
	api := http.NewServeMux()
	rest.NewHandler(s.options.Clusters, s.logger).Register(api)

	chain := rest.Chain(
		rest.RequestID(),
		rest.Recovery(s.logger),
		rest.Logger(s.logger),
		rest.Timeout(s.options.RequestTimeout),
		rest.APIKey(s.options.APIKeys, s.logger),
	)

	root := http.NewServeMux()
	if s.options.MetricsHandler != nil {
		root.Handle(s.options.MetricsPath, s.options.MetricsHandler)
	}
	root.Handle("/", chain(api))
	return root
}

// Start begins listening. It returns once the listener is bound.
func (s *APIServer) Start() error {
	ln, err := net.Listen("tcp", s.options.HTTPAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.options.HTTPAddr, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.ToStdLogger(s.logger, log.ErrorLevel),
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		var err error
		if s.options.EnableTLS {
			err = s.httpServer.ServeTLS(ln, s.options.TLSCertFile, s.options.TLSKeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", log.Err(err))
		}
	}()

	s.logger.Info("API server listening",
		log.Str("addr", ln.Addr().String()),
		log.Bool("tls", s.options.EnableTLS),
		log.Bool("auth", len(s.options.APIKeys) > 0),
	)
	return nil
}

// Addr returns the bound address, useful with ":0".
func (s *APIServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests until ctx expires.
func (s *APIServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped || s.httpServer == nil {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.logger.Info("Stopping API server")
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}
