package server

import (
	"net/http"
	"time"

	"github.com/rzbill/kadali/pkg/api/rest"
	"github.com/rzbill/kadali/pkg/log"
)

// Options defines configuration options for the API server.
type Options struct {
	// HTTPAddr is the address to listen on for HTTP connections.
	HTTPAddr string

	// TLSCertFile is the path to the TLS certificate file.
	TLSCertFile string

	// TLSKeyFile is the path to the TLS key file.
	TLSKeyFile string

	// EnableTLS indicates whether to enable TLS.
	EnableTLS bool

	// APIKeys is a list of valid API keys. Empty disables authentication.
	APIKeys []string

	// RequestTimeout bounds each API request.
	RequestTimeout time.Duration

	// Clusters serves the cluster API.
	Clusters rest.ClusterService

	// MetricsHandler, if set, is served unauthenticated at MetricsPath.
	MetricsHandler http.Handler
	MetricsPath    string

	// Logger is the logger to use.
	Logger log.Logger
}

// DefaultOptions returns the default options for the API server.
func DefaultOptions() *Options {
	return &Options{
		HTTPAddr:       ":7070",
		RequestTimeout: 5 * time.Minute,
		MetricsPath:    "/metrics",
		Logger:         log.GetDefaultLogger(),
	}
}

// Option is a function that configures the API server options.
type Option func(*Options)

// WithHTTPAddr sets the HTTP address.
func WithHTTPAddr(addr string) Option {
	return func(o *Options) {
		o.HTTPAddr = addr
	}
}

// WithTLS enables TLS with the given certificate and key files.
func WithTLS(certFile, keyFile string) Option {
	return func(o *Options) {
		o.TLSCertFile = certFile
		o.TLSKeyFile = keyFile
		o.EnableTLS = true
	}
}

// WithAPIKeys sets the accepted bearer API keys.
func WithAPIKeys(keys []string) Option {
	return func(o *Options) {
		o.APIKeys = keys
	}
}

// WithRequestTimeout sets the per-request timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.RequestTimeout = d
		}
	}
}

// WithClusters sets the cluster service behind the API.
func WithClusters(clusters rest.ClusterService) Option {
	return func(o *Options) {
		o.Clusters = clusters
	}
}

// WithMetrics serves h at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(o *Options) {
		if path != "" {
			o.MetricsPath = path
		}
		o.MetricsHandler = h
	}
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
