package infra

import (
	"context"
	"net/http"
	"time"
)

// Header reads get a tighter deadline than request bodies, which may carry
// source image payloads.
const headerReadTimeout = 5 * time.Second

// HTTPServer runs the API listener with the configured timeouts.
type HTTPServer struct {
	inner *http.Server
}

// NewHTTPServer builds the listener on the configured port.
func NewHTTPServer(cfg *Config, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		inner: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           handler,
			ReadTimeout:       cfg.HTTPReadTimeout,
			ReadHeaderTimeout: headerReadTimeout,
			WriteTimeout:      cfg.HTTPWriteTimeout,
			IdleTimeout:       cfg.HTTPIdleTimeout,
		},
	}
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *HTTPServer) Start() error {
	return s.inner.ListenAndServe()
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.inner.Shutdown(ctx)
}
