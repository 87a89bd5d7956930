// Package proxy implements a MITM proxy that blocks requests using the
// decisions of a [contentblock.Evaluator].
package proxy

import (
	"context"
	"log/slog"

	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/gomitmproxy"
	"github.com/otterbrowser/contentblock"
)

// Session property keys.
const (
	sessionPropKey    = "session"
	requestBlockedKey = "blocked"
)

// Config is the configuration structure for a *Server.
type Config struct {
	// Logger is used to log the proxy events.  It must not be nil.
	Logger *slog.Logger

	// Evaluator decides on the proxied requests.  It must not be nil.
	Evaluator *contentblock.Evaluator

	// ProxyConfig is the configuration of the MITM proxy.  Its handlers are
	// overwritten by the server.
	ProxyConfig gomitmproxy.Config
}

// Server is a filtering MITM proxy.
type Server struct {
	logger      *slog.Logger
	evaluator   *contentblock.Evaluator
	proxyServer *gomitmproxy.Proxy
}

// type check
var _ service.Interface = (*Server)(nil)

// NewServer returns a new properly initialized *Server.  c must not be nil.
func NewServer(c *Config) (s *Server) {
	s = &Server{
		logger:    c.Logger,
		evaluator: c.Evaluator,
	}

	proxyConf := c.ProxyConfig
	proxyConf.OnRequest = s.onRequest
	proxyConf.OnResponse = s.onResponse
	s.proxyServer = gomitmproxy.NewProxy(proxyConf)

	return s
}

// Start implements the [service.Interface] interface for *Server.
func (s *Server) Start(ctx context.Context) (err error) {
	s.logger.InfoContext(ctx, "starting proxy")

	return s.proxyServer.Start()
}

// Shutdown implements the [service.Interface] interface for *Server.
func (s *Server) Shutdown(ctx context.Context) (err error) {
	s.proxyServer.Close()
	s.logger.InfoContext(ctx, "proxy stopped")

	return nil
}
