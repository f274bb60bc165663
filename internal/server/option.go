package server

import (
	"flock/internal/discovery"
	"flock/internal/logger"
)

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithLogger injects a custom logger into the Server.
func WithLogger(lgr logger.Logger) Option {
	return func(s *Server) {
		s.lgr = lgr
	}
}

// WithMulticastResponder attaches the server's multicast DISCOVER_SERVER
// listener, run as a fourth loop alongside the command/liveness sockets
// and the node's background loops.
func WithMulticastResponder(m *discovery.MulticastResponder) Option {
	return func(s *Server) {
		s.multicast = m
	}
}
