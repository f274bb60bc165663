// Package server wraps the two UDP sockets a directory node listens on
// — the command port (JOIN/REGISTER/RESOLVE/... request-reply and
// fire-and-forget verbs) and the liveness port (PING/PONG only) — and
// dispatches every datagram into internal/node.
package server

import (
	"context"
	"net"
	"sync"

	"flock/internal/discovery"
	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/node"
)

// Server owns the command and liveness UDP listeners for one node.
type Server struct {
	cmdConn   *net.UDPConn
	liveConn  *net.UDPConn
	node      *node.Node
	multicast *discovery.MulticastResponder
	lgr       logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server around already-bound command and liveness UDP
// sockets, dispatching into n.
func New(cmdConn, liveConn *net.UDPConn, n *node.Node, opts ...Option) *Server {
	s := &Server{
		cmdConn:  cmdConn,
		liveConn: liveConn,
		node:     n,
		lgr:      &logger.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lgr = s.lgr.Named("server")
	return s
}

// Start runs both listen loops, the multicast DISCOVER_SERVER
// responder, and the node's background loops (failure detection, SUCC
// propagation, replication, status), blocking until ctx is canceled or
// a KILL is received on the command socket.
func (s *Server) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.node.StartLoops(ctx) }()

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.serveLiveness(ctx) }()

	if s.multicast != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.multicast.Run(ctx); err != nil && ctx.Err() == nil {
				s.lgr.Warn("multicast responder stopped", logger.F("err", err.Error()))
			}
		}()
	}

	s.serveCommands(ctx, cancel)
	cancel()
	s.wg.Wait()
}

// Stop cancels every loop and closes both sockets immediately.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.cmdConn.Close()
	s.liveConn.Close()
	s.wg.Wait()
}

// GracefulStop is Stop: UDP has no in-flight connections to drain, so
// there's nothing a graceful variant could wait on beyond the loops
// Stop already joins.
func (s *Server) GracefulStop() {
	s.Stop()
}

func (s *Server) serveCommands(ctx context.Context, cancel context.CancelFunc) {
	buf := make([]byte, 1400)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, addr, err := s.cmdConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.lgr.Warn("command socket read failed", logger.F("err", err.Error()))
			continue
		}
		from := model.Endpoint{IP: addr.IP.String(), Port: addr.Port}
		raw := string(buf[:n])
		reply, hasReply, terminate := s.node.HandleCommand(ctx, raw, from)
		if hasReply {
			if _, err := s.cmdConn.WriteToUDP([]byte(reply), addr); err != nil {
				s.lgr.Warn("command reply failed", logger.FEndpoint("to", from), logger.F("err", err.Error()))
			}
		}
		if terminate {
			cancel()
			return
		}
	}
}

func (s *Server) serveLiveness(ctx context.Context) {
	buf := make([]byte, 256)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, addr, err := s.liveConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.lgr.Warn("liveness socket read failed", logger.F("err", err.Error()))
			continue
		}
		reply, hasReply := s.node.HandleLiveness(string(buf[:n]))
		if hasReply {
			if _, err := s.liveConn.WriteToUDP([]byte(reply), addr); err != nil {
				s.lgr.Warn("liveness reply failed", logger.F("err", err.Error()))
			}
		}
	}
}
