package node

import (
	"context"
	"time"

	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/wire"
)

// statusInterval is the status/info loop's cadence, mirroring the
// original implementation's 10s info_updater.
const statusInterval = 10 * time.Second

// StartLoops launches every background loop a live node runs: failure
// detection, SUCC propagation, outgoing replication, and the periodic
// ring/directory status log. It returns once ctx is canceled; callers
// typically run it in its own goroutine.
func (n *Node) StartLoops(ctx context.Context) {
	done := make(chan struct{}, 4)
	go func() { n.failureDetectorLoop(ctx); done <- struct{}{} }()
	go func() { n.succPropagationLoop(ctx); done <- struct{}{} }()
	go func() { n.replicationLoop(ctx); done <- struct{}{} }()
	go func() { n.statusLoop(ctx); done <- struct{}{} }()
	for i := 0; i < 4; i++ {
		<-done
	}
}

// statusLoop periodically snapshots the ring table and directory at
// DEBUG level, the server's status/info task (spec.md §5).
func (n *Node) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.rt.DebugLog()
			n.dir.DebugLog()
		}
	}
}

// failureDetectorLoop probes the successor and predecessor on every
// tick. Either one failing to answer a PING triggers ring repair: a
// rate-limited FIX broadcast to every LAN peer.
func (n *Node) failureDetectorLoop(ctx context.Context) {
	interval := n.cfg.LivenessInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n.rt.InCrisis() {
				continue
			}
			if succ := n.rt.Successor(); !succ.IsZero() && !n.probe(succ.LivenessOf()) {
				n.lgr.Warn("successor missed liveness probe", logger.FEndpoint("successor", succ))
				n.broadcastFix(ctx)
				continue
			}
			if pred := n.rt.Predecessor(); !pred.IsZero() && !n.probe(pred.LivenessOf()) {
				n.lgr.Warn("predecessor missed liveness probe", logger.FEndpoint("predecessor", pred))
				n.broadcastFix(ctx)
			}
		}
	}
}

// probe sends a PING to to and reports whether a PONG arrived within
// the configured liveness deadline.
func (n *Node) probe(to model.Endpoint) bool {
	deadline := n.cfg.LivenessDeadline
	if deadline <= 0 {
		deadline = 100 * time.Millisecond
	}
	return n.probeDeadline(to, deadline)
}

// probeDeadline is probe with an explicit deadline, used by fix-tape
// backward's 500ms predecessor re-probe (spec.md §4.2).
func (n *Node) probeDeadline(to model.Endpoint, deadline time.Duration) bool {
	reply, err := n.rc.Request(to, wire.Encode(wire.VerbPing), deadline)
	if err != nil {
		return false
	}
	verb, _ := wire.Verb(reply)
	return verb == wire.VerbPong
}

// succPropagationLoop implements spec.md §4.1's SUCC propagation: a
// node with a predecessor but no successor periodically tells its
// predecessor so the backup-successor chain stays informed that this
// gap exists.
func (n *Node) succPropagationLoop(ctx context.Context) {
	interval := n.cfg.SuccPropagation
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pred := n.rt.Predecessor()
			if pred.IsZero() || !n.rt.Successor().IsZero() {
				continue
			}
			if err := n.rc.Send(pred, wire.Encode(wire.VerbSucc, n.self.IP)); err != nil {
				n.lgr.Warn("SUCC propagation failed", logger.FEndpoint("predecessor", pred), logger.F("err", err.Error()))
			}
		}
	}
}

// broadcastFix rate-limits FIX emission to once per n.cfg.FixRateLimit
// and sends it to every currently discoverable LAN peer, per spec.md
// §9's decision to broadcast rather than target only the two known
// neighbors (which may both be the dead node).
func (n *Node) broadcastFix(ctx context.Context) {
	if !n.fixLimiter.Allow() {
		return
	}
	peers, err := n.disc.Discover(ctx)
	if err != nil {
		n.lgr.Warn("FIX broadcast: discovery failed", logger.F("err", err.Error()))
		return
	}
	for _, p := range peers {
		cmd := p.Endpoint.CommandOf()
		if cmd.Equal(n.self) {
			continue
		}
		if err := n.rc.Send(cmd, wire.Encode(wire.VerbFix)); err != nil {
			n.lgr.Warn("FIX send failed", logger.FEndpoint("peer", cmd), logger.F("err", err.Error()))
		}
	}
	n.runCrisis(ctx)
}
