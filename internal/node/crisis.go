package node

import (
	"context"
	"time"

	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/ringspace"
	"flock/internal/wire"
)

// runCrisis performs ring repair (spec.md §4.2): fix-tape forward, then
// backward, then replicant assimilation, then shard correction. Only
// one crisis runs at a time per node; a second FIX arriving mid-repair
// is dropped.
func (n *Node) runCrisis(ctx context.Context) {
	if !n.rt.EnterCrisis() {
		return
	}
	defer n.rt.ExitCrisis()

	n.lgr.Warn("entering crisis")
	n.fixTapeForward(ctx)
	n.fixTapeBackward(ctx)
	n.assimilateReplicants(ctx)
	n.correctShard(ctx)
	n.lgr.Info("crisis resolved")
}

// fixTapeForward re-probes the successor. If it's still alive, nothing
// changes. If it's dead, the first live backup successor is adopted:
// this node's new upper bound becomes one below that backup's range
// lower bound, and the backup is told (via PRED_CHANGE) that this node
// is now its predecessor. If no
// backup answers, this node absorbs the forward gap, owning up to the
// top of the space with no successor.
func (n *Node) fixTapeForward(ctx context.Context) {
	succ := n.rt.Successor()
	if succ.IsZero() {
		return
	}
	if n.probe(succ.LivenessOf()) {
		return
	}
	n.lgr.Warn("fix-tape forward: successor dead", logger.FEndpoint("successor", succ))

	for _, cand := range n.rt.Backups() {
		if cand.Equal(succ) || !n.probe(cand.LivenessOf()) {
			continue
		}
		reply, err := n.rc.Request(cand, wire.Encode(wire.VerbRange), n.cfg.LivenessDeadline)
		if err != nil {
			continue
		}
		candLower, _, ok := parseRangeReply(reply)
		if !ok || candLower == 0 {
			continue
		}
		lower, _ := n.rt.Range()
		n.rt.SetRange(lower, candLower-1)
		n.rt.SetSuccessor(cand)
		if err := n.rc.Send(cand, wire.Encode(wire.VerbPredChange, n.self.IP)); err != nil {
			n.lgr.Warn("PRED_CHANGE to new successor failed", logger.FEndpoint("successor", cand), logger.F("err", err.Error()))
		}
		n.lgr.Info("fix-tape forward: adopted backup successor", logger.FEndpoint("successor", cand), logger.F("upper", candLower-1))
		return
	}

	lower, _ := n.rt.Range()
	n.rt.SetRange(lower, ringspace.Modulus-1)
	n.rt.SetSuccessor(model.Endpoint{})
	n.rt.SetBackups(nil)
	n.lgr.Warn("fix-tape forward: no live backup successor, absorbing forward gap")
}

// fixTapeBackward re-probes the predecessor with a fixed 500ms deadline
// (per spec.md §4.2), independent of the configured liveness deadline
// that probe uses (100ms when unset). A dead
// predecessor is sent a best-effort KILL (it may already be gone) and
// this node absorbs the backward gap.
func (n *Node) fixTapeBackward(ctx context.Context) {
	pred := n.rt.Predecessor()
	if pred.IsZero() {
		return
	}
	if n.probeDeadline(pred.LivenessOf(), 500*time.Millisecond) {
		return
	}
	n.lgr.Warn("fix-tape backward: predecessor dead", logger.FEndpoint("predecessor", pred))

	if err := n.rc.Send(pred, wire.Encode(wire.VerbKill)); err != nil {
		n.lgr.Debug("best-effort KILL to dead predecessor failed", logger.F("err", err.Error()))
	}
	_, upper := n.rt.Range()
	n.rt.SetRange(0, upper)
	n.rt.SetPredecessor(model.Endpoint{})
	n.lgr.Warn("fix-tape backward: absorbed backward gap")
}

// assimilateReplicants probes every replicant (a node this one stores
// replica rows for) and, for any that's dead, re-homes its rows by
// routing each one through REGISTER again — the gap left by the dead
// owner has already been absorbed by fix-tape, so normal routing now
// lands each row on its correct new owner.
func (n *Node) assimilateReplicants(ctx context.Context) {
	for _, r := range n.rt.Replicants() {
		if n.probe(r.LivenessOf()) {
			continue
		}
		rows := n.rep.ByOwner(r)
		n.lgr.Warn("replicant dead, assimilating its rows", logger.FEndpoint("replicant", r), logger.F("count", len(rows)))
		for _, e := range rows {
			n.routeRegister(model.Endpoint{IP: wire.NoReply}, e.Username, e.Endpoint.IP, e.Endpoint.Port)
		}
		n.rep.DropOwner(r)
		n.rt.RemoveReplicant(r)
	}
}

// correctShard re-routes any directory row that no longer falls in
// this node's range (the range may just have shrunk or grown in
// fix-tape above) to its new owner.
func (n *Node) correctShard(ctx context.Context) {
	lower, upper := n.rt.Range()
	stray := n.dir.OutOfRange(lower, upper)
	if len(stray) == 0 {
		return
	}
	n.lgr.Warn("shard correction: rows out of range", logger.F("count", len(stray)))
	for _, e := range stray {
		n.routeRegister(model.Endpoint{IP: wire.NoReply}, e.Username, e.Endpoint.IP, e.Endpoint.Port)
		if err := n.dir.Delete(e.Username); err != nil {
			n.lgr.Debug("shard correction: row already gone", logger.F("username", e.Username))
		}
	}
}
