package node

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/wire"
)

// replicationLoop periodically maintains this node's replic set
// (spec.md §4.3): the remote nodes holding a copy of this node's
// shard, so a dead node's rows survive it.
func (n *Node) replicationLoop(ctx context.Context) {
	interval := n.cfg.ReplicationInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.maintainReplics(ctx)
		}
	}
}

// maintainReplics drops dead replics, then tops the set back up to
// F+1 and fans out the whole local shard to any newly added replic.
func (n *Node) maintainReplics(ctx context.Context) {
	current := n.rt.Replics()
	alive := make([]model.Endpoint, 0, len(current))
	for _, r := range current {
		if n.probe(r.LivenessOf()) {
			alive = append(alive, r)
			continue
		}
		n.rt.RemoveReplic(r)
		if err := n.rc.Send(r, wire.Encode(wire.VerbDropReplics, n.self.IP)); err != nil {
			n.lgr.Debug("best-effort DROP_REPLICS to dead replic failed", logger.F("err", err.Error()))
		}
		n.lgr.Warn("replic missed liveness probe, dropped", logger.FEndpoint("replic", r))
	}

	need := n.rt.BackupSize() - len(alive)
	if need <= 0 {
		return
	}
	candidates, err := n.findNewReplics(ctx, need, alive)
	if err != nil {
		n.lgr.Warn("replication: peer discovery failed", logger.F("err", err.Error()))
		return
	}
	if len(candidates) == 0 {
		return
	}

	rows := n.dir.All()
	for _, c := range candidates {
		if !n.rt.AddReplic(c) {
			continue
		}
		n.lgr.Info("added replic", logger.FEndpoint("replic", c))
		for _, e := range rows {
			if err := n.rc.Send(c, wire.Encode(wire.VerbReplic, e.Username, e.Endpoint.IP, strconv.Itoa(e.Endpoint.Port))); err != nil {
				n.lgr.Warn("initial REPLIC fan-out failed", logger.FEndpoint("replic", c), logger.F("err", err.Error()))
			}
		}
	}
}

// findNewReplics samples up to need live LAN peers, excluding this
// node itself and every endpoint already in current. It reuses the
// discovery broadcast used for bootstrap rather than a second,
// dedicated liveness-port broadcast mechanism: any node that answers
// DISCOVER on the command port is, by construction, alive.
func (n *Node) findNewReplics(ctx context.Context, need int, current []model.Endpoint) ([]model.Endpoint, error) {
	peers, err := n.disc.Discover(ctx)
	if err != nil {
		return nil, err
	}

	exclude := map[string]bool{n.self.String(): true}
	for _, c := range current {
		exclude[c.String()] = true
	}

	var pool []model.Endpoint
	seen := map[string]bool{}
	for _, p := range peers {
		cmd := p.Endpoint.CommandOf()
		key := cmd.String()
		if exclude[key] || seen[key] {
			continue
		}
		seen[key] = true
		pool = append(pool, cmd)
	}

	rand.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > need {
		pool = pool[:need]
	}
	return pool, nil
}
