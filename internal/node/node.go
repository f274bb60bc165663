// Package node implements a directory server's ring membership,
// request routing, failure detection, and replication — spec.md
// §4.1-§4.3.
package node

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"flock/internal/config"
	"flock/internal/directory"
	"flock/internal/discovery"
	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/ringspace"
	"flock/internal/ringtable"
	"flock/internal/rpcclient"
	"flock/internal/wire"
)

// Node owns one range of the hash ring: its directory shard, the
// replica rows it holds for its replicants, and the background loops
// that keep its ring pointers converged.
type Node struct {
	lgr  logger.Logger
	self model.Endpoint
	name string
	cfg  config.RingConfig

	rt  *ringtable.Table
	dir *directory.Directory
	rep *directory.ReplicaTable

	rc   *rpcclient.Client
	disc discovery.Discoverer

	fixLimiter *rate.Limiter
}

// New builds a Node. rt, dir and rep must already be constructed by the
// caller (cmd/flock-server wires them together); rc is the outgoing
// transport and disc is used both for bootstrap and for sampling live
// LAN peers during replication.
func New(self model.Endpoint, name string, cfg config.RingConfig, rt *ringtable.Table, dir *directory.Directory, rep *directory.ReplicaTable, rc *rpcclient.Client, disc discovery.Discoverer, opts ...Option) *Node {
	n := &Node{
		self: self,
		name: name,
		cfg:  cfg,
		rt:   rt,
		dir:  dir,
		rep:  rep,
		rc:   rc,
		disc: disc,
		lgr:  &logger.NopLogger{},
	}
	for _, opt := range opts {
		opt(n)
	}
	n.lgr = n.lgr.Named("node").With(logger.F("name", name), logger.FEndpoint("self", self))
	limit := cfg.FixRateLimit
	if limit <= 0 {
		limit = time.Second
	}
	n.fixLimiter = rate.NewLimiter(rate.Every(limit), 1)
	return n
}

// Self returns this node's own command endpoint.
func (n *Node) Self() model.Endpoint { return n.self }

// RingTable exposes the node's ring state, mainly for status reporting
// and tests.
func (n *Node) RingTable() *ringtable.Table { return n.rt }

// Bootstrap joins the ring: it runs LAN discovery, and either settles
// as the sole owner of the whole space (no peers answered) or sends
// JOIN to the peer with the widest current range.
func (n *Node) Bootstrap(ctx context.Context) error {
	peers, err := n.disc.Discover(ctx)
	if err != nil {
		return fmt.Errorf("bootstrap: discovery failed: %w", err)
	}
	if len(peers) == 0 {
		n.rt.InitSingleNode()
		n.lgr.Info("no peers found, owning the whole ring alone")
		return nil
	}

	var widest discovery.Peer
	var widestSpan uint64
	found := false
	for _, p := range peers {
		cmd := p.Endpoint.CommandOf()
		reply, err := n.rc.Request(cmd, wire.Encode(wire.VerbRange), n.cfg.LivenessDeadline)
		if err != nil {
			n.lgr.Warn("RANGE probe failed during bootstrap", logger.FEndpoint("peer", cmd), logger.F("err", err.Error()))
			continue
		}
		lower, upper, ok := parseRangeReply(reply)
		if !ok {
			continue
		}
		span := upper - lower
		if !found || span > widestSpan {
			widest, widestSpan, found = p, span, true
		}
	}
	if !found {
		return fmt.Errorf("bootstrap: %d peers discovered but none answered RANGE", len(peers))
	}

	sponsor := widest.Endpoint.CommandOf()
	reply, err := n.rc.Request(sponsor, wire.Encode(wire.VerbJoin), n.cfg.LivenessDeadline)
	if err != nil {
		return fmt.Errorf("bootstrap: JOIN to %s failed: %w", sponsor, err)
	}
	lower, upper, pred, succ, err := parseJoinReply(reply)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	n.rt.SetRange(lower, upper)
	n.rt.SetPredecessor(pred)
	if !succ.IsZero() {
		n.rt.SetSuccessor(succ)
	}
	n.lgr.Info("joined ring", logger.F("lower", lower), logger.F("upper", upper), logger.FEndpoint("predecessor", pred), logger.FEndpoint("successor", succ))
	return nil
}

// owns reports whether username hashes into this node's current range.
func (n *Node) owns(username string) bool {
	return n.rt.Owns(ringspace.Hash(username))
}
