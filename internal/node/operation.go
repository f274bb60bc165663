package node

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"flock/internal/directory"
	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/ringspace"
	"flock/internal/telemetry"
	"flock/internal/wire"
)

// HandleCommand dispatches one datagram received on the command port.
// It returns the reply to send back to from (if hasReply), and whether
// the node should terminate after this call (the KILL verb). Unknown
// verbs are ignored, matching spec.md §6 ("Unknown verbs are ignored").
func (n *Node) HandleCommand(ctx context.Context, raw string, from model.Endpoint) (reply string, hasReply bool, terminate bool) {
	trimmed := wire.Trim(raw)
	verb, rest := wire.Verb(trimmed)

	// Ring-identity endpoints (JOIN sender, REPLIC sender) are always
	// normalized to the well-known command port: every outgoing send in
	// this system goes out on an ephemeral local socket, so from.Port is
	// never meaningful as a peer's address, only from.IP is.
	peer := model.Endpoint{IP: from.IP, Port: model.CommandPort}

	switch verb {
	case wire.VerbDiscover:
		return n.handleDiscover()
	case wire.VerbRange:
		return n.handleRange()
	case wire.VerbJoin:
		return n.handleJoin(ctx, peer)
	case wire.VerbPredChange:
		return n.handlePredChange(rest)
	case wire.VerbRegister:
		return n.handleRegister(ctx, rest, from)
	case wire.VerbResolve:
		return n.handleResolve(ctx, rest, from)
	case wire.VerbSucc:
		return n.handleSucc(rest)
	case wire.VerbFix:
		return n.handleFix(ctx)
	case wire.VerbReplic:
		return n.handleReplic(rest, peer)
	case wire.VerbDropReplics:
		return n.handleDropReplics(rest)
	case wire.VerbKill:
		return n.handleKill()
	default:
		n.lgr.Debug("ignoring unknown verb", logger.F("verb", verb))
		return "", false, false
	}
}

// HandleLiveness answers the liveness responder's single verb: PING ->
// PONG. It runs on the separate liveness socket, never on the command
// socket.
func (n *Node) HandleLiveness(raw string) (string, bool) {
	verb, _ := wire.Verb(wire.Trim(raw))
	if verb == wire.VerbPing {
		return wire.Encode(wire.VerbPong), true
	}
	return "", false
}

func (n *Node) handleDiscover() (string, bool, bool) {
	return wire.Encode(n.name), true, false
}

func (n *Node) handleRange() (string, bool, bool) {
	lower, upper := n.rt.Range()
	return wire.Encode("OK", strconv.FormatUint(lower, 10), strconv.FormatUint(upper, 10)), true, false
}

// handleJoin implements the sponsor side of spec.md §4.1's JOIN
// protocol: split the owned range at its midpoint, hand the upper half
// to the joiner, and reparent the old successor.
func (n *Node) handleJoin(ctx context.Context, joiner model.Endpoint) (string, bool, bool) {
	lower, upper := n.rt.Range()
	_, span := telemetry.StartHop(ctx, wire.VerbJoin, 1, lower, upper)
	defer span.End()

	if n.rt.InCrisis() {
		return wire.Encode("ERROR", "503", "crisis", "in", "progress"), true, false
	}

	mid := ringspace.Range{Lower: lower, Upper: upper}.Mid()
	oldSucc := n.rt.Successor()

	n.rt.SetSuccessor(joiner)
	n.rt.SetRange(lower, mid-1)

	succToken := "_"
	if !oldSucc.IsZero() {
		succToken = oldSucc.IP
		if err := n.rc.Send(oldSucc, wire.Encode(wire.VerbPredChange, joiner.IP)); err != nil {
			n.lgr.Warn("PRED_CHANGE to old successor failed", logger.FEndpoint("oldSuccessor", oldSucc), logger.F("err", err.Error()))
		}
	}

	n.lgr.Info("admitted joiner", logger.FEndpoint("joiner", joiner), logger.F("newRange", fmt.Sprintf("[%d,%d]", mid, upper)), logger.F("ownRange", fmt.Sprintf("[%d,%d]", lower, mid-1)))
	return wire.Encode("OK", strconv.FormatUint(mid, 10), strconv.FormatUint(upper, 10), n.self.IP, succToken), true, false
}

func (n *Node) handlePredChange(rest string) (string, bool, bool) {
	ip := strings.TrimSpace(rest)
	if ip == "" {
		n.lgr.Warn("malformed PRED_CHANGE", logger.F("rest", rest))
		return "", false, false
	}
	n.rt.SetPredecessor(model.Endpoint{IP: ip, Port: model.CommandPort})
	return "", false, false
}

// handleRegister implements spec.md §4.1's REGISTER routing: forward
// toward the owner if this node doesn't own h(user), otherwise persist
// and reply, then fan out REPLIC to every current replic.
func (n *Node) handleRegister(ctx context.Context, rest string, from model.Endpoint) (string, bool, bool) {
	replyEP, user, ip, port, ok := parseRegisterArgs(rest, from)
	if !ok {
		n.lgr.Warn("malformed REGISTER", logger.F("rest", rest))
		return "", false, false
	}

	lower, upper := n.rt.Range()
	_, span := telemetry.StartHop(ctx, wire.VerbRegister, 1, lower, upper)
	defer span.End()

	n.routeRegister(replyEP, user, ip, port)
	return "", false, false
}

// routeRegister is the shared core of REGISTER handling: forward toward
// the owner of h(user), or persist and reply locally. It is also used
// by shard correction and replicant assimilation (crisis.go) to
// re-home rows with replyEP set to the wire.NoReply sentinel.
func (n *Node) routeRegister(replyEP model.Endpoint, user, ip string, port int) {
	lower, upper := n.rt.Range()
	x := ringspace.Hash(user)
	switch {
	case x < lower:
		n.forward(wire.VerbRegister, replyEP, n.rt.Predecessor(), user, ip, strconv.Itoa(port))
	case x > upper:
		n.forward(wire.VerbRegister, replyEP, n.rt.Successor(), user, ip, strconv.Itoa(port))
	default:
		n.dir.Put(directory.Entry{Username: user, Endpoint: model.Endpoint{IP: ip, Port: port}})
		if replyEP.IP != wire.NoReply && !replyEP.IsZero() {
			msg := fmt.Sprintf("User '%s' in (%s:%d) successfully registered", user, ip, port)
			if err := n.rc.Send(replyEP, wire.Encode("OK", msg)); err != nil {
				n.lgr.Warn("REGISTER reply failed", logger.FEndpoint("reply", replyEP), logger.F("err", err.Error()))
			}
		}
		for _, r := range n.rt.Replics() {
			if err := n.rc.Send(r, wire.Encode(wire.VerbReplic, user, ip, strconv.Itoa(port))); err != nil {
				n.lgr.Warn("REPLIC fan-out failed", logger.FEndpoint("replic", r), logger.F("err", err.Error()))
			}
		}
	}
}

// handleResolve mirrors handleRegister's routing for RESOLVE.
func (n *Node) handleResolve(ctx context.Context, rest string, from model.Endpoint) (string, bool, bool) {
	replyEP, user, ok := parseResolveArgs(rest, from)
	if !ok {
		n.lgr.Warn("malformed RESOLVE", logger.F("rest", rest))
		return "", false, false
	}

	lower, upper := n.rt.Range()
	_, span := telemetry.StartHop(ctx, wire.VerbResolve, 1, lower, upper)
	defer span.End()

	x := ringspace.Hash(user)
	switch {
	case x < lower:
		n.forward(wire.VerbResolve, replyEP, n.rt.Predecessor(), user)
	case x > upper:
		n.forward(wire.VerbResolve, replyEP, n.rt.Successor(), user)
	default:
		var payload string
		if e, err := n.dir.Get(user); err == nil {
			payload = wire.Encode("OK", e.Endpoint.IP, strconv.Itoa(e.Endpoint.Port))
		} else {
			payload = wire.Encode("ERROR", "404", "User", "not", "found")
		}
		if replyEP.IP != wire.NoReply {
			if err := n.rc.Send(replyEP, payload); err != nil {
				n.lgr.Warn("RESOLVE reply failed", logger.FEndpoint("reply", replyEP), logger.F("err", err.Error()))
			}
		}
	}
	return "", false, false
}

// handleSucc implements SUCC propagation (spec.md §4.1): adopt the
// received list as the backup-successor list, truncated to F+1, and
// retransmit upstream with self prepended.
func (n *Node) handleSucc(rest string) (string, bool, bool) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		n.lgr.Warn("malformed SUCC", logger.F("rest", rest))
		return "", false, false
	}

	limit := n.rt.BackupSize()
	if len(fields) < limit {
		limit = len(fields)
	}
	backups := make([]model.Endpoint, 0, limit)
	for _, ip := range fields[:limit] {
		backups = append(backups, model.Endpoint{IP: ip, Port: model.CommandPort})
	}
	n.rt.SetBackups(backups)

	if pred := n.rt.Predecessor(); !pred.IsZero() {
		args := append([]string{n.self.IP}, fields...)
		if err := n.rc.Send(pred, wire.Encode(wire.VerbSucc, args...)); err != nil {
			n.lgr.Warn("SUCC propagation failed", logger.FEndpoint("predecessor", pred), logger.F("err", err.Error()))
		}
	}
	return "", false, false
}

func (n *Node) handleFix(ctx context.Context) (string, bool, bool) {
	n.runCrisis(ctx)
	return "", false, false
}

// handleReplic implements incoming replication (spec.md §4.3): record
// the sender as a replicant and upsert the replica row.
func (n *Node) handleReplic(rest string, owner model.Endpoint) (string, bool, bool) {
	fields := strings.Fields(rest)
	if len(fields) != 3 {
		n.lgr.Warn("malformed REPLIC", logger.F("rest", rest))
		return "", false, false
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		n.lgr.Warn("malformed REPLIC port", logger.F("rest", rest))
		return "", false, false
	}
	n.rt.AddReplicant(owner)
	n.rep.Upsert(directory.Entry{Username: fields[0], Endpoint: model.Endpoint{IP: fields[1], Port: port}}, owner)
	return "", false, false
}

func (n *Node) handleDropReplics(rest string) (string, bool, bool) {
	ip := strings.TrimSpace(rest)
	if ip == "" {
		n.lgr.Warn("malformed DROP_REPLICS", logger.F("rest", rest))
		return "", false, false
	}
	owner := model.Endpoint{IP: ip, Port: model.CommandPort}
	n.rep.DropOwner(owner)
	n.rt.RemoveReplicant(owner)
	return "", false, false
}

// handleKill implements spec.md §9's suggested improvement: broadcast
// DROP_REPLICS to this node's own replics before terminating, so they
// don't keep carrying a dead owner's rows until failure detection
// catches up.
func (n *Node) handleKill() (string, bool, bool) {
	for _, r := range n.rt.Replics() {
		if err := n.rc.Send(r, wire.Encode(wire.VerbDropReplics, n.self.IP)); err != nil {
			n.lgr.Warn("DROP_REPLICS on shutdown failed", logger.FEndpoint("replic", r), logger.F("err", err.Error()))
		}
	}
	n.lgr.Warn("received KILL, terminating")
	return "", false, true
}

// forward re-sends verb to a neighbor with the reply envelope made
// explicit, preserving it across hops per spec.md §4.1.
func (n *Node) forward(verb string, replyEP, to model.Endpoint, args ...string) {
	if to.IsZero() {
		n.lgr.Warn("cannot forward, neighbor unknown", logger.F("verb", verb))
		return
	}
	full := append([]string{replyEP.IP, strconv.Itoa(replyEP.Port)}, args...)
	if err := n.rc.Send(to, wire.Encode(verb, full...)); err != nil {
		n.lgr.Warn("forward failed", logger.F("verb", verb), logger.FEndpoint("to", to), logger.F("err", err.Error()))
	}
}

// parseRegisterArgs accepts both the envelope form ("<reply_ip>
// <reply_port> <user> <ip> <port>", used between servers so the reply
// address survives forwarding) and the bare form a client sends
// ("<user> <ip> <port>"), where the reply address is implicitly the
// packet's source.
func parseRegisterArgs(rest string, from model.Endpoint) (reply model.Endpoint, user, ip string, port int, ok bool) {
	fields := strings.Fields(rest)
	switch len(fields) {
	case 5:
		rp, err1 := strconv.Atoi(fields[1])
		p, err2 := strconv.Atoi(fields[4])
		if err1 != nil || err2 != nil {
			return model.Endpoint{}, "", "", 0, false
		}
		return model.Endpoint{IP: fields[0], Port: rp}, fields[2], fields[3], p, true
	case 3:
		p, err := strconv.Atoi(fields[2])
		if err != nil {
			return model.Endpoint{}, "", "", 0, false
		}
		return from, fields[0], fields[1], p, true
	default:
		return model.Endpoint{}, "", "", 0, false
	}
}

func parseResolveArgs(rest string, from model.Endpoint) (reply model.Endpoint, user string, ok bool) {
	fields := strings.Fields(rest)
	switch len(fields) {
	case 3:
		rp, err := strconv.Atoi(fields[1])
		if err != nil {
			return model.Endpoint{}, "", false
		}
		return model.Endpoint{IP: fields[0], Port: rp}, fields[2], true
	case 1:
		return from, fields[0], true
	default:
		return model.Endpoint{}, "", false
	}
}

// parseRangeReply parses the "OK <lower> <upper>" reply to a RANGE
// request.
func parseRangeReply(raw string) (lower, upper uint64, ok bool) {
	verb, rest := wire.Verb(wire.Trim(raw))
	if verb != "OK" {
		return 0, 0, false
	}
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return 0, 0, false
	}
	l, err1 := strconv.ParseUint(fields[0], 10, 64)
	u, err2 := strconv.ParseUint(fields[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return l, u, true
}

// parseJoinReply parses the "OK <lower> <upper> <predecessor_ip>
// <successor_ip_or_"_">" reply to a JOIN request.
func parseJoinReply(raw string) (lower, upper uint64, pred, succ model.Endpoint, err error) {
	verb, rest := wire.Verb(wire.Trim(raw))
	if verb != "OK" {
		return 0, 0, model.Endpoint{}, model.Endpoint{}, fmt.Errorf("join: unexpected reply %q", raw)
	}
	fields := strings.Fields(rest)
	if len(fields) != 4 {
		return 0, 0, model.Endpoint{}, model.Endpoint{}, fmt.Errorf("join: malformed reply %q", raw)
	}
	l, e1 := strconv.ParseUint(fields[0], 10, 64)
	u, e2 := strconv.ParseUint(fields[1], 10, 64)
	if e1 != nil || e2 != nil {
		return 0, 0, model.Endpoint{}, model.Endpoint{}, fmt.Errorf("join: bad range in reply %q", raw)
	}
	predEP := model.Endpoint{IP: fields[2], Port: model.CommandPort}
	var succEP model.Endpoint
	if fields[3] != "_" {
		succEP = model.Endpoint{IP: fields[3], Port: model.CommandPort}
	}
	return l, u, predEP, succEP, nil
}
