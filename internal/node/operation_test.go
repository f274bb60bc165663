package node

import (
	"context"
	"strings"
	"testing"

	"flock/internal/model"
	"flock/internal/ringspace"
	"flock/internal/wire"
)

func selfEP() model.Endpoint { return model.Endpoint{IP: "10.0.0.1", Port: model.CommandPort} }

func TestHandleDiscoverRepliesWithName(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	reply, hasReply, terminate := n.HandleCommand(context.Background(), wire.Encode(wire.VerbDiscover), selfEP())
	if !hasReply || terminate {
		t.Fatalf("hasReply=%v terminate=%v, want true, false", hasReply, terminate)
	}
	if wire.Trim(reply) != "test-node" {
		t.Fatalf("reply = %q, want test-node", reply)
	}
}

func TestHandleRangeReportsCurrentRange(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	reply, hasReply, _ := n.HandleCommand(context.Background(), wire.Encode(wire.VerbRange), selfEP())
	if !hasReply {
		t.Fatal("expected a reply")
	}
	lower, upper, ok := parseRangeReply(reply)
	if !ok || lower != 0 || upper != ringspace.Modulus-1 {
		t.Fatalf("parsed range = (%d, %d, %v), want full space", lower, upper, ok)
	}
}

func TestHandleJoinSplitsRange(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	joiner := model.Endpoint{IP: "10.0.0.2", Port: 55555}

	reply, hasReply, _ := n.HandleCommand(context.Background(), wire.Encode(wire.VerbJoin), joiner)
	if !hasReply {
		t.Fatal("expected a reply")
	}
	lower, upper, pred, succ, err := parseJoinReply(reply)
	if err != nil {
		t.Fatalf("parseJoinReply: %v", err)
	}
	if upper != ringspace.Modulus-1 {
		t.Fatalf("joiner upper = %d, want %d", upper, ringspace.Modulus-1)
	}
	if !pred.Equal(selfEP()) {
		t.Fatalf("joiner predecessor = %v, want %v", pred, selfEP())
	}
	if !succ.IsZero() {
		t.Fatalf("joiner successor = %v, want zero (sponsor had none)", succ)
	}

	selfLower, selfUpper := n.rt.Range()
	if selfLower != 0 || selfUpper != lower-1 {
		t.Fatalf("sponsor range = [%d,%d], want [0,%d]", selfLower, selfUpper, lower-1)
	}
	gotSucc := n.rt.Successor()
	if !gotSucc.Equal(model.Endpoint{IP: joiner.IP, Port: model.CommandPort}) {
		t.Fatalf("sponsor successor = %v, want joiner at command port", gotSucc)
	}
}

func TestHandleJoinRejectedDuringCrisis(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	n.rt.EnterCrisis()

	reply, hasReply, _ := n.HandleCommand(context.Background(), wire.Encode(wire.VerbJoin), selfEP())
	if !hasReply {
		t.Fatal("expected a reply")
	}
	if !strings.HasPrefix(reply, "ERROR 503") {
		t.Fatalf("reply = %q, want ERROR 503 prefix", reply)
	}
}

func TestHandleJoinNotifiesOldSuccessor(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	oldSucc, received := recorder(t)
	n.rt.SetSuccessor(oldSucc)
	joiner := model.Endpoint{IP: "10.0.0.2", Port: 55555}

	_, _, _ = n.HandleCommand(context.Background(), wire.Encode(wire.VerbJoin), joiner)

	msg := waitFor(t, received)
	verb, rest := wire.Verb(wire.Trim(msg))
	if verb != wire.VerbPredChange || strings.TrimSpace(rest) != joiner.IP {
		t.Fatalf("old successor got %q, want PRED_CHANGE %s", msg, joiner.IP)
	}
}

func TestHandleRegisterStoresWhenOwned(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	replyTo, received := recorder(t)

	_, hasReply, _ := n.HandleCommand(context.Background(), wire.Encode(wire.VerbRegister, "alice", "1.2.3.4", "6000"), replyTo)
	if hasReply {
		t.Fatal("REGISTER reply goes out via rc.Send, not as a HandleCommand return value")
	}

	e, err := n.dir.Get("alice")
	if err != nil {
		t.Fatalf("Get(alice): %v", err)
	}
	if e.Endpoint.IP != "1.2.3.4" || e.Endpoint.Port != 6000 {
		t.Fatalf("stored entry = %+v, want 1.2.3.4:6000", e.Endpoint)
	}

	msg := waitFor(t, received)
	if !strings.HasPrefix(msg, "OK ") {
		t.Fatalf("reply to client = %q, want OK prefix", msg)
	}
}

func TestHandleRegisterForwardsWhenNotOwned(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	n.rt.SetRange(0, 0) // owns only hash==0, forcing any real username out of range
	successor, received := recorder(t)
	n.rt.SetSuccessor(successor)

	clientEP := model.Endpoint{IP: "127.0.0.1", Port: 9999}
	_, _, _ = n.HandleCommand(context.Background(), wire.Encode(wire.VerbRegister, "alice", "1.2.3.4", "6000"), clientEP)

	msg := waitFor(t, received)
	verb, rest := wire.Verb(wire.Trim(msg))
	if verb != wire.VerbRegister {
		t.Fatalf("forwarded verb = %q, want REGISTER", verb)
	}
	fields := strings.Fields(rest)
	if len(fields) != 5 || fields[0] != clientEP.IP || fields[2] != "alice" {
		t.Fatalf("forwarded fields = %v, want [%s <port> alice 1.2.3.4 6000]", fields, clientEP.IP)
	}
}

func TestHandleResolveNotFound(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	replyTo, received := recorder(t)

	n.HandleCommand(context.Background(), wire.Encode(wire.VerbResolve, "ghost"), replyTo)

	msg := waitFor(t, received)
	if !strings.HasPrefix(msg, "ERROR 404") {
		t.Fatalf("reply = %q, want ERROR 404 prefix", msg)
	}
}

func TestHandleResolveFound(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	n.dir.Put(entryFor("bob", "5.6.7.8", 7000))
	replyTo, received := recorder(t)

	n.HandleCommand(context.Background(), wire.Encode(wire.VerbResolve, "bob"), replyTo)

	msg := waitFor(t, received)
	verb, rest := wire.Verb(wire.Trim(msg))
	fields := strings.Fields(rest)
	if verb != "OK" || len(fields) != 2 || fields[0] != "5.6.7.8" || fields[1] != "7000" {
		t.Fatalf("reply = %q, want OK 5.6.7.8 7000", msg)
	}
}

func TestHandleSuccTruncatesToBackupSize(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{}) // backupSize = F+1 = 2
	n.HandleCommand(context.Background(), wire.Encode(wire.VerbSucc, "10.0.0.9", "10.0.0.8", "10.0.0.7"), selfEP())

	got := n.rt.Backups()
	if len(got) != 2 || got[0].IP != "10.0.0.9" || got[1].IP != "10.0.0.8" {
		t.Fatalf("backups = %v, want [10.0.0.9 10.0.0.8]", got)
	}
}

func TestHandleSuccForwardsToPredecessor(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	pred, received := recorder(t)
	n.rt.SetPredecessor(pred)

	n.HandleCommand(context.Background(), wire.Encode(wire.VerbSucc, "10.0.0.9"), selfEP())

	msg := waitFor(t, received)
	verb, rest := wire.Verb(wire.Trim(msg))
	fields := strings.Fields(rest)
	if verb != wire.VerbSucc || len(fields) != 2 || fields[0] != selfEP().IP {
		t.Fatalf("forwarded SUCC = %q, want SUCC %s 10.0.0.9", msg, selfEP().IP)
	}
}

func TestHandleReplicRecordsReplicantAndRow(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	owner := model.Endpoint{IP: "10.0.0.5", Port: 40000}

	n.HandleCommand(context.Background(), wire.Encode(wire.VerbReplic, "carol", "9.9.9.9", "8000"), owner)

	ownerCmd := model.Endpoint{IP: owner.IP, Port: model.CommandPort}
	replicants := n.rt.Replicants()
	if len(replicants) != 1 || !replicants[0].Equal(ownerCmd) {
		t.Fatalf("replicants = %v, want [%v]", replicants, ownerCmd)
	}
	rows := n.rep.ByOwner(ownerCmd)
	if len(rows) != 1 || rows[0].Username != "carol" {
		t.Fatalf("replica rows = %v, want one row for carol", rows)
	}
}

func TestHandleDropReplicsClearsOwnerRows(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	owner := model.Endpoint{IP: "10.0.0.5", Port: model.CommandPort}
	n.rt.AddReplicant(owner)
	n.rep.Upsert(entryFor("carol", "9.9.9.9", 8000), owner)

	n.HandleCommand(context.Background(), wire.Encode(wire.VerbDropReplics, owner.IP), owner)

	if len(n.rep.ByOwner(owner)) != 0 {
		t.Fatal("expected owner's rows to be dropped")
	}
	if len(n.rt.Replicants()) != 0 {
		t.Fatal("expected owner to be dropped from replicants")
	}
}

func TestHandleKillBroadcastsDropReplicsAndTerminates(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	replic, received := recorder(t)
	n.rt.AddReplic(replic)

	_, hasReply, terminate := n.HandleCommand(context.Background(), wire.Encode(wire.VerbKill), selfEP())
	if hasReply {
		t.Fatal("KILL has no direct reply")
	}
	if !terminate {
		t.Fatal("KILL should signal termination")
	}

	msg := waitFor(t, received)
	verb, rest := wire.Verb(wire.Trim(msg))
	if verb != wire.VerbDropReplics || strings.TrimSpace(rest) != selfEP().IP {
		t.Fatalf("replic got %q, want DROP_REPLICS %s", msg, selfEP().IP)
	}
}

func TestHandleLivenessAnswersPong(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	reply, hasReply := n.HandleLiveness(wire.Encode(wire.VerbPing))
	if !hasReply || wire.Trim(reply) != wire.VerbPong {
		t.Fatalf("reply = %q, hasReply = %v, want PONG, true", reply, hasReply)
	}
}

func TestHandleCommandIgnoresUnknownVerb(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	_, hasReply, terminate := n.HandleCommand(context.Background(), "BOGUS\r\n", selfEP())
	if hasReply || terminate {
		t.Fatal("unknown verb should be silently ignored")
	}
}
