package node

import (
	"context"
	"testing"

	"flock/internal/model"
	"flock/internal/ringspace"
)

func TestFixTapeForwardAdoptsBackupSuccessor(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	n.rt.SetRange(0, 500)

	dead := model.Endpoint{IP: "127.0.0.1", Port: model.CommandPort} // nothing listens on its liveness port
	cand := startFakePeer(t, "127.0.0.2", 600, 999)
	n.rt.SetSuccessor(dead)
	n.rt.SetBackups([]model.Endpoint{cand})

	n.fixTapeForward(context.Background())

	_, upper := n.rt.Range()
	if upper != 599 {
		t.Fatalf("upper = %d, want 599 (candidate's lower - 1)", upper)
	}
	if !n.rt.Successor().Equal(cand) {
		t.Fatalf("successor = %v, want %v", n.rt.Successor(), cand)
	}
}

func TestFixTapeForwardAbsorbsGapWhenNoLiveCandidate(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	n.rt.SetRange(0, 500)
	dead := model.Endpoint{IP: "127.0.0.1", Port: model.CommandPort}
	alsoGone := model.Endpoint{IP: "127.0.0.1", Port: model.CommandPort + 1}
	n.rt.SetSuccessor(dead)
	n.rt.SetBackups([]model.Endpoint{alsoGone})

	n.fixTapeForward(context.Background())

	lower, upper := n.rt.Range()
	if lower != 0 {
		t.Fatalf("lower = %d, want unchanged 0", lower)
	}
	if upper != ringspace.Modulus-1 {
		t.Fatalf("upper = %d, want top of the space", upper)
	}
	if !n.rt.Successor().IsZero() {
		t.Fatal("expected successor to be cleared")
	}
}

func TestFixTapeBackwardAbsorbsGapWhenPredecessorDead(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	n.rt.SetRange(500, 999)
	dead := model.Endpoint{IP: "127.0.0.3", Port: model.CommandPort}
	n.rt.SetPredecessor(dead)

	n.fixTapeBackward(context.Background())

	lower, upper := n.rt.Range()
	if lower != 0 || upper != 999 {
		t.Fatalf("range = [%d,%d], want [0,999]", lower, upper)
	}
	if !n.rt.Predecessor().IsZero() {
		t.Fatal("expected predecessor to be cleared")
	}
}

func TestFixTapeBackwardLeavesRangeWhenPredecessorAlive(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	n.rt.SetRange(500, 999)
	alive := startFakePeer(t, "127.0.0.4", 0, 499)
	n.rt.SetPredecessor(alive)

	n.fixTapeBackward(context.Background())

	lower, _ := n.rt.Range()
	if lower != 500 {
		t.Fatalf("lower = %d, want unchanged 500", lower)
	}
	if !n.rt.Predecessor().Equal(alive) {
		t.Fatal("expected predecessor to remain unchanged")
	}
}

func TestCorrectShardReroutesStrayRows(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	n.rt.SetRange(0, 0) // only hash==0 is owned now
	n.dir.Put(entryFor("alice", "1.2.3.4", 6000))

	n.correctShard(context.Background())

	if _, err := n.dir.Get("alice"); err == nil {
		t.Fatal("expected stray row to be removed from the local directory")
	}
}
