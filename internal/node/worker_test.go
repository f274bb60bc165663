package node

import (
	"testing"
	"time"

	"flock/internal/wire"
)

func TestProbeSucceedsOnPong(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	live := echoer(t, func(msg string) (string, bool) {
		if wire.Trim(msg) == wire.VerbPing {
			return wire.Encode(wire.VerbPong), true
		}
		return "", false
	})
	if !n.probe(live) {
		t.Fatal("expected probe to succeed against a live PONG responder")
	}
}

func TestProbeFailsOnTimeout(t *testing.T) {
	n := newTestNode(t, selfEP(), fakeDiscoverer{})
	silent := echoer(t, func(msg string) (string, bool) { return "", false })
	if n.probeDeadline(silent, 50*time.Millisecond) {
		t.Fatal("expected probe to fail when nothing replies")
	}
}
