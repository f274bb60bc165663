package node

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"flock/internal/config"
	"flock/internal/directory"
	"flock/internal/discovery"
	"flock/internal/model"
	"flock/internal/ringtable"
	"flock/internal/rpcclient"
	"flock/internal/wire"
)

// recorder starts a loopback UDP listener that stores every received
// datagram on a channel without replying, standing in for "a neighbor
// that just needs to observe what was sent to it" across these tests.
func recorder(t *testing.T) (model.Endpoint, <-chan string) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ch := make(chan string, 8)
	go func() {
		buf := make([]byte, 1400)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			ch <- string(buf[:n])
		}
	}()

	laddr := conn.LocalAddr().(*net.UDPAddr)
	return model.Endpoint{IP: "127.0.0.1", Port: laddr.Port}, ch
}

// echoer starts a loopback UDP listener that answers every datagram
// through reply, standing in for a live neighbor that responds to
// RANGE/PING-style requests.
func echoer(t *testing.T, reply func(msg string) (string, bool)) model.Endpoint {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 1400)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if out, ok := reply(string(buf[:n])); ok {
				conn.WriteToUDP([]byte(out), addr)
			}
		}
	}()

	laddr := conn.LocalAddr().(*net.UDPAddr)
	return model.Endpoint{IP: "127.0.0.1", Port: laddr.Port}
}

type fakeDiscoverer struct {
	peers []discovery.Peer
	err   error
}

func (f fakeDiscoverer) Discover(_ context.Context) ([]discovery.Peer, error) {
	return f.peers, f.err
}

func testRingConfig() config.RingConfig {
	return config.RingConfig{
		FaultTolerance:      1,
		LivenessInterval:    time.Second,
		LivenessDeadline:    100 * time.Millisecond,
		SuccPropagation:     time.Second,
		ReplicationInterval: time.Second,
		FixRateLimit:        time.Second,
	}
}

// startFakePeer binds the well-known command and liveness ports on a
// distinct loopback alias (127.0.0.x), answering RANGE with the given
// range and PING with PONG, so fix-tape's neighbor probes can be
// exercised without a real second process. Every caller must use a
// different ip so LivenessOf()'s fixed port doesn't collide across
// fakes in the same test.
func startFakePeer(t *testing.T, ip string, lower, upper uint64) model.Endpoint {
	t.Helper()
	cmdConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(ip), Port: model.CommandPort})
	if err != nil {
		t.Fatalf("ListenUDP command port on %s: %v", ip, err)
	}
	t.Cleanup(func() { cmdConn.Close() })
	liveConn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP(ip), Port: model.LivenessPort})
	if err != nil {
		t.Fatalf("ListenUDP liveness port on %s: %v", ip, err)
	}
	t.Cleanup(func() { liveConn.Close() })

	go func() {
		buf := make([]byte, 1400)
		for {
			n, addr, err := cmdConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			verb, _ := wire.Verb(wire.Trim(string(buf[:n])))
			if verb == wire.VerbRange {
				reply := wire.Encode("OK", strconv.FormatUint(lower, 10), strconv.FormatUint(upper, 10))
				cmdConn.WriteToUDP([]byte(reply), addr)
			}
		}
	}()
	go func() {
		buf := make([]byte, 1400)
		for {
			n, addr, err := liveConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if verb, _ := wire.Verb(wire.Trim(string(buf[:n]))); verb == wire.VerbPing {
				liveConn.WriteToUDP([]byte(wire.Encode(wire.VerbPong)), addr)
			}
		}
	}()

	return model.Endpoint{IP: ip, Port: model.CommandPort}
}

// deadEndpoint returns an address nobody is listening on: a loopback
// UDP socket is opened to claim a free port, then closed immediately,
// so anything sent there is refused rather than silently dropped.
func deadEndpoint(t *testing.T) model.Endpoint {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	laddr := conn.LocalAddr().(*net.UDPAddr)
	conn.Close()
	return model.Endpoint{IP: "127.0.0.1", Port: laddr.Port}
}

func entryFor(username, ip string, port int) directory.Entry {
	return directory.Entry{Username: username, Endpoint: model.Endpoint{IP: ip, Port: port}}
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for datagram")
		return ""
	}
}

func newTestNode(t *testing.T, self model.Endpoint, disc discovery.Discoverer) *Node {
	t.Helper()
	rt := ringtable.New(self, 1)
	dir := directory.New(nil)
	rep := directory.NewReplicaTable(nil)
	pool := rpcclient.NewPool(nil)
	t.Cleanup(func() { pool.CloseAll() })
	rc := rpcclient.New(pool)
	return New(self, "test-node", testRingConfig(), rt, dir, rep, rc, disc)
}
