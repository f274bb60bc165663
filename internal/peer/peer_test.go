package peer

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flock/internal/crypto"
	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/rpcclient"
	"flock/internal/store"
)

func TestContactCacheUpdateAndLookup(t *testing.T) {
	c := NewContactCache()
	_, ok := c.Lookup("alice")
	require.False(t, ok)

	ep := model.Endpoint{IP: "10.0.0.1", Port: 9000}
	c.Update("alice", ep)

	got, ok := c.Lookup("alice")
	require.True(t, ok)
	require.Equal(t, ep, got)
}

func TestPendingQueueFlushStopsAtFirstFailure(t *testing.T) {
	q := NewPendingQueue(nil)
	q.Enqueue("bob", []byte("one"))
	q.Enqueue("bob", []byte("two"))
	q.Enqueue("bob", []byte("three"))

	var delivered [][]byte
	attempt := 0
	q.Flush("bob", func(plaintext []byte) bool {
		attempt++
		if attempt == 2 {
			return false
		}
		delivered = append(delivered, plaintext)
		return true
	})

	require.Len(t, delivered, 1)
	require.Equal(t, "one", string(delivered[0]))

	remaining := q.Recipients()
	require.Equal(t, []string{"bob"}, remaining)
}

func TestKeyExchangerCoalescesConcurrentCallers(t *testing.T) {
	ep, inbox := recorder(t)
	sender, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sender.Close() })
	send := func(to model.Endpoint, payload string) error {
		_, err := sender.WriteToUDP([]byte(payload), &net.UDPAddr{IP: net.ParseIP(to.IP), Port: to.Port})
		return err
	}
	kx := NewKeyExchanger("alice", send, nil)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = kx.Ensure("bob", ep, 2*time.Second)
		}(i)
	}

	select {
	case <-inbox:
	case <-time.After(time.Second):
		t.Fatal("expected exactly one PUBKEY_REQ")
	}
	select {
	case <-inbox:
		t.Fatal("expected only one PUBKEY_REQ, got a second")
	case <-time.After(100 * time.Millisecond):
	}

	kx.Complete("bob")
	wg.Wait()

	require.True(t, results[0])
	require.True(t, results[1])
}

// recorder binds a loopback UDP listener that records every datagram on
// a channel without replying.
func recorder(t *testing.T) (model.Endpoint, <-chan string) {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

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

	addr := conn.LocalAddr().(*net.UDPAddr)
	return model.Endpoint{IP: addr.IP.String(), Port: addr.Port}, ch
}

type errResolver struct{}

func (errResolver) Resolve(context.Context, string) (model.Endpoint, error) {
	return model.Endpoint{}, ErrUnresolved
}

func newTestClient(t *testing.T, username string) *Client {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	self := model.Endpoint{IP: "127.0.0.1", Port: conn.LocalAddr().(*net.UDPAddr).Port}
	dir := t.TempDir()
	ks, err := crypto.LoadOrCreate(filepath.Join(dir, "id_rsa"), filepath.Join(dir, "id_rsa.pub"))
	require.NoError(t, err)

	rc := rpcclient.New(rpcclient.NewPool(nil))
	return New(conn, self, username, rc, errResolver{}, ks, store.NewMemoryStore(), WithLogger(&logger.NopLogger{}))
}

func TestClientSendEncryptsAfterKeyExchange(t *testing.T) {
	alice := newTestClient(t, "alice")
	bob := newTestClient(t, "bob")

	alice.contacts.Update("bob", bob.self)
	bob.contacts.Update("alice", alice.self)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go alice.listen(ctx)
	go bob.listen(ctx)

	require.NoError(t, alice.Send(ctx, "bob", "hello bob"))

	require.Eventually(t, func() bool {
		history, err := bob.store.History("alice")
		return err == nil && len(history) == 1 && history[0].Text == "hello bob"
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := alice.ks.PeerKey("bob")
	require.True(t, ok)
}
