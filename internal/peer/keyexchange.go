package peer

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/wire"
)

// KeyExchanger drives ensure_peer_key: the first caller for a given
// peer sends PUBKEY_REQ and waits; concurrent callers for the same
// peer coalesce onto that single in-flight attempt instead of each
// firing their own request. send must deliver payload from the
// client's own message-socket address, since the peer's PUBKEY_RES is
// addressed back to the PUBKEY_REQ's UDP source, not to any address
// named in the payload.
type KeyExchanger struct {
	self string
	send func(to model.Endpoint, payload string) error
	lgr  logger.Logger

	mu      sync.Mutex
	waiters map[string][]chan bool // keyed by peer username
}

// NewKeyExchanger builds a KeyExchanger for the local username self,
// sending requests through send.
func NewKeyExchanger(self string, send func(model.Endpoint, string) error, lgr logger.Logger) *KeyExchanger {
	if lgr == nil {
		lgr = &logger.NopLogger{}
	}
	return &KeyExchanger{self: self, send: send, lgr: lgr.Named("keyexchange"), waiters: make(map[string][]chan bool)}
}

// Ensure sends PUBKEY_REQ to peer at peerAddr and waits up to timeout
// for a matching PUBKEY_RES to arrive via Complete. Concurrent Ensure
// calls for the same peer username share one outstanding request.
func (k *KeyExchanger) Ensure(peer string, peerAddr model.Endpoint, timeout time.Duration) bool {
	reqID := uuid.New().String()

	k.mu.Lock()
	ch := make(chan bool, 1)
	existing, inFlight := k.waiters[peer]
	k.waiters[peer] = append(existing, ch)
	k.mu.Unlock()

	if !inFlight {
		k.lgr.Debug("starting key exchange", logger.F("peer", peer), logger.F("request_id", reqID))
		if err := k.send(peerAddr, wire.Encode(wire.VerbPubKeyReq, k.self)); err != nil {
			k.lgr.Warn("failed to send PUBKEY_REQ", logger.F("peer", peer), logger.F("err", err.Error()))
		}
	}

	select {
	case ok := <-ch:
		return ok
	case <-time.After(timeout):
		k.drop(peer, ch)
		return false
	}
}

// Complete wakes every waiter blocked on Ensure(peer, ...), reporting
// success.
func (k *KeyExchanger) Complete(peer string) {
	k.mu.Lock()
	waiters := k.waiters[peer]
	delete(k.waiters, peer)
	k.mu.Unlock()

	for _, ch := range waiters {
		ch <- true
	}
}

// drop removes a single timed-out waiter without disturbing others
// still waiting on the same in-flight request.
func (k *KeyExchanger) drop(peer string, ch chan bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	waiters := k.waiters[peer]
	for i, c := range waiters {
		if c == ch {
			k.waiters[peer] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(k.waiters[peer]) == 0 {
		delete(k.waiters, peer)
	}
}
