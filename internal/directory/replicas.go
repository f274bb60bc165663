package directory

import (
	"sync"

	"flock/internal/logger"
	"flock/internal/model"
)

// ReplicaRow is one replicated directory entry, tagged with the
// endpoint of the node that owns it (the node whose shard it falls
// into).
type ReplicaRow struct {
	Entry
	Owner model.Endpoint
}

// ReplicaTable holds the rows this node stores on behalf of its
// replicants (spec.md §4.3's "incoming replication").
type ReplicaTable struct {
	lgr  logger.Logger
	mu   sync.RWMutex
	rows map[string]ReplicaRow // keyed by username
}

func NewReplicaTable(lgr logger.Logger) *ReplicaTable {
	if lgr == nil {
		lgr = &logger.NopLogger{}
	}
	return &ReplicaTable{lgr: lgr.Named("replicas"), rows: make(map[string]ReplicaRow)}
}

// Upsert inserts or updates the replica row for e, owned by owner.
func (t *ReplicaTable) Upsert(e Entry, owner model.Endpoint) {
	t.mu.Lock()
	t.rows[e.Username] = ReplicaRow{Entry: e, Owner: owner}
	t.mu.Unlock()
	t.lgr.Debug("replica row upserted", logger.F("username", e.Username), logger.FEndpoint("owner", owner))
}

// DropOwner deletes every row owned by owner, used on DROP_REPLICS and
// after replicant assimilation.
func (t *ReplicaTable) DropOwner(owner model.Endpoint) int {
	t.mu.Lock()
	n := 0
	for k, r := range t.rows {
		if r.Owner.Equal(owner) {
			delete(t.rows, k)
			n++
		}
	}
	t.mu.Unlock()
	if n > 0 {
		t.lgr.Debug("replica rows dropped", logger.FEndpoint("owner", owner), logger.F("count", n))
	}
	return n
}

// ByOwner returns every row currently held for owner.
func (t *ReplicaTable) ByOwner(owner model.Endpoint) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Entry
	for _, r := range t.rows {
		if r.Owner.Equal(owner) {
			out = append(out, r.Entry)
		}
	}
	return out
}

// Len reports the number of replica rows currently stored.
func (t *ReplicaTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}
