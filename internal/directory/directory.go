// Package directory implements the owning-node half of the username ->
// endpoint mapping (spec.md §3, §4.1): the local shard of registered
// users, and the replica rows this node holds on behalf of others.
package directory

import (
	"errors"
	"sort"
	"sync"

	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/ringspace"
)

// ErrNotFound is returned by Get and Delete for an absent username.
var ErrNotFound = errors.New("directory: user not found")

// Entry is one registered user, indexed by h(Username) on the ring.
type Entry struct {
	Username string
	Endpoint model.Endpoint
}

// Directory is the in-memory, concurrency-safe store of users owned by
// this node's shard of the ring.
type Directory struct {
	lgr  logger.Logger
	mu   sync.RWMutex
	rows map[string]Entry
}

func New(lgr logger.Logger) *Directory {
	if lgr == nil {
		lgr = &logger.NopLogger{}
	}
	d := &Directory{lgr: lgr.Named("directory"), rows: make(map[string]Entry)}
	d.lgr.Debug("initialized directory")
	return d
}

// Put inserts or updates the entry for username.
func (d *Directory) Put(e Entry) {
	d.mu.Lock()
	_, existed := d.rows[e.Username]
	d.rows[e.Username] = e
	d.mu.Unlock()
	if existed {
		d.lgr.Debug("entry updated", logger.F("username", e.Username), logger.FEndpoint("endpoint", e.Endpoint))
	} else {
		d.lgr.Debug("entry inserted", logger.F("username", e.Username), logger.FEndpoint("endpoint", e.Endpoint))
	}
}

// Get retrieves the entry for username.
func (d *Directory) Get(username string) (Entry, error) {
	d.mu.RLock()
	e, ok := d.rows[username]
	d.mu.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Delete removes username from the directory.
func (d *Directory) Delete(username string) error {
	d.mu.Lock()
	_, ok := d.rows[username]
	if ok {
		delete(d.rows, username)
	}
	d.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return nil
}

// OutOfRange returns every entry whose hash falls outside [lower,
// upper], used by shard correction after a range change.
func (d *Directory) OutOfRange(lower, upper uint64) []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Entry
	for _, e := range d.rows {
		if h := ringspace.Hash(e.Username); h < lower || h > upper {
			out = append(out, e)
		}
	}
	return out
}

// All returns a snapshot of every entry currently stored.
func (d *Directory) All() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Entry, 0, len(d.rows))
	for _, e := range d.rows {
		out = append(out, e)
	}
	return out
}

// Len reports the number of entries currently stored.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rows)
}

// DebugLog emits a structured DEBUG-level snapshot, sorted by username
// for deterministic output.
func (d *Directory) DebugLog() {
	snapshot := d.All()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Username < snapshot[j].Username })
	entries := make([]map[string]any, 0, len(snapshot))
	for _, e := range snapshot {
		entries = append(entries, map[string]any{"username": e.Username, "endpoint": e.Endpoint.String()})
	}
	d.lgr.Debug("directory snapshot", logger.F("count", len(snapshot)), logger.F("entries", entries))
}
