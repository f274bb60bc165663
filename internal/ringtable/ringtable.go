// Package ringtable holds one node's view of the consistent-hash ring:
// its own range, predecessor/successor, the backup-successor list, the
// set of remote replics holding a copy of this node's shard, and the
// set of replicants (nodes that replicate to this one).
package ringtable

import (
	"sync"

	"flock/internal/logger"
	"flock/internal/model"
	"flock/internal/ringspace"
)

// Table is the mutex-guarded ring state owned by a single node. One
// RWMutex covers the whole struct: spec.md §5 only requires a
// consistent snapshot, and this ring carries far fewer fields than a
// de Bruijn routing table would, so per-field locking buys nothing.
type Table struct {
	lgr logger.Logger
	mu  sync.RWMutex

	self model.Endpoint

	lower, upper uint64
	predecessor  model.Endpoint // zero value = none
	successor    model.Endpoint // zero value = none
	backups      []model.Endpoint
	replics      []model.Endpoint
	replicants   []model.Endpoint
	crisis       bool

	backupSize int // F+1
}

// New creates a Table for self, configured for fault-tolerance F
// (backup-successor list and replic set hold up to F+1 entries).
func New(self model.Endpoint, faultTolerance int, opts ...Option) *Table {
	t := &Table{
		self:       self,
		lower:      0,
		upper:      ringspace.Modulus - 1,
		backupSize: faultTolerance + 1,
		lgr:        &logger.NopLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.lgr.Debug("ring table initialized", logger.FEndpoint("self", self))
	return t
}

// Self returns the endpoint owning this table.
func (t *Table) Self() model.Endpoint { return t.self }

// BackupSize returns the configured F+1 capacity of the backup and
// replic lists.
func (t *Table) BackupSize() int { return t.backupSize }

// Range returns the current [lower, upper] range, inclusive on both
// ends.
func (t *Table) Range() (lower, upper uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lower, t.upper
}

// SetRange updates the owned range.
func (t *Table) SetRange(lower, upper uint64) {
	t.mu.Lock()
	t.lower, t.upper = lower, upper
	t.mu.Unlock()
	t.lgr.Debug("range updated", logger.F("lower", lower), logger.F("upper", upper))
}

// Owns reports whether x falls in [lower, upper].
func (t *Table) Owns(x uint64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return ringspace.Range{Lower: t.lower, Upper: t.upper}.Contains(x)
}

// Predecessor returns the current predecessor, or the zero Endpoint if
// none is set.
func (t *Table) Predecessor() model.Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.predecessor
}

// SetPredecessor updates the predecessor pointer.
func (t *Table) SetPredecessor(e model.Endpoint) {
	t.mu.Lock()
	t.predecessor = e
	t.mu.Unlock()
	t.lgr.Debug("predecessor updated", logger.FEndpoint("predecessor", e))
}

// Successor returns the current successor, or the zero Endpoint if
// none is set.
func (t *Table) Successor() model.Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.successor
}

// SetSuccessor updates the successor pointer.
func (t *Table) SetSuccessor(e model.Endpoint) {
	t.mu.Lock()
	t.successor = e
	t.mu.Unlock()
	t.lgr.Debug("successor updated", logger.FEndpoint("successor", e))
}

// Backups returns a copy of the backup-successor list.
func (t *Table) Backups() []model.Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Endpoint, len(t.backups))
	copy(out, t.backups)
	return out
}

// SetBackups replaces the backup-successor list, truncating to the
// configured F+1 capacity.
func (t *Table) SetBackups(list []model.Endpoint) {
	if len(list) > t.backupSize {
		list = list[:t.backupSize]
	}
	t.mu.Lock()
	t.backups = append([]model.Endpoint(nil), list...)
	t.mu.Unlock()
	t.lgr.Debug("backup successor list updated", logger.F("count", len(list)))
}

// PromoteBackup drops the dead successor, promotes the first backup to
// successor, and shifts the remaining backups forward. Reports whether
// a backup was available to promote.
func (t *Table) PromoteBackup() (model.Endpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.backups) == 0 {
		return model.Endpoint{}, false
	}
	next := t.backups[0]
	t.successor = next
	t.backups = t.backups[1:]
	return next, true
}

// InitSingleNode configures the table as a fresh single-node cluster:
// full range, no predecessor or successor, empty backup/replic/
// replicant sets.
func (t *Table) InitSingleNode() {
	t.mu.Lock()
	t.lower, t.upper = 0, ringspace.Modulus-1
	t.predecessor = model.Endpoint{}
	t.successor = model.Endpoint{}
	t.backups = nil
	t.replics = nil
	t.replicants = nil
	t.crisis = false
	t.mu.Unlock()
	t.lgr.Debug("ring table set to single-node")
}

// Replics returns a copy of the current replic set.
func (t *Table) Replics() []model.Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Endpoint, len(t.replics))
	copy(out, t.replics)
	return out
}

// AddReplic appends e to the replic set if not already present and not
// self, enforcing |replics| <= F+1. Reports whether e was added.
func (t *Table) AddReplic(e model.Endpoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e.Equal(t.self) || len(t.replics) >= t.backupSize {
		return false
	}
	for _, r := range t.replics {
		if r.Equal(e) {
			return false
		}
	}
	t.replics = append(t.replics, e)
	return true
}

// RemoveReplic drops e from the replic set. Reports whether it was
// present.
func (t *Table) RemoveReplic(e model.Endpoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.replics {
		if r.Equal(e) {
			t.replics = append(t.replics[:i], t.replics[i+1:]...)
			return true
		}
	}
	return false
}

// Replicants returns a copy of the current replicant set (nodes that
// replicate their shard to this node).
func (t *Table) Replicants() []model.Endpoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]model.Endpoint, len(t.replicants))
	copy(out, t.replicants)
	return out
}

// AddReplicant records a from as a replicant if absent. Reports
// whether it was added.
func (t *Table) AddReplicant(from model.Endpoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.replicants {
		if r.Equal(from) {
			return false
		}
	}
	t.replicants = append(t.replicants, from)
	return true
}

// RemoveReplicant drops a replicant. Reports whether it was present.
func (t *Table) RemoveReplicant(from model.Endpoint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.replicants {
		if r.Equal(from) {
			t.replicants = append(t.replicants[:i], t.replicants[i+1:]...)
			return true
		}
	}
	return false
}

// InCrisis reports whether this node is currently running ring repair.
func (t *Table) InCrisis() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.crisis
}

// EnterCrisis marks the table as mid-repair. Reports false if already
// in crisis (caller should not start a second repair concurrently).
func (t *Table) EnterCrisis() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.crisis {
		return false
	}
	t.crisis = true
	return true
}

// ExitCrisis clears the crisis flag.
func (t *Table) ExitCrisis() {
	t.mu.Lock()
	t.crisis = false
	t.mu.Unlock()
}

// DebugLog emits a structured DEBUG-level snapshot of the whole table.
func (t *Table) DebugLog() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.lgr.Debug("ring table snapshot",
		logger.FEndpoint("self", t.self),
		logger.F("lower", t.lower),
		logger.F("upper", t.upper),
		logger.FEndpoint("predecessor", t.predecessor),
		logger.FEndpoint("successor", t.successor),
		logger.F("backups", endpointStrings(t.backups)),
		logger.F("replics", endpointStrings(t.replics)),
		logger.F("replicants", endpointStrings(t.replicants)),
		logger.F("crisis", t.crisis),
	)
}

func endpointStrings(es []model.Endpoint) []string {
	out := make([]string, 0, len(es))
	for _, e := range es {
		out = append(out, e.String())
	}
	return out
}
