// Package hostpool implements the concurrent in-memory host table: a map
// from host id to host record with scoped shared/exclusive leases, XML
// ingestion from the orchestrator, and the fair discovery scan the sweeper
// uses to pick its next batch of candidates.
package hostpool

import (
	"sort"
	"sync"

	"github.com/onecloudio/onemonitord/types"
)

// entry pairs a host record with the lock that arbitrates concurrent
// access to it. The pool's own mutex only ever guards the map's shape
// (insert/erase); once an entry exists, access to the record it holds is
// arbitrated by the entry's own lock so one slow lease never blocks
// unrelated hosts.
type entry struct {
	mu   sync.RWMutex
	host *types.Host
}

// Pool is the concurrent host table. Zero value is not usable; use New.
type Pool struct {
	mu      sync.RWMutex
	entries map[int]*entry
}

// New returns an empty Pool.
func New() *Pool {
	return &Pool{entries: make(map[int]*entry)}
}

// ReadLease is a scoped shared-read handle on one host record. Call
// Release when done; a ReadLease must never outlive its goroutine's use of
// Host().
type ReadLease struct {
	e    *entry
	host *types.Host
}

// Host returns the leased record. The returned pointer is only valid
// until Release; callers that need to keep data past Release should Clone.
func (l *ReadLease) Host() *types.Host { return l.host }

// Release returns the shared lock.
func (l *ReadLease) Release() { l.e.mu.RUnlock() }

// WriteLease is a scoped exclusive handle on one host record.
type WriteLease struct {
	e    *entry
	host *types.Host
}

// Host returns the leased record for mutation.
func (l *WriteLease) Host() *types.Host { return l.host }

// Release returns the exclusive lock.
func (l *WriteLease) Release() { l.e.mu.Unlock() }

// GetShared acquires a read lease on oid. Multiple callers may hold a read
// lease on the same record concurrently; a pending or held write lease
// blocks them.
func (p *Pool) GetShared(oid int) (*ReadLease, bool) {
	p.mu.RLock()
	e, ok := p.entries[oid]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.RLock()
	return &ReadLease{e: e, host: e.host}, true
}

// GetExclusive acquires a write lease on oid.
func (p *Pool) GetExclusive(oid int) (*WriteLease, bool) {
	p.mu.RLock()
	e, ok := p.entries[oid]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	return &WriteLease{e: e, host: e.host}, true
}

// insert installs host under its own oid, overwriting whatever was there.
// The orchestrator is the source of truth, so a later insert always wins
// regardless of what the prior record held.
func (p *Pool) insert(host *types.Host) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[host.OID]; ok {
		e.mu.Lock()
		e.host = host
		e.mu.Unlock()
		return
	}
	p.entries[host.OID] = &entry{host: host}
}

// Erase removes oid's record. Erasing an absent oid is a no-op.
func (p *Pool) Erase(oid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, oid)
}

// Len returns the number of hosts currently tracked.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// Range calls fn for a point-in-time clone of every host, in no particular
// order. fn must not call back into the Pool. Used by metrics and by the
// HOST_LIST bulk-refresh serializer — each clone is taken under its own
// entry lock, held only long enough to copy, so Range never holds more
// than one record locked at a time.
func (p *Pool) Range(fn func(*types.Host)) {
	p.mu.RLock()
	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	for _, e := range entries {
		e.mu.RLock()
		clone := e.host.Clone()
		e.mu.RUnlock()
		fn(clone)
	}
}

// Snapshot returns a clone of every tracked host, acquiring one entry lock
// at a time so a caller iterating the table (the HOST_LIST serializer) can
// never deadlock against a concurrent writer.
func (p *Pool) Snapshot() []*types.Host {
	out := make([]*types.Host, 0, p.Len())
	p.Range(func(h *types.Host) { out = append(out, h) })
	return out
}

// Discover returns up to limit host ids whose LastMonitored is at or
// before targetTime, ordered oldest-first. Ordering by staleness is itself
// the fair-rotation rule: a host that is monitored moves its LastMonitored
// forward and falls to the back of the next scan, so no host can starve a
// neighbor by never advancing.
func (p *Pool) Discover(targetTime int64, limit int) []int {
	type candidate struct {
		oid           int
		lastMonitored int64
	}
	p.mu.RLock()
	candidates := make([]candidate, 0, len(p.entries))
	for oid, e := range p.entries {
		e.mu.RLock()
		lm := e.host.LastMonitored
		e.mu.RUnlock()
		if lm <= targetTime {
			candidates = append(candidates, candidate{oid: oid, lastMonitored: lm})
		}
	}
	p.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastMonitored != candidates[j].lastMonitored {
			return candidates[i].lastMonitored < candidates[j].lastMonitored
		}
		return candidates[i].oid < candidates[j].oid
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	oids := make([]int, len(candidates))
	for i, c := range candidates {
		oids[i] = c.oid
	}
	return oids
}
