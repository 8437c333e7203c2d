package locktable

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Table is a keyed set of short-held exclusive locks, taken by committing
// transactions around their write phase. Locks are never held across user
// calls; there is no blocking wait and no fairness. Deadlock avoidance is
// the committer's job (sorted acquisition order).
type Table struct {
	shards [shardCount]shard
}

// shardCount must be a power of two.
const shardCount = 256

type shard struct {
	mu      sync.Mutex
	holders map[string]uint64
}

func New() *Table {
	t := &Table{}
	for i := range t.shards {
		t.shards[i].holders = make(map[string]uint64)
	}
	return t
}

func (t *Table) shardFor(key []byte) *shard {
	return &t.shards[xxhash.Sum64(key)&(shardCount-1)]
}

// TryAcquire attempts to take the exclusive lock on key for holder.
// Returns false if another holder owns it. Re-acquiring a key already
// held by the same holder succeeds.
func (t *Table) TryAcquire(key []byte, holder uint64) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.holders[string(key)]; ok {
		return h == holder
	}
	s.holders[string(key)] = holder
	return true
}

// Release drops the lock on key if holder owns it. Releasing a key the
// holder never acquired is a no-op.
func (t *Table) Release(key []byte, holder uint64) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.holders[string(key)]; ok && h == holder {
		delete(s.holders, string(key))
	}
}

// IsLocked reports whether any transaction holds the lock on key.
func (t *Table) IsLocked(key []byte) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.holders[string(key)]
	return ok
}

// IsLockedBy reports whether holder itself owns the lock on key.
func (t *Table) IsLockedBy(key []byte, holder uint64) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.holders[string(key)]
	return ok && h == holder
}

// Len returns the number of currently held locks. Intended for tests and
// shutdown assertions; O(shards).
func (t *Table) Len() int {
	n := 0
	for i := range t.shards {
		t.shards[i].mu.Lock()
		n += len(t.shards[i].holders)
		t.shards[i].mu.Unlock()
	}
	return n
}
