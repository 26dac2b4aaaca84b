// Package rowset provides a compact, batch-oriented set of packed row
// identifiers (Tids) and the RowSet type the discovery result uses to
// deduplicate rows within a single table across the life of a dump.
package rowset

import (
	"sort"
	"sync"
)

// Tid is a physical row address (Postgres ctid: a block/offset pair).
// It is stable only within a single transactional snapshot.
type Tid struct {
	Block  uint32
	Offset uint16
}

// Pack encodes the Tid as the 64-bit integer the row-id set operates
// on: the block number in the high bits, the offset in the low bits.
func (t Tid) Pack() int64 {
	return int64(t.Block)<<16 | int64(t.Offset)
}

// Unpack decodes a packed int64 back into its Tid components.
func Unpack(packed int64) Tid {
	return Tid{
		Block:  uint32(packed >> 16),
		Offset: uint16(packed & 0xffff),
	}
}

// RowSet is a thread-safe, sorted set of packed 64-bit row ids. All
// operations are batch operations serialized under one mutex;
// per-row locking is not supported, by design — see AddNew.
type RowSet struct {
	mu  sync.Mutex
	ids []int64
}

// New creates an empty RowSet.
func New() *RowSet {
	return &RowSet{}
}

// Contains reports, for each id in batch, whether it is already a
// member of the set. The result has the same length and order as batch.
func (s *RowSet) Contains(batch []int64) []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containsLocked(batch)
}

func (s *RowSet) containsLocked(batch []int64) []bool {
	out := make([]bool, len(batch))
	for i, id := range batch {
		out[i] = s.searchLocked(id) >= 0
	}
	return out
}

// Add inserts every id in batch into the set. Duplicates, whether
// within batch or already present, are idempotent.
func (s *RowSet) Add(batch []int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range batch {
		s.insertLocked(id)
	}
}

// AddNew computes the subset of batch not already present in the set
// (preserving batch's order, including within-batch duplicates
// collapsed to their first occurrence), inserts every id in batch, and
// returns that new subset. The check and the insert happen under a
// single lock acquisition, which is what makes discovery.Result.Add's
// dedup-and-segment-assignment atomic.
func (s *RowSet) AddNew(batch []int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[int64]bool, len(batch))
	newIDs := make([]int64, 0, len(batch))
	for _, id := range batch {
		if seen[id] {
			continue
		}
		seen[id] = true
		if s.searchLocked(id) < 0 {
			newIDs = append(newIDs, id)
		}
	}
	for _, id := range newIDs {
		s.insertLocked(id)
	}
	return newIDs
}

// Len returns the number of members currently in the set.
func (s *RowSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// searchLocked returns the index of id in s.ids, or -1 if absent.
// Callers must hold s.mu.
func (s *RowSet) searchLocked(id int64) int {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return i
	}
	return -1
}

// insertLocked inserts id into s.ids in sorted position if absent.
// Callers must hold s.mu.
func (s *RowSet) insertLocked(id int64) {
	i := sort.Search(len(s.ids), func(i int) bool { return s.ids[i] >= id })
	if i < len(s.ids) && s.ids[i] == id {
		return
	}
	s.ids = append(s.ids, 0)
	copy(s.ids[i+1:], s.ids[i:])
	s.ids[i] = id
}
