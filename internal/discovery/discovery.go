// Package discovery implements the thread-safe discovery result that
// the dump engine's frontier workers feed newly-found rows into. A
// single Result is shared by every worker of one dump and is the sole
// serialization point for deduplication and segment-index assignment.
package discovery

import (
	"sync"

	"github.com/dbslice/dbslice/internal/rowset"
	"github.com/dbslice/dbslice/internal/schema"
)

// Segment is an immutable handle to a batch of newly-discovered rows
// for one table. Index is a monotone per-table counter assigned at the
// moment the rows were added to the Result.
type Segment struct {
	Table  *schema.Table
	Index  int
	RowIDs []int64 // packed Tids, newly discovered by this Add call only
}

// SegmentManifest is the manifest entry for one segment.
type SegmentManifest struct {
	RowCount int `json:"row_count"`
}

// TableManifest is the manifest entry for one table: its identity plus
// the ordered list of segments discovered for it.
type TableManifest struct {
	TableID  string            `json:"id"`
	Schema   string            `json:"schema"`
	Name     string            `json:"name"`
	Columns  []string          `json:"columns"`
	Segments []SegmentManifest `json:"segments"`
}

// Manifest is the top-level document written at the end of a dump
// (slice sink) or read at the start of a restore.
type Manifest struct {
	Tables []*TableManifest `json:"tables"`
}

// Result is the thread-safe accumulator of everything discovered during
// one dump. It owns one rowset.RowSet per table and the manifest being
// built alongside it.
type Result struct {
	mu             sync.Mutex
	sets           map[string]*rowset.RowSet
	tableManifests map[string]*TableManifest
	manifest       Manifest
	totalRows      int64
}

// NewResult creates an empty discovery result.
func NewResult() *Result {
	return &Result{
		sets:           make(map[string]*rowset.RowSet),
		tableManifests: make(map[string]*TableManifest),
	}
}

// Add feeds candidateIDs (packed Tids) discovered for table into the
// result. It returns the Segment of newly-discovered ids and true, or
// (nil, false) if every id in candidateIDs was already known.
//
// The whole operation — fetch-or-create the table's row-id set,
// compute new ids, extend the set, bump the manifest and the total row
// counter — happens under Result's single mutex, which is what makes
// dedup and segment-index assignment atomic: no other Add call ever
// observes the same new rows.
func (r *Result) Add(table *schema.Table, candidateIDs []int64) (*Segment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[table.ID]
	if !ok {
		set = rowset.New()
		r.sets[table.ID] = set
	}

	newIDs := set.AddNew(candidateIDs)
	if len(newIDs) == 0 {
		return nil, false
	}

	tm, ok := r.tableManifests[table.ID]
	if !ok {
		tm = &TableManifest{
			TableID: table.ID,
			Schema:  table.SchemaName,
			Name:    table.TableName,
			Columns: append([]string(nil), table.Columns...),
		}
		r.manifest.Tables = append(r.manifest.Tables, tm)
		r.tableManifests[table.ID] = tm
	}

	index := len(tm.Segments)
	tm.Segments = append(tm.Segments, SegmentManifest{RowCount: len(newIDs)})
	r.totalRows += int64(len(newIDs))

	return &Segment{Table: table, Index: index, RowIDs: newIDs}, true
}

// Manifest returns a snapshot copy of the manifest built so far.
func (r *Result) Manifest() Manifest {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Manifest{Tables: make([]*TableManifest, len(r.manifest.Tables))}
	for i, tm := range r.manifest.Tables {
		out.Tables[i] = &TableManifest{
			TableID:  tm.TableID,
			Schema:   tm.Schema,
			Name:     tm.Name,
			Columns:  append([]string(nil), tm.Columns...),
			Segments: append([]SegmentManifest(nil), tm.Segments...),
		}
	}
	return out
}

// TotalRows returns the total number of distinct rows discovered so far.
func (r *Result) TotalRows() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalRows
}
