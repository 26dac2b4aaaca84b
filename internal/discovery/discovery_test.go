package discovery

import (
	"sync"
	"testing"

	"github.com/dbslice/dbslice/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable(id string) *schema.Table {
	return &schema.Table{ID: id, SchemaName: "public", TableName: id, Columns: []string{"id"}}
}

func TestResult_Add_FirstCallReturnsSegmentZero(t *testing.T) {
	r := NewResult()
	customer := testTable("customer")

	seg, ok := r.Add(customer, []int64{1, 2, 3})
	require.True(t, ok)
	assert.Equal(t, 0, seg.Index)
	assert.Equal(t, []int64{1, 2, 3}, seg.RowIDs)
}

func TestResult_Add_DedupAcrossCalls(t *testing.T) {
	r := NewResult()
	customer := testTable("customer")

	r.Add(customer, []int64{1, 2, 3})
	seg, ok := r.Add(customer, []int64{2, 3, 4})
	require.True(t, ok)
	assert.Equal(t, []int64{4}, seg.RowIDs)
	assert.Equal(t, 1, seg.Index)
}

func TestResult_Add_AllKnownReturnsFalse(t *testing.T) {
	r := NewResult()
	customer := testTable("customer")

	r.Add(customer, []int64{1, 2})
	seg, ok := r.Add(customer, []int64{1, 2})
	assert.False(t, ok)
	assert.Nil(t, seg)
}

func TestResult_Manifest_SegmentIndexContiguity(t *testing.T) {
	r := NewResult()
	order := testTable("order")

	r.Add(order, []int64{1})
	r.Add(order, []int64{2})
	r.Add(order, []int64{3})

	m := r.Manifest()
	require.Len(t, m.Tables, 1)
	require.Len(t, m.Tables[0].Segments, 3)
	for i, seg := range m.Tables[0].Segments {
		assert.Equal(t, 1, seg.RowCount, "segment %d", i)
	}
}

func TestResult_Manifest_NoEntryForUntouchedTable(t *testing.T) {
	r := NewResult()
	m := r.Manifest()
	assert.Empty(t, m.Tables)
}

func TestResult_TotalRows(t *testing.T) {
	r := NewResult()
	customer := testTable("customer")
	order := testTable("order")

	r.Add(customer, []int64{1, 2})
	r.Add(order, []int64{10})
	assert.Equal(t, int64(3), r.TotalRows())
}

// TestResult_Add_ConcurrentDedup exercises the single-mutex serialization
// point: many goroutines race to add overlapping id sets, and the sum of
// all returned segment row counts must equal the number of distinct ids.
func TestResult_Add_ConcurrentDedup(t *testing.T) {
	r := NewResult()
	table := testTable("node")

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seg, ok := r.Add(table, []int64{1, 2, 3, 4, 5})
			if ok {
				mu.Lock()
				total += len(seg.RowIDs)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, total)
	assert.Equal(t, int64(5), r.TotalRows())
}
