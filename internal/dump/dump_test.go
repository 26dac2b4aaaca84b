package dump

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbslice/dbslice/internal/discovery"
	"github.com/dbslice/dbslice/internal/rowset"
	"github.com/dbslice/dbslice/internal/schema"
)

// fakeSession is an in-memory dump.Session: discovery results are
// pre-scripted by key, and every call is recorded so tests can assert
// on frontier expansion (in particular, anti-backtrack).
type fakeSession struct {
	mu               sync.Mutex
	conditionResults map[string][]int64
	refResults       map[string][]int64
	calls            []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		conditionResults: make(map[string][]int64),
		refResults:       make(map[string][]int64),
	}
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSession) callCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeSession) DiscoverByCondition(_ context.Context, table *schema.Table, condition string) ([]int64, error) {
	key := table.ID + "|" + condition
	f.record("condition:" + key)
	return f.conditionResults[key], nil
}

func (f *fakeSession) DiscoverByReference(_ context.Context, fromTable, toTable *schema.Table, _, _ []string, _ []int64) ([]int64, error) {
	key := fromTable.ID + ">" + toTable.ID
	f.record("ref:" + key)
	return f.refResults[key], nil
}

func (f *fakeSession) CopyRowsTo(_ context.Context, table *schema.Table, ids []int64, w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s:%v", table.ID, ids)
	return err
}

func (f *fakeSession) Begin(context.Context) error                         { return nil }
func (f *fakeSession) FreezeTransaction(context.Context, string) error     { return nil }
func (f *fakeSession) ExportSnapshot(context.Context) (string, error)      { return "snap-1", nil }
func (f *fakeSession) Commit(context.Context) error                        { return nil }
func (f *fakeSession) Rollback(context.Context) error                      { return nil }
func (f *fakeSession) Close(context.Context) error                         { return nil }

// memSink is an in-memory sink.Sink, enough to exercise manifest and
// segment round-trips without touching a filesystem.
type memSink struct {
	mu       sync.Mutex
	segments map[string][]byte
	manifest []byte
}

func newMemSink() *memSink {
	return &memSink{segments: make(map[string][]byte)}
}

type memWriter struct {
	sink *memSink
	key  string
	buf  bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	if w.key == "manifest" {
		w.sink.manifest = append([]byte(nil), w.buf.Bytes()...)
	} else {
		w.sink.segments[w.key] = append([]byte(nil), w.buf.Bytes()...)
	}
	return nil
}

func (s *memSink) OpenSegment(_ context.Context, tableID string, index int) (io.WriteCloser, error) {
	return &memWriter{sink: s, key: fmt.Sprintf("%s/%d", tableID, index)}, nil
}

func (s *memSink) OpenManifest(context.Context) (io.WriteCloser, error) {
	return &memWriter{sink: s, key: "manifest"}, nil
}

func (s *memSink) OpenSegmentReader(_ context.Context, tableID string, index int) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return io.NopCloser(bytes.NewReader(s.segments[fmt.Sprintf("%s/%d", tableID, index)])), nil
}

func (s *memSink) OpenManifestReader(context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return io.NopCloser(bytes.NewReader(s.manifest)), nil
}

func twoTableSchema(t *testing.T, directions []string) (*schema.Schema, *schema.Table, *schema.Table) {
	sch, err := schema.Build(schema.Description{
		Tables: []schema.TableDescription{
			{ID: "a", SchemaName: "public", TableName: "a", Columns: []string{"id", "b_id"}},
			{ID: "b", SchemaName: "public", TableName: "b", Columns: []string{"id"}},
		},
		References: []schema.ReferenceDescription{
			{ID: "a_b", TableID: "a", ReferenceTableID: "b", Columns: []string{"b_id"}, ReferenceColumns: []string{"id"}, Directions: directions},
		},
	})
	require.NoError(t, err)
	a, err := sch.GetTable("a")
	require.NoError(t, err)
	b, err := sch.GetTable("b")
	require.NoError(t, err)
	return sch, a, b
}

func TestDump_Validate_RejectsSliceWithSchema(t *testing.T) {
	p := Params{OutputType: OutputSlice, IncludeSchema: true}
	assert.Error(t, p.Validate())
}

func TestDump_Validate_RejectsUnknownOutputType(t *testing.T) {
	p := Params{OutputType: "zip"}
	assert.Error(t, p.Validate())
}

func TestDump_Validate_AcceptsSQLWithSchema(t *testing.T) {
	p := Params{OutputType: OutputSQL, IncludeSchema: true}
	assert.NoError(t, p.Validate())
}

func TestDump_SingleRoot_WritesManifestAndSegment(t *testing.T) {
	sch, _, _ := twoTableSchema(t, nil)
	fs := newFakeSession()
	fs.conditionResults["a|true"] = []int64{1, 2, 3}

	sk := newMemSink()
	ioCfg := DumpIO{
		Sink:           sk,
		SessionFactory: func(context.Context) (Session, error) { return fs, nil },
	}

	err := Dump(context.Background(), sch, []Root{{TableID: "a", Condition: "true"}}, ioCfg, Params{OutputType: OutputSlice, Parallelism: 1})
	require.NoError(t, err)

	require.NotEmpty(t, sk.manifest)
	var m discovery.Manifest
	require.NoError(t, json.Unmarshal(sk.manifest, &m))
	require.Len(t, m.Tables, 1)
	assert.Equal(t, "a", m.Tables[0].TableID)
	require.Len(t, m.Tables[0].Segments, 1)
	assert.Equal(t, 3, m.Tables[0].Segments[0].RowCount)

	seg, ok := sk.segments["a/0"]
	require.True(t, ok)
	assert.Contains(t, string(seg), "a:")
}

// TestDump_AntiBacktrack verifies that once table b is reached via a's
// forward reference, the frontier does not re-query the reverse edge
// back to a, even though the reference enables both directions.
func TestDump_AntiBacktrack(t *testing.T) {
	sch, _, _ := twoTableSchema(t, []string{"FORWARD", "REVERSE"})
	fs := newFakeSession()
	fs.conditionResults["a|true"] = []int64{1}
	fs.refResults["a>b"] = []int64{10}
	// If anti-backtrack failed, the frontier would also query b>a.
	fs.refResults["b>a"] = []int64{1}

	sk := newMemSink()
	ioCfg := DumpIO{
		Sink:           sk,
		SessionFactory: func(context.Context) (Session, error) { return fs, nil },
	}

	err := Dump(context.Background(), sch, []Root{{TableID: "a", Condition: "true"}}, ioCfg, Params{OutputType: OutputSlice, Parallelism: 1})
	require.NoError(t, err)

	assert.Equal(t, 1, fs.callCount("ref:a>b"))
	assert.Equal(t, 0, fs.callCount("ref:b>a"))
}

func TestDump_PostDiscoveryCheck_InvokedAndCanAbort(t *testing.T) {
	sch, _, _ := twoTableSchema(t, nil)
	fs := newFakeSession()
	fs.conditionResults["a|true"] = []int64{1, 2}

	var seen []string
	ioCfg := DumpIO{
		Sink:           newMemSink(),
		SessionFactory: func(context.Context) (Session, error) { return fs, nil },
	}
	params := Params{
		OutputType: OutputSlice,
		PostDiscoveryCheck: func(table *schema.Table, ids []rowset.Tid) error {
			seen = append(seen, table.ID)
			return fmt.Errorf("rejected")
		},
	}

	err := Dump(context.Background(), sch, []Root{{TableID: "a", Condition: "true"}}, ioCfg, params)
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, seen)
}

func TestDump_RootWithNoMatchingRows_NoManifestEntry(t *testing.T) {
	sch, _, _ := twoTableSchema(t, nil)
	fs := newFakeSession()
	// no condition result registered: DiscoverByCondition returns nil

	sk := newMemSink()
	ioCfg := DumpIO{
		Sink:           sk,
		SessionFactory: func(context.Context) (Session, error) { return fs, nil },
	}

	err := Dump(context.Background(), sch, []Root{{TableID: "a", Condition: "true"}}, ioCfg, Params{OutputType: OutputSlice})
	require.NoError(t, err)

	var m discovery.Manifest
	require.NoError(t, json.Unmarshal(sk.manifest, &m))
	assert.Empty(t, m.Tables)
}

func TestDump_UnknownRootTable_Errors(t *testing.T) {
	sch, _, _ := twoTableSchema(t, nil)
	ioCfg := DumpIO{
		Sink:           newMemSink(),
		SessionFactory: func(context.Context) (Session, error) { return newFakeSession(), nil },
	}
	err := Dump(context.Background(), sch, []Root{{TableID: "nope", Condition: "true"}}, ioCfg, Params{OutputType: OutputSlice})
	assert.Error(t, err)
}
