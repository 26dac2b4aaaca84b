// Package dump implements the frontier-traversal dump engine: given a
// schema graph and a set of root queries, it discovers every
// referentially-connected row reachable from those roots and streams
// them out through a segmented archive sink or a linear SQL stream.
//
// The hard-coded account-id assertion the original collaborator baked
// into its discovery step is replaced here with a pluggable
// Params.PostDiscoveryCheck hook, invoked after every newly-discovered
// segment and before extraction; it is nil (a no-op) by default.
package dump

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/dbslice/dbslice/internal/discovery"
	"github.com/dbslice/dbslice/internal/pgdumpshell"
	"github.com/dbslice/dbslice/internal/rowset"
	"github.com/dbslice/dbslice/internal/schema"
	"github.com/dbslice/dbslice/internal/sink"
	apperrors "github.com/dbslice/dbslice/pkg/errors"
	"github.com/dbslice/dbslice/pkg/parallel"
	"github.com/dbslice/dbslice/pkg/writer"
)

// Session is the narrow set of operations the dump engine's frontier
// workers need from a source database connection; *pgsession.Session
// satisfies it. Kept as an interface (rather than depending on
// *pgsession.Session directly) so the traversal logic can be exercised
// against a fake in tests without a real Postgres connection.
type Session interface {
	DiscoverByCondition(ctx context.Context, table *schema.Table, condition string) ([]int64, error)
	DiscoverByReference(ctx context.Context, fromTable, toTable *schema.Table, fromColumns, toColumns []string, fromIDs []int64) ([]int64, error)
	CopyRowsTo(ctx context.Context, table *schema.Table, ids []int64, w io.Writer) error
	Begin(ctx context.Context) error
	FreezeTransaction(ctx context.Context, snapshot string) error
	ExportSnapshot(ctx context.Context) (string, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

// OutputType selects the dump's destination shape.
type OutputType string

const (
	// OutputSlice writes a segmented archive (sink.Sink): a manifest
	// plus one blob per discovered segment.
	OutputSlice OutputType = "slice"
	// OutputSQL writes a single linear COPY-framed SQL stream.
	OutputSQL OutputType = "sql"
)

// Root names one seed query: every row of Table matching Condition
// (a verbatim SQL boolean expression) is the start of a traversal.
type Root struct {
	TableID   string
	Condition string
}

// Params controls one dump run.
type Params struct {
	IncludeSchema bool
	Parallelism   int
	OutputType    OutputType

	// PostDiscoveryCheck, if set, is invoked for every newly-discovered
	// segment before its rows are extracted. Returning an error aborts
	// the dump with that error.
	PostDiscoveryCheck func(table *schema.Table, ids []rowset.Tid) error
}

// Validate rejects configuration conflicts before any session is
// opened: a slice archive has no region to hold pg_dump's DDL output,
// so combining it with IncludeSchema is rejected outright.
func (p Params) Validate() error {
	if p.OutputType == OutputSlice && p.IncludeSchema {
		return apperrors.New(apperrors.CodeConfigConflict, "slice output cannot include schema capture")
	}
	if p.OutputType != OutputSlice && p.OutputType != OutputSQL {
		return apperrors.New(apperrors.CodeConfigConflict, "output type must be slice or sql")
	}
	return nil
}

// DumpIO bundles the collaborators dump needs beyond the schema graph:
// where rows land, how pre/post-data DDL is produced, and how the
// engine obtains a Postgres session (once for the coordinator, once
// per FrontierPool worker when Parallelism > 1).
type DumpIO struct {
	// Sink is used when Params.OutputType is OutputSlice.
	Sink sink.Sink
	// SQL is used when Params.OutputType is OutputSQL.
	SQL *sink.SQLSink
	// SchemaDump produces the pre-data/post-data DDL regions when
	// Params.IncludeSchema is set. Required only in that case.
	SchemaDump *pgdumpshell.Runner
	// SessionFactory opens a new Postgres session against the source
	// database.
	SessionFactory func(ctx context.Context) (Session, error)
}

// rootItem seeds the frontier with one root query.
type rootItem struct {
	table     *schema.Table
	condition string
}

// referenceItem is a successor task: walk reference in direction from
// the rows just discovered in fromTable (sourceIDs, packed Tids).
type referenceItem struct {
	reference  *schema.Reference
	direction  schema.Direction
	fromTable  *schema.Table
	toTable    *schema.Table
	fromCols   []string
	toCols     []string
	sourceIDs  []int64
}

// Dump discovers every row reachable from roots via sch's reference
// graph, extracts them through a bulk COPY, and writes them out
// through ioCfg's sink. sch is consumed as an already-built value
// object; loading and parsing a schema description is a caller
// concern.
func Dump(ctx context.Context, sch *schema.Schema, roots []Root, ioCfg DumpIO, params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}

	parallelism := params.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	seed := make([]parallel.FrontierItem, 0, len(roots))
	for _, r := range roots {
		table, err := sch.GetTable(r.TableID)
		if err != nil {
			return err
		}
		seed = append(seed, rootItem{table: table, condition: r.Condition})
	}

	if params.OutputType == OutputSQL && params.IncludeSchema {
		if ioCfg.SchemaDump == nil || ioCfg.SQL == nil {
			return apperrors.New(apperrors.CodeConfigError, "include_schema requires a SchemaDump collaborator and a SQL sink")
		}
		if err := ioCfg.SchemaDump.PreData(ctx, ioCfg.SQL.OpenPredata()); err != nil {
			return err
		}
	}

	coordinator, err := ioCfg.SessionFactory(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to open coordinator session", err)
	}
	coordinatorReady := false
	defer func() {
		if !coordinatorReady {
			coordinator.Close(ctx)
		}
	}()
	if err := coordinator.Begin(ctx); err != nil {
		return err
	}
	if err := coordinator.FreezeTransaction(ctx, ""); err != nil {
		return err
	}

	var snapshotID string
	if parallelism > 1 {
		snapshotID, err = coordinator.ExportSnapshot(ctx)
		if err != nil {
			return err
		}
	}
	coordinatorReady = true

	sessions := []Session{coordinator}
	var sessionsMu sync.Mutex

	var sessionFactory func(ctx context.Context) (Session, error)
	if parallelism == 1 {
		sessionFactory = func(ctx context.Context) (Session, error) {
			return coordinator, nil
		}
	} else {
		sessionFactory = func(ctx context.Context) (Session, error) {
			s, err := ioCfg.SessionFactory(ctx)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to open worker session", err)
			}
			workerReady := false
			defer func() {
				if !workerReady {
					s.Close(ctx)
				}
			}()
			if err := s.Begin(ctx); err != nil {
				return nil, err
			}
			if err := s.FreezeTransaction(ctx, snapshotID); err != nil {
				return nil, err
			}
			workerReady = true
			sessionsMu.Lock()
			sessions = append(sessions, s)
			sessionsMu.Unlock()
			return s, nil
		}
	}

	result := discovery.NewResult()
	e := &engine{sink: ioCfg.Sink, sql: ioCfg.SQL, outputType: params.OutputType, result: result, check: params.PostDiscoveryCheck}

	pool := parallel.NewFrontierPool(parallelism, sessionFactory, e.process)
	runErr := pool.Run(ctx, seed)

	var releaseErr error
	for _, s := range sessions {
		if cerr := s.Commit(ctx); cerr != nil && releaseErr == nil {
			releaseErr = cerr
		}
		if cerr := s.Close(ctx); cerr != nil && releaseErr == nil {
			releaseErr = cerr
		}
	}

	if runErr != nil {
		return runErr
	}
	if releaseErr != nil {
		return releaseErr
	}

	switch params.OutputType {
	case OutputSlice:
		if err := writeManifest(ctx, ioCfg.Sink, result); err != nil {
			return err
		}
	case OutputSQL:
		if params.IncludeSchema {
			if err := ioCfg.SchemaDump.PostData(ctx, ioCfg.SQL.OpenPostdata()); err != nil {
				return err
			}
		}
	}

	return nil
}

// engine holds the per-run collaborators referenced by process.
type engine struct {
	sink       sink.Sink
	sql        *sink.SQLSink
	outputType OutputType
	result     *discovery.Result
	check      func(table *schema.Table, ids []rowset.Tid) error
}

// process runs discovery and extraction for one frontier item, pushing
// every valid successor back onto the queue.
func (e *engine) process(ctx context.Context, ps Session, item parallel.FrontierItem, push func(parallel.FrontierItem)) error {
	switch it := item.(type) {
	case rootItem:
		ids, err := ps.DiscoverByCondition(ctx, it.table, it.condition)
		if err != nil {
			return err
		}
		return e.handleDiscovered(ctx, ps, it.table, ids, nil, schema.FORWARD, push)

	case referenceItem:
		ids, err := ps.DiscoverByReference(ctx, it.fromTable, it.toTable, it.fromCols, it.toCols, it.sourceIDs)
		if err != nil {
			return err
		}
		return e.handleDiscovered(ctx, ps, it.toTable, ids, it.reference, it.direction, push)

	default:
		return apperrors.New(apperrors.CodeUnknown, "unrecognized frontier item type")
	}
}

// handleDiscovered feeds candidateIDs into the discovery result,
// terminating quietly if nothing new was found, else running the
// post-discovery hook, extracting the segment, and expanding the
// frontier from it.
func (e *engine) handleDiscovered(
	ctx context.Context,
	ps Session,
	table *schema.Table,
	candidateIDs []int64,
	arrivedVia *schema.Reference,
	arrivedDir schema.Direction,
	push func(parallel.FrontierItem),
) error {
	seg, ok := e.result.Add(table, candidateIDs)
	if !ok {
		return nil
	}

	if e.check != nil {
		tids := make([]rowset.Tid, len(seg.RowIDs))
		for i, packed := range seg.RowIDs {
			tids[i] = rowset.Unpack(packed)
		}
		if err := e.check(table, tids); err != nil {
			return err
		}
	}

	if err := e.extract(ctx, ps, table, seg); err != nil {
		return err
	}

	e.expand(table, seg.RowIDs, arrivedVia, arrivedDir, push)
	return nil
}

// extract streams the segment's rows out of the database into a
// scratch file, then copies the scratch file into the sink. The
// scratch-file indirection is mandatory: the sink's mutex must never
// be held across the network round-trip of the extraction COPY.
func (e *engine) extract(ctx context.Context, ps Session, table *schema.Table, seg *discovery.Segment) error {
	scratch, err := os.CreateTemp("", "dbslice-segment-*")
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSinkError, "failed to create scratch file", err)
	}
	defer os.Remove(scratch.Name())
	defer scratch.Close()

	if err := ps.CopyRowsTo(ctx, table, seg.RowIDs, scratch); err != nil {
		return err
	}
	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		return apperrors.Wrap(apperrors.CodeSinkError, "failed to rewind scratch file", err)
	}

	switch e.outputType {
	case OutputSlice:
		w, err := e.sink.OpenSegment(ctx, table.ID, seg.Index)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeSinkError, "failed to open segment", err)
		}
		if _, err := io.Copy(w, scratch); err != nil {
			w.Close()
			return apperrors.Wrap(apperrors.CodeSinkError, "failed to write segment", err)
		}
		if err := w.Close(); err != nil {
			return apperrors.Wrap(apperrors.CodeSinkError, "failed to close segment", err)
		}

	case OutputSQL:
		w, err := e.sql.OpenData(table.SchemaName, table.TableName, table.Columns, table.ID, seg.Index)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeSinkError, "failed to open data block", err)
		}
		if _, err := io.Copy(w, scratch); err != nil {
			w.Close()
			return apperrors.Wrap(apperrors.CodeSinkError, "failed to write data block", err)
		}
		if err := w.Close(); err != nil {
			return apperrors.Wrap(apperrors.CodeSinkError, "failed to close data block", err)
		}
	}

	return nil
}

// expand emits a referenceItem for every outgoing FORWARD-enabled
// reference and every incoming REVERSE-enabled reference, excluding
// the inverse of the edge just traversed (anti-backtrack).
func (e *engine) expand(table *schema.Table, ids []int64, arrivedVia *schema.Reference, arrivedDir schema.Direction, push func(parallel.FrontierItem)) {
	for _, ref := range table.References {
		if !ref.Enables(schema.FORWARD) {
			continue
		}
		if arrivedVia == ref && arrivedDir.Opposite() == schema.FORWARD {
			continue
		}
		from, to, fromCols, toCols := ref.Endpoints(schema.FORWARD)
		push(referenceItem{
			reference: ref, direction: schema.FORWARD,
			fromTable: from, toTable: to, fromCols: fromCols, toCols: toCols,
			sourceIDs: ids,
		})
	}

	for _, ref := range table.ReverseReferences {
		if !ref.Enables(schema.REVERSE) {
			continue
		}
		if arrivedVia == ref && arrivedDir.Opposite() == schema.REVERSE {
			continue
		}
		from, to, fromCols, toCols := ref.Endpoints(schema.REVERSE)
		push(referenceItem{
			reference: ref, direction: schema.REVERSE,
			fromTable: from, toTable: to, fromCols: fromCols, toCols: toCols,
			sourceIDs: ids,
		})
	}
}

// writeManifest serializes the discovery result's manifest to JSON and
// writes it through the sink's atomic manifest-write operation.
func writeManifest(ctx context.Context, sk sink.Sink, result *discovery.Result) error {
	w, err := sk.OpenManifest(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeSinkError, "failed to open manifest", err)
	}

	jw := writer.NewJSONWriter[discovery.Manifest]()
	if err := jw.Write(result.Manifest(), w); err != nil {
		w.Close()
		return apperrors.Wrap(apperrors.CodeSinkError, "failed to write manifest", err)
	}
	if err := w.Close(); err != nil {
		return apperrors.Wrap(apperrors.CodeSinkError, "failed to close manifest", err)
	}
	return nil
}
