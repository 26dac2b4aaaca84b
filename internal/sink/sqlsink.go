package sink

import (
	"fmt"
	"io"
	"strings"
)

// SQLSink wraps a single io.Writer and frames a linear SQL dump: an
// optional pre-data section, a `COPY ... FROM STDIN` block per
// discovered segment, and an optional post-data section. Unlike
// DirSink/COSSink it is not keyed or random-access; segments must be
// written in the order the caller wants them to appear in the stream.
type SQLSink struct {
	w io.Writer
}

// NewSQLSink wraps w for linear SQL emission.
func NewSQLSink(w io.Writer) *SQLSink {
	return &SQLSink{w: w}
}

// OpenPredata returns a writer for the schema pre-data section. The
// caller is expected to hand it to an external pg_dump collaborator.
func (s *SQLSink) OpenPredata() io.WriteCloser {
	return nopCloser{s.w}
}

// OpenPostdata returns a writer for the schema post-data section.
func (s *SQLSink) OpenPostdata() io.WriteCloser {
	return nopCloser{s.w}
}

// OpenData emits `COPY schema.name (columns) FROM STDIN;` framing and
// returns a writer that, when closed, terminates the COPY block with
// the `\.` sentinel. tableID and index are accepted for symmetry with
// Sink.OpenSegment but only schema/name/columns affect the emitted SQL.
func (s *SQLSink) OpenData(schemaName, name string, columns []string, tableID string, index int) (io.WriteCloser, error) {
	header := fmt.Sprintf("COPY %s.%s (%s) FROM STDIN;\n",
		quoteIdent(schemaName), quoteIdent(name), quotedColumnList(columns))
	if _, err := io.WriteString(s.w, header); err != nil {
		return nil, fmt.Errorf("failed to write COPY header: %w", err)
	}
	return &copyBlockWriter{w: s.w}, nil
}

// quoteIdent double-quotes a Postgres identifier, doubling any
// embedded double quotes per the standard SQL escaping rule.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quotedColumnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}

// copyBlockWriter streams row payload bytes verbatim and appends the
// `\.` terminator on Close, matching the COPY FROM STDIN protocol.
type copyBlockWriter struct {
	w io.Writer
}

func (c *copyBlockWriter) Write(p []byte) (int, error) {
	return c.w.Write(p)
}

func (c *copyBlockWriter) Close() error {
	_, err := fmt.Fprint(c.w, "\\.\n")
	return err
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
