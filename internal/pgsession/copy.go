package pgsession

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dbslice/dbslice/internal/schema"
	apperrors "github.com/dbslice/dbslice/pkg/errors"
)

// CopyRowsTo streams the given rows' columns out of table via
// `COPY (...) TO STDOUT`, writing the wire-format payload to w. The
// caller is expected to buffer w through a scratch file before handing
// the bytes to a sink, matching the whole-segment compression model.
func (s *Session) CopyRowsTo(ctx context.Context, table *schema.Table, ids []int64, w io.Writer) error {
	cols := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		cols[i] = quoteIdent(c)
	}

	query := fmt.Sprintf(
		`COPY (SELECT %s FROM %s WHERE ctid = ANY('%s'::tid[])) TO STDOUT`,
		strings.Join(cols, ", "),
		qualifiedIdent(table.SchemaName, table.TableName),
		tidArrayLiteral(ids),
	)

	if _, err := s.conn.PgConn().CopyTo(ctx, w, query); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to copy rows out", err)
	}
	return nil
}

// CopyRowsFrom streams r's wire-format payload into schemaName.tableName
// via `COPY ... FROM STDIN`, the restore-side counterpart of
// CopyRowsTo. Returns the number of rows copied.
func (s *Session) CopyRowsFrom(ctx context.Context, schemaName, tableName string, columns []string, r io.Reader) (int64, error) {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdent(c)
	}

	query := fmt.Sprintf(
		`COPY %s (%s) FROM STDIN`,
		qualifiedIdent(schemaName, tableName),
		strings.Join(cols, ", "),
	)

	tag, err := s.conn.PgConn().CopyFrom(ctx, r, query)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to copy rows in", err)
	}
	return tag.RowsAffected(), nil
}
