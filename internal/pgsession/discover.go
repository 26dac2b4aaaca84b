package pgsession

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/dbslice/dbslice/internal/rowset"
	"github.com/dbslice/dbslice/internal/schema"
	apperrors "github.com/dbslice/dbslice/pkg/errors"
)

// DiscoverByCondition finds every row in table matching a caller-
// supplied SQL condition (a root's WHERE clause) and returns its ctid
// as a packed Tid.
func (s *Session) DiscoverByCondition(ctx context.Context, table *schema.Table, condition string) ([]int64, error) {
	query := fmt.Sprintf("SELECT ctid FROM %s WHERE %s", qualifiedIdent(table.SchemaName, table.TableName), condition)
	rows, err := s.tx.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to discover rows by condition", err)
	}
	defer rows.Close()

	return scanTids(rows)
}

// DiscoverByReference finds every distinct row in toTable joined to a
// set of already-discovered rows in fromTable via fromColumns =
// toColumns, the Go equivalent of the original's reference-walk join.
func (s *Session) DiscoverByReference(
	ctx context.Context,
	fromTable, toTable *schema.Table,
	fromColumns, toColumns []string,
	fromIDs []int64,
) ([]int64, error) {
	if len(fromIDs) == 0 {
		return nil, nil
	}

	joinCols := make([]string, len(fromColumns))
	for i := range fromColumns {
		joinCols[i] = fmt.Sprintf("a.%s = b.%s", quoteIdent(fromColumns[i]), quoteIdent(toColumns[i]))
	}

	query := fmt.Sprintf(
		`SELECT DISTINCT b.ctid FROM %s AS a JOIN %s AS b ON %s WHERE a.ctid = ANY($1::tid[])`,
		qualifiedIdent(fromTable.SchemaName, fromTable.TableName),
		qualifiedIdent(toTable.SchemaName, toTable.TableName),
		strings.Join(joinCols, " AND "),
	)

	rows, err := s.tx.Query(ctx, query, tidArrayLiteral(fromIDs))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to discover rows by reference", err)
	}
	defer rows.Close()

	return scanTids(rows)
}

// scanTids drains a result set of a single ctid column into packed
// Tid values.
func scanTids(rows interface{ Next() bool; Scan(...any) error; Err() error }) ([]int64, error) {
	var out []int64
	for rows.Next() {
		var tid pgtype.TID
		if err := rows.Scan(&tid); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to scan ctid", err)
		}
		out = append(out, rowset.Tid{Block: tid.BlockNumber, Offset: tid.OffsetNumber}.Pack())
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "row iteration failed", err)
	}
	return out, nil
}

// tidArrayLiteral renders packed Tids as a Postgres tid[] array
// literal, e.g. `{"(3,1)","(3,2)"}`, suitable for an ::tid[] cast bind
// parameter.
func tidArrayLiteral(ids []int64) string {
	parts := make([]string, len(ids))
	for i, packed := range ids {
		t := rowset.Unpack(packed)
		parts[i] = fmt.Sprintf(`"(%d,%d)"`, t.Block, t.Offset)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func qualifiedIdent(schemaName, tableName string) string {
	return quoteIdent(schemaName) + "." + quoteIdent(tableName)
}
