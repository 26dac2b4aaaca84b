package pgsession

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/dbslice/dbslice/pkg/errors"
)

// ForeignKey describes one foreign key constraint between two tables
// named in a restore's manifest.
type ForeignKey struct {
	Deferrable     bool
	Name           string
	Schema         string
	Table          string // table ID
	ReferenceTable string // referenced table ID
}

// TableRef identifies a manifest table by id and physical name, the
// shape GetConstraints needs to resolve pg_constraint rows back to
// manifest table ids.
type TableRef struct {
	ID     string
	Schema string
	Name   string
}

// GetConstraints queries pg_constraint for every foreign key between
// the named tables, grounded on the original restore collaborator's
// unnest-and-join catalog query.
func (s *Session) GetConstraints(ctx context.Context, tables []TableRef) ([]ForeignKey, error) {
	ids := make([]string, len(tables))
	schemas := make([]string, len(tables))
	names := make([]string, len(tables))
	for i, t := range tables {
		ids[i] = t.ID
		schemas[i] = t.Schema
		names[i] = t.Name
	}

	query := `
		WITH "table" AS (
			SELECT *
			FROM unnest($1::text[], $2::text[], $3::text[]) AS t (id, schema, name)
		)
		SELECT
			pn.nspname,
			pc.conname,
			a.id,
			b.id,
			pc.condeferrable
		FROM
			pg_constraint AS pc
			JOIN pg_class AS pc2 ON pc.conrelid = pc2.oid
			JOIN pg_namespace AS pn ON pc2.relnamespace = pn.oid
			JOIN "table" AS a ON (pn.nspname, pc2.relname) = (a.schema, a.name)
			JOIN pg_class AS pc3 ON pc.confrelid = pc3.oid
			JOIN pg_namespace AS pn2 ON pc3.relnamespace = pn2.oid
			JOIN "table" AS b ON (pn2.nspname, pc3.relname) = (b.schema, b.name)
		WHERE pc.contype = 'f'
	`

	rows, err := s.tx.Query(ctx, query, ids, schemas, names)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConstraintError, "failed to query foreign key constraints", err)
	}
	defer rows.Close()

	var constraints []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Schema, &fk.Name, &fk.Table, &fk.ReferenceTable, &fk.Deferrable); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeConstraintError, "failed to scan constraint row", err)
		}
		constraints = append(constraints, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConstraintError, "constraint row iteration failed", err)
	}

	return constraints, nil
}

// DeferConstraints issues SET CONSTRAINTS ... DEFERRED for the named
// (schema, name) constraint pairs so restore can load data out of
// referential order within a single transaction.
func (s *Session) DeferConstraints(ctx context.Context, constraints []ForeignKey) error {
	if len(constraints) == 0 {
		return nil
	}

	names := make([]string, len(constraints))
	for i, c := range constraints {
		names[i] = qualifiedIdent(c.Schema, c.Name)
	}

	query := fmt.Sprintf("SET CONSTRAINTS %s DEFERRED", strings.Join(names, ", "))
	if _, err := s.tx.Exec(ctx, query); err != nil {
		return apperrors.Wrap(apperrors.CodeConstraintError, "failed to defer constraints", err)
	}
	return nil
}
