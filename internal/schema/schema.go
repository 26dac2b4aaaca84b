// Package schema models the declarative table/reference graph that the
// dump and restore engines traverse. A Schema is built once from a
// Description and is immutable for the lifetime of a dump or restore.
package schema

import (
	"fmt"

	apperrors "github.com/dbslice/dbslice/pkg/errors"
)

// Direction selects which way a Reference may be followed during
// discovery. A reference may enable either, both, or neither direction
// independent of its structural orientation.
type Direction int

const (
	// FORWARD follows a row's Columns to locate the matching row in
	// ReferenceTable on ReferenceColumns.
	FORWARD Direction = iota
	// REVERSE is the dual of FORWARD.
	REVERSE
)

// Opposite returns the reverse of d, used by the dump engine's
// anti-backtrack rule: a task must not re-emit the reference it just
// arrived through in the opposite direction.
func (d Direction) Opposite() Direction {
	if d == FORWARD {
		return REVERSE
	}
	return FORWARD
}

// String returns the lower-case name of the direction.
func (d Direction) String() string {
	switch d {
	case FORWARD:
		return "forward"
	case REVERSE:
		return "reverse"
	default:
		return "unknown"
	}
}

// Table is a node in the schema graph: an opaque id, its physical
// schema/table name, an ordered column list, and the references that
// touch it in either orientation.
type Table struct {
	ID                string
	SchemaName        string
	TableName         string
	Columns           []string
	References        []*Reference // this table -> parent tables
	ReverseReferences []*Reference // this table <- child tables
}

// QualifiedName returns "schema"."name" suitable for interpolation into
// a SQL statement.
func (t *Table) QualifiedName() string {
	return fmt.Sprintf("%q.%q", t.SchemaName, t.TableName)
}

// Reference is an edge in the schema graph between two tables.
type Reference struct {
	ID                string
	Table             *Table
	ReferenceTable    *Table
	Columns           []string
	ReferenceColumns  []string
	Directions        map[Direction]bool
}

// Enables reports whether the reference may be followed in direction d.
func (r *Reference) Enables(d Direction) bool {
	return r.Directions[d]
}

// Endpoints returns the (from, to) table and column lists for walking
// this reference in direction d: FORWARD walks Table -> ReferenceTable
// via Columns/ReferenceColumns, REVERSE walks the dual.
func (r *Reference) Endpoints(d Direction) (from, to *Table, fromColumns, toColumns []string) {
	if d == REVERSE {
		return r.ReferenceTable, r.Table, r.ReferenceColumns, r.Columns
	}
	return r.Table, r.ReferenceTable, r.Columns, r.ReferenceColumns
}

// TableDescription is the wire shape of one table in a schema
// description document.
type TableDescription struct {
	ID         string   `json:"id" mapstructure:"id"`
	SchemaName string   `json:"schema" mapstructure:"schema"`
	TableName  string   `json:"name" mapstructure:"name"`
	Columns    []string `json:"columns" mapstructure:"columns"`
}

// ReferenceDescription is the wire shape of one reference in a schema
// description document.
type ReferenceDescription struct {
	ID               string   `json:"id" mapstructure:"id"`
	TableID          string   `json:"table" mapstructure:"table"`
	ReferenceTableID string   `json:"reference_table" mapstructure:"reference_table"`
	Columns          []string `json:"columns" mapstructure:"columns"`
	ReferenceColumns []string `json:"reference_columns" mapstructure:"reference_columns"`
	Directions       []string `json:"directions" mapstructure:"directions"`
}

// Description is the declarative, parsed schema description consumed by
// Build. It is treated as an already-parsed value; decoding the wire
// document into this shape is a caller concern.
type Description struct {
	Tables     []TableDescription     `json:"tables" mapstructure:"tables"`
	References []ReferenceDescription `json:"references" mapstructure:"references"`
}

// Schema is the immutable, bidirectionally-linked table/reference graph.
type Schema struct {
	tables map[string]*Table
}

// Build constructs a Schema from a Description. It fails with
// ErrDuplicateID if any table_id or reference_id repeats, and with
// ErrDanglingReference if a reference names an unknown table.
func Build(desc Description) (*Schema, error) {
	tables := make(map[string]*Table, len(desc.Tables))

	for _, td := range desc.Tables {
		if _, exists := tables[td.ID]; exists {
			return nil, apperrors.Wrap(apperrors.CodeSchemaError,
				fmt.Sprintf("duplicate table id %q", td.ID), ErrDuplicateID)
		}
		tables[td.ID] = &Table{
			ID:         td.ID,
			SchemaName: td.SchemaName,
			TableName:  td.TableName,
			Columns:    append([]string(nil), td.Columns...),
		}
	}

	seenRef := make(map[string]bool, len(desc.References))
	for _, rd := range desc.References {
		if seenRef[rd.ID] {
			return nil, apperrors.Wrap(apperrors.CodeSchemaError,
				fmt.Sprintf("duplicate reference id %q", rd.ID), ErrDuplicateID)
		}
		seenRef[rd.ID] = true

		src, ok := tables[rd.TableID]
		if !ok {
			return nil, apperrors.Wrap(apperrors.CodeSchemaError,
				fmt.Sprintf("reference %q names unknown table %q", rd.ID, rd.TableID), ErrDanglingReference)
		}
		dst, ok := tables[rd.ReferenceTableID]
		if !ok {
			return nil, apperrors.Wrap(apperrors.CodeSchemaError,
				fmt.Sprintf("reference %q names unknown reference_table %q", rd.ID, rd.ReferenceTableID), ErrDanglingReference)
		}
		if len(rd.Columns) != len(rd.ReferenceColumns) {
			return nil, apperrors.Wrap(apperrors.CodeSchemaError,
				fmt.Sprintf("reference %q has mismatched column lists", rd.ID), ErrDanglingReference)
		}

		directions := make(map[Direction]bool, len(rd.Directions))
		for _, d := range rd.Directions {
			switch d {
			case "FORWARD":
				directions[FORWARD] = true
			case "REVERSE":
				directions[REVERSE] = true
			}
		}

		ref := &Reference{
			ID:               rd.ID,
			Table:            src,
			ReferenceTable:   dst,
			Columns:          append([]string(nil), rd.Columns...),
			ReferenceColumns: append([]string(nil), rd.ReferenceColumns...),
			Directions:       directions,
		}
		src.References = append(src.References, ref)
		dst.ReverseReferences = append(dst.ReverseReferences, ref)
	}

	return &Schema{tables: tables}, nil
}

// GetTable returns the table for id, or ErrUnknownTable if none exists.
func (s *Schema) GetTable(id string) (*Table, error) {
	t, ok := s.tables[id]
	if !ok {
		return nil, apperrors.Wrap(apperrors.CodeSchemaError,
			fmt.Sprintf("unknown table %q", id), ErrUnknownTable)
	}
	return t, nil
}

// Tables returns every table in the schema, in no particular order.
func (s *Schema) Tables() []*Table {
	out := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	return out
}
