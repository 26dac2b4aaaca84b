// Package pgsession is the low-level Postgres session wrapper the dump
// and restore engines use for everything GORM doesn't reach: snapshot
// export/import, repeatable-read transaction freezing, raw COPY
// TO/FROM STDOUT/STDIN, ctid scanning, and the pg_constraint catalog
// join restore uses to build its dependency graph.
package pgsession

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/dbslice/dbslice/pkg/errors"
)

// Session wraps a single Postgres connection and, once Begin is
// called, the transaction the dump or restore engine runs its work
// inside. One Session exists per FrontierPool/DAGPool worker.
type Session struct {
	conn *pgx.Conn
	tx   pgx.Tx
}

// Connect opens a new physical connection to dsn. Each FrontierPool
// worker calls this once via its SessionFactory (or, at parallelism
// 1, the caller's single session is reused directly).
func Connect(ctx context.Context, dsn string) (*Session, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to connect to postgres", err)
	}
	return &Session{conn: conn}, nil
}

// Close closes the underlying connection.
func (s *Session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// Begin starts a transaction at the default (read committed) isolation
// level.
func (s *Session) Begin(ctx context.Context) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to begin transaction", err)
	}
	s.tx = tx
	return nil
}

// FreezeTransaction sets the current transaction to REPEATABLE READ,
// optionally pinning it to a previously exported snapshot so every
// worker's transaction sees the exact same data the coordinator saw
// when it called ExportSnapshot.
func (s *Session) FreezeTransaction(ctx context.Context, snapshot string) error {
	if _, err := s.tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL REPEATABLE READ"); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to set isolation level", err)
	}
	if snapshot != "" {
		// SET TRANSACTION SNAPSHOT takes a string literal, not a bind
		// parameter; the snapshot id comes from our own
		// pg_export_snapshot() call, never from user input.
		query := fmt.Sprintf("SET TRANSACTION SNAPSHOT '%s'", snapshot)
		if _, err := s.tx.Exec(ctx, query); err != nil {
			return apperrors.Wrap(apperrors.CodeSnapshotLost, "failed to import snapshot", err)
		}
	}
	return nil
}

// ExportSnapshot exports the current transaction's snapshot so other
// sessions can pin themselves to the same consistent view via
// FreezeTransaction.
func (s *Session) ExportSnapshot(ctx context.Context) (string, error) {
	var snapshot string
	if err := s.tx.QueryRow(ctx, "SELECT pg_export_snapshot()").Scan(&snapshot); err != nil {
		return "", apperrors.Wrap(apperrors.CodeDatabaseError, "failed to export snapshot", err)
	}
	return snapshot, nil
}

// Commit commits the current transaction.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.tx.Commit(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to commit transaction", err)
	}
	return nil
}

// Rollback rolls back the current transaction.
func (s *Session) Rollback(ctx context.Context) error {
	if err := s.tx.Rollback(ctx); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to roll back transaction", err)
	}
	return nil
}

// Tx exposes the underlying transaction for operations that need the
// raw pgx.Tx (COPY, catalog queries).
func (s *Session) Tx() pgx.Tx {
	return s.tx
}
