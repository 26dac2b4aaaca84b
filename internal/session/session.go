// Package session opens a GORM connection pool for a configured
// database (Coordinator), and defines the Session/Factory interfaces
// the restore engine runs against. Restore's sessions are
// internal/pgsession connections, which carry the raw COPY and
// constraint operations GORM itself doesn't expose.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/dbslice/dbslice/internal/pgsession"
	"github.com/dbslice/dbslice/pkg/config"
	"github.com/dbslice/dbslice/pkg/telemetry"
)

// Session is the narrow set of operations the restore engine needs
// from a destination connection. *pgsession.Session satisfies it; it
// is kept as an interface so restore's dependency-graph and
// replay logic can be exercised against a fake in tests without a
// real Postgres connection.
type Session interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
	CopyRowsFrom(ctx context.Context, schemaName, tableName string, columns []string, r io.Reader) (int64, error)
	GetConstraints(ctx context.Context, tables []pgsession.TableRef) ([]pgsession.ForeignKey, error)
	DeferConstraints(ctx context.Context, constraints []pgsession.ForeignKey) error
}

// Factory opens a new raw Postgres session. The restore engine calls it
// once for its coordinator session and, outside single-transaction
// mode, once per restored table. A Factory typically closes over a DSN
// and calls pgsession.Connect.
type Factory func(ctx context.Context) (Session, error)

// NewFactory builds a Factory that opens a new pgsession.Session
// against dsn on every call.
func NewFactory(dsn string) Factory {
	return func(ctx context.Context) (Session, error) {
		return pgsession.Connect(ctx, dsn)
	}
}

// Dialect identifies the GORM dialect a coordinator session opens.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Open opens a GORM connection pool for the given database config, the
// way internal/repository.NewGormDB did for the teacher's task store.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch Dialect(cfg.DialectType()) {
	case DialectPostgres:
		dialector = postgres.Open(cfg.DSN())
	case DialectMySQL:
		dsn := fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		)
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if telemetry.Enabled() {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("failed to enable telemetry: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Coordinator wraps the coordinator's GORM connection and exposes the
// raw *sql.DB the engines drop down to.
type Coordinator struct {
	gormDB *gorm.DB
}

// NewCoordinator opens a Coordinator for the given database config.
func NewCoordinator(cfg *config.DatabaseConfig) (*Coordinator, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Coordinator{gormDB: db}, nil
}

// DB returns the underlying *sql.DB connection.
func (c *Coordinator) DB() (*sql.DB, error) {
	return c.gormDB.DB()
}

// GormDB returns the underlying GORM DB instance.
func (c *Coordinator) GormDB() *gorm.DB {
	return c.gormDB
}

// HealthCheck verifies the coordinator's connection is still alive.
func (c *Coordinator) HealthCheck(ctx context.Context) error {
	sqlDB, err := c.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the coordinator's connection pool.
func (c *Coordinator) Close() error {
	if c.gormDB == nil {
		return nil
	}
	sqlDB, err := c.gormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
