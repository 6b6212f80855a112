// Package sqlstore is a database/sql backed implementation of the repository
// service facade. It runs on SQLite (mattn/go-sqlite3) or PostgreSQL (lib/pq
// or pgx).
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/transaction"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// Config holds the connection settings
type Config struct {
	Driver string
	DSN    string
	// MaxOpenConns caps the connection pool; in-memory SQLite is forced to 1
	MaxOpenConns int
}

// Store implements repo.ServiceRegistry on top of a SQL database
type Store struct {
	db       *sql.DB
	driver   string
	txm      *transaction.Manager
	logger   *zap.Logger
	versions repo.StoreRef
}

var _ repo.ServiceRegistry = (*Store)(nil)

// VersionStore holds frozen version state
var VersionStore = repo.StoreRef{Protocol: repo.ProtocolVersion, Identifier: "version2Store"}

// Open connects to the database and applies the schema
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	switch {
	case cfg.Driver == DriverSQLite && isMemoryDSN(cfg.DSN):
		db.SetMaxOpenConns(1)
	case cfg.MaxOpenConns > 0:
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	s, err := New(db, cfg.Driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle without touching the schema
func New(db *sql.DB, driver string, logger *zap.Logger) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres, DriverPgx:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:       db,
		driver:   driver,
		txm:      transaction.NewManager(db),
		logger:   logger.Named("sqlstore"),
		versions: VersionStore,
	}, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// DB returns the underlying database
func (s *Store) DB() *sql.DB {
	return s.db
}

// Transactions returns the transaction manager bound to this store
func (s *Store) Transactions() *transaction.Manager {
	return s.txm
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Nodes() repo.NodeService { return s }
func (s *Store) Content() repo.ContentService { return s }
func (s *Store) Search() repo.SearchService { return s }
func (s *Store) Permissions() repo.PermissionService { return s }
func (s *Store) Versions() repo.VersionService { return s }
func (s *Store) Authentication() repo.AuthenticationService { return s }
func (s *Store) Authorities() repo.AuthorityService { return s }

// querier returns the ambient transaction or the database
func (s *Store) querier(ctx context.Context) transaction.Querier {
	return transaction.QuerierFrom(ctx, s.db)
}

// rebind rewrites ? placeholders into $n for PostgreSQL drivers
func (s *Store) rebind(query string) string {
	if s.driver == DriverSQLite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.querier(ctx).ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.querier(ctx).QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.querier(ctx).QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) blobType() string {
	if s.driver == DriverSQLite {
		return "BLOB"
	}
	return "BYTEA"
}

// Migrate creates the schema if it does not exist
func (s *Store) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ws_stores (
			store TEXT PRIMARY KEY,
			root_id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ws_nodes (
			id TEXT PRIMARY KEY,
			store TEXT NOT NULL,
			type TEXT NOT NULL,
			parent_id TEXT,
			name TEXT NOT NULL,
			inherit_acl BOOLEAN NOT NULL DEFAULT TRUE,
			created_at BIGINT NOT NULL,
			modified_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ws_nodes_parent ON ws_nodes (parent_id, name)`,
		`CREATE TABLE IF NOT EXISTS ws_properties (
			node_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (node_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS ws_aspects (
			node_id TEXT NOT NULL,
			aspect TEXT NOT NULL,
			PRIMARY KEY (node_id, aspect)
		)`,
		`CREATE TABLE IF NOT EXISTS ws_assocs (
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			type TEXT NOT NULL,
			PRIMARY KEY (source_id, target_id, type)
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ws_content (
			node_id TEXT NOT NULL,
			prop TEXT NOT NULL,
			data %s,
			text TEXT,
			mimetype TEXT NOT NULL,
			encoding TEXT NOT NULL,
			size BIGINT NOT NULL,
			modified_at BIGINT NOT NULL,
			PRIMARY KEY (node_id, prop)
		)`, s.blobType()),
		`CREATE TABLE IF NOT EXISTS ws_acl (
			node_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			authority TEXT NOT NULL,
			permission TEXT NOT NULL,
			allowed BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ws_acl_node ON ws_acl (node_id)`,
		`CREATE TABLE IF NOT EXISTS ws_versions (
			node_id TEXT NOT NULL,
			label TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			creator TEXT NOT NULL,
			description TEXT NOT NULL,
			frozen_id TEXT NOT NULL,
			PRIMARY KEY (node_id, label)
		)`,
		`CREATE TABLE IF NOT EXISTS ws_users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			admin BOOLEAN NOT NULL DEFAULT FALSE
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
