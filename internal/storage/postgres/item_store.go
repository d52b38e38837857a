// Package postgres persists extracted items to Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/spinbot/internal/items"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ItemStoreConfig controls the connection pool and target tables.
type ItemStoreConfig struct {
	DSN           string
	MembersTable  string
	CoupletsTable string
	MaxConns      int32
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ItemStore writes members and couplets into Postgres.
type ItemStore struct {
	pool          execCloser
	membersTable  string
	coupletsTable string
	now           func() time.Time
}

// NewItemStore connects to Postgres using the provided config.
func NewItemStore(ctx context.Context, cfg ItemStoreConfig) (*ItemStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewItemStoreWithPool(pool, cfg.MembersTable, cfg.CoupletsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewItemStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewItemStoreWithPool(pool execCloser, membersTable, coupletsTable string) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if membersTable == "" {
		membersTable = "members"
	}
	if coupletsTable == "" {
		coupletsTable = "couplets"
	}
	for _, table := range []string{membersTable, coupletsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &ItemStore{
		pool:          pool,
		membersTable:  membersTable,
		coupletsTable: coupletsTable,
		now:           time.Now,
	}, nil
}

// EnsureSchema creates the item tables when they are missing.
func (s *ItemStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			home_url   TEXT PRIMARY KEY,
			nick_name  TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.membersTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			first_line  TEXT NOT NULL,
			second_line TEXT NOT NULL,
			source_url  TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (first_line, second_line)
		)`, s.coupletsTable),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertMember inserts a member or refreshes its name, keyed by home URL.
func (s *ItemStore) UpsertMember(ctx context.Context, m items.Member) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (home_url, nick_name, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (home_url) DO UPDATE
		SET nick_name = EXCLUDED.nick_name, updated_at = EXCLUDED.updated_at
	`, s.membersTable)
	if _, err := s.pool.Exec(ctx, query, m.HomeURL, m.Name, s.now().UTC()); err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

// SaveCouplet inserts a couplet once.
func (s *ItemStore) SaveCouplet(ctx context.Context, c items.Couplet) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (first_line, second_line, source_url, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (first_line, second_line) DO NOTHING
	`, s.coupletsTable)
	if _, err := s.pool.Exec(ctx, query, c.First, c.Second, c.SourceURL, s.now().UTC()); err != nil {
		return fmt.Errorf("save couplet: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *ItemStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
