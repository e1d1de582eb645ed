package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"gihan9a/docpatch/internal/document"
)

const defaultPostgresTable = "documents"

// PostgresStore keeps one row per document. The body column is text rather
// than jsonb so object key order is preserved.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

type PostgresOptions struct {
	DSN   string
	Table string
}

// NewPostgresStore connects and creates the table if it is missing.
func NewPostgresStore(ctx context.Context, opts PostgresOptions) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	table := opts.Table
	if table == "" {
		table = defaultPostgresTable
	}
	s := &PostgresStore{pool: pool, table: pgx.Identifier{table}.Sanitize()}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+s.table+` (
		id      text PRIMARY KEY,
		version bigint NOT NULL,
		body    text NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("creating table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Read(ctx context.Context, id string) (*document.Document, error) {
	var (
		version int64
		body    string
	)
	err := s.pool.QueryRow(ctx, `SELECT version, body FROM `+s.table+` WHERE id = $1`, id).Scan(&version, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	root, err := document.Parse([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("decoding %q body: %w", id, err)
	}
	return &document.Document{ID: id, Version: version, Root: root}, nil
}

func (s *PostgresStore) ConditionalWrite(ctx context.Context, id string, expected int64, doc *document.Document) error {
	if err := validateWrite(id, expected, doc); err != nil {
		return err
	}
	body, err := doc.Root.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding %q: %w", id, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var sql string
	args := []any{id, doc.Version, string(body)}
	if expected == 0 {
		sql = `INSERT INTO ` + s.table + ` (id, version, body) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	} else {
		sql = `UPDATE ` + s.table + ` SET version = $2, body = $3 WHERE id = $1 AND version = $4`
		args = append(args, expected)
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q is not at version %d", ErrVersionConflict, id, expected)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
