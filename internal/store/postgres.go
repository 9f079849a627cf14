package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/user/scraper-service/internal/entity"
)

// PostgresStore keeps one record kind in a table of (url, jsonb) rows.
// It is an optional third backend enabled by POSTGRES_URL.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
	field string
}

// NewPostgresStore binds a pool to a table. field is the identity column
// stored inside the record payload.
func NewPostgresStore(pool *pgxpool.Pool, table, field string) *PostgresStore {
	return &PostgresStore{pool: pool, table: table, field: field}
}

func (s *PostgresStore) Kind() string { return "postgres" }

// EnsureSchema creates the backing table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		url TEXT NOT NULL UNIQUE,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, s.ident())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("ensure table %s: %w", s.table, err)
	}
	return nil
}

// ReadAll loads every row in insertion order.
func (s *PostgresStore) ReadAll(ctx context.Context) (*entity.Dataset, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT data FROM %s ORDER BY id", s.ident()))
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", s.table, err)
	}
	defer rows.Close()

	d := &entity.Dataset{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var rec entity.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("decode record payload: %w", err)
		}
		d.Append(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table %s: %w", s.table, err)
	}
	return d, nil
}

// WriteAll replaces the table contents with d inside one transaction.
func (s *PostgresStore) WriteAll(ctx context.Context, d *entity.Dataset) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", s.ident())); err != nil {
		return fmt.Errorf("clear table %s: %w", s.table, err)
	}

	insert := fmt.Sprintf(`INSERT INTO %s (url, data) VALUES ($1, $2)
		ON CONFLICT (url) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, s.ident())
	for _, row := range d.Rows {
		url := entity.ExtractURL(row[s.field])
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", url, err)
		}
		if _, err := tx.Exec(ctx, insert, url, payload); err != nil {
			return fmt.Errorf("insert record %s: %w", url, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	slog.Info("postgres table replaced", "table", s.table, "rows", len(d.Rows))
	return nil
}

// AppendRows upserts rows without touching the rest of the table.
func (s *PostgresStore) AppendRows(ctx context.Context, rows []entity.Record) error {
	insert := fmt.Sprintf(`INSERT INTO %s (url, data) VALUES ($1, $2)
		ON CONFLICT (url) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`, s.ident())
	for _, row := range rows {
		url := entity.ExtractURL(row[s.field])
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", url, err)
		}
		if _, err := s.pool.Exec(ctx, insert, url, payload); err != nil {
			return fmt.Errorf("append record %s: %w", url, err)
		}
	}
	return nil
}

// DeleteWhere removes rows by identity URL.
func (s *PostgresStore) DeleteWhere(ctx context.Context, field string, urls []string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE url = ANY($1)", s.ident()), urls)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", s.table, err)
	}
	return int(tag.RowsAffected()), nil
}

// Exists reports whether url has a row.
func (s *PostgresStore) Exists(ctx context.Context, field, url string) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE url = $1)", s.ident()), url).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("exists query on %s: %w", s.table, err)
	}
	return found, nil
}

func (s *PostgresStore) ident() string {
	return pgx.Identifier{s.table}.Sanitize()
}
