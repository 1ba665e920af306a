// Package postgres provides the PostgreSQL-backed catalog implementation.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	c, err := store.GetRandomByType(ctx, catalog.TypeMusic, "")
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxleaf/voxleaf/pkg/catalog"
)

var _ catalog.Store = (*Store)(nil)

// Store is the PostgreSQL catalog. All operations are safe for concurrent
// use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore establishes a connection pool to the database at dsn and runs
// [Migrate] to ensure the schema exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog postgres: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog postgres: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const contentColumns = `id, name, type, artist, category, url, play_count, deleted`

func scanContent(row pgx.CollectableRow) (*catalog.Content, error) {
	var c catalog.Content
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Artist, &c.Category, &c.URL, &c.PlayCount, &c.Deleted)
	return &c, err
}

func (s *Store) queryOne(ctx context.Context, q string, args ...any) (*catalog.Content, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: query: %w", err)
	}
	c, err := pgx.CollectOneRow(rows, scanContent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, catalog.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: scan: %w", err)
	}
	return c, nil
}

func (s *Store) queryMany(ctx context.Context, q string, args ...any) ([]*catalog.Content, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: query: %w", err)
	}
	out, err := pgx.CollectRows(rows, scanContent)
	if err != nil {
		return nil, fmt.Errorf("catalog postgres: scan: %w", err)
	}
	return out, nil
}

func (s *Store) GetRandomByType(ctx context.Context, typ catalog.Type, category string) (*catalog.Content, error) {
	q := `SELECT ` + contentColumns + `
	      FROM contents
	      WHERE NOT deleted AND url <> '' AND type = $1 AND ($2 = '' OR category = $2)
	      ORDER BY random() LIMIT 1`
	return s.queryOne(ctx, q, typ, category)
}

func (s *Store) GetContentByName(ctx context.Context, typ catalog.Type, name string) (*catalog.Content, error) {
	q := `SELECT ` + contentColumns + `
	      FROM contents
	      WHERE NOT deleted AND type = $1 AND name = $2
	      LIMIT 1`
	return s.queryOne(ctx, q, typ, name)
}

func (s *Store) GetContentByID(ctx context.Context, id int64) (*catalog.Content, error) {
	q := `SELECT ` + contentColumns + ` FROM contents WHERE id = $1`
	return s.queryOne(ctx, q, id)
}

func (s *Store) SearchByArtist(ctx context.Context, artist string, typ catalog.Type) ([]*catalog.Content, error) {
	q := `SELECT ` + contentColumns + `
	      FROM contents
	      WHERE NOT deleted AND type = $1 AND artist ILIKE '%' || $2 || '%'
	      ORDER BY play_count DESC`
	return s.queryMany(ctx, q, typ, artist)
}

func (s *Store) SearchByArtistAndTitle(ctx context.Context, artist, title string) (*catalog.Content, error) {
	q := `SELECT ` + contentColumns + `
	      FROM contents
	      WHERE NOT deleted AND artist ILIKE '%' || $1 || '%'`
	candidates, err := s.queryMany(ctx, q, artist)
	if err != nil {
		return nil, err
	}
	ranked := catalog.Rank(title, candidates, 1)
	if len(ranked) == 0 {
		return nil, catalog.ErrNotFound
	}
	return ranked[0], nil
}

func (s *Store) GetContentList(ctx context.Context, typ catalog.Type, category string, limit int, shuffle bool) ([]*catalog.Content, error) {
	order := "name"
	if shuffle {
		order = "random()"
	}
	q := `SELECT ` + contentColumns + `
	      FROM contents
	      WHERE NOT deleted AND type = $1 AND ($2 = '' OR category = $2)
	      ORDER BY ` + order + ` LIMIT $3`
	return s.queryMany(ctx, q, typ, category, limit)
}

// SmartSearch pre-filters with a broad ILIKE and ranks the survivors with
// the shared fuzzy scorer, so behavior matches the in-memory store.
func (s *Store) SmartSearch(ctx context.Context, keyword string, limit int) ([]*catalog.Content, error) {
	q := `SELECT ` + contentColumns + `
	      FROM contents
	      WHERE NOT deleted AND (name ILIKE '%' || $1 || '%' OR artist ILIKE '%' || $1 || '%')
	      LIMIT 200`
	candidates, err := s.queryMany(ctx, q, keyword)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		// Fall back to scoring a bounded sample when the substring
		// filter finds nothing (typo in the keyword).
		candidates, err = s.queryMany(ctx, `SELECT `+contentColumns+` FROM contents WHERE NOT deleted LIMIT 500`)
		if err != nil {
			return nil, err
		}
	}
	return catalog.Rank(keyword, candidates, limit), nil
}

func (s *Store) IncrementPlayCount(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE contents SET play_count = play_count + 1 WHERE id = $1 AND NOT deleted`, id)
	if err != nil {
		return fmt.Errorf("catalog postgres: increment play count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteContent(ctx context.Context, id int64, hard bool) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if hard {
		tag, err = s.pool.Exec(ctx, `DELETE FROM contents WHERE id = $1`, id)
	} else {
		tag, err = s.pool.Exec(ctx, `UPDATE contents SET deleted = TRUE WHERE id = $1 AND NOT deleted`, id)
	}
	if err != nil {
		return fmt.Errorf("catalog postgres: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.ErrNotFound
	}
	return nil
}
