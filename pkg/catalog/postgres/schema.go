package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlContents = `
CREATE TABLE IF NOT EXISTS contents (
    id         BIGSERIAL    PRIMARY KEY,
    name       TEXT         NOT NULL,
    type       TEXT         NOT NULL,
    artist     TEXT         NOT NULL DEFAULT '',
    category   TEXT         NOT NULL DEFAULT '',
    url        TEXT         NOT NULL DEFAULT '',
    play_count BIGINT       NOT NULL DEFAULT 0,
    deleted    BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contents_type
    ON contents (type) WHERE NOT deleted;

CREATE INDEX IF NOT EXISTS idx_contents_name
    ON contents (name) WHERE NOT deleted;

CREATE INDEX IF NOT EXISTS idx_contents_artist
    ON contents (artist) WHERE NOT deleted;
`

// Migrate ensures the catalog schema exists. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlContents); err != nil {
		return fmt.Errorf("catalog postgres: apply schema: %w", err)
	}
	return nil
}
