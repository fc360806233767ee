package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var reelSchemaPostgres = []string{
	`CREATE TABLE IF NOT EXISTS reels (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		shortcode TEXT NOT NULL UNIQUE,
		source_url TEXT NOT NULL,
		username TEXT NOT NULL,
		views BIGINT NOT NULL DEFAULT 0,
		likes BIGINT NOT NULL DEFAULT 0,
		comments BIGINT NOT NULL DEFAULT 0,
		thumbnail TEXT NOT NULL DEFAULT '',
		submitted_at TIMESTAMPTZ NOT NULL,
		last_updated TIMESTAMPTZ NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS reel_observations (
		id BIGSERIAL PRIMARY KEY,
		reel_id TEXT NOT NULL REFERENCES reels(id) ON DELETE CASCADE,
		observed_at TIMESTAMPTZ NOT NULL,
		views BIGINT NOT NULL,
		likes BIGINT NOT NULL,
		comments BIGINT NOT NULL,
		source TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reel_observations_reel ON reel_observations (reel_id, observed_at)`,
}

// EnsureReelSchema creates the reel tables and adds newer columns when they are missing.
// Safe to call at startup.
func EnsureReelSchema(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, ddl := range reelSchemaPostgres {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensuring reel schema failed: %w", err)
		}
	}

	checks := []struct {
		table  string
		column string
		ddl    string
	}{
		{"reels", "approximate", "ALTER TABLE reels ADD COLUMN approximate BOOLEAN NOT NULL DEFAULT FALSE"},
	}
	for _, c := range checks {
		exists, err := columnExists(ctx, db, c.table, c.column)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := db.ExecContext(ctx, c.ddl); err != nil {
				return fmt.Errorf("adding column %s.%s failed: %w", c.table, c.column, err)
			}
		}
	}
	return nil
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	row := db.QueryRowContext(ctx, `SELECT 1 FROM information_schema.columns WHERE table_name=$1 AND column_name=$2`, table, column)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
