package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NewReelRepositoryMSSQL returns the SQL Server / Azure SQL persister.
func NewReelRepositoryMSSQL(db *sql.DB) *ReelRepository {
	return &ReelRepository{db: db, q: mssqlReelQueries}
}

var mssqlReelQueries = reelQueries{
	upsertReel: `MERGE dbo.[reels] AS target
USING (VALUES (@p1)) AS src(id)
ON target.id = src.id
WHEN MATCHED THEN UPDATE SET
  username = @p5, views = @p6, likes = @p7, comments = @p8, thumbnail = @p9,
  approximate = @p10, last_updated = @p12, is_active = @p13
WHEN NOT MATCHED THEN
  INSERT (id, owner_id, shortcode, source_url, username, views, likes, comments, thumbnail, approximate, submitted_at, last_updated, is_active)
  VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10, @p11, @p12, @p13);`,
	countObservations: `SELECT COUNT(*) FROM dbo.[reel_observations] WHERE reel_id=@p1`,
	insertObservation: `INSERT INTO dbo.[reel_observations] (reel_id, observed_at, views, likes, comments, source) VALUES (@p1,@p2,@p3,@p4,@p5,@p6)`,
	updateMetrics:     `UPDATE dbo.[reels] SET views=@p1, likes=@p2, comments=@p3, approximate=@p4, last_updated=@p5 WHERE id=@p6`,
	trimObservations: `DELETE FROM dbo.[reel_observations] WHERE reel_id=@p1 AND id NOT IN (
  SELECT TOP (@p2) id FROM dbo.[reel_observations] WHERE reel_id=@p1 ORDER BY observed_at DESC, id DESC)`,
	deleteObservation: `DELETE FROM dbo.[reel_observations] WHERE reel_id=@p1`,
	deleteReel:        `DELETE FROM dbo.[reels] WHERE id=@p1`,
	selectReels:       `SELECT id, owner_id, shortcode, source_url, username, views, likes, comments, thumbnail, approximate, submitted_at, last_updated, is_active FROM dbo.[reels] ORDER BY submitted_at`,
	selectObservation: `SELECT reel_id, observed_at, views, likes, comments, source FROM dbo.[reel_observations] ORDER BY reel_id, observed_at, id`,
}

// EnsureReelSchemaMSSQL creates the reel tables in SQL Server when they are missing.
func EnsureReelSchemaMSSQL(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	createIfMissing := func(table, ddl string) error {
		q := fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN %s END`, table, ddl)
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure table %s: %w", table, err)
		}
		return nil
	}
	if err := createIfMissing("dbo.reels", `CREATE TABLE dbo.[reels] (
  id NVARCHAR(64) NOT NULL PRIMARY KEY,
  owner_id NVARCHAR(128) NOT NULL,
  shortcode NVARCHAR(64) NOT NULL UNIQUE,
  source_url NVARCHAR(1024) NOT NULL,
  username NVARCHAR(255) NOT NULL,
  views BIGINT NOT NULL DEFAULT 0,
  likes BIGINT NOT NULL DEFAULT 0,
  comments BIGINT NOT NULL DEFAULT 0,
  thumbnail NVARCHAR(1024) NOT NULL DEFAULT '',
  submitted_at DATETIMEOFFSET NOT NULL,
  last_updated DATETIMEOFFSET NOT NULL,
  is_active BIT NOT NULL DEFAULT 1
)`); err != nil {
		return err
	}
	if err := createIfMissing("dbo.reel_observations", `CREATE TABLE dbo.[reel_observations] (
  id BIGINT IDENTITY(1,1) PRIMARY KEY,
  reel_id NVARCHAR(64) NOT NULL REFERENCES dbo.[reels](id) ON DELETE CASCADE,
  observed_at DATETIMEOFFSET NOT NULL,
  views BIGINT NOT NULL,
  likes BIGINT NOT NULL,
  comments BIGINT NOT NULL,
  source NVARCHAR(32) NOT NULL
)`); err != nil {
		return err
	}

	addIfMissing := func(table, column, ddl string) error {
		q := fmt.Sprintf(`IF COL_LENGTH('%s', '%s') IS NULL BEGIN %s END`, table, column, ddl)
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure column %s.%s: %w", table, column, err)
		}
		return nil
	}
	return addIfMissing("dbo.reels", "approximate", "ALTER TABLE dbo.[reels] ADD approximate BIT NOT NULL DEFAULT 0")
}
