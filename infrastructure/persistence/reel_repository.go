package persistence

import (
	"context"
	"database/sql"

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
)

// ReelRepository persists reels and their observation history through database/sql.
// The query set selects the SQL dialect.
type ReelRepository struct {
	db *sql.DB
	q  reelQueries
}

type reelQueries struct {
	upsertReel        string
	countObservations string
	insertObservation string
	updateMetrics     string
	trimObservations  string
	deleteObservation string
	deleteReel        string
	selectReels       string
	selectObservation string
}

var _ repository.IReelPersister = (*ReelRepository)(nil)

// NewReelRepository returns the PostgreSQL persister.
func NewReelRepository(db *sql.DB) *ReelRepository {
	return &ReelRepository{db: db, q: postgresReelQueries}
}

var postgresReelQueries = reelQueries{
	upsertReel:        pqUpsertReel,
	countObservations: pqCountObservations,
	insertObservation: pqInsertObservation,
	updateMetrics:     pqUpdateMetrics,
	trimObservations:  pqTrimObservations,
	deleteObservation: pqDeleteObservation,
	deleteReel:        pqDeleteReel,
	selectReels:       pqSelectReels,
	selectObservation: pqSelectObservation,
}

const (
	pqUpsertReel = `INSERT INTO reels (id, owner_id, shortcode, source_url, username, views, likes, comments, thumbnail, approximate, submitted_at, last_updated, is_active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO UPDATE SET
  username = EXCLUDED.username,
  views = EXCLUDED.views,
  likes = EXCLUDED.likes,
  comments = EXCLUDED.comments,
  thumbnail = EXCLUDED.thumbnail,
  approximate = EXCLUDED.approximate,
  last_updated = EXCLUDED.last_updated,
  is_active = EXCLUDED.is_active`
	pqCountObservations = `SELECT COUNT(*) FROM reel_observations WHERE reel_id=$1`
	pqInsertObservation = `INSERT INTO reel_observations (reel_id, observed_at, views, likes, comments, source) VALUES ($1,$2,$3,$4,$5,$6)`
	pqUpdateMetrics     = `UPDATE reels SET views=$1, likes=$2, comments=$3, approximate=$4, last_updated=$5 WHERE id=$6`
	pqTrimObservations  = `DELETE FROM reel_observations WHERE reel_id=$1 AND id NOT IN (SELECT id FROM reel_observations WHERE reel_id=$1 ORDER BY observed_at DESC, id DESC LIMIT $2)`
	pqDeleteObservation = `DELETE FROM reel_observations WHERE reel_id=$1`
	pqDeleteReel        = `DELETE FROM reels WHERE id=$1`
	pqSelectReels       = `SELECT id, owner_id, shortcode, source_url, username, views, likes, comments, thumbnail, approximate, submitted_at, last_updated, is_active FROM reels ORDER BY submitted_at`
	pqSelectObservation = `SELECT reel_id, observed_at, views, likes, comments, source FROM reel_observations ORDER BY reel_id, observed_at, id`
)

// SaveReel upserts the reel row. History is written only the first time a reel is seen;
// later entries arrive through AppendObservation.
func (r *ReelRepository) SaveReel(ctx context.Context, reel *model.Reel) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, r.q.upsertReel,
		reel.ID, reel.OwnerID, reel.Shortcode, reel.SourceURL, reel.Username,
		reel.Views, reel.Likes, reel.Comments, reel.Thumbnail, reel.Approximate,
		reel.SubmittedAt, reel.LastUpdated, reel.IsActive,
	); err != nil {
		return err
	}

	var count int
	if err = tx.QueryRowContext(ctx, r.q.countObservations, reel.ID).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		for _, o := range reel.History {
			if _, err = tx.ExecContext(ctx, r.q.insertObservation, reel.ID, o.Timestamp, o.Views, o.Likes, o.Comments, string(o.Source)); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

func (r *ReelRepository) AppendObservation(ctx context.Context, reelID string, obs model.Observation, historyLimit int) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, r.q.updateMetrics, obs.Views, obs.Likes, obs.Comments, obs.Approximate, obs.Timestamp, reelID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, r.q.insertObservation, reelID, obs.Timestamp, obs.Views, obs.Likes, obs.Comments, string(obs.Source)); err != nil {
		return err
	}
	if historyLimit > 0 {
		if _, err = tx.ExecContext(ctx, r.q.trimObservations, reelID, historyLimit); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *ReelRepository) DeleteReel(ctx context.Context, reelID string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx, r.q.deleteObservation, reelID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, r.q.deleteReel, reelID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *ReelRepository) LoadReels(ctx context.Context) ([]model.Reel, error) {
	return loadReels(ctx, r.db, r.q.selectReels, r.q.selectObservation)
}

// loadReels reads every reel row and attaches its ordered history.
func loadReels(ctx context.Context, db *sql.DB, reelsQuery, observationsQuery string) ([]model.Reel, error) {
	rows, err := db.QueryContext(ctx, reelsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reels []model.Reel
	index := make(map[string]int)
	for rows.Next() {
		var m model.Reel
		if err := rows.Scan(&m.ID, &m.OwnerID, &m.Shortcode, &m.SourceURL, &m.Username,
			&m.Views, &m.Likes, &m.Comments, &m.Thumbnail, &m.Approximate,
			&m.SubmittedAt, &m.LastUpdated, &m.IsActive); err != nil {
			return nil, err
		}
		index[m.ID] = len(reels)
		reels = append(reels, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	obsRows, err := db.QueryContext(ctx, observationsQuery)
	if err != nil {
		return nil, err
	}
	defer obsRows.Close()
	for obsRows.Next() {
		var reelID, source string
		var o model.Observation
		if err := obsRows.Scan(&reelID, &o.Timestamp, &o.Views, &o.Likes, &o.Comments, &source); err != nil {
			return nil, err
		}
		o.Source = model.ObservationSource(source)
		if i, ok := index[reelID]; ok {
			reels[i].History = append(reels[i].History, o)
		}
	}
	return reels, obsRows.Err()
}
