package persistence

import (
	"context"
	"time"

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type reelRecord struct {
	ID          string    `gorm:"primaryKey;size:64"`
	OwnerID     string    `gorm:"size:128;index;not null"`
	Shortcode   string    `gorm:"size:64;uniqueIndex;not null"`
	SourceURL   string    `gorm:"size:1024;not null"`
	Username    string    `gorm:"size:255"`
	Views       int64     `gorm:"not null"`
	Likes       int64     `gorm:"not null"`
	Comments    int64     `gorm:"not null"`
	Thumbnail   string    `gorm:"size:1024"`
	Approximate bool      `gorm:"not null"`
	SubmittedAt time.Time `gorm:"index"`
	LastUpdated time.Time
	IsActive    bool `gorm:"not null"`
}

func (reelRecord) TableName() string { return "reels" }

type observationRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	ReelID     string    `gorm:"size:64;index:idx_reel_observed,priority:1;not null"`
	ObservedAt time.Time `gorm:"index:idx_reel_observed,priority:2"`
	Views      int64
	Likes      int64
	Comments   int64
	Source     string `gorm:"size:32"`
}

func (observationRecord) TableName() string { return "reel_observations" }

// ReelRepositoryGorm persists reels in MySQL through GORM.
type ReelRepositoryGorm struct {
	db *gorm.DB
}

var _ repository.IReelPersister = (*ReelRepositoryGorm)(nil)

func NewReelRepositoryGorm(db *gorm.DB) *ReelRepositoryGorm { return &ReelRepositoryGorm{db: db} }

// Migrate creates or updates the reel tables.
func (r *ReelRepositoryGorm) Migrate() error {
	return r.db.AutoMigrate(&reelRecord{}, &observationRecord{})
}

func (r *ReelRepositoryGorm) SaveReel(ctx context.Context, reel *model.Reel) error {
	rec := toReelRecord(reel)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error; err != nil {
			return err
		}
		var count int64
		if err := tx.Model(&observationRecord{}).Where("reel_id = ?", reel.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 || len(reel.History) == 0 {
			return nil
		}
		history := make([]observationRecord, 0, len(reel.History))
		for _, o := range reel.History {
			history = append(history, toObservationRecord(reel.ID, o))
		}
		return tx.Create(&history).Error
	})
}

func (r *ReelRepositoryGorm) AppendObservation(ctx context.Context, reelID string, obs model.Observation, historyLimit int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&reelRecord{}).Where("id = ?", reelID).Updates(map[string]interface{}{
			"views":        obs.Views,
			"likes":        obs.Likes,
			"comments":     obs.Comments,
			"approximate":  obs.Approximate,
			"last_updated": obs.Timestamp,
		}).Error; err != nil {
			return err
		}
		rec := toObservationRecord(reelID, obs)
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		if historyLimit <= 0 {
			return nil
		}
		var keep []uint64
		if err := tx.Model(&observationRecord{}).
			Where("reel_id = ?", reelID).
			Order("observed_at DESC, id DESC").
			Limit(historyLimit).
			Pluck("id", &keep).Error; err != nil {
			return err
		}
		if len(keep) < historyLimit {
			return nil
		}
		return tx.Where("reel_id = ? AND id NOT IN ?", reelID, keep).Delete(&observationRecord{}).Error
	})
}

func (r *ReelRepositoryGorm) DeleteReel(ctx context.Context, reelID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("reel_id = ?", reelID).Delete(&observationRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", reelID).Delete(&reelRecord{}).Error
	})
}

func (r *ReelRepositoryGorm) LoadReels(ctx context.Context) ([]model.Reel, error) {
	var records []reelRecord
	if err := r.db.WithContext(ctx).Order("submitted_at").Find(&records).Error; err != nil {
		return nil, err
	}
	var observations []observationRecord
	if err := r.db.WithContext(ctx).Order("reel_id, observed_at, id").Find(&observations).Error; err != nil {
		return nil, err
	}

	reels := make([]model.Reel, len(records))
	index := make(map[string]int, len(records))
	for i, rec := range records {
		reels[i] = rec.toModel()
		index[rec.ID] = i
	}
	for _, o := range observations {
		if i, ok := index[o.ReelID]; ok {
			reels[i].History = append(reels[i].History, model.Observation{
				Timestamp: o.ObservedAt,
				Views:     o.Views,
				Likes:     o.Likes,
				Comments:  o.Comments,
				Source:    model.ObservationSource(o.Source),
			})
		}
	}
	return reels, nil
}

func toReelRecord(r *model.Reel) reelRecord {
	return reelRecord{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Shortcode:   r.Shortcode,
		SourceURL:   r.SourceURL,
		Username:    r.Username,
		Views:       r.Views,
		Likes:       r.Likes,
		Comments:    r.Comments,
		Thumbnail:   r.Thumbnail,
		Approximate: r.Approximate,
		SubmittedAt: r.SubmittedAt,
		LastUpdated: r.LastUpdated,
		IsActive:    r.IsActive,
	}
}

func (rec reelRecord) toModel() model.Reel {
	return model.Reel{
		ID:          rec.ID,
		OwnerID:     rec.OwnerID,
		Shortcode:   rec.Shortcode,
		SourceURL:   rec.SourceURL,
		Username:    rec.Username,
		Views:       rec.Views,
		Likes:       rec.Likes,
		Comments:    rec.Comments,
		Thumbnail:   rec.Thumbnail,
		Approximate: rec.Approximate,
		SubmittedAt: rec.SubmittedAt,
		LastUpdated: rec.LastUpdated,
		IsActive:    rec.IsActive,
	}
}

func toObservationRecord(reelID string, o model.Observation) observationRecord {
	return observationRecord{
		ReelID:     reelID,
		ObservedAt: o.Timestamp,
		Views:      o.Views,
		Likes:      o.Likes,
		Comments:   o.Comments,
		Source:     string(o.Source),
	}
}
