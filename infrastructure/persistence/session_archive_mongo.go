package persistence

import (
	"context"
	"time"

	"reel-tracker/domain/model"
	"reel-tracker/domain/repository"
	"reel-tracker/infrastructure/logger"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const refreshSessionCollection = "refresh_sessions"

type sessionDocument struct {
	ID           string     `bson:"_id"`
	InitiatedBy  string     `bson:"initiatedBy"`
	Scope        string     `bson:"scope,omitempty"`
	ReelIDs      []string   `bson:"reelIds"`
	Status       string     `bson:"status"`
	StartedAt    time.Time  `bson:"startedAt"`
	CompletedAt  *time.Time `bson:"completedAt,omitempty"`
	TotalUpdated int        `bson:"totalUpdated"`
	Errors       []string   `bson:"errors"`
}

// SessionArchiveMongo keeps completed refresh sessions in MongoDB.
type SessionArchiveMongo struct {
	mongoDb  *mongo.Client
	database string
}

func NewSessionArchiveMongo(db *mongo.Client, database string) repository.ISessionArchive {
	if database == "" {
		database = "reel_tracker"
	}
	return &SessionArchiveMongo{mongoDb: db, database: database}
}

func (s *SessionArchiveMongo) Archive(ctx context.Context, session *model.RefreshSession) error {
	if s.mongoDb == nil {
		logger.GetLogger().WithField("session_id", session.ID).Info("MongoDB client is nil - skipping session archive")
		return nil
	}
	doc := toSessionDocument(session)
	_, err := s.mongoDb.Database(s.database).Collection(refreshSessionCollection).
		ReplaceOne(ctx, bson.D{{Key: "_id", Value: doc.ID}}, doc, options.Replace().SetUpsert(true))
	return err
}

func toSessionDocument(s *model.RefreshSession) sessionDocument {
	return sessionDocument{
		ID:           s.ID,
		InitiatedBy:  s.InitiatedBy,
		Scope:        s.Scope,
		ReelIDs:      append([]string{}, s.ReelIDs...),
		Status:       string(s.Status),
		StartedAt:    s.StartedAt,
		CompletedAt:  s.CompletedAt,
		TotalUpdated: s.TotalUpdated,
		Errors:       append([]string{}, s.Errors...),
	}
}
