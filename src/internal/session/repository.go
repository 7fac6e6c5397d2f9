package session

import (
	"context"
	"errors"

	"hotspot-captive-svc/src/clients"
	"hotspot-captive-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type repository struct {
	collection *mongo.Collection
}

// Repository persists sessions so in-flight grants survive a restart. The
// in-memory Store stays authoritative at runtime; Mongo is the recovery
// record the startup resync reads back.
type Repository interface {
	Insert(ctx context.Context, session *models.Session) error
	Update(ctx context.Context, session *models.Session) error
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	FindAll(ctx context.Context) ([]*models.Session, error)
	DeleteBySessionIDs(ctx context.Context, sessionIDs []string) error
}

func NewSessionRepository(db *clients.MongoDB, collectionName string) Repository {
	collection := db.Database.Collection(collectionName)
	return &repository{collection: collection}
}

func (r *repository) Insert(ctx context.Context, session *models.Session) error {
	_, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.SessionID).Error("Failed to insert session")
		return models.ErrDatabaseInsert
	}
	return nil
}

func (r *repository) Update(ctx context.Context, session *models.Session) error {
	filter := bson.M{"session_id": session.SessionID}
	opts := options.Replace().SetUpsert(true)

	_, err := r.collection.ReplaceOne(ctx, filter, session, opts)
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.SessionID).Error("Failed to update session")
		return models.ErrDatabaseUpdate
	}
	return nil
}

func (r *repository) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var session models.Session
	filter := bson.M{"session_id": sessionID}

	err := r.collection.FindOne(ctx, filter).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.ErrSessionNotFound
		}
		logrus.WithError(err).WithField("session_id", sessionID).Error("Failed to get session")
		return nil, models.ErrDatabaseQuery
	}

	return &session, nil
}

func (r *repository) FindAll(ctx context.Context) ([]*models.Session, error) {
	opts := options.Find().SetSort(bson.M{"start_time": 1})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		logrus.WithError(err).Error("Failed to find sessions")
		return nil, models.ErrDatabaseQuery
	}
	defer cursor.Close(ctx)

	var sessions []*models.Session
	for cursor.Next(ctx) {
		var session models.Session
		if err := cursor.Decode(&session); err != nil {
			logrus.WithError(err).Error("Failed to decode session")
			continue
		}
		sessions = append(sessions, &session)
	}

	if err := cursor.Err(); err != nil {
		logrus.WithError(err).Error("Cursor error")
		return nil, models.ErrDatabaseQuery
	}

	return sessions, nil
}

func (r *repository) DeleteBySessionIDs(ctx context.Context, sessionIDs []string) error {
	if len(sessionIDs) == 0 {
		return nil
	}

	filter := bson.M{"session_id": bson.M{"$in": sessionIDs}}

	result, err := r.collection.DeleteMany(ctx, filter)
	if err != nil {
		logrus.WithError(err).Error("Failed to delete sessions")
		return models.ErrDatabaseDelete
	}

	logrus.WithFields(logrus.Fields{
		"requested": len(sessionIDs),
		"deleted":   result.DeletedCount,
	}).Debug("Evicted revoked sessions from storage")

	return nil
}
