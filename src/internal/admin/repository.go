package admin

import (
	"context"
	"time"

	"hotspot-captive-svc/src/clients"
	"hotspot-captive-svc/src/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Repository interface {
	ListSessions(ctx context.Context, req *ListSessionsRequest) ([]*models.Session, int64, error)
	GetSessionStats(ctx context.Context) (*SessionStats, error)
}

type sessionAdminRepository struct {
	collection *mongo.Collection
}

func NewRepository(mongoClient *clients.MongoDB, collectionName string) Repository {
	return &sessionAdminRepository{
		collection: mongoClient.Database.Collection(collectionName),
	}
}

func (r *sessionAdminRepository) ListSessions(ctx context.Context, req *ListSessionsRequest) ([]*models.Session, int64, error) {
	filter := bson.M{}

	if req.State != "" {
		filter["state"] = req.State
	}
	if req.MAC != "" {
		filter["mac"] = req.MAC
	}
	if req.Wallet != "" {
		filter["wallet"] = req.Wallet
	}
	if req.HotspotID != "" {
		filter["hotspot_id"] = req.HotspotID
	}

	totalCount, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		logrus.WithError(err).Error("Failed to count sessions")
		return nil, 0, models.ErrDatabaseQuery
	}

	skip := (req.Page - 1) * req.Limit

	opts := options.Find().
		SetLimit(int64(req.Limit)).
		SetSkip(int64(skip)).
		SetSort(bson.M{"start_time": -1})

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		logrus.WithError(err).Error("Failed to find sessions")
		return nil, 0, models.ErrDatabaseQuery
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
		return nil, 0, models.ErrDatabaseQuery
	}

	logrus.WithFields(logrus.Fields{
		"count": len(sessions),
		"total": totalCount,
		"page":  req.Page,
		"limit": req.Limit,
	}).Debug("Retrieved sessions successfully")

	return sessions, totalCount, nil
}

func (r *sessionAdminRepository) GetSessionStats(ctx context.Context) (*SessionStats, error) {
	total, err := r.countSessions(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	pending, err := r.countSessions(ctx, bson.M{"state": models.StatePending})
	if err != nil {
		return nil, err
	}

	active, err := r.countSessions(ctx, bson.M{"state": models.StateActive})
	if err != nil {
		return nil, err
	}

	revoked, err := r.countSessions(ctx, bson.M{"state": models.StateRevoked})
	if err != nil {
		return nil, err
	}

	newToday, err := r.countNewSessionsToday(ctx)
	if err != nil {
		return nil, err
	}

	return &SessionStats{
		Total:    total,
		Pending:  pending,
		Active:   active,
		Revoked:  revoked,
		NewToday: newToday,
	}, nil
}

func (r *sessionAdminRepository) countSessions(ctx context.Context, filter bson.M) (int64, error) {
	count, err := r.collection.CountDocuments(ctx, filter)
	if err != nil {
		logrus.WithError(err).Error("Failed to count sessions")
		return 0, models.ErrDatabaseQuery
	}
	return count, nil
}

func (r *sessionAdminRepository) countNewSessionsToday(ctx context.Context) (int64, error) {
	now := time.Now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	filter := bson.M{"start_time": bson.M{"$gte": startOfDay}}
	return r.countSessions(ctx, filter)
}
