package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	sessionKeyPattern = "captive:session:%s"
	deviceKeyPattern  = "captive:device:%s"
)

// Service mirrors active sessions into Redis so the status read path can be
// served even when the in-memory store misses (e.g. right after a restart,
// before the resync finishes).
type Service interface {
	CacheActiveSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, key string) (*models.Session, error)
	InvalidateSession(ctx context.Context, session *models.Session) error
}

type cacheService struct {
	client *redis.Client
	cfg    *config.SessionConfig
}

func NewCacheService(client *redis.Client, cfg *config.Configuration) Service {
	return &cacheService{
		client: client,
		cfg:    &cfg.Session}
}

func (c *cacheService) CacheActiveSession(ctx context.Context, session *models.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		logrus.WithError(err).WithField("session_id", session.SessionID).Error("Failed to marshal session for cache")
		return models.ErrRedisSet
	}

	expiration := time.Until(session.Expiry)
	if expiration <= 0 {
		logrus.WithField("session_id", session.SessionID).Warn("Session already expired, not caching")
		return nil
	}
	if maxTTL := time.Duration(c.cfg.CacheTTLMinutes) * time.Minute; maxTTL > 0 && expiration > maxTTL {
		expiration = maxTTL
	}

	sessionKey := fmt.Sprintf(sessionKeyPattern, session.SessionID)
	deviceKey := fmt.Sprintf(deviceKeyPattern, session.MAC)

	if err := c.client.Set(ctx, sessionKey, data, expiration).Err(); err != nil {
		logrus.WithError(err).WithField("key", sessionKey).Error("Failed to cache session")
		return models.ErrRedisSet
	}
	if err := c.client.Set(ctx, deviceKey, data, expiration).Err(); err != nil {
		logrus.WithError(err).WithField("key", deviceKey).Error("Failed to cache session by device")
		return models.ErrRedisSet
	}

	logrus.WithField("session_id", session.SessionID).Debug("Session cached successfully")
	return nil
}

// GetSession looks up a cached session by session ID or MAC.
func (c *cacheService) GetSession(ctx context.Context, key string) (*models.Session, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf(sessionKeyPattern, key)).Result()
	if errors.Is(err, redis.Nil) {
		data, err = c.client.Get(ctx, fmt.Sprintf(deviceKeyPattern, key)).Result()
	}
	if err != nil {
		if errors.Is(err, redis.Nil) {
			logrus.WithField("key", key).Debug("Session not found in cache")
			return nil, nil // Not an error, just not found
		}
		logrus.WithError(err).WithField("key", key).Error("Failed to get session from cache")
		return nil, models.ErrRedisGet
	}

	var session models.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		logrus.WithError(err).WithField("key", key).Error("Failed to unmarshal session from cache")
		return nil, models.ErrRedisGet
	}

	logrus.WithField("key", key).Debug("Session retrieved from cache")
	return &session, nil
}

func (c *cacheService) InvalidateSession(ctx context.Context, session *models.Session) error {
	keys := []string{
		fmt.Sprintf(sessionKeyPattern, session.SessionID),
		fmt.Sprintf(deviceKeyPattern, session.MAC),
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logrus.WithError(err).WithField("session_id", session.SessionID).Error("Failed to invalidate cached session")
		return models.ErrRedisDelete
	}

	logrus.WithField("session_id", session.SessionID).Debug("Cached session invalidated")
	return nil
}
