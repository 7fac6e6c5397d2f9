package admin

import (
	"context"
	"errors"
	"math"
	"time"

	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

type Service interface {
	ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error)
	GetSessionStats(ctx context.Context) (*SessionStats, error)
}

type adminService struct {
	repository Repository
	cfg        *config.Configuration
}

func NewService(repository Repository, cfg *config.Configuration) Service {
	return &adminService{
		repository: repository,
		cfg:        cfg,
	}
}

func (s *adminService) ListSessions(ctx context.Context, req *ListSessionsRequest) (*ListSessionsResponse, error) {
	// Validate and set defaults
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if req.Limit > 100 {
		req.Limit = 100
	}
	if req.Page <= 0 {
		req.Page = 1
	}

	if req.State != "" && !isValidState(req.State) {
		return nil, errors.New("invalid state filter")
	}

	logrus.WithFields(logrus.Fields{
		"page":  req.Page,
		"limit": req.Limit,
		"state": req.State,
		"mac":   req.MAC,
	}).Debug("Listing sessions")

	sessions, totalCount, err := s.repository.ListSessions(ctx, req)
	if err != nil {
		logrus.WithError(err).Error("Failed to list sessions from repository")
		return nil, err
	}

	now := time.Now()
	views := make([]*models.StatusView, len(sessions))
	for i, session := range sessions {
		views[i] = session.ToStatusView(now)
	}

	totalPages := int(math.Ceil(float64(totalCount) / float64(req.Limit)))

	return &ListSessionsResponse{
		Sessions:   views,
		TotalCount: totalCount,
		Page:       req.Page,
		Limit:      req.Limit,
		TotalPages: totalPages,
	}, nil
}

func (s *adminService) GetSessionStats(ctx context.Context) (*SessionStats, error) {
	stats, err := s.repository.GetSessionStats(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to get session stats from repository")
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"total":    stats.Total,
		"active":   stats.Active,
		"revoked":  stats.Revoked,
		"newToday": stats.NewToday,
	}).Info("Successfully retrieved session statistics")

	return stats, nil
}

func isValidState(state string) bool {
	validStates := []string{models.StatePending, models.StateActive, models.StateRevoked}
	for _, validState := range validStates {
		if validState == state {
			return true
		}
	}
	return false
}
