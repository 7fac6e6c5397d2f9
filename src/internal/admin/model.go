package admin

import "hotspot-captive-svc/src/internal/models"

// ListSessionsRequest represents the operator query over stored sessions.
type ListSessionsRequest struct {
	Page      int    `json:"page" form:"page"`
	Limit     int    `json:"limit" form:"limit"`
	State     string `json:"state" form:"state"`
	MAC       string `json:"mac" form:"mac"`
	Wallet    string `json:"wallet" form:"wallet"`
	HotspotID string `json:"hotspotId" form:"hotspotId"`
}

// ListSessionsResponse pages through session projections.
type ListSessionsResponse struct {
	Sessions   []*models.StatusView `json:"sessions"`
	TotalCount int64                `json:"totalCount"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	TotalPages int                  `json:"totalPages"`
}

// SessionStats summarizes the stored session population.
type SessionStats struct {
	Total    int64 `json:"total"`
	Pending  int64 `json:"pending"`
	Active   int64 `json:"active"`
	Revoked  int64 `json:"revoked"`
	NewToday int64 `json:"newToday"`
}
