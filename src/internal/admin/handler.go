package admin

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"hotspot-captive-svc/src/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handler interface {
	ListSessions(c *gin.Context)
	GetSessionStats(c *gin.Context)
}

type handler struct {
	config  *config.Configuration
	service Service
}

func NewHandler(cfg *config.Configuration, service Service) Handler {
	return &handler{
		config:  cfg,
		service: service,
	}
}

func (h *handler) ListSessions(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(h.config.App.Timeout)*time.Second)
	defer cancel()

	req := &ListSessionsRequest{
		Page:      parseIntParam(c, "page", 1),
		Limit:     parseIntParam(c, "limit", 20),
		State:     c.Query("state"),
		MAC:       c.Query("mac"),
		Wallet:    c.Query("wallet"),
		HotspotID: c.Query("hotspotId"),
	}

	logrus.WithFields(logrus.Fields{
		"page":  req.Page,
		"limit": req.Limit,
		"state": req.State,
		"mac":   req.MAC,
	}).Info("ListSessions request received")

	response, err := h.service.ListSessions(ctx, req)
	if err != nil {
		logrus.WithError(err).Error("Failed to list sessions")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to retrieve sessions",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, response)
}

func (h *handler) GetSessionStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Duration(h.config.App.Timeout)*time.Second)
	defer cancel()

	logrus.Info("GetSessionStats request received")

	stats, err := h.service.GetSessionStats(ctx)
	if err != nil {
		logrus.WithError(err).Error("Failed to get session stats")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to retrieve session statistics",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, stats)
}

func parseIntParam(c *gin.Context, name string, fallback int) int {
	value := c.Query(name)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
