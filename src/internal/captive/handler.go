package captive

import (
	"context"
	"errors"
	"net/http"
	"time"

	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/lifecycle"
	"hotspot-captive-svc/src/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Handler interface {
	Validate(c *gin.Context)
	GrantAccess(c *gin.Context)
	Revoke(c *gin.Context)
	Status(c *gin.Context)
}

type handler struct {
	config  *config.Configuration
	service lifecycle.Service
}

func NewHandler(cfg *config.Configuration, service lifecycle.Service) Handler {
	return &handler{
		config:  cfg,
		service: service,
	}
}

// ValidateRequest is the voucher claim presented by the portal page.
type ValidateRequest struct {
	AccessCode string `json:"accessCode"`
	Wallet     string `json:"wallet"`
	MAC        string `json:"mac"`
	HotspotID  string `json:"hotspotId"`
	QuotaMB    int64  `json:"quotaMB"`
	Expiry     int64  `json:"expiry"`
}

// GrantAccessRequest promotes a prepared session.
type GrantAccessRequest struct {
	MAC       string `json:"mac"`
	Wallet    string `json:"wallet"`
	SessionID string `json:"sessionId"`
	Duration  int64  `json:"duration"`
	Quota     int64  `json:"quota"`
}

// RevokeRequest ends a session early.
type RevokeRequest struct {
	MAC       string `json:"mac"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

func (h *handler) Validate(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if req.AccessCode == "" || req.Wallet == "" || req.MAC == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Missing required fields: accessCode, wallet, mac",
		})
		return
	}

	logrus.WithFields(logrus.Fields{
		"mac":        req.MAC,
		"wallet":     req.Wallet,
		"hotspot_id": req.HotspotID,
	}).Info("Validate request received")

	result, err := h.service.Prepare(ctx, &lifecycle.PrepareRequest{
		AccessCode: req.AccessCode,
		Wallet:     req.Wallet,
		MAC:        req.MAC,
		HotspotID:  req.HotspotID,
		QuotaMB:    req.QuotaMB,
		Expiry:     req.Expiry,
	})
	if err != nil {
		if errors.Is(err, models.ErrDeviceBusy) && result != nil {
			c.JSON(http.StatusConflict, gin.H{
				"message":       "Device already has active session",
				"sessionId":     result.SessionID,
				"remainingTime": result.DurationSeconds,
			})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"sessionId":       result.SessionID,
		"message":         "Voucher validated successfully",
		"durationSeconds": result.DurationSeconds,
		"quotaMB":         result.QuotaMB,
	})
}

func (h *handler) GrantAccess(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	var req GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if req.MAC == "" || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Missing required fields: mac, sessionId",
		})
		return
	}

	logrus.WithFields(logrus.Fields{
		"mac":        req.MAC,
		"session_id": req.SessionID,
	}).Info("Grant access request received")

	session, err := h.service.Activate(ctx, &lifecycle.ActivateRequest{
		MAC:             req.MAC,
		SessionID:       req.SessionID,
		DurationSeconds: req.Duration,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "Internet access granted",
		"sessionId": session.SessionID,
		"mac":       session.MAC,
		"duration":  int64(time.Until(session.Expiry).Seconds()),
		"quota":     session.QuotaMB,
		"grantedAt": session.ActivatedAt,
	})
}

func (h *handler) Revoke(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if req.MAC == "" || req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "MAC and sessionId required",
		})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = models.ReasonManual
	}

	logrus.WithFields(logrus.Fields{
		"mac":        req.MAC,
		"session_id": req.SessionID,
		"reason":     reason,
	}).Info("Manual revoke request received")

	if err := h.service.Revoke(ctx, req.MAC, req.SessionID, reason); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Access revoked successfully",
	})
}

func (h *handler) Status(c *gin.Context) {
	ctx, cancel := h.requestContext(c)
	defer cancel()

	mac := c.Query("mac")
	sessionID := c.Query("sessionId")
	if mac == "" && sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Either mac or sessionId is required",
		})
		return
	}

	key := sessionID
	if key == "" {
		key = mac
	}

	view, err := h.service.Status(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": "Session not found"})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

func (h *handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), time.Duration(h.config.App.Timeout)*time.Second)
}

// writeError maps lifecycle errors onto the portal's status codes: caller
// mistakes are 4xx, backend failures are a plain 500.
func (h *handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrAlreadyActive):
		c.JSON(http.StatusConflict, gin.H{"message": "Session already active"})
	case errors.Is(err, models.ErrDeviceBusy):
		c.JSON(http.StatusConflict, gin.H{"message": "Device already has active session"})
	case errors.Is(err, models.ErrSessionNotFound), errors.Is(err, models.ErrMACMismatch):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid session or MAC mismatch"})
	case errors.Is(err, models.ErrEnforcementFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to configure network access"})
	case errors.Is(err, models.ErrOracleUnreachable), errors.Is(err, models.ErrOracleMalformed):
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to validate voucher with ledger"})
	case models.IsClientError(err):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	default:
		logrus.WithError(err).Error("Unhandled captive portal error")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal server error"})
	}
}
