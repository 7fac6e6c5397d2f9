package lifecycle

import (
	"context"
	"time"

	"hotspot-captive-svc/src/internal/models"

	"github.com/sirupsen/logrus"
)

// Resync rebuilds runtime state from persisted sessions after a restart.
// Still-valid active sessions get their packet-filter rules re-applied
// (Grant is idempotent) and their timers re-armed; expired ones are swept
// through the normal revoke path so the device ends up blocked.
func (m *manager) Resync(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}

	persisted, err := m.repo.FindAll(ctx)
	if err != nil {
		return err
	}

	now := m.nowF()
	retention := time.Duration(m.cfg.RetentionMinutes) * time.Minute
	var stale []string
	var sweep []*models.Session

	for _, sess := range persisted {
		switch sess.State {
		case models.StateRevoked:
			if sess.EndTime != nil && now.Sub(*sess.EndTime) < retention {
				m.store.Restore(sess)
			} else {
				stale = append(stale, sess.SessionID)
			}
		case models.StatePending:
			if sess.Expiry.After(now) {
				m.store.Restore(sess)
			} else {
				stale = append(stale, sess.SessionID)
			}
		case models.StateActive:
			m.store.Restore(sess)
			if !sess.Expiry.After(now) {
				sweep = append(sweep, sess)
				continue
			}
			if err := m.adapter.Grant(ctx, sess.MAC, sess.QuotaMB); err != nil {
				logrus.WithError(err).WithFields(logrus.Fields{
					"session_id": sess.SessionID,
					"mac":        sess.MAC,
				}).Error("Failed to re-apply enforcement, sweeping session")
				sweep = append(sweep, sess)
				continue
			}
			m.armExpiry(sess.SessionID, sess.MAC, sess.Expiry)
			logrus.WithFields(logrus.Fields{
				"session_id": sess.SessionID,
				"mac":        sess.MAC,
				"expires_at": sess.Expiry,
			}).Info("Active session restored")
		}
	}

	for _, sess := range sweep {
		if err := m.Revoke(ctx, sess.MAC, sess.SessionID, models.ReasonStartupSweep); err != nil {
			logrus.WithError(err).WithField("session_id", sess.SessionID).Error("Startup sweep revoke failed")
		}
	}

	if len(stale) > 0 {
		if err := m.repo.DeleteBySessionIDs(ctx, stale); err != nil {
			logrus.WithError(err).Warn("Failed to delete stale persisted sessions")
		}
	}

	logrus.WithFields(logrus.Fields{
		"persisted": len(persisted),
		"swept":     len(sweep),
		"stale":     len(stale),
	}).Info("Session resync complete")

	return nil
}

// StartGC runs the retention loop evicting revoked sessions from memory and
// storage until ctx is cancelled.
func (m *manager) StartGC(ctx context.Context) {
	interval := time.Duration(m.cfg.GCIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.collectRevoked(ctx)
			}
		}
	}()
}

func (m *manager) collectRevoked(ctx context.Context) {
	cutoff := m.nowF().Add(-time.Duration(m.cfg.RetentionMinutes) * time.Minute)
	evicted := m.store.EvictRevokedBefore(cutoff)
	if len(evicted) == 0 {
		return
	}

	if m.repo != nil {
		if err := m.repo.DeleteBySessionIDs(ctx, evicted); err != nil {
			logrus.WithError(err).Warn("Failed to delete evicted sessions from storage")
		}
	}

	logrus.WithField("count", len(evicted)).Info("Revoked sessions evicted")
}
