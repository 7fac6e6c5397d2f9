package lifecycle

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net"
	"strings"
	"sync"
	"time"

	"hotspot-captive-svc/src/internal/cache"
	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/enforcement"
	"hotspot-captive-svc/src/internal/models"
	"hotspot-captive-svc/src/internal/session"

	"github.com/sirupsen/logrus"
)

// VoucherOracle is the read-only view of the voucher ledger the manager
// needs. Implemented by clients.OracleClient.
type VoucherOracle interface {
	GetVoucher(ctx context.Context, wallet string) (*models.VoucherInfo, error)
}

// EventPublisher emits lifecycle events. Implemented by
// clients.EventPublisher.
type EventPublisher interface {
	PublishSessionEvent(session *models.Session, action, reason string) error
}

// PrepareRequest carries the voucher claim from the captive portal.
type PrepareRequest struct {
	AccessCode string
	Wallet     string
	MAC        string
	HotspotID  string
	QuotaMB    int64
	Expiry     int64 // requested expiry, unix seconds
}

// PrepareResult is the outcome of a successful Prepare, or on
// models.ErrDeviceBusy the identity of the session holding the device.
type PrepareResult struct {
	SessionID       string
	DurationSeconds int64
	QuotaMB         int64
}

// ActivateRequest identifies the pending session to promote.
type ActivateRequest struct {
	MAC       string
	SessionID string
	// DurationSeconds is what the portal echoes back from Prepare. It is
	// informational only; the stored expiry governs the revoke timer.
	DurationSeconds int64
}

// Service is the session state machine: Prepare validates the voucher and
// records a pending session, Activate programs the packet filter and arms
// the expiry timer, Revoke tears everything down. All three serialize
// per-MAC; different devices proceed in parallel.
type Service interface {
	Prepare(ctx context.Context, req *PrepareRequest) (*PrepareResult, error)
	Activate(ctx context.Context, req *ActivateRequest) (*models.Session, error)
	Revoke(ctx context.Context, mac, sessionID, reason string) error
	Status(ctx context.Context, key string) (*models.StatusView, error)
	Resync(ctx context.Context) error
	StartGC(ctx context.Context)
	Shutdown()
}

type manager struct {
	cfg       *config.SessionConfig
	store     session.Store
	repo      session.Repository
	adapter   enforcement.Adapter
	oracle    VoucherOracle
	cache     cache.Service
	publisher EventPublisher

	deviceMu    sync.Mutex
	deviceLocks map[string]*sync.Mutex

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	nowF func() time.Time
}

// NewManager wires the lifecycle service. repo, cache and publisher may be
// nil in tests; production always passes all of them.
func NewManager(cfg *config.Configuration,
	store session.Store,
	repo session.Repository,
	adapter enforcement.Adapter,
	oracle VoucherOracle,
	cacheService cache.Service,
	publisher EventPublisher) Service {
	return &manager{
		cfg:         &cfg.Session,
		store:       store,
		repo:        repo,
		adapter:     adapter,
		oracle:      oracle,
		cache:       cacheService,
		publisher:   publisher,
		deviceLocks: make(map[string]*sync.Mutex),
		timers:      make(map[string]*time.Timer),
		nowF:        time.Now,
	}
}

func (m *manager) Prepare(ctx context.Context, req *PrepareRequest) (*PrepareResult, error) {
	mac, err := normalizeMAC(req.MAC)
	if err != nil {
		return nil, err
	}

	unlock := m.lockDevice(mac)
	defer unlock()

	now := m.nowF()

	// Busy devices are rejected before the ledger round-trip.
	if existing, ok := m.store.Get(mac); ok && existing.State == models.StateActive {
		return &PrepareResult{
			SessionID:       existing.SessionID,
			DurationSeconds: remainingSeconds(existing.Expiry, now),
			QuotaMB:         existing.QuotaMB,
		}, models.ErrDeviceBusy
	}

	voucher, err := m.oracle.GetVoucher(ctx, req.Wallet)
	if err != nil {
		return nil, err
	}
	if !voucher.Valid || voucher.AccessCode == "" {
		return nil, models.ErrInvalidVoucher
	}
	if !strings.EqualFold(voucher.AccessCode, req.AccessCode) {
		return nil, models.ErrAccessCodeMismatch
	}
	if !voucher.Expiry.After(now) {
		return nil, models.ErrVoucherExpired
	}

	// The ledger is the source of truth for quota and hotspot binding; the
	// request values only fill gaps.
	quotaMB := voucher.QuotaMB
	if quotaMB <= 0 {
		quotaMB = req.QuotaMB
	}
	hotspotID := voucher.HotspotID
	if hotspotID == "" {
		hotspotID = req.HotspotID
	}

	requestedExpiry := voucher.Expiry
	if req.Expiry > 0 {
		requestedExpiry = time.Unix(req.Expiry, 0)
	}
	expiry := clampExpiry(requestedExpiry, now, m.cfg.MaxSessionSeconds)

	draft := &models.Session{
		SessionID:  newSessionID(),
		MAC:        mac,
		Wallet:     req.Wallet,
		AccessCode: req.AccessCode,
		HotspotID:  hotspotID,
		QuotaMB:    quotaMB,
		State:      models.StatePending,
		StartTime:  now,
		Expiry:     expiry,
	}

	stored, err := m.store.Prepare(draft)
	if err != nil {
		return &PrepareResult{
			SessionID:       stored.SessionID,
			DurationSeconds: remainingSeconds(stored.Expiry, now),
			QuotaMB:         stored.QuotaMB,
		}, err
	}

	if m.repo != nil {
		if err := m.repo.Insert(ctx, stored); err != nil {
			// The in-memory record stands on its own; persistence is for
			// restart recovery only.
			logrus.WithError(err).WithField("session_id", stored.SessionID).Warn("Session not persisted")
		}
	}

	m.publish(stored, models.EventSessionPrepared, "")

	logrus.WithFields(logrus.Fields{
		"session_id": stored.SessionID,
		"mac":        mac,
		"wallet":     req.Wallet,
		"hotspot_id": hotspotID,
		"quota_mb":   quotaMB,
		"expiry":     expiry,
	}).Info("Session prepared")

	return &PrepareResult{
		SessionID:       stored.SessionID,
		DurationSeconds: remainingSeconds(expiry, now),
		QuotaMB:         quotaMB,
	}, nil
}

func (m *manager) Activate(ctx context.Context, req *ActivateRequest) (*models.Session, error) {
	mac, err := normalizeMAC(req.MAC)
	if err != nil {
		return nil, err
	}

	unlock := m.lockDevice(mac)
	defer unlock()

	sess, ok := m.store.Get(req.SessionID)
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	if sess.MAC != mac {
		return nil, models.ErrMACMismatch
	}
	switch sess.State {
	case models.StateActive:
		return nil, models.ErrAlreadyActive
	case models.StateRevoked:
		return nil, models.ErrStateConflict
	}

	now := m.nowF()
	if !sess.Expiry.After(now) {
		return nil, models.ErrSessionExpired
	}

	// Enforcement first. If iptables cannot be programmed the session
	// stays pending and the caller may retry.
	if err := m.adapter.Grant(ctx, mac, sess.QuotaMB); err != nil {
		return nil, err
	}

	activated, err := m.store.Transition(sess.SessionID, models.StatePending, models.StateActive, func(s *models.Session) {
		t := m.nowF()
		s.ActivatedAt = &t
	})
	if err != nil {
		// Lost a race despite the device lock; unwind the grant so logical
		// and physical state agree.
		if revokeErr := m.adapter.Revoke(ctx, mac, sess.QuotaMB); revokeErr != nil {
			logrus.WithError(revokeErr).WithField("mac", mac).Error("Failed to unwind grant after transition conflict")
		}
		return nil, err
	}

	if m.repo != nil {
		if err := m.repo.Update(ctx, activated); err != nil {
			logrus.WithError(err).WithField("session_id", activated.SessionID).Warn("Activated session not persisted")
		}
	}
	if m.cache != nil {
		if err := m.cache.CacheActiveSession(ctx, activated); err != nil {
			logrus.WithError(err).WithField("session_id", activated.SessionID).Warn("Activated session not cached")
		}
	}

	// The stored expiry governs the timer; the caller-supplied duration is
	// reported back but never trusted.
	m.armExpiry(activated.SessionID, mac, activated.Expiry)

	m.publish(activated, models.EventSessionActivated, "")

	logrus.WithFields(logrus.Fields{
		"session_id": activated.SessionID,
		"mac":        mac,
		"wallet":     activated.Wallet,
		"quota_mb":   activated.QuotaMB,
		"expires_at": activated.Expiry,
	}).Info("Access granted")

	return activated, nil
}

func (m *manager) Revoke(ctx context.Context, mac, sessionID, reason string) error {
	key := sessionID
	if key == "" {
		key = mac
	}
	sess, ok := m.store.Get(key)
	if !ok {
		// Revoke is best-effort and idempotent; nothing to do.
		logrus.WithFields(logrus.Fields{
			"mac":        mac,
			"session_id": sessionID,
		}).Debug("Revoke on unknown session ignored")
		return nil
	}

	unlock := m.lockDevice(sess.MAC)
	defer unlock()

	// Re-read under the lock; a concurrent revoke may have finished first.
	sess, ok = m.store.Get(sess.SessionID)
	if !ok || sess.State == models.StateRevoked {
		return nil
	}

	wasActive := sess.State == models.StateActive

	// Cleanup failures must not block bookkeeping: the fallback rule set
	// denies by default, so pressing on is the safe direction.
	if wasActive {
		if err := m.adapter.Revoke(ctx, sess.MAC, sess.QuotaMB); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"session_id": sess.SessionID,
				"mac":        sess.MAC,
			}).Error("Enforcement cleanup failed, completing revoke anyway")
		}
	}

	m.disarmExpiry(sess.SessionID)

	from := models.StatePending
	if wasActive {
		from = models.StateActive
	}
	revoked, err := m.store.Transition(sess.SessionID, from, models.StateRevoked, func(s *models.Session) {
		t := m.nowF()
		s.EndTime = &t
	})
	if err != nil {
		// Someone else completed the transition; revoke stays a no-op.
		logrus.WithError(err).WithField("session_id", sess.SessionID).Debug("Revoke transition already done")
		return nil
	}

	m.store.ClearActiveSlot(revoked.MAC)

	if m.repo != nil {
		if err := m.repo.Update(ctx, revoked); err != nil {
			logrus.WithError(err).WithField("session_id", revoked.SessionID).Warn("Revoked session not persisted")
		}
	}
	if m.cache != nil {
		if err := m.cache.InvalidateSession(ctx, revoked); err != nil {
			logrus.WithError(err).WithField("session_id", revoked.SessionID).Warn("Cached session not invalidated")
		}
	}

	m.publish(revoked, models.EventSessionRevoked, reason)

	logrus.WithFields(logrus.Fields{
		"session_id": revoked.SessionID,
		"mac":        revoked.MAC,
		"reason":     reason,
	}).Info("Access revoked")

	return nil
}

func (m *manager) Status(ctx context.Context, key string) (*models.StatusView, error) {
	if sess, ok := m.store.Get(key); ok {
		return sess.ToStatusView(m.nowF()), nil
	}

	if m.cache != nil {
		sess, err := m.cache.GetSession(ctx, key)
		if err == nil && sess != nil {
			return sess.ToStatusView(m.nowF()), nil
		}
	}

	return nil, models.ErrSessionNotFound
}

// Shutdown stops every armed expiry timer. Sessions stay persisted; the
// next start resyncs them.
func (m *manager) Shutdown() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}

func (m *manager) lockDevice(mac string) func() {
	m.deviceMu.Lock()
	lock, ok := m.deviceLocks[mac]
	if !ok {
		lock = &sync.Mutex{}
		m.deviceLocks[mac] = lock
	}
	m.deviceMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

func (m *manager) armExpiry(sessionID, mac string, expiry time.Time) {
	delay := expiry.Sub(m.nowF())
	if delay < 0 {
		delay = 0
	}

	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if old, ok := m.timers[sessionID]; ok {
		old.Stop()
	}
	m.timers[sessionID] = time.AfterFunc(delay, func() {
		logrus.WithFields(logrus.Fields{
			"session_id": sessionID,
			"mac":        mac,
		}).Info("Session expired")
		if err := m.Revoke(context.Background(), mac, sessionID, models.ReasonExpired); err != nil {
			logrus.WithError(err).WithField("session_id", sessionID).Error("Expiry revoke failed")
		}
	})
}

func (m *manager) disarmExpiry(sessionID string) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if timer, ok := m.timers[sessionID]; ok {
		timer.Stop()
		delete(m.timers, sessionID)
	}
}

func (m *manager) publish(sess *models.Session, action, reason string) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishSessionEvent(sess, action, reason); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"session_id": sess.SessionID,
			"action":     action,
		}).Warn("Session event not published")
	}
}

// newSessionID returns 32 hex characters backed by 128 bits of entropy.
func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the host is broken beyond serving.
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func normalizeMAC(raw string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(raw))
	if err != nil {
		return "", models.ErrInvalidMAC
	}
	return strings.ToUpper(hw.String()), nil
}

func clampExpiry(requested, now time.Time, maxSeconds int64) time.Time {
	ceiling := now.Add(time.Duration(maxSeconds) * time.Second)
	if requested.IsZero() || requested.After(ceiling) {
		return ceiling
	}
	return requested
}

func remainingSeconds(expiry, now time.Time) int64 {
	remaining := int64(expiry.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}
