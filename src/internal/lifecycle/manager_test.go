package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hotspot-captive-svc/src/internal/config"
	"hotspot-captive-svc/src/internal/models"
	"hotspot-captive-svc/src/internal/session"
)

const testMAC = "AA:BB:CC:DD:EE:FF"

type fakeOracle struct {
	mu      sync.Mutex
	voucher *models.VoucherInfo
	err     error
	calls   int
}

func (f *fakeOracle) GetVoucher(ctx context.Context, wallet string) (*models.VoucherInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v := *f.voucher
	return &v, nil
}

type adapterCall struct {
	mac     string
	quotaMB int64
}

type fakeAdapter struct {
	mu          sync.Mutex
	grantCalls  []adapterCall
	revokeCalls []adapterCall
	grantErr    error
	revokeErr   error
}

func (f *fakeAdapter) Grant(ctx context.Context, mac string, quotaMB int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.grantErr != nil {
		return f.grantErr
	}
	f.grantCalls = append(f.grantCalls, adapterCall{mac, quotaMB})
	return nil
}

func (f *fakeAdapter) Revoke(ctx context.Context, mac string, quotaMB int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls = append(f.revokeCalls, adapterCall{mac, quotaMB})
	return f.revokeErr
}

func (f *fakeAdapter) grants() []adapterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adapterCall(nil), f.grantCalls...)
}

func (f *fakeAdapter) revokes() []adapterCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]adapterCall(nil), f.revokeCalls...)
}

type fakeRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.Session
	findErr  error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: make(map[string]*models.Session)}
}

func (f *fakeRepo) Insert(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.SessionID] = s.Clone()
	return nil
}

func (f *fakeRepo) Update(ctx context.Context, s *models.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.SessionID] = s.Clone()
	return nil
}

func (f *fakeRepo) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, models.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (f *fakeRepo) FindAll(ctx context.Context) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	var out []*models.Session
	for _, s := range f.sessions {
		out = append(out, s.Clone())
	}
	return out, nil
}

func (f *fakeRepo) DeleteBySessionIDs(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		delete(f.sessions, id)
	}
	return nil
}

type publishedEvent struct {
	sessionID string
	action    string
	reason    string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakePublisher) PublishSessionEvent(s *models.Session, action, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{s.SessionID, action, reason})
	return nil
}

func testConfig() *config.Configuration {
	return &config.Configuration{
		Session: config.SessionConfig{
			MaxSessionSeconds: 86400,
			RetentionMinutes:  60,
			GCIntervalMinutes: 10,
		},
	}
}

func validVoucher() *models.VoucherInfo {
	return &models.VoucherInfo{
		AccessCode: "ABC123",
		QuotaMB:    500,
		Expiry:     time.Now().Add(time.Hour),
		HotspotID:  "hotspot-7",
		Valid:      true,
	}
}

type testRig struct {
	svc       Service
	store     session.Store
	oracle    *fakeOracle
	adapter   *fakeAdapter
	repo      *fakeRepo
	publisher *fakePublisher
}

func newTestRig(oracle *fakeOracle) *testRig {
	store := session.NewStore()
	adapter := &fakeAdapter{}
	repo := newFakeRepo()
	publisher := &fakePublisher{}
	svc := NewManager(testConfig(), store, repo, adapter, oracle, nil, publisher)
	return &testRig{svc: svc, store: store, oracle: oracle, adapter: adapter, repo: repo, publisher: publisher}
}

func preparedRequest() *PrepareRequest {
	return &PrepareRequest{
		AccessCode: "abc123", // compare is case-insensitive
		Wallet:     "0xwallet",
		MAC:        testMAC,
		Expiry:     time.Now().Add(time.Hour).Unix(),
	}
}

func TestFullLifecycleScenario(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	// Prepare with a valid voucher.
	result, err := rig.svc.Prepare(ctx, preparedRequest())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if result.SessionID == "" || len(result.SessionID) != 32 {
		t.Errorf("SessionID = %q, want 32 hex chars", result.SessionID)
	}
	if result.DurationSeconds < 3595 || result.DurationSeconds > 3600 {
		t.Errorf("DurationSeconds = %d, want about 3600", result.DurationSeconds)
	}
	if result.QuotaMB != 500 {
		t.Errorf("QuotaMB = %d, want 500 (from voucher)", result.QuotaMB)
	}

	// Activate with a mismatched MAC leaves the session pending.
	_, err = rig.svc.Activate(ctx, &ActivateRequest{MAC: "11:22:33:44:55:66", SessionID: result.SessionID})
	if !errors.Is(err, models.ErrMACMismatch) {
		t.Fatalf("err = %v, want ErrMACMismatch", err)
	}
	sess, _ := rig.store.Get(result.SessionID)
	if sess.State != models.StatePending {
		t.Fatalf("state = %q, want pending after failed activate", sess.State)
	}
	if len(rig.adapter.grants()) != 0 {
		t.Fatal("grant must not run for a mismatched MAC")
	}

	// Activate with the correct MAC grants enforcement exactly once.
	activated, err := rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID, DurationSeconds: result.DurationSeconds})
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if activated.State != models.StateActive || activated.ActivatedAt == nil {
		t.Errorf("activated = %+v, want active with ActivatedAt", activated)
	}
	grants := rig.adapter.grants()
	if len(grants) != 1 || grants[0].mac != testMAC || grants[0].quotaMB != 500 {
		t.Errorf("grants = %+v, want one grant for %s/500", grants, testMAC)
	}

	// Second activate is rejected.
	if _, err := rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID}); !errors.Is(err, models.ErrAlreadyActive) {
		t.Errorf("err = %v, want ErrAlreadyActive", err)
	}

	// Revoke tears down enforcement once and frees the device slot.
	if err := rig.svc.Revoke(ctx, testMAC, result.SessionID, models.ReasonManual); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}
	revokes := rig.adapter.revokes()
	if len(revokes) != 1 || revokes[0].quotaMB != 500 {
		t.Errorf("revokes = %+v, want one revoke with quota 500", revokes)
	}
	sess, _ = rig.store.Get(result.SessionID)
	if sess.State != models.StateRevoked || sess.EndTime == nil {
		t.Errorf("session = %+v, want revoked with EndTime", sess)
	}

	// The device slot is free for the next voucher.
	if _, err := rig.svc.Prepare(ctx, preparedRequest()); err != nil {
		t.Errorf("Prepare after revoke failed: %v", err)
	}
}

func TestPrepare_ExpiryClamp(t *testing.T) {
	voucher := validVoucher()
	voucher.Expiry = time.Now().Add(200000 * time.Second)
	rig := newTestRig(&fakeOracle{voucher: voucher})

	req := preparedRequest()
	req.Expiry = time.Now().Add(100000 * time.Second).Unix()

	result, err := rig.svc.Prepare(context.Background(), req)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if result.DurationSeconds > 86400 {
		t.Errorf("DurationSeconds = %d, want <= 86400", result.DurationSeconds)
	}

	sess, _ := rig.store.Get(result.SessionID)
	ceiling := time.Now().Add(86400*time.Second + time.Second)
	if sess.Expiry.After(ceiling) {
		t.Errorf("stored expiry %v exceeds the 24h ceiling", sess.Expiry)
	}
}

func TestPrepare_VoucherRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.VoucherInfo)
		access  string
		wantErr error
	}{
		{
			name:    "invalid voucher",
			mutate:  func(v *models.VoucherInfo) { v.Valid = false },
			access:  "abc123",
			wantErr: models.ErrInvalidVoucher,
		},
		{
			name:    "empty access code",
			mutate:  func(v *models.VoucherInfo) { v.AccessCode = "" },
			access:  "abc123",
			wantErr: models.ErrInvalidVoucher,
		},
		{
			name:    "code mismatch",
			mutate:  func(v *models.VoucherInfo) {},
			access:  "wrong",
			wantErr: models.ErrAccessCodeMismatch,
		},
		{
			name:    "expired voucher",
			mutate:  func(v *models.VoucherInfo) { v.Expiry = time.Now().Add(-time.Minute) },
			access:  "abc123",
			wantErr: models.ErrVoucherExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			voucher := validVoucher()
			tt.mutate(voucher)
			rig := newTestRig(&fakeOracle{voucher: voucher})

			req := preparedRequest()
			req.AccessCode = tt.access

			_, err := rig.svc.Prepare(context.Background(), req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			// Rejections never leave state behind.
			if _, ok := rig.store.Get(testMAC); ok {
				t.Error("rejected prepare left a session in the store")
			}
		})
	}
}

func TestPrepare_OracleUnreachable(t *testing.T) {
	rig := newTestRig(&fakeOracle{err: models.ErrOracleUnreachable})

	_, err := rig.svc.Prepare(context.Background(), preparedRequest())
	if !errors.Is(err, models.ErrOracleUnreachable) {
		t.Fatalf("err = %v, want ErrOracleUnreachable", err)
	}
	if _, ok := rig.store.Get(testMAC); ok {
		t.Error("failed prepare left a session in the store")
	}
}

func TestPrepare_InvalidMAC(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})

	req := preparedRequest()
	req.MAC = "not-a-mac"

	if _, err := rig.svc.Prepare(context.Background(), req); !errors.Is(err, models.ErrInvalidMAC) {
		t.Fatalf("err = %v, want ErrInvalidMAC", err)
	}
	if rig.oracle.calls != 0 {
		t.Error("oracle must not be queried for an invalid MAC")
	}
}

func TestPrepare_BusyDeviceSkipsOracle(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	result, err := rig.svc.Prepare(ctx, preparedRequest())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID}); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	callsBefore := rig.oracle.calls
	busy, err := rig.svc.Prepare(ctx, preparedRequest())
	if !errors.Is(err, models.ErrDeviceBusy) {
		t.Fatalf("err = %v, want ErrDeviceBusy", err)
	}
	if busy.SessionID != result.SessionID {
		t.Errorf("busy result session = %q, want %q", busy.SessionID, result.SessionID)
	}
	if busy.DurationSeconds <= 0 {
		t.Errorf("busy result remaining = %d, want > 0", busy.DurationSeconds)
	}
	if rig.oracle.calls != callsBefore {
		t.Error("busy prepare must not hit the oracle")
	}
}

func TestActivate_EnforcementFailureKeepsPending(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	result, err := rig.svc.Prepare(ctx, preparedRequest())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	rig.adapter.grantErr = models.ErrEnforcementFailed
	_, err = rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID})
	if !errors.Is(err, models.ErrEnforcementFailed) {
		t.Fatalf("err = %v, want ErrEnforcementFailed", err)
	}

	sess, _ := rig.store.Get(result.SessionID)
	if sess.State != models.StatePending {
		t.Fatalf("state = %q, want pending (retriable)", sess.State)
	}

	// The caller can retry once the tool recovers.
	rig.adapter.grantErr = nil
	if _, err := rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID}); err != nil {
		t.Fatalf("retried Activate failed: %v", err)
	}
}

func TestActivate_UnknownSession(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})

	_, err := rig.svc.Activate(context.Background(), &ActivateRequest{MAC: testMAC, SessionID: "deadbeef"})
	if !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	result, err := rig.svc.Prepare(ctx, preparedRequest())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID}); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if err := rig.svc.Revoke(ctx, testMAC, result.SessionID, models.ReasonManual); err != nil {
		t.Fatalf("first Revoke failed: %v", err)
	}
	if err := rig.svc.Revoke(ctx, testMAC, result.SessionID, models.ReasonManual); err != nil {
		t.Fatalf("second Revoke failed: %v", err)
	}

	if got := len(rig.adapter.revokes()); got != 1 {
		t.Errorf("adapter revokes = %d, want 1", got)
	}

	var revokedEvents int
	for _, e := range rig.publisher.events {
		if e.action == models.EventSessionRevoked {
			revokedEvents++
		}
	}
	if revokedEvents != 1 {
		t.Errorf("revoked events = %d, want 1", revokedEvents)
	}
}

func TestRevoke_UnknownSessionIsNoOp(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})

	if err := rig.svc.Revoke(context.Background(), testMAC, "deadbeef", models.ReasonManual); err != nil {
		t.Fatalf("Revoke on unknown session should be a no-op: %v", err)
	}
	if len(rig.adapter.revokes()) != 0 {
		t.Error("no enforcement call expected for unknown session")
	}
}

func TestRevoke_PendingSession(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	result, err := rig.svc.Prepare(ctx, preparedRequest())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	// Direct pending -> revoked, e.g. voucher withdrawn before activation.
	if err := rig.svc.Revoke(ctx, testMAC, result.SessionID, models.ReasonManual); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	sess, _ := rig.store.Get(result.SessionID)
	if sess.State != models.StateRevoked {
		t.Errorf("state = %q, want revoked", sess.State)
	}
	// Never granted, so nothing to tear down.
	if len(rig.adapter.revokes()) != 0 {
		t.Error("pending revoke must not call the adapter")
	}
}

func TestRevoke_EnforcementFailureStillCompletes(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	result, err := rig.svc.Prepare(ctx, preparedRequest())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID}); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	rig.adapter.revokeErr = models.ErrEnforcementFailed
	if err := rig.svc.Revoke(ctx, testMAC, result.SessionID, models.ReasonManual); err != nil {
		t.Fatalf("Revoke must complete despite enforcement failure: %v", err)
	}

	sess, _ := rig.store.Get(result.SessionID)
	if sess.State != models.StateRevoked {
		t.Errorf("state = %q, want revoked", sess.State)
	}
	if _, err := rig.svc.Prepare(ctx, preparedRequest()); err != nil {
		t.Errorf("device slot should be free: %v", err)
	}
}

func TestConcurrentPrepares_SameDevice(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	// Claim the slot, then race a batch of prepares against it.
	result, err := rig.svc.Prepare(ctx, preparedRequest())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID}); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = rig.svc.Prepare(ctx, preparedRequest())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, models.ErrDeviceBusy) {
			t.Errorf("prepare %d: err = %v, want ErrDeviceBusy", i, err)
		}
	}
}

func TestConcurrentPrepares_FreshDevice_ExactlyOneWins(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = rig.svc.Prepare(ctx, preparedRequest())
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, models.ErrDeviceBusy) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful prepares = %d, want exactly 1", wins)
	}
}

func TestAtMostOneActive_ConcurrentActivates(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	result, err := rig.svc.Prepare(ctx, preparedRequest())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID})
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, models.ErrAlreadyActive) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("successful activates = %d, want exactly 1", wins)
	}
	if got := len(rig.adapter.grants()); got != 1 {
		t.Errorf("grants = %d, want 1", got)
	}
}

func TestExpiryTimer_RevokesAutomatically(t *testing.T) {
	voucher := validVoucher()
	voucher.Expiry = time.Now().Add(time.Hour)
	rig := newTestRig(&fakeOracle{voucher: voucher})
	ctx := context.Background()

	req := preparedRequest()
	req.Expiry = time.Now().Add(time.Second).Unix()

	result, err := rig.svc.Prepare(ctx, req)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	// The caller-supplied duration is ignored; the stored expiry governs.
	if _, err := rig.svc.Activate(ctx, &ActivateRequest{MAC: testMAC, SessionID: result.SessionID, DurationSeconds: 99999}); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sess, _ := rig.store.Get(result.SessionID)
		if sess.State == models.StateRevoked {
			if got := len(rig.adapter.revokes()); got != 1 {
				t.Errorf("adapter revokes = %d, want 1", got)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("session was not revoked by the expiry timer")
}

func TestStatus_OmitsAccessCode(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})
	ctx := context.Background()

	result, err := rig.svc.Prepare(ctx, preparedRequest())
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	view, err := rig.svc.Status(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if view.SessionID != result.SessionID || view.MAC != testMAC {
		t.Errorf("view = %+v", view)
	}
	if view.Active {
		t.Error("pending session reported active")
	}
	if view.RemainingTime <= 0 {
		t.Errorf("RemainingTime = %d, want > 0", view.RemainingTime)
	}

	// MAC lookup resolves the same record.
	byMAC, err := rig.svc.Status(ctx, testMAC)
	if err != nil {
		t.Fatalf("Status by MAC failed: %v", err)
	}
	if byMAC.SessionID != view.SessionID {
		t.Errorf("status by MAC = %q, want %q", byMAC.SessionID, view.SessionID)
	}
}

func TestStatus_UnknownKey(t *testing.T) {
	rig := newTestRig(&fakeOracle{voucher: validVoucher()})

	if _, err := rig.svc.Status(context.Background(), "missing"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}
