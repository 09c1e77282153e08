package connmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"relay/internal/domain"
	"relay/internal/relaylog"
)

type recorder struct {
	mu    sync.Mutex
	calls map[string][]string
}

func newRecorder() *recorder { return &recorder{calls: make(map[string][]string)} }

func (r *recorder) record(event, accountID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[event] = append(r.calls[event], accountID)
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls[event])
}

func testManager(t *testing.T, timeoutSeconds int) (*Manager, *recorder) {
	t.Helper()
	rec := newRecorder()
	mgr := New(timeoutSeconds, time.Hour, Callbacks{
		OnNewMaster:          func(_ context.Context, id string) { rec.record("new_master", id) },
		OnTradeAllowedChange: func(_ context.Context, id string) { rec.record("trade_allowed_change", id) },
		OnLivenessChange:     func(_ context.Context, id string) { rec.record("liveness_change", id) },
		OnFirstHeartbeat:     func(_ context.Context, id string) { rec.record("first_heartbeat", id) },
	}, relaylog.InitLogger(relaylog.LogConfig{}))
	return mgr, rec
}

func TestUpdateFromHeartbeat_NewMasterFiresCallbacks(t *testing.T) {
	mgr, rec := testManager(t, 30)
	ctx := context.Background()
	now := time.Now()

	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "IC_Markets_12345", Role: domain.RoleMaster, IsTradeAllowed: true}, now)

	if rec.count("new_master") != 1 {
		t.Errorf("expected 1 new_master callback, got %d", rec.count("new_master"))
	}
	if rec.count("first_heartbeat") != 1 {
		t.Errorf("expected 1 first_heartbeat callback, got %d", rec.count("first_heartbeat"))
	}

	conn, ok := mgr.Lookup("IC_Markets_12345")
	if !ok {
		t.Fatal("expected connection to be registered")
	}
	if conn.Status != domain.ConnOnline {
		t.Errorf("status = %q, want Online", conn.Status)
	}
}

func TestUpdateFromHeartbeat_SlaveDoesNotFireNewMaster(t *testing.T) {
	mgr, rec := testManager(t, 30)
	mgr.UpdateFromHeartbeat(context.Background(), HeartbeatInput{AccountID: "XM_67890", Role: domain.RoleSlave}, time.Now())
	if rec.count("new_master") != 0 {
		t.Errorf("expected no new_master callback for a Slave, got %d", rec.count("new_master"))
	}
}

func TestUpdateFromHeartbeat_TradeAllowedTransitionFiresImmediately(t *testing.T) {
	mgr, rec := testManager(t, 30)
	ctx := context.Background()
	now := time.Now()

	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "IC_Markets_12345", Role: domain.RoleMaster, IsTradeAllowed: true}, now)
	if rec.count("trade_allowed_change") != 0 {
		t.Fatalf("unexpected trade_allowed_change on first heartbeat")
	}

	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "IC_Markets_12345", Role: domain.RoleMaster, IsTradeAllowed: false}, now.Add(time.Second))
	if rec.count("trade_allowed_change") != 1 {
		t.Errorf("expected 1 trade_allowed_change, got %d", rec.count("trade_allowed_change"))
	}

	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "IC_Markets_12345", Role: domain.RoleMaster, IsTradeAllowed: false}, now.Add(2*time.Second))
	if rec.count("trade_allowed_change") != 1 {
		t.Errorf("expected no additional trade_allowed_change when value is unchanged, got %d", rec.count("trade_allowed_change"))
	}
}

func TestMarkUnregistered(t *testing.T) {
	mgr, rec := testManager(t, 30)
	ctx := context.Background()
	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "XM_67890", Role: domain.RoleSlave}, time.Now())

	mgr.MarkUnregistered(ctx, "XM_67890")
	if _, ok := mgr.Lookup("XM_67890"); ok {
		t.Error("expected connection to be removed")
	}
	if rec.count("liveness_change") != 1 {
		t.Errorf("expected 1 liveness_change on unregister, got %d", rec.count("liveness_change"))
	}

	// Unregistering an unknown account is a no-op, not an error.
	mgr.MarkUnregistered(ctx, "Unknown")
	if rec.count("liveness_change") != 1 {
		t.Errorf("expected no liveness_change for unknown account, got %d", rec.count("liveness_change"))
	}
}

func TestSweepTimeouts_BoundaryBehavior(t *testing.T) {
	mgr, rec := testManager(t, 30)
	ctx := context.Background()
	start := time.Now()
	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "IC_Markets_12345", Role: domain.RoleMaster}, start)

	// Heartbeat exactly at timeout_seconds - epsilon keeps status Online.
	mgr.SweepTimeouts(ctx, start.Add(30*time.Second-time.Millisecond), time.Hour)
	conn, _ := mgr.Lookup("IC_Markets_12345")
	if conn.Status != domain.ConnOnline {
		t.Errorf("expected Online just under the timeout, got %q", conn.Status)
	}

	// At timeout_seconds + epsilon, flips to Timeout.
	changed := mgr.SweepTimeouts(ctx, start.Add(30*time.Second+time.Millisecond), time.Hour)
	conn, _ = mgr.Lookup("IC_Markets_12345")
	if conn.Status != domain.ConnTimeout {
		t.Errorf("expected Timeout just over the timeout, got %q", conn.Status)
	}
	if len(changed) != 1 || changed[0] != "IC_Markets_12345" {
		t.Errorf("expected changed=[IC_Markets_12345], got %v", changed)
	}
	if rec.count("liveness_change") != 1 {
		t.Errorf("expected 1 liveness_change for the timeout transition, got %d", rec.count("liveness_change"))
	}
}

func TestSweepTimeouts_PurgesAfterGracePeriod(t *testing.T) {
	mgr, rec := testManager(t, 30)
	ctx := context.Background()
	start := time.Now()
	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "IC_Markets_12345", Role: domain.RoleMaster}, start)

	mgr.SweepTimeouts(ctx, start.Add(31*time.Second), 10*time.Second)
	if _, ok := mgr.Lookup("IC_Markets_12345"); !ok {
		t.Fatal("expected connection to still exist within the grace period")
	}

	mgr.SweepTimeouts(ctx, start.Add(42*time.Second), 10*time.Second)
	if _, ok := mgr.Lookup("IC_Markets_12345"); ok {
		t.Error("expected connection to be purged after the grace period")
	}
	if rec.count("liveness_change") != 2 {
		t.Errorf("expected 2 liveness_change events (timeout + purge), got %d", rec.count("liveness_change"))
	}
}

func TestSnapshot(t *testing.T) {
	mgr, _ := testManager(t, 30)
	ctx := context.Background()
	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "IC_Markets_12345", Role: domain.RoleMaster}, time.Now())
	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "XM_67890", Role: domain.RoleSlave}, time.Now())

	snap := mgr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(snap))
	}
}

func TestIsOnline(t *testing.T) {
	mgr, _ := testManager(t, 30)
	ctx := context.Background()
	if mgr.IsOnline("IC_Markets_12345") {
		t.Error("expected unknown account to not be online")
	}
	mgr.UpdateFromHeartbeat(ctx, HeartbeatInput{AccountID: "IC_Markets_12345", Role: domain.RoleMaster}, time.Now())
	if !mgr.IsOnline("IC_Markets_12345") {
		t.Error("expected known account to be online")
	}
}
