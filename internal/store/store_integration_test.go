package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"relay/internal/domain"
	"relay/internal/relaylog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.db")
	s, err := Open(context.Background(), path, relaylog.InitLogger(relaylog.LogConfig{}))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTradeGroup_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g1, err := s.CreateTradeGroup(ctx, "IC_Markets_12345")
	if err != nil {
		t.Fatalf("CreateTradeGroup: %v", err)
	}
	g2, err := s.CreateTradeGroup(ctx, "IC_Markets_12345")
	if err != nil {
		t.Fatalf("CreateTradeGroup (second call): %v", err)
	}
	if g1.Settings.ConfigVersion != g2.Settings.ConfigVersion {
		t.Errorf("idempotent create changed config_version: %d -> %d", g1.Settings.ConfigVersion, g2.Settings.ConfigVersion)
	}
}

func TestTradeGroupLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	g, err := s.CreateTradeGroup(ctx, "IC_Markets_12345")
	if err != nil {
		t.Fatalf("CreateTradeGroup: %v", err)
	}
	if !g.Enabled {
		t.Error("expected default enabled=true")
	}

	updated, err := s.UpdateMasterSettings(ctx, "IC_Markets_12345", "pro.", "")
	if err != nil {
		t.Fatalf("UpdateMasterSettings: %v", err)
	}
	if updated.Settings.SymbolPrefix != "pro." {
		t.Errorf("symbol_prefix = %q, want pro.", updated.Settings.SymbolPrefix)
	}
	if updated.Settings.ConfigVersion <= g.Settings.ConfigVersion {
		t.Error("expected config_version to increase")
	}

	toggled, err := s.SetTradeGroupEnabled(ctx, "IC_Markets_12345", false)
	if err != nil {
		t.Fatalf("SetTradeGroupEnabled: %v", err)
	}
	if toggled.Enabled {
		t.Error("expected enabled=false after toggle")
	}

	// toggle(toggle(x)) == x
	backAgain, err := s.SetTradeGroupEnabled(ctx, "IC_Markets_12345", true)
	if err != nil {
		t.Fatalf("SetTradeGroupEnabled (back): %v", err)
	}
	if !backAgain.Enabled {
		t.Error("expected enabled=true after toggling back")
	}

	if _, err := s.UpdateMasterSettings(ctx, "NoSuchMaster", "x", "y"); !errors.Is(err, ErrTradeGroupNotFound) {
		t.Errorf("expected ErrTradeGroupNotFound, got %v", err)
	}
}

func TestAddMember_DuplicateConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.CreateTradeGroup(ctx, "IC_Markets_12345"); err != nil {
		t.Fatalf("CreateTradeGroup: %v", err)
	}

	if _, err := s.AddMember(ctx, "IC_Markets_12345", "XM_67890", domain.DefaultSlaveSettings()); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if _, err := s.AddMember(ctx, "IC_Markets_12345", "XM_67890", domain.DefaultSlaveSettings()); !errors.Is(err, ErrMemberConflict) {
		t.Errorf("expected ErrMemberConflict, got %v", err)
	}
}

func TestAddMember_UnknownMasterFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.AddMember(ctx, "NoSuchMaster", "XM_67890", domain.DefaultSlaveSettings()); !errors.Is(err, ErrTradeGroupNotFound) {
		t.Errorf("expected ErrTradeGroupNotFound, got %v", err)
	}
}

func TestDeleteTradeGroup_CascadesToMembers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.CreateTradeGroup(ctx, "IC_Markets_12345"); err != nil {
		t.Fatalf("CreateTradeGroup: %v", err)
	}
	if _, err := s.AddMember(ctx, "IC_Markets_12345", "XM_67890", domain.DefaultSlaveSettings()); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	if err := s.DeleteTradeGroup(ctx, "IC_Markets_12345"); err != nil {
		t.Fatalf("DeleteTradeGroup: %v", err)
	}
	if _, err := s.GetMember(ctx, "IC_Markets_12345", "XM_67890"); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("expected member to be cascade-deleted, got %v", err)
	}
}

func TestNNMembership_ListAllMembersForCluster(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, master := range []string{"IC_Markets_12345", "Pepperstone_99"} {
		if _, err := s.CreateTradeGroup(ctx, master); err != nil {
			t.Fatalf("CreateTradeGroup(%s): %v", master, err)
		}
		if _, err := s.AddMember(ctx, master, "XM_67890", domain.DefaultSlaveSettings()); err != nil {
			t.Fatalf("AddMember(%s): %v", master, err)
		}
	}

	members, err := s.ListAllMembersForCluster(ctx, "XM_67890")
	if err != nil {
		t.Fatalf("ListAllMembersForCluster: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 memberships for XM_67890, got %d", len(members))
	}

	masters, err := s.ListMastersOf(ctx, "XM_67890")
	if err != nil {
		t.Fatalf("ListMastersOf: %v", err)
	}
	if len(masters) != 2 {
		t.Fatalf("expected 2 masters, got %d", len(masters))
	}
}

func TestUpdateRuntimeStatus_NoOpWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.CreateTradeGroup(ctx, "IC_Markets_12345"); err != nil {
		t.Fatalf("CreateTradeGroup: %v", err)
	}
	if _, err := s.AddMember(ctx, "IC_Markets_12345", "XM_67890", domain.DefaultSlaveSettings()); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	m1, err := s.UpdateRuntimeStatus(ctx, "IC_Markets_12345", "XM_67890", domain.StatusConnected, nil)
	if err != nil {
		t.Fatalf("UpdateRuntimeStatus: %v", err)
	}

	m2, err := s.UpdateRuntimeStatus(ctx, "IC_Markets_12345", "XM_67890", domain.StatusConnected, nil)
	if err != nil {
		t.Fatalf("UpdateRuntimeStatus (repeat): %v", err)
	}
	if m2.ConfigVersion != m1.ConfigVersion {
		t.Errorf("expected no config_version bump on unchanged status, got %d -> %d", m1.ConfigVersion, m2.ConfigVersion)
	}

	m3, err := s.UpdateRuntimeStatus(ctx, "IC_Markets_12345", "XM_67890", domain.StatusStandby, []string{domain.MasterUnavailable("M2")})
	if err != nil {
		t.Fatalf("UpdateRuntimeStatus (changed): %v", err)
	}
	if m3.ConfigVersion <= m2.ConfigVersion {
		t.Error("expected config_version to increase when status/warnings change")
	}
	if len(m3.WarningCodes) != 1 || m3.WarningCodes[0] != "MasterUnavailable(M2)" {
		t.Errorf("unexpected warning codes: %v", m3.WarningCodes)
	}
}

func TestRuntimePorts_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if existing, err := s.GetRuntimePorts(ctx); err != nil || existing != nil {
		t.Fatalf("expected no runtime ports row yet, got %v, %v", existing, err)
	}

	saved, err := s.SaveRuntimePorts(ctx, 5555, 5556)
	if err != nil {
		t.Fatalf("SaveRuntimePorts: %v", err)
	}
	loaded, err := s.GetRuntimePorts(ctx)
	if err != nil {
		t.Fatalf("GetRuntimePorts: %v", err)
	}
	if loaded.ReceiverPort != saved.ReceiverPort || loaded.PublisherPort != saved.PublisherPort {
		t.Errorf("round trip mismatch: got %+v, want %+v", loaded, saved)
	}

	if _, err := s.SaveRuntimePorts(ctx, 51234, 51235); err != nil {
		t.Fatalf("SaveRuntimePorts (overwrite): %v", err)
	}
	reloaded, err := s.GetRuntimePorts(ctx)
	if err != nil {
		t.Fatalf("GetRuntimePorts (after overwrite): %v", err)
	}
	if reloaded.ReceiverPort != 51234 {
		t.Errorf("expected overwritten receiver_port 51234, got %d", reloaded.ReceiverPort)
	}
}
