package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"relay/internal/domain"
	"relay/internal/relaylog"
	"relay/internal/store"
)

type fakeTradeGroupStore struct {
	groups map[string]*domain.TradeGroup
}

func newFakeTradeGroupStore() *fakeTradeGroupStore {
	return &fakeTradeGroupStore{groups: make(map[string]*domain.TradeGroup)}
}

func (s *fakeTradeGroupStore) GetTradeGroup(_ context.Context, master string) (*domain.TradeGroup, error) {
	g, ok := s.groups[master]
	if !ok {
		return nil, store.ErrTradeGroupNotFound
	}
	return g, nil
}

func (s *fakeTradeGroupStore) ListTradeGroups(_ context.Context) ([]*domain.TradeGroup, error) {
	var out []*domain.TradeGroup
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out, nil
}

func (s *fakeTradeGroupStore) UpdateMasterSettings(_ context.Context, master, prefix, suffix string) (*domain.TradeGroup, error) {
	g, ok := s.groups[master]
	if !ok {
		return nil, store.ErrTradeGroupNotFound
	}
	g.Settings.SymbolPrefix = prefix
	g.Settings.SymbolSuffix = suffix
	return g, nil
}

func (s *fakeTradeGroupStore) SetTradeGroupEnabled(_ context.Context, master string, enabled bool) (*domain.TradeGroup, error) {
	g, ok := s.groups[master]
	if !ok {
		return nil, store.ErrTradeGroupNotFound
	}
	g.Enabled = enabled
	return g, nil
}

func (s *fakeTradeGroupStore) DeleteTradeGroup(_ context.Context, master string) error {
	if _, ok := s.groups[master]; !ok {
		return store.ErrTradeGroupNotFound
	}
	delete(s.groups, master)
	return nil
}

type fakeEvaluator struct{ evaluated []string }

func (f *fakeEvaluator) Evaluate(_ context.Context, accountID string) error {
	f.evaluated = append(f.evaluated, accountID)
	return nil
}

type fakeConfigPublisher struct {
	masterPublished []string
	slavePublished  []string
}

func (f *fakeConfigPublisher) PublishMasterConfig(_ context.Context, master string) error {
	f.masterPublished = append(f.masterPublished, master)
	return nil
}

func (f *fakeConfigPublisher) PublishSlaveConfig(_ context.Context, _, slave string) error {
	f.slavePublished = append(f.slavePublished, slave)
	return nil
}

type fakeBroadcaster struct {
	events []string
}

func (f *fakeBroadcaster) BroadcastTradeGroupUpdated(interface{}) { f.events = append(f.events, "trade_group_updated") }
func (f *fakeBroadcaster) BroadcastMemberUpdated(interface{})     { f.events = append(f.events, "member_updated") }
func (f *fakeBroadcaster) BroadcastMemberDeleted(interface{})     { f.events = append(f.events, "member_deleted") }
func (f *fakeBroadcaster) BroadcastSettingsUpdated(interface{})   { f.events = append(f.events, "settings_updated") }

func newTestLogger() *relaylog.Logger {
	return relaylog.InitLogger(relaylog.LogConfig{})
}

func withVars(r *http.Request, vars map[string]string) *http.Request {
	return mux.SetURLVars(r, vars)
}

func TestGetTradeGroup_NotFound(t *testing.T) {
	s := newFakeTradeGroupStore()
	h := NewTradeGroupsHandler(s, &fakeEvaluator{}, &fakeConfigPublisher{}, &fakeBroadcaster{}, newTestLogger())

	req := withVars(httptest.NewRequest("GET", "/api/trade-groups/IC_Markets_12345", nil), map[string]string{"master": "IC_Markets_12345"})
	w := httptest.NewRecorder()
	h.GetTradeGroup(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Trade group not found") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestUpdateTradeGroup_RepublishesAndBroadcasts(t *testing.T) {
	s := newFakeTradeGroupStore()
	s.groups["IC_Markets_12345"] = &domain.TradeGroup{MasterAccount: "IC_Markets_12345"}
	eval := &fakeEvaluator{}
	cfg := &fakeConfigPublisher{}
	bc := &fakeBroadcaster{}
	h := NewTradeGroupsHandler(s, eval, cfg, bc, newTestLogger())

	body := strings.NewReader(`{"symbol_prefix":"m_","symbol_suffix":"_ecn"}`)
	req := withVars(httptest.NewRequest("PUT", "/api/trade-groups/IC_Markets_12345", body), map[string]string{"master": "IC_Markets_12345"})
	w := httptest.NewRecorder()
	h.UpdateTradeGroup(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if s.groups["IC_Markets_12345"].Settings.SymbolPrefix != "m_" {
		t.Fatalf("SymbolPrefix not updated: %+v", s.groups["IC_Markets_12345"].Settings)
	}
	if len(eval.evaluated) != 1 || len(cfg.masterPublished) != 1 {
		t.Fatalf("eval = %v, cfg = %v", eval.evaluated, cfg.masterPublished)
	}
	if len(bc.events) != 2 {
		t.Fatalf("events = %v", bc.events)
	}
}

func TestDeleteTradeGroup_NoContent(t *testing.T) {
	s := newFakeTradeGroupStore()
	s.groups["IC_Markets_12345"] = &domain.TradeGroup{MasterAccount: "IC_Markets_12345"}
	bc := &fakeBroadcaster{}
	h := NewTradeGroupsHandler(s, &fakeEvaluator{}, &fakeConfigPublisher{}, bc, newTestLogger())

	req := withVars(httptest.NewRequest("DELETE", "/api/trade-groups/IC_Markets_12345", nil), map[string]string{"master": "IC_Markets_12345"})
	w := httptest.NewRecorder()
	h.DeleteTradeGroup(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
	if _, ok := s.groups["IC_Markets_12345"]; ok {
		t.Fatal("expected trade group deleted")
	}
	if len(bc.events) != 1 || bc.events[0] != "member_deleted" {
		t.Fatalf("events = %v", bc.events)
	}
}
