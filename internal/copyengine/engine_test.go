package copyengine

import (
	"context"
	"errors"
	"testing"

	"relay/internal/domain"
	"relay/internal/relaylog"
	"relay/internal/wire"
)

type fakeStore struct {
	groups  map[string]*domain.TradeGroup
	members map[string][]*domain.TradeGroupMember
}

func (s *fakeStore) GetTradeGroup(_ context.Context, master string) (*domain.TradeGroup, error) {
	g, ok := s.groups[master]
	if !ok {
		return nil, errors.New("not found")
	}
	return g, nil
}

func (s *fakeStore) ListMembersOf(_ context.Context, master string) ([]*domain.TradeGroupMember, error) {
	return s.members[master], nil
}

type fakePublisher struct {
	published []struct {
		topic  string
		fields map[string]interface{}
	}
}

func (p *fakePublisher) Publish(topic string, fields map[string]interface{}) error {
	p.published = append(p.published, struct {
		topic  string
		fields map[string]interface{}
	}{topic, fields})
	return nil
}

func TestHandleTradeSignal_FansOutToEligibleMembersOnly(t *testing.T) {
	store := &fakeStore{
		groups: map[string]*domain.TradeGroup{
			"IC_Markets_12345": {MasterAccount: "IC_Markets_12345"},
		},
		members: map[string][]*domain.TradeGroupMember{
			"IC_Markets_12345": {
				{TradeGroupID: "IC_Markets_12345", SlaveAccount: "XM_67890", Enabled: true, Settings: domain.DefaultSlaveSettings(), RuntimeStatus: domain.StatusConnected},
				{TradeGroupID: "IC_Markets_12345", SlaveAccount: "Pepperstone_99", Enabled: true, Settings: domain.DefaultSlaveSettings(), RuntimeStatus: domain.StatusStandby},
			},
		},
	}
	pub := &fakePublisher{}
	eng := New(store, pub, relaylog.InitLogger(relaylog.LogConfig{}))

	symbol, orderType := "EURUSD", "Buy"
	lots := 1.0
	signal := &wire.TradeSignal{Action: wire.ActionOpen, Ticket: 1, SourceAccount: "IC_Markets_12345", Symbol: &symbol, OrderType: &orderType, Lots: &lots}

	if err := eng.HandleTradeSignal(context.Background(), signal); err != nil {
		t.Fatalf("HandleTradeSignal: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected exactly 1 publish (only the Connected slave), got %d", len(pub.published))
	}
	if pub.published[0].topic != "trade/IC_Markets_12345/XM_67890" {
		t.Errorf("topic = %s, want trade/IC_Markets_12345/XM_67890", pub.published[0].topic)
	}
}

func TestHandleTradeSignal_UnknownMasterReturnsError(t *testing.T) {
	store := &fakeStore{groups: map[string]*domain.TradeGroup{}, members: map[string][]*domain.TradeGroupMember{}}
	eng := New(store, &fakePublisher{}, relaylog.InitLogger(relaylog.LogConfig{}))

	symbol, orderType := "EURUSD", "Buy"
	lots := 1.0
	signal := &wire.TradeSignal{Action: wire.ActionOpen, Ticket: 1, SourceAccount: "Unknown", Symbol: &symbol, OrderType: &orderType, Lots: &lots}

	if err := eng.HandleTradeSignal(context.Background(), signal); err == nil {
		t.Error("expected an error for a signal from an unregistered master")
	}
}
