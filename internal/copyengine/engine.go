package copyengine

import (
	"context"
	"fmt"

	"relay/internal/domain"
	"relay/internal/relaylog"
	"relay/internal/wire"
)

// Store is the subset of store.Store the engine needs to resolve a Master's
// settings and its Slave memberships.
type Store interface {
	GetTradeGroup(ctx context.Context, masterAccount string) (*domain.TradeGroup, error)
	ListMembersOf(ctx context.Context, masterAccount string) ([]*domain.TradeGroupMember, error)
}

// Publisher is the egress side of the wire: a thread-safe, fire-and-forget
// pub-socket send.
type Publisher interface {
	Publish(topic string, fields map[string]interface{}) error
}

// Engine fans one inbound TradeSignal out to every eligible Slave membership
// of the signal's source Master, running Transform per member and
// publishing each surviving result on its own trade/{master}/{slave} topic.
//
// HandleTradeSignal is meant to be called synchronously, in ingress order,
// by the single goroutine that owns the ingress loop — that ordering is what
// guarantees per-slave publication order matches Master emission order.
type Engine struct {
	store Store
	pub   Publisher
	log   *relaylog.Logger
}

func New(store Store, pub Publisher, log *relaylog.Logger) *Engine {
	return &Engine{store: store, pub: pub, log: log.WithComponent("copyengine")}
}

// HandleTradeSignal transforms signal for every membership of its source
// Master and publishes the surviving results. It returns an error only when
// the Master's own trade group can't be loaded; per-member skips and
// publish failures are logged, not propagated, since one bad member must
// not block delivery to the rest.
func (e *Engine) HandleTradeSignal(ctx context.Context, signal *wire.TradeSignal) error {
	group, err := e.store.GetTradeGroup(ctx, signal.SourceAccount)
	if err != nil {
		return fmt.Errorf("copyengine: load trade group %s: %w", signal.SourceAccount, err)
	}
	members, err := e.store.ListMembersOf(ctx, signal.SourceAccount)
	if err != nil {
		return fmt.Errorf("copyengine: list members of %s: %w", signal.SourceAccount, err)
	}

	for _, member := range members {
		out, reason := Transform(signal, MemberContext{
			MasterAccount:  signal.SourceAccount,
			SlaveAccount:   member.SlaveAccount,
			MasterSettings: group.Settings,
			SlaveSettings:  member.Settings,
			RuntimeStatus:  member.RuntimeStatus,
			AllowNewOrders: member.AllowNewOrders(),
		})
		signalsEvaluated.Inc()
		if reason != "" {
			signalsSkipped.WithLabelValues(string(reason)).Inc()
			e.log.Debug("skipped trade signal",
				relaylog.MasterAccount(signal.SourceAccount), relaylog.SlaveAccount(member.SlaveAccount))
			continue
		}

		topic := wire.TopicTrade(signal.SourceAccount, member.SlaveAccount)
		if err := e.pub.Publish(topic, out.ToMap()); err != nil {
			signalsPublishFailed.Inc()
			e.log.Warn("publish trade signal failed",
				relaylog.MasterAccount(signal.SourceAccount), relaylog.SlaveAccount(member.SlaveAccount), relaylog.Topic(topic))
			continue
		}
		signalsPublished.Inc()
	}
	return nil
}
