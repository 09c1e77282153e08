// Package configpub builds MasterConfig, SlaveConfig, and VLogsConfig wire
// messages from current store+evaluator state and publishes them on the
// egress channel. Publication is fire-and-forget; EAs that miss a publish
// compensate with a RequestConfig.
package configpub

import (
	"context"
	"fmt"
	"sort"

	"relay/internal/domain"
	"relay/internal/relaylog"
	"relay/internal/wire"
)

// Store is the subset of store.Store the publisher needs.
type Store interface {
	GetTradeGroup(ctx context.Context, masterAccount string) (*domain.TradeGroup, error)
	ListAllMembersForCluster(ctx context.Context, slaveAccount string) ([]*domain.TradeGroupMember, error)
}

// MasterStatusFunc resolves a Master's current evaluated status — supplied
// by evaluator.Evaluator.MasterStatus so configpub never imports evaluator
// directly.
type MasterStatusFunc func(ctx context.Context, masterAccount string) (status int, warnings []string, err error)

// Publisher is the egress side of the wire: a thread-safe, fire-and-forget
// pub-socket send.
type Publisher interface {
	Publish(topic string, fields map[string]interface{}) error
}

// VLogsSettings is the logging-config singleton build_vlogs_config reads.
type VLogsSettings struct {
	Endpoint string
	Enabled  bool
	LogLevel string
}

// Service implements build_master_config, build_slave_config, and
// build_vlogs_config plus their publication.
type Service struct {
	store        Store
	masterStatus MasterStatusFunc
	pub          Publisher
	vlogs        VLogsSettings
	log          *relaylog.Logger
}

func New(store Store, masterStatus MasterStatusFunc, pub Publisher, vlogs VLogsSettings, log *relaylog.Logger) *Service {
	return &Service{
		store:        store,
		masterStatus: masterStatus,
		pub:          pub,
		vlogs:        vlogs,
		log:          log.WithComponent("configpub"),
	}
}

// PublishMasterConfig builds and publishes the MasterConfig for
// masterAccount on config/{master_account}.
func (s *Service) PublishMasterConfig(ctx context.Context, masterAccount string) error {
	group, err := s.store.GetTradeGroup(ctx, masterAccount)
	if err != nil {
		return fmt.Errorf("configpub: load trade group %s: %w", masterAccount, err)
	}
	status, warnings, err := s.masterStatus(ctx, masterAccount)
	if err != nil {
		return fmt.Errorf("configpub: evaluate master %s: %w", masterAccount, err)
	}

	msg := &wire.MasterConfig{
		AccountID:     masterAccount,
		Status:        int64(status),
		SymbolPrefix:  group.Settings.SymbolPrefix,
		SymbolSuffix:  group.Settings.SymbolSuffix,
		ConfigVersion: group.Settings.ConfigVersion,
		WarningCodes:  warnings,
	}
	topic := wire.TopicConfig(masterAccount)
	if err := s.pub.Publish(topic, msg.ToMap()); err != nil {
		return fmt.Errorf("configpub: publish master config %s: %w", masterAccount, err)
	}
	s.log.Info("published master config", relaylog.MasterAccount(masterAccount), relaylog.Topic(topic))
	return nil
}

// PublishSlaveConfig builds and publishes the one SlaveConfig
// slaveAccount's EA receives, merged across every TradeGroup it belongs to
// per the N:N decision recorded in DESIGN.md. triggeringMaster is carried
// through only for logging — the settings source is picked independently,
// from the slave's own membership set.
func (s *Service) PublishSlaveConfig(ctx context.Context, triggeringMaster, slaveAccount string) error {
	members, err := s.store.ListAllMembersForCluster(ctx, slaveAccount)
	if err != nil {
		return fmt.Errorf("configpub: load memberships for %s: %w", slaveAccount, err)
	}
	if len(members) == 0 {
		s.log.Warn("no memberships to build slave config from", relaylog.SlaveAccount(slaveAccount))
		return nil
	}

	settingsMember := pickSettingsMember(members)
	settings := settingsMember.Settings

	mappings := make([]wire.SymbolMapping, len(settings.SymbolMappings))
	for i, sm := range settings.SymbolMappings {
		mappings[i] = wire.SymbolMapping{Source: sm.Source, Target: sm.Target}
	}

	msg := &wire.SlaveConfig{
		AccountID:                 slaveAccount,
		MasterAccount:             settingsMember.TradeGroupID,
		LotCalculationMode:        settings.LotCalculationMode,
		LotMultiplier:             settings.LotMultiplier,
		ReverseTrade:              settings.ReverseTrade,
		SymbolPrefix:              settings.SymbolPrefix,
		SymbolSuffix:              settings.SymbolSuffix,
		SymbolMappings:            mappings,
		AllowedSymbols:            settings.AllowedSymbols,
		BlockedSymbols:            settings.BlockedSymbols,
		AllowedMagicNumbers:       settings.AllowedMagicNumbers,
		BlockedMagicNumbers:       settings.BlockedMagicNumbers,
		SourceLotMin:              settings.SourceLotMin,
		SourceLotMax:              settings.SourceLotMax,
		SyncMode:                  settings.SyncMode,
		LimitOrderExpiryMin:       settings.LimitOrderExpiryMin,
		MarketSyncMaxPips:         settings.MarketSyncMaxPips,
		MaxSlippage:               settings.MaxSlippage,
		MaxRetries:                settings.MaxRetries,
		MaxSignalDelayMs:          settings.MaxSignalDelayMs,
		UsePendingOrderForDelayed: settings.UsePendingOrderForDelayed,
		CopyPendingOrders:         settings.CopyPendingOrders,
		Status:                    int64(settingsMember.RuntimeStatus),
		AllowNewOrders:            settingsMember.RuntimeStatus == domain.StatusConnected,
		WarningCodes:              settingsMember.WarningCodes,
		ConfigVersion:             settingsMember.ConfigVersion,
	}
	topic := wire.TopicConfig(slaveAccount)
	if err := s.pub.Publish(topic, msg.ToMap()); err != nil {
		return fmt.Errorf("configpub: publish slave config %s: %w", slaveAccount, err)
	}
	s.log.Info("published slave config",
		relaylog.SlaveAccount(slaveAccount), relaylog.MasterAccount(triggeringMaster), relaylog.Topic(topic))
	return nil
}

// PublishVLogsConfig publishes the process-wide logging advisory on
// config/global.
func (s *Service) PublishVLogsConfig() error {
	msg := &wire.VLogsConfig{
		Endpoint: s.vlogs.Endpoint,
		Enabled:  s.vlogs.Enabled,
		LogLevel: s.vlogs.LogLevel,
	}
	topic := wire.TopicConfigGlobal()
	if err := s.pub.Publish(topic, msg.ToMap()); err != nil {
		return fmt.Errorf("configpub: publish vlogs config: %w", err)
	}
	s.log.Info("published vlogs config", relaylog.Topic(topic))
	return nil
}

// pickSettingsMember chooses the member record whose SlaveSettings populate
// the merged SlaveConfig: the first *enabled* membership ordered by
// trade_group_id, falling back to the first membership overall if none are
// enabled.
func pickSettingsMember(members []*domain.TradeGroupMember) *domain.TradeGroupMember {
	sorted := make([]*domain.TradeGroupMember, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].TradeGroupID < sorted[j].TradeGroupID })

	for _, m := range sorted {
		if m.Enabled {
			return m
		}
	}
	return sorted[0]
}
