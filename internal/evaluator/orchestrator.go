package evaluator

import (
	"context"
	"sync"

	"relay/internal/domain"
	"relay/internal/relaylog"
)

// ConnChecker is the subset of connmgr.Manager the evaluator needs: current
// liveness and the full heartbeat-derived record.
type ConnChecker interface {
	Lookup(accountID string) (domain.EaConnection, bool)
	IsOnline(accountID string) bool
}

// Store is the subset of store.Store the evaluator needs. It is declared
// here, not imported from the store package, so evaluator stays testable
// against a fake without pulling in database/sql.
type Store interface {
	GetTradeGroup(ctx context.Context, masterAccount string) (*domain.TradeGroup, error)
	ListMembersOf(ctx context.Context, masterAccount string) ([]*domain.TradeGroupMember, error)
	ListAllMembersForCluster(ctx context.Context, slaveAccount string) ([]*domain.TradeGroupMember, error)
	UpdateRuntimeStatus(ctx context.Context, masterAccount, slaveAccount string, status int, warnings []string) (*domain.TradeGroupMember, error)
}

// StatusChangedFunc is invoked whenever an account's evaluated status
// changed as a result of this run, so the caller (the supervisor, wiring
// this to configpub) can rebuild and publish that account's config.
type StatusChangedFunc func(ctx context.Context, accountID string)

type masterSnapshot struct {
	status   int
	warnings []string
}

// Evaluator is the orchestrator described by spec §4.4: it recomputes
// affected members on every heartbeat, timeout sweep, intent toggle, config
// request, or unregister, and persists changes only when they differ from
// what is already stored.
type Evaluator struct {
	store Store
	conns ConnChecker
	log   *relaylog.Logger

	onStatusChanged StatusChangedFunc

	mu           sync.Mutex
	masterStatus map[string]masterSnapshot
}

// New builds an Evaluator. onStatusChanged may be nil (useful in tests that
// only assert on persisted state).
func New(store Store, conns ConnChecker, onStatusChanged StatusChangedFunc, log *relaylog.Logger) *Evaluator {
	return &Evaluator{
		store:           store,
		conns:           conns,
		log:             log.WithComponent("evaluator"),
		onStatusChanged: onStatusChanged,
		masterStatus:    make(map[string]masterSnapshot),
	}
}

// MasterStatus computes the current status of masterAccount. It does not
// persist anything — a Master's runtime status lives only in this
// in-memory cache and in the MasterConfig messages built from it, since
// TradeGroup rows carry no runtime_status column.
func (e *Evaluator) MasterStatus(ctx context.Context, masterAccount string) (int, []string, error) {
	group, err := e.store.GetTradeGroup(ctx, masterAccount)
	if err != nil {
		masterEvaluationsFailed.Inc()
		return domain.StatusOff, nil, err
	}
	conn, _ := e.conns.Lookup(masterAccount)
	status, warnings := EvaluateMaster(MasterInput{
		EnabledFlag:    group.Enabled,
		IsOnline:       e.conns.IsOnline(masterAccount),
		IsTradeAllowed: conn.IsTradeAllowed,
	})
	masterEvaluationsTotal.Inc()
	return status, warnings, nil
}

// EvaluateMasterAccount recomputes masterAccount's status, caches it, and —
// if it changed since the last evaluation — notifies the publisher and
// cascades re-evaluation to every Slave in its group, since their cluster
// snapshots now carry a stale entry for this Master.
func (e *Evaluator) EvaluateMasterAccount(ctx context.Context, masterAccount string) (bool, error) {
	status, warnings, err := e.MasterStatus(ctx, masterAccount)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	prev, known := e.masterStatus[masterAccount]
	e.masterStatus[masterAccount] = masterSnapshot{status: status, warnings: warnings}
	e.mu.Unlock()

	changed := !known || prev.status != status || !stringSlicesEqual(prev.warnings, warnings)
	if !changed {
		return false, nil
	}

	e.log.Info("master status changed", relaylog.MasterAccount(masterAccount))
	if e.onStatusChanged != nil {
		e.onStatusChanged(ctx, masterAccount)
	}

	members, err := e.store.ListMembersOf(ctx, masterAccount)
	if err != nil {
		e.log.Warn("could not cascade master status change to members", relaylog.MasterAccount(masterAccount))
		return true, nil
	}
	for _, m := range members {
		if _, err := e.EvaluateSlaveAccount(ctx, m.SlaveAccount); err != nil {
			e.log.Warn("cascaded slave evaluation failed", relaylog.SlaveAccount(m.SlaveAccount))
		}
	}
	return true, nil
}

// EvaluateSlaveAccount recomputes every membership row slaveAccount has,
// across all of its Masters, using one shared cluster snapshot. It persists
// a change per row (the store no-ops rows whose status/warnings already
// match) and fires onStatusChanged once if any row actually changed.
func (e *Evaluator) EvaluateSlaveAccount(ctx context.Context, slaveAccount string) (bool, error) {
	members, err := e.store.ListAllMembersForCluster(ctx, slaveAccount)
	if err != nil {
		slaveEvaluationsFailed.Inc()
		return false, err
	}
	if len(members) == 0 {
		return false, nil
	}

	conn, _ := e.conns.Lookup(slaveAccount)
	isOnline := e.conns.IsOnline(slaveAccount)

	cluster := make([]MasterStatus, 0, len(members))
	for _, m := range members {
		status, _, err := e.MasterStatus(ctx, m.TradeGroupID)
		if err != nil {
			// The Master row vanished or errored concurrently; treat it as
			// unavailable rather than dropping it from the snapshot.
			status = domain.StatusOff
		}
		cluster = append(cluster, MasterStatus{MasterAccount: m.TradeGroupID, Status: status})
	}
	lastClusterSize.WithLabelValues(slaveAccount).Set(float64(len(cluster)))

	changed := false
	for _, m := range members {
		newStatus, newWarnings := EvaluateSlave(SlaveInput{
			EnabledFlag:     m.Enabled,
			IsOnline:        isOnline,
			IsTradeAllowed:  conn.IsTradeAllowed,
			ClusterSnapshot: cluster,
		})
		prevVersion := m.ConfigVersion
		updated, err := e.store.UpdateRuntimeStatus(ctx, m.TradeGroupID, slaveAccount, newStatus, newWarnings)
		if err != nil {
			slaveEvaluationsFailed.Inc()
			return changed, err
		}
		slaveEvaluationsTotal.Inc()
		if updated.ConfigVersion != prevVersion {
			changed = true
		}
	}

	if changed {
		slaveBundlesBuilt.Inc()
		e.log.Info("slave status changed", relaylog.SlaveAccount(slaveAccount))
		if e.onStatusChanged != nil {
			e.onStatusChanged(ctx, slaveAccount)
		}
	}
	return changed, nil
}

// Evaluate re-runs whichever evaluation applies to accountID. It is the
// single entry point connmgr callbacks and the ingress handler invoke —
// they don't know or care whether the account is a Master or a Slave.
func (e *Evaluator) Evaluate(ctx context.Context, accountID string) error {
	if conn, ok := e.conns.Lookup(accountID); ok {
		if conn.Role == domain.RoleMaster {
			_, err := e.EvaluateMasterAccount(ctx, accountID)
			return err
		}
		_, err := e.EvaluateSlaveAccount(ctx, accountID)
		return err
	}

	// The account is no longer live (purged after a timeout grace period,
	// or never registered this process lifetime) — fall back to store
	// membership to decide which evaluation still applies.
	if _, err := e.store.GetTradeGroup(ctx, accountID); err == nil {
		_, err := e.EvaluateMasterAccount(ctx, accountID)
		return err
	}
	_, err := e.EvaluateSlaveAccount(ctx, accountID)
	return err
}
