// Package connmgr owns the canonical account_id -> EaConnection map: the
// relay's view of which EAs are currently alive. It is deliberately
// independent of the wire and store packages — callers translate decoded
// Heartbeat/Unregister messages into the plain fields used here.
package connmgr

import (
	"context"
	"sync"
	"time"

	"relay/internal/domain"
	"relay/internal/relaylog"
)

// HeartbeatInput is the subset of a decoded Heartbeat the manager acts on.
type HeartbeatInput struct {
	AccountID      string
	Role           domain.Role
	Platform       string
	AccountNumber  int64
	Broker         string
	Server         string
	AccountName    string
	Balance        float64
	Equity         float64
	Currency       string
	Leverage       int64
	OpenPositions  int64
	IsTradeAllowed bool
	SymbolPrefix   string
	SymbolSuffix   string
}

// Manager guards the connection map with a single mutex; every operation is
// short and holds no I/O while locked, per the concurrency model.
type Manager struct {
	mu    sync.RWMutex
	conns map[string]*domain.EaConnection

	timeoutSeconds int
	sweepInterval  time.Duration

	log *relaylog.Logger

	// Callbacks, set once at construction by the supervisor. Each fires
	// outside the manager's lock.
	onNewMaster          func(ctx context.Context, accountID string)
	onTradeAllowedChange func(ctx context.Context, accountID string)
	onLivenessChange     func(ctx context.Context, accountID string)
	onFirstHeartbeat     func(ctx context.Context, accountID string)
}

// Callbacks bundles the hooks the supervisor wires the manager to — the
// connection manager nudges the evaluator and config publisher, but never
// imports them directly.
type Callbacks struct {
	// OnNewMaster fires when an account absent from the connection table
	// heartbeats with role=Master (its first heartbeat, and again after an
	// unregister or purge), so the caller can auto-provision its TradeGroup.
	OnNewMaster func(ctx context.Context, accountID string)
	// OnTradeAllowedChange fires when is_trade_allowed flips on a heartbeat.
	OnTradeAllowedChange func(ctx context.Context, accountID string)
	// OnLivenessChange fires for accountID itself on a status transition
	// (Online/Offline/Timeout); affected Slaves are not passed to it.
	OnLivenessChange func(ctx context.Context, accountID string)
	// OnFirstHeartbeat fires when an account absent from the connection
	// table heartbeats (its first heartbeat since process startup, and again
	// after an unregister or purge), so the caller can emit an initial config.
	OnFirstHeartbeat func(ctx context.Context, accountID string)
}

// New creates a Manager. timeoutSeconds and sweepInterval control
// SweepTimeouts's default cadence and threshold (spec: 10s sweep default).
func New(timeoutSeconds int, sweepInterval time.Duration, cb Callbacks, log *relaylog.Logger) *Manager {
	return &Manager{
		conns:                make(map[string]*domain.EaConnection),
		timeoutSeconds:       timeoutSeconds,
		sweepInterval:        sweepInterval,
		log:                  log.WithComponent("connmgr"),
		onNewMaster:          cb.OnNewMaster,
		onTradeAllowedChange: cb.OnTradeAllowedChange,
		onLivenessChange:     cb.OnLivenessChange,
		onFirstHeartbeat:     cb.OnFirstHeartbeat,
	}
}

// UpdateFromHeartbeat upserts the EaConnection for h.AccountID. If the
// account is new, it is created with status=Online; if it is a new Master,
// onNewMaster fires. If is_trade_allowed transitioned, onTradeAllowedChange
// fires immediately.
func (m *Manager) UpdateFromHeartbeat(ctx context.Context, h HeartbeatInput, now time.Time) {
	m.mu.Lock()
	existing, known := m.conns[h.AccountID]
	wasOffline := known && existing.Status != domain.ConnOnline
	tradeAllowedChanged := known && existing.IsTradeAllowed != h.IsTradeAllowed

	conn := &domain.EaConnection{
		AccountID:      h.AccountID,
		Role:           h.Role,
		Platform:       h.Platform,
		AccountNumber:  h.AccountNumber,
		Broker:         h.Broker,
		Server:         h.Server,
		AccountName:    h.AccountName,
		Balance:        h.Balance,
		Equity:         h.Equity,
		Currency:       h.Currency,
		Leverage:       h.Leverage,
		LastHeartbeat:  now,
		IsTradeAllowed: h.IsTradeAllowed,
		OpenPositions:  h.OpenPositions,
		SymbolPrefix:   h.SymbolPrefix,
		SymbolSuffix:   h.SymbolSuffix,
		Status:         domain.ConnOnline,
	}
	m.conns[h.AccountID] = conn
	m.mu.Unlock()

	if !known {
		m.log.Info("ea connected", relaylog.Account(h.AccountID), relaylog.Role(string(h.Role)))
		if h.Role == domain.RoleMaster && m.onNewMaster != nil {
			m.onNewMaster(ctx, h.AccountID)
		}
		if m.onFirstHeartbeat != nil {
			m.onFirstHeartbeat(ctx, h.AccountID)
		}
	}
	if wasOffline && m.onLivenessChange != nil {
		m.onLivenessChange(ctx, h.AccountID)
	}
	if tradeAllowedChanged && m.onTradeAllowedChange != nil {
		m.onTradeAllowedChange(ctx, h.AccountID)
	}
}

// MarkUnregistered removes accountID from the live map immediately (rather
// than waiting for the sweeper's grace period) and notifies subscribers.
func (m *Manager) MarkUnregistered(ctx context.Context, accountID string) {
	m.mu.Lock()
	_, existed := m.conns[accountID]
	delete(m.conns, accountID)
	m.mu.Unlock()

	if existed {
		m.log.Info("ea unregistered", relaylog.Account(accountID))
		if m.onLivenessChange != nil {
			m.onLivenessChange(ctx, accountID)
		}
	}
}

// SweepTimeouts marks connections whose last heartbeat is older than
// timeoutSeconds as Timeout, and removes any that have been in Timeout for
// longer than unregisterGrace. It returns the account ids that changed
// status this sweep, so the caller can nudge the evaluator for each.
func (m *Manager) SweepTimeouts(ctx context.Context, now time.Time, unregisterGrace time.Duration) []string {
	timeout := time.Duration(m.timeoutSeconds) * time.Second

	var changed []string
	var purged []string

	m.mu.Lock()
	for id, conn := range m.conns {
		age := now.Sub(conn.LastHeartbeat)
		switch {
		case conn.Status != domain.ConnTimeout && age > timeout:
			conn.Status = domain.ConnTimeout
			changed = append(changed, id)
		case conn.Status == domain.ConnTimeout && age > timeout+unregisterGrace:
			purged = append(purged, id)
		}
	}
	for _, id := range purged {
		delete(m.conns, id)
	}
	m.mu.Unlock()

	for _, id := range purged {
		m.log.Info("ea purged after timeout grace period", relaylog.Account(id))
	}
	for _, id := range changed {
		m.log.Warn("ea timed out", relaylog.Account(id))
		if m.onLivenessChange != nil {
			m.onLivenessChange(ctx, id)
		}
	}
	// Purged accounts are also liveness changes (their dependents need
	// re-evaluation, e.g. a slave losing its last master membership
	// candidate), but they no longer exist for lookups — evaluators should
	// treat "not found" as equivalent to is_online=false.
	for _, id := range purged {
		if m.onLivenessChange != nil {
			m.onLivenessChange(ctx, id)
		}
	}
	return changed
}

// Lookup returns a copy of the connection record for accountID, if live.
func (m *Manager) Lookup(accountID string) (domain.EaConnection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[accountID]
	if !ok {
		return domain.EaConnection{}, false
	}
	return *conn, true
}

// Snapshot returns a copy of every live connection, for cluster queries and
// the HTTP API's /api/connections endpoint.
func (m *Manager) Snapshot() []domain.EaConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.EaConnection, 0, len(m.conns))
	for _, conn := range m.conns {
		out = append(out, *conn)
	}
	return out
}

// IsOnline reports whether accountID is currently known and has status
// Online (a Timeout or absent account is not online).
func (m *Manager) IsOnline(accountID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[accountID]
	return ok && conn.Status == domain.ConnOnline
}

// RunSweeper blocks, running SweepTimeouts every sweepInterval, until ctx is
// canceled. The supervisor launches this in its own goroutine.
func (m *Manager) RunSweeper(ctx context.Context, unregisterGrace time.Duration) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.SweepTimeouts(ctx, now, unregisterGrace)
		}
	}
}
