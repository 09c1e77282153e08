// Package ingress is the single owner of the pull socket: it accepts EA
// connections, decodes frames, and dispatches each decoded message to the
// connection manager, evaluator, copy engine, or config publisher. No other
// package touches the pull socket.
package ingress

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"relay/internal/connmgr"
	"relay/internal/domain"
	"relay/internal/relaylog"
	"relay/internal/wire"
	"relay/pkg/ratelimit"
)

// Conns is the subset of connmgr.Manager the handler needs.
type Conns interface {
	UpdateFromHeartbeat(ctx context.Context, h connmgr.HeartbeatInput, now time.Time)
	MarkUnregistered(ctx context.Context, accountID string)
}

// Evaluator is the subset of evaluator.Evaluator the handler needs.
type Evaluator interface {
	Evaluate(ctx context.Context, accountID string) error
}

// ConfigPublisher is the subset of configpub.Service the handler needs.
type ConfigPublisher interface {
	PublishMasterConfig(ctx context.Context, masterAccount string) error
	PublishSlaveConfig(ctx context.Context, triggeringMaster, slaveAccount string) error
}

// TradeHandler is the subset of copyengine.Engine the handler needs.
type TradeHandler interface {
	HandleTradeSignal(ctx context.Context, signal *wire.TradeSignal) error
}

// Publisher is the egress side of the wire, used to republish sync traffic
// verbatim.
type Publisher interface {
	Publish(topic string, fields map[string]interface{}) error
}

// Handler decodes and dispatches every inbound frame. It tracks one piece of
// request/response correlation state of its own: which Slave a Master's next
// PositionSnapshot should be forwarded to, recorded when that Master's
// matching SyncRequest passed through.
type Handler struct {
	conns    Conns
	eval     Evaluator
	cfg      ConfigPublisher
	trade    TradeHandler
	pub      Publisher
	limiter  *ratelimit.MultiLimiter
	log      *relaylog.Logger

	mu          sync.Mutex
	pendingSync map[string]string // master account -> slave account
}

func New(conns Conns, eval Evaluator, cfg ConfigPublisher, trade TradeHandler, pub Publisher, limiter *ratelimit.MultiLimiter, log *relaylog.Logger) *Handler {
	return &Handler{
		conns:       conns,
		eval:        eval,
		cfg:         cfg,
		trade:       trade,
		pub:         pub,
		limiter:     limiter,
		log:         log.WithComponent("ingress"),
		pendingSync: make(map[string]string),
	}
}

// HandleFrame dispatches one already-decoded frame (topic plus its field
// map, as produced by wire.ReadFrame). It never returns an error to the
// caller — decode failures and dispatch failures are logged and dropped,
// per the message handler's failure semantics, and a panic inside dispatch
// is recovered so it can never tear down the ingress loop.
func (h *Handler) HandleFrame(ctx context.Context, topic string, fields map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic recovered in ingress dispatch",
				relaylog.Component(fmt.Sprintf("%v", r)))
			h.log.Debug(string(debug.Stack()))
			framesPanicked.Inc()
		}
	}()

	msg, err := wire.DecodeMessage(fields)
	if err != nil {
		framesDropped.WithLabelValues("malformed_payload").Inc()
		h.log.Warn("dropped malformed payload", relaylog.Topic(topic))
		return
	}

	accountID := accountIDOf(msg)
	if accountID != "" && h.limiter != nil && !h.limiter.Allow(accountID) {
		framesDropped.WithLabelValues("rate_limited").Inc()
		h.log.Warn("dropped frame over per-account rate limit", relaylog.Account(accountID))
		return
	}

	switch m := msg.(type) {
	case *wire.Heartbeat:
		h.handleHeartbeat(ctx, m)
	case *wire.TradeSignal:
		h.handleTradeSignal(ctx, m)
	case *wire.RequestConfig:
		h.handleRequestConfig(ctx, m)
	case *wire.SyncRequest:
		h.handleSyncRequest(m)
	case *wire.PositionSnapshot:
		h.handlePositionSnapshot(m)
	case *wire.Unregister:
		h.handleUnregister(ctx, m)
	default:
		h.log.Warn("dropped frame of unhandled message type")
	}
	framesHandled.Inc()
}

func accountIDOf(msg interface{}) string {
	switch m := msg.(type) {
	case *wire.Heartbeat:
		return m.AccountID
	case *wire.TradeSignal:
		return m.SourceAccount
	case *wire.RequestConfig:
		return m.AccountID
	case *wire.Unregister:
		return m.AccountID
	case *wire.SyncRequest:
		return m.SlaveAccount
	case *wire.PositionSnapshot:
		return m.SourceAccount
	default:
		return ""
	}
}

func (h *Handler) handleHeartbeat(ctx context.Context, m *wire.Heartbeat) {
	role := domain.RoleSlave
	if m.Role == wire.RoleMaster {
		role = domain.RoleMaster
	}
	input := connmgr.HeartbeatInput{
		AccountID:      m.AccountID,
		Role:           role,
		Platform:       m.Platform,
		AccountNumber:  m.AccountNumber,
		Broker:         m.Broker,
		Server:         m.Server,
		AccountName:    m.AccountName,
		Balance:        m.Balance,
		Equity:         m.Equity,
		Currency:       m.Currency,
		Leverage:       m.Leverage,
		OpenPositions:  m.OpenPositions,
		IsTradeAllowed: m.IsTradeAllowed,
	}
	if m.SymbolPrefix != nil {
		input.SymbolPrefix = *m.SymbolPrefix
	}
	if m.SymbolSuffix != nil {
		input.SymbolSuffix = *m.SymbolSuffix
	}
	h.conns.UpdateFromHeartbeat(ctx, input, time.Now())
	if err := h.eval.Evaluate(ctx, m.AccountID); err != nil {
		h.log.Warn("evaluator nudge failed for heartbeat", relaylog.Account(m.AccountID))
	}
}

func (h *Handler) handleTradeSignal(ctx context.Context, m *wire.TradeSignal) {
	if err := h.trade.HandleTradeSignal(ctx, m); err != nil {
		h.log.Warn("copy engine failed to handle trade signal", relaylog.MasterAccount(m.SourceAccount))
	}
}

func (h *Handler) handleRequestConfig(ctx context.Context, m *wire.RequestConfig) {
	if err := h.eval.Evaluate(ctx, m.AccountID); err != nil {
		h.log.Warn("evaluator nudge failed for request_config", relaylog.Account(m.AccountID))
	}
	var err error
	if m.Role == wire.RoleMaster {
		err = h.cfg.PublishMasterConfig(ctx, m.AccountID)
	} else {
		err = h.cfg.PublishSlaveConfig(ctx, m.AccountID, m.AccountID)
	}
	if err != nil {
		h.log.Warn("config publish failed for request_config", relaylog.Account(m.AccountID))
	}
}

func (h *Handler) handleSyncRequest(m *wire.SyncRequest) {
	h.mu.Lock()
	h.pendingSync[m.MasterAccount] = m.SlaveAccount
	h.mu.Unlock()

	topic := wire.TopicSync(m.MasterAccount, m.SlaveAccount)
	if err := h.pub.Publish(topic, m.ToMap()); err != nil {
		h.log.Warn("failed to republish sync request", relaylog.Topic(topic))
	}
}

func (h *Handler) handlePositionSnapshot(m *wire.PositionSnapshot) {
	h.mu.Lock()
	slaveAccount, ok := h.pendingSync[m.SourceAccount]
	h.mu.Unlock()
	if !ok {
		h.log.Warn("dropped position snapshot with no pending sync request", relaylog.MasterAccount(m.SourceAccount))
		return
	}

	topic := wire.TopicSync(m.SourceAccount, slaveAccount)
	if err := h.pub.Publish(topic, m.ToMap()); err != nil {
		h.log.Warn("failed to republish position snapshot", relaylog.Topic(topic))
	}
}

func (h *Handler) handleUnregister(ctx context.Context, m *wire.Unregister) {
	h.conns.MarkUnregistered(ctx, m.AccountID)
	if err := h.eval.Evaluate(ctx, m.AccountID); err != nil {
		h.log.Warn("evaluator nudge failed for unregister", relaylog.Account(m.AccountID))
	}
}

// Listener accepts EA connections on a TCP port and hands each frame it
// reads to Handler.HandleFrame, one connection per goroutine — the ingress
// socket is "owned by exactly one task" per spec in the sense that all
// decoded messages funnel through this single Handler, not in the sense of
// a single OS thread.
type Listener struct {
	handler *Handler
	log     *relaylog.Logger

	listener net.Listener
}

func NewListener(handler *Handler, log *relaylog.Logger) *Listener {
	return &Listener{handler: handler, log: log.WithComponent("ingress")}
}

// Listen binds addr (":0" for OS-assigned) and starts accepting connections
// in the background, returning the actually bound port.
func (l *Listener) Listen(ctx context.Context, addr string) (int, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, err
	}
	l.listener = ln
	go l.acceptLoop(ctx, ln)
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func (l *Listener) Close() error {
	if l.listener == nil {
		return nil
	}
	return l.listener.Close()
}

func (l *Listener) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.log.Debug("ingress listener stopped accepting")
			return
		}
		go l.readLoop(ctx, conn)
	}
}

func (l *Listener) readLoop(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		topic, fields, err := wire.ReadFrame(conn)
		if err != nil {
			return
		}
		l.handler.HandleFrame(ctx, topic, fields)
	}
}
