// Package supervisor assembles every relay component into one running
// process: it owns construction order, the three long-lived loops (ingress,
// egress accept, HTTP+WS), the heartbeat sweeper, and graceful shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"relay/internal/api"
	"relay/internal/api/ws"
	"relay/internal/config"
	"relay/internal/configpub"
	"relay/internal/connmgr"
	"relay/internal/copyengine"
	"relay/internal/domain"
	"relay/internal/egress"
	"relay/internal/evaluator"
	"relay/internal/ingress"
	"relay/internal/relaylog"
	"relay/internal/store"
	"relay/pkg/ratelimit"
)

// Supervisor owns every constructed component for one relay process and
// coordinates their startup and shutdown.
type Supervisor struct {
	cfg *config.Config
	log *relaylog.Logger

	store           *store.Store
	conns           *connmgr.Manager
	eval            *evaluator.Evaluator
	cfgpub          *configpub.Service
	engine          *copyengine.Engine
	egressSrv       *egress.Server
	ingressListener *ingress.Listener
	hub             *ws.Hub
	httpServer      *http.Server

	receiverPort  int
	publisherPort int
}

// New constructs every component and wires their callbacks, but binds no
// sockets and starts no goroutines yet — call Run for that.
func New(ctx context.Context, cfg *config.Config, log *relaylog.Logger) (*Supervisor, error) {
	st, err := store.Open(ctx, cfg.Database.Path, log)
	if err != nil {
		return nil, fmt.Errorf("supervisor: open store: %w", err)
	}

	sup := &Supervisor{cfg: cfg, log: log, store: st}

	sup.egressSrv = egress.New(log)

	// masterStatus closes over sup.eval rather than taking it as a direct
	// argument, since configpub and evaluator would otherwise need each
	// other at construction time.
	masterStatus := func(ctx context.Context, masterAccount string) (int, []string, error) {
		return sup.eval.MasterStatus(ctx, masterAccount)
	}
	sup.cfgpub = configpub.New(st, masterStatus, sup.egressSrv, configpub.VLogsSettings{
		Endpoint: fmt.Sprintf(":%d", cfg.Transport.EgressPort),
		Enabled:  true,
		LogLevel: cfg.Logging.Level,
	}, log)

	sup.hub = ws.NewHub(log)

	conns := connmgr.New(cfg.Sweep.TimeoutSeconds, cfg.Sweep.Interval, connmgr.Callbacks{
		OnNewMaster:          sup.onNewMaster,
		OnTradeAllowedChange: sup.onEvaluate,
		OnLivenessChange:     sup.onLivenessChange,
		OnFirstHeartbeat:     sup.onEvaluate,
	}, log)
	sup.conns = conns

	sup.eval = evaluator.New(st, conns, sup.onStatusChanged, log)
	sup.engine = copyengine.New(st, sup.egressSrv, log)

	ingressHandler := ingress.New(conns, sup.eval, sup.cfgpub, sup.engine, sup.egressSrv, ratelimit.NewMultiLimiter(), log)
	sup.ingressListener = ingress.NewListener(ingressHandler, log)

	return sup, nil
}

// onNewMaster auto-provisions a TradeGroup the first time an unknown
// account heartbeats with role=Master, per spec §4.9/§4.2.
func (s *Supervisor) onNewMaster(ctx context.Context, accountID string) {
	if _, err := s.store.CreateTradeGroup(ctx, accountID); err != nil {
		s.log.Warn("auto-provision trade group failed", relaylog.MasterAccount(accountID), relaylog.Err(err))
	}
}

// onEvaluate re-runs the evaluator for accountID; Evaluate itself decides
// whether anything changed and needs republishing.
func (s *Supervisor) onEvaluate(ctx context.Context, accountID string) {
	if err := s.eval.Evaluate(ctx, accountID); err != nil {
		s.log.Warn("evaluate failed", relaylog.Account(accountID), relaylog.Err(err))
	}
}

// onLivenessChange re-evaluates accountID and broadcasts the connect/
// disconnect event over the WebSocket hub, per spec §4.8's event list.
func (s *Supervisor) onLivenessChange(ctx context.Context, accountID string) {
	s.onEvaluate(ctx, accountID)

	if conn, ok := s.conns.Lookup(accountID); ok && conn.Status == domain.ConnOnline {
		s.hub.BroadcastEAConnected(accountID)
		return
	}
	s.hub.BroadcastEADisconnected(accountID)
}

// onStatusChanged republishes whichever config accountID's evaluated status
// affects. StatusChangedFunc carries only an account id, not its role, so a
// TradeGroup lookup distinguishes Master from Slave: accountID is a Master
// iff it owns a TradeGroup row. Purged/unknown accounts fall through to the
// Slave branch, which is a safe no-op when accountID has no memberships
// (PublishSlaveConfig logs and returns nil in that case).
func (s *Supervisor) onStatusChanged(ctx context.Context, accountID string) {
	if _, err := s.store.GetTradeGroup(ctx, accountID); err == nil {
		if err := s.cfgpub.PublishMasterConfig(ctx, accountID); err != nil {
			s.log.Warn("publish master config failed", relaylog.MasterAccount(accountID), relaylog.Err(err))
		}
		s.hub.BroadcastTradeGroupUpdated(accountID)
		return
	}
	if err := s.cfgpub.PublishSlaveConfig(ctx, accountID, accountID); err != nil {
		s.log.Warn("publish slave config failed", relaylog.SlaveAccount(accountID), relaylog.Err(err))
	}
	s.hub.BroadcastMemberUpdated(accountID)
}

// Run binds both transport sockets (applying dynamic-port fallback and
// persistence per spec §4.9), starts every background loop, serves HTTP
// until ctx is canceled or the server itself fails, then shuts everything
// down.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.bindSockets(ctx); err != nil {
		return err
	}

	go s.conns.RunSweeper(ctx, s.cfg.Sweep.UnregisterGrace)
	go s.hub.Run()

	deps := &api.Dependencies{
		Store:  s.store,
		Conns:  s.conns,
		Eval:   s.eval,
		Config: s.cfgpub,
		Hub:    s.hub,
		Cfg:    s.cfg,
		Log:    s.log,
	}
	router := api.SetupRoutes(deps)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", relaylog.String("addr", s.httpServer.Addr))
		var err error
		if s.cfg.Security.TLSCertFile != "" && s.cfg.Security.TLSKeyFile != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Security.TLSCertFile, s.cfg.Security.TLSKeyFile)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			s.shutdown()
			return fmt.Errorf("supervisor: http server failed: %w", err)
		}
	}

	return s.shutdown()
}

// bindSockets binds the ingress and egress ports, falling back to the
// previously persisted port and finally to OS assignment (":0") when the
// configured port is no longer bindable, then persists whatever was
// actually bound. Ports are persisted in the store rather than a separate
// runtime-ports file, since the relay already has exactly one persistence
// mechanism (the embedded database) and a second file would just be a
// second place for the two to drift apart.
func (s *Supervisor) bindSockets(ctx context.Context) error {
	persistedReceiver, persistedPublisher := 0, 0
	if persisted, err := s.store.GetRuntimePorts(ctx); err != nil {
		s.log.Warn("load persisted runtime ports failed, using configured values", relaylog.Err(err))
	} else if persisted != nil {
		persistedReceiver, persistedPublisher = persisted.ReceiverPort, persisted.PublisherPort
	}

	receiverPort, err := bindWithFallback(s.cfg.Transport.IngressPort, persistedReceiver, func(addr string) (int, error) {
		return s.ingressListener.Listen(ctx, addr)
	})
	if err != nil {
		return fmt.Errorf("supervisor: bind ingress: %w", err)
	}

	publisherPort, err := bindWithFallback(s.cfg.Transport.EgressPort, persistedPublisher, func(addr string) (int, error) {
		return s.egressSrv.Listen(addr)
	})
	if err != nil {
		return fmt.Errorf("supervisor: bind egress: %w", err)
	}

	s.receiverPort, s.publisherPort = receiverPort, publisherPort
	if _, err := s.store.SaveRuntimePorts(ctx, receiverPort, publisherPort); err != nil {
		return fmt.Errorf("supervisor: persist runtime ports: %w", err)
	}
	s.log.Info("transport sockets bound",
		relaylog.Int("receiver_port", receiverPort), relaylog.Int("publisher_port", publisherPort))
	return nil
}

// bindWithFallback tries the configured port, then the previously persisted
// port, then OS-assigned (":0"), returning the first one that binds. A
// configured port of 0 starts with the persisted port, so a port the OS
// assigned on an earlier start is reused while it is still free.
func bindWithFallback(configured, persisted int, bind func(addr string) (int, error)) (int, error) {
	var candidates []int
	if configured != 0 {
		candidates = append(candidates, configured)
	}
	if persisted != 0 && persisted != configured {
		candidates = append(candidates, persisted)
	}
	candidates = append(candidates, 0)

	var lastErr error
	for _, port := range candidates {
		addr := fmt.Sprintf(":%d", port)
		bound, err := bind(addr)
		if err == nil {
			return bound, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (s *Supervisor) shutdown() error {
	s.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("http server shutdown error", relaylog.Err(err))
		}
	}

	if err := s.ingressListener.Close(); err != nil {
		s.log.Warn("ingress listener close error", relaylog.Err(err))
	}
	if err := s.egressSrv.Close(); err != nil {
		s.log.Warn("egress server close error", relaylog.Err(err))
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn("store close error", relaylog.Err(err))
		return err
	}
	return nil
}
