package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"relay/internal/domain"
	"relay/internal/relaylog"
)

// TradeGroupStore is the slice of internal/store.Store the trade-group
// handler needs.
type TradeGroupStore interface {
	GetTradeGroup(ctx context.Context, masterAccount string) (*domain.TradeGroup, error)
	ListTradeGroups(ctx context.Context) ([]*domain.TradeGroup, error)
	UpdateMasterSettings(ctx context.Context, masterAccount, symbolPrefix, symbolSuffix string) (*domain.TradeGroup, error)
	SetTradeGroupEnabled(ctx context.Context, masterAccount string, enabled bool) (*domain.TradeGroup, error)
	DeleteTradeGroup(ctx context.Context, masterAccount string) error
}

// Evaluator is the slice of internal/evaluator.Evaluator every mutating
// handler re-runs after its write commits, per spec §4.8.
type Evaluator interface {
	Evaluate(ctx context.Context, accountID string) error
}

// ConfigPublisher is the slice of internal/configpub.Service every mutating
// handler republishes through after its write commits.
type ConfigPublisher interface {
	PublishMasterConfig(ctx context.Context, masterAccount string) error
	PublishSlaveConfig(ctx context.Context, triggeringMaster, slaveAccount string) error
}

// EventBroadcaster is the slice of internal/api/ws.Hub the handlers push UI
// change events through.
type EventBroadcaster interface {
	BroadcastTradeGroupUpdated(data interface{})
	BroadcastMemberUpdated(data interface{})
	BroadcastMemberDeleted(data interface{})
	BroadcastSettingsUpdated(data interface{})
}

type TradeGroupsHandler struct {
	store TradeGroupStore
	eval  Evaluator
	cfg   ConfigPublisher
	hub   EventBroadcaster
	log   *relaylog.Logger
}

func NewTradeGroupsHandler(store TradeGroupStore, eval Evaluator, cfg ConfigPublisher, hub EventBroadcaster, log *relaylog.Logger) *TradeGroupsHandler {
	return &TradeGroupsHandler{store: store, eval: eval, cfg: cfg, hub: hub, log: log.WithComponent("api")}
}

// ListTradeGroups handles GET /api/trade-groups.
func (h *TradeGroupsHandler) ListTradeGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.store.ListTradeGroups(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondOK(w, groups)
}

// GetTradeGroup handles GET /api/trade-groups/{master}.
func (h *TradeGroupsHandler) GetTradeGroup(w http.ResponseWriter, r *http.Request) {
	master := mux.Vars(r)["master"]
	group, err := h.store.GetTradeGroup(r.Context(), master)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondOK(w, group)
}

type updateMasterSettingsRequest struct {
	SymbolPrefix string `json:"symbol_prefix"`
	SymbolSuffix string `json:"symbol_suffix"`
}

// UpdateTradeGroup handles PUT /api/trade-groups/{master}: updates the
// master's symbol prefix/suffix, then re-evaluates the master and republishes
// its MasterConfig before the response is returned, per spec §5's ordering
// guarantee. Member SlaveConfigs are republished only when that
// re-evaluation changes the master's status.
func (h *TradeGroupsHandler) UpdateTradeGroup(w http.ResponseWriter, r *http.Request) {
	master := mux.Vars(r)["master"]

	var req updateMasterSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, newValidationError("invalid request body: "+err.Error()))
		return
	}

	group, err := h.store.UpdateMasterSettings(r.Context(), master, req.SymbolPrefix, req.SymbolSuffix)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.refreshAndPublish(r.Context(), master)
	h.hub.BroadcastTradeGroupUpdated(group)
	h.hub.BroadcastSettingsUpdated(group)
	respondOK(w, group)
}

// ToggleTradeGroup handles POST /api/trade-groups/{master}/toggle.
func (h *TradeGroupsHandler) ToggleTradeGroup(w http.ResponseWriter, r *http.Request) {
	master := mux.Vars(r)["master"]

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, newValidationError("invalid request body: "+err.Error()))
		return
	}

	group, err := h.store.SetTradeGroupEnabled(r.Context(), master, req.Enabled)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.refreshAndPublish(r.Context(), master)
	h.hub.BroadcastTradeGroupUpdated(group)
	respondOK(w, group)
}

// DeleteTradeGroup handles DELETE /api/trade-groups/{master}.
func (h *TradeGroupsHandler) DeleteTradeGroup(w http.ResponseWriter, r *http.Request) {
	master := mux.Vars(r)["master"]

	if err := h.store.DeleteTradeGroup(r.Context(), master); err != nil {
		writeError(w, r, err)
		return
	}

	h.hub.BroadcastMemberDeleted(master)
	w.WriteHeader(http.StatusNoContent)
}

// refreshAndPublish re-runs the evaluator for master and republishes its
// config, logging rather than failing the request on either error — the
// write already committed, so the HTTP response must reflect success even
// if the advisory re-publish has trouble.
func (h *TradeGroupsHandler) refreshAndPublish(ctx context.Context, master string) {
	if err := h.eval.Evaluate(ctx, master); err != nil {
		h.log.Warn("evaluator nudge failed after trade group write", relaylog.MasterAccount(master))
	}
	if err := h.cfg.PublishMasterConfig(ctx, master); err != nil {
		h.log.Warn("config publish failed after trade group write", relaylog.MasterAccount(master))
	}
}
