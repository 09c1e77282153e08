package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"relay/internal/domain"
	"relay/internal/relaylog"
)

// MemberStore is the slice of internal/store.Store the members handler
// needs.
type MemberStore interface {
	AddMember(ctx context.Context, masterAccount, slaveAccount string, settings domain.SlaveSettings) (*domain.TradeGroupMember, error)
	GetMember(ctx context.Context, masterAccount, slaveAccount string) (*domain.TradeGroupMember, error)
	ListMembersOf(ctx context.Context, masterAccount string) ([]*domain.TradeGroupMember, error)
	UpdateMemberSettings(ctx context.Context, masterAccount, slaveAccount string, settings domain.SlaveSettings) (*domain.TradeGroupMember, error)
	SetMemberEnabled(ctx context.Context, masterAccount, slaveAccount string, enabled bool) (*domain.TradeGroupMember, error)
	DeleteMember(ctx context.Context, masterAccount, slaveAccount string) error
}

type MembersHandler struct {
	store MemberStore
	eval  Evaluator
	cfg   ConfigPublisher
	hub   EventBroadcaster
	log   *relaylog.Logger
}

func NewMembersHandler(store MemberStore, eval Evaluator, cfg ConfigPublisher, hub EventBroadcaster, log *relaylog.Logger) *MembersHandler {
	return &MembersHandler{store: store, eval: eval, cfg: cfg, hub: hub, log: log.WithComponent("api")}
}

// ListMembers handles GET /api/trade-groups/{master}/members.
func (h *MembersHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	master := mux.Vars(r)["master"]
	members, err := h.store.ListMembersOf(r.Context(), master)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondOK(w, members)
}

type memberSettingsRequest struct {
	Settings domain.SlaveSettings `json:"settings"`
}

// CreateMember handles POST /api/trade-groups/{master}/members.
func (h *MembersHandler) CreateMember(w http.ResponseWriter, r *http.Request) {
	master := mux.Vars(r)["master"]

	var req memberSettingsRequest
	req.Settings = domain.DefaultSlaveSettings()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, newValidationError("invalid request body: "+err.Error()))
		return
	}

	slave := r.URL.Query().Get("slave_account")
	if slave == "" {
		writeError(w, r, newValidationError("slave_account query parameter is required"))
		return
	}

	member, err := h.store.AddMember(r.Context(), master, slave, req.Settings)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.refreshAndPublish(r.Context(), master, slave)
	h.hub.BroadcastMemberUpdated(member)
	respondCreated(w, member)
}

// UpdateMember handles PUT /api/trade-groups/{master}/members/{slave}.
func (h *MembersHandler) UpdateMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	master, slave := vars["master"], vars["slave"]

	var req memberSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, newValidationError("invalid request body: "+err.Error()))
		return
	}

	member, err := h.store.UpdateMemberSettings(r.Context(), master, slave, req.Settings)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.refreshAndPublish(r.Context(), master, slave)
	h.hub.BroadcastMemberUpdated(member)
	h.hub.BroadcastSettingsUpdated(member)
	respondOK(w, member)
}

// ToggleMember handles POST /api/trade-groups/{master}/members/{slave}/toggle.
func (h *MembersHandler) ToggleMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	master, slave := vars["master"], vars["slave"]

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, newValidationError("invalid request body: "+err.Error()))
		return
	}

	member, err := h.store.SetMemberEnabled(r.Context(), master, slave, req.Enabled)
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.refreshAndPublish(r.Context(), master, slave)
	h.hub.BroadcastMemberUpdated(member)
	respondOK(w, member)
}

// DeleteMember handles DELETE /api/trade-groups/{master}/members/{slave}.
func (h *MembersHandler) DeleteMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	master, slave := vars["master"], vars["slave"]

	if err := h.store.DeleteMember(r.Context(), master, slave); err != nil {
		writeError(w, r, err)
		return
	}

	h.hub.BroadcastMemberDeleted(map[string]string{"master_account": master, "slave_account": slave})
	w.WriteHeader(http.StatusNoContent)
}

func (h *MembersHandler) refreshAndPublish(ctx context.Context, master, slave string) {
	if err := h.eval.Evaluate(ctx, slave); err != nil {
		h.log.Warn("evaluator nudge failed after member write", relaylog.SlaveAccount(slave))
	}
	if err := h.cfg.PublishSlaveConfig(ctx, master, slave); err != nil {
		h.log.Warn("config publish failed after member write", relaylog.SlaveAccount(slave))
	}
}
