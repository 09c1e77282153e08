package handlers

import (
	"net/http"

	"relay/internal/domain"
)

// ConnManager is the slice of connmgr.Manager the connections handler needs.
type ConnManager interface {
	Snapshot() []domain.EaConnection
}

type ConnectionsHandler struct {
	conns ConnManager
}

func NewConnectionsHandler(conns ConnManager) *ConnectionsHandler {
	return &ConnectionsHandler{conns: conns}
}

// GetConnections handles GET /api/connections.
func (h *ConnectionsHandler) GetConnections(w http.ResponseWriter, r *http.Request) {
	respondOK(w, h.conns.Snapshot())
}
