package server

import (
	"encoding/json"
	"net/http"

	"github.com/attestproof/attestd/pkg/database"
)

// HealthHandlers serves the operational health endpoint.
type HealthHandlers struct {
	db *database.Client
}

// NewHealthHandlers creates new health handlers.
func NewHealthHandlers(db *database.Client) *HealthHandlers {
	return &HealthHandlers{db: db}
}

// HandleHealth handles GET /health: reports database connectivity so a
// load balancer or orchestrator can route around a degraded instance.
func (h *HealthHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status, err := h.db.Health(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "detail": err.Error()})
		return
	}
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
