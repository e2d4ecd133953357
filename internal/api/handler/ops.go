package handler

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rainsar/rainsar/internal/api/response"
)

// OpsHandler serves health and readiness probes.
type OpsHandler struct {
	version string
	pool    *pgxpool.Pool
}

// NewOpsHandler creates an ops handler. pool may be nil when the API runs
// without a database.
func NewOpsHandler(version string, pool *pgxpool.Pool) *OpsHandler {
	return &OpsHandler{version: version, pool: pool}
}

// Health reports liveness.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready reports readiness, including database reachability.
func (h *OpsHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.pool != nil {
		if err := h.pool.Ping(r.Context()); err != nil {
			response.Error(w, r, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}
