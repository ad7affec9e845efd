package handler

import (
	"net/http"

	"kidscanvas/internal/httputil"
)

// HealthCheck reports service liveness.
// GET /api/health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
