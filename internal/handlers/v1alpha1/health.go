package v1alpha1

import (
	"net/http"

	"github.com/go-chi/render"

	api "github.com/crmtools/dedup-planner/api/v1alpha1"
)

// Health handles (GET /health).
func (h *ServiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.Health{Status: "ok"})
}
