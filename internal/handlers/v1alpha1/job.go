package v1alpha1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	api "github.com/crmtools/dedup-planner/api/v1alpha1"
	"github.com/crmtools/dedup-planner/internal/service"
)

// CreateJob handles (POST /api/v1alpha1/jobs).
func (h *ServiceHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.StartJobRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, service.NewErrInvalidRequest("malformed JSON body"))
		return
	}

	resp, err := h.jobs.CreateJob(r.Context(), req)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// ListJobs handles (GET /api/v1alpha1/jobs).
func (h *ServiceHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, jobs)
}

// GetJob handles (GET /api/v1alpha1/jobs/{id}).
func (h *ServiceHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

// GetPendingApproval handles (GET /api/v1alpha1/jobs/{id}/pending-approval).
func (h *ServiceHandler) GetPendingApproval(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	pending, err := h.jobs.PendingApproval(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, pending)
}

// GetPhaseDetail handles (GET /api/v1alpha1/jobs/{id}/phases/{phase}).
func (h *ServiceHandler) GetPhaseDetail(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	detail, err := h.jobs.PhaseDetail(r.Context(), id, chi.URLParam(r, "phase"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, detail)
}

// Approve handles (POST /api/v1alpha1/jobs/{id}/approve).
func (h *ServiceHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	var req api.ApprovalRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		renderError(w, r, service.NewErrInvalidRequest("malformed JSON body"))
		return
	}

	resp, err := h.jobs.Approve(r.Context(), id, req)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

// GetDashboard handles (GET /api/v1alpha1/dashboard).
func (h *ServiceHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := h.jobs.Dashboard(r.Context())
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, dash)
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		renderError(w, r, service.NewErrInvalidRequest("id is not a valid UUID"))
		return uuid.Nil, false
	}
	return id, true
}
