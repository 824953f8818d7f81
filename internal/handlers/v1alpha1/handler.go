// Package v1alpha1 wires the HTTP surface of the dedup planner to the
// service layer.
package v1alpha1

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	api "github.com/crmtools/dedup-planner/api/v1alpha1"
	"github.com/crmtools/dedup-planner/internal/service"
	"github.com/crmtools/dedup-planner/pkg/requestid"
)

type ServiceHandler struct {
	jobs *service.JobService
}

func NewServiceHandler(jobs *service.JobService) *ServiceHandler {
	return &ServiceHandler{jobs: jobs}
}

// Routes mounts the versioned API.
func (h *ServiceHandler) Routes(r chi.Router) {
	r.Route("/api/v1alpha1", func(r chi.Router) {
		r.Get("/dashboard", h.GetDashboard)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.CreateJob)
			r.Get("/", h.ListJobs)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetJob)
				r.Get("/pending-approval", h.GetPendingApproval)
				r.Get("/phases/{phase}", h.GetPhaseDetail)
				r.Post("/approve", h.Approve)
				r.Get("/events", h.StreamEvents)
			})
		})
	})
	r.Get("/health", h.Health)
}

// renderError maps service errors to their HTTP status and the uniform
// error body.
func renderError(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case isErr[*service.ErrJobNotFound](err), isErr[*service.ErrNoPendingApproval](err), isErr[*service.ErrPhaseNotFound](err):
		code = http.StatusNotFound
	case isErr[*service.ErrJobNotAwaitingApproval](err), isErr[*service.ErrInvalidRequest](err):
		code = http.StatusBadRequest
	case isErr[*service.ErrDecisionConflict](err):
		code = http.StatusConflict
	}

	render.Status(r, code)
	render.JSON(w, r, api.Error{
		Code:      code,
		Message:   err.Error(),
		RequestID: requestid.FromRequest(r),
	})
}

func isErr[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
