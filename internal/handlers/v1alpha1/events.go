package v1alpha1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/crmtools/dedup-planner/internal/service"
	"github.com/crmtools/dedup-planner/internal/store/model"
)

// StreamEvents handles (GET /api/v1alpha1/jobs/{id}/events).
//
// Snapshots are streamed as server-sent events, one full job state per
// event, in commit order. The first event is always the current state,
// so a client that connects late still renders correctly.
func (h *ServiceHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		renderError(w, r, fmt.Errorf("streaming unsupported by connection"))
		return
	}

	sub, err := h.jobs.Subscribe(r.Context(), id)
	if err != nil {
		renderError(w, r, err)
		return
	}
	defer h.jobs.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := zap.S().Named("events_handler").With("job_id", id.String())
	logger.Debugw("event stream opened")

	for {
		select {
		case snapshot, open := <-sub.Updates():
			if !open {
				logger.Debugw("event stream detached")
				return
			}
			if err := writeEvent(w, snapshot); err != nil {
				logger.Debugw("client went away", "error", err)
				return
			}
			flusher.Flush()
			if snapshot.Status.IsTerminal() {
				logger.Debugw("event stream finished", "status", snapshot.Status)
				return
			}
		case <-r.Context().Done():
			logger.Debugw("event stream closed by client")
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, job model.Job) error {
	payload, err := json.Marshal(service.ToAPIJob(job))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: job\ndata: %s\n\n", payload)
	return err
}
