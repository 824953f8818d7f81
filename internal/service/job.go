// Package service implements the use cases behind the HTTP handlers:
// job submission, inspection, approval decisions and event streaming.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	api "github.com/crmtools/dedup-planner/api/v1alpha1"
	"github.com/crmtools/dedup-planner/internal/approval"
	"github.com/crmtools/dedup-planner/internal/events"
	"github.com/crmtools/dedup-planner/internal/runner"
	"github.com/crmtools/dedup-planner/internal/store"
	"github.com/crmtools/dedup-planner/internal/store/model"
	"github.com/crmtools/dedup-planner/pkg/log"
	"github.com/crmtools/dedup-planner/pkg/metrics"
)

const maxBatchSize = 10000

type JobService struct {
	store       store.Store
	runner      *runner.Runner
	gate        *approval.Gate
	broadcaster *events.Broadcaster
	// workCtx outlives individual requests; workflows started by CreateJob
	// run under it, not under the submitting request's context.
	workCtx context.Context
}

func NewJobService(workCtx context.Context, s store.Store, r *runner.Runner, gate *approval.Gate, b *events.Broadcaster) *JobService {
	return &JobService{
		store:       s,
		runner:      r,
		gate:        gate,
		broadcaster: b,
		workCtx:     workCtx,
	}
}

// CreateJob registers a new dedup run and starts its workflow. The call
// returns as soon as the record exists; it never waits on workflow
// progress.
func (s *JobService) CreateJob(ctx context.Context, req api.StartJobRequest) (*api.StartJobResponse, error) {
	tracer := log.NewDebugLogger("job_service").WithContext(ctx).
		Operation("create_job").
		WithInt("batch_size", req.BatchSize).
		WithBool("auto_approve", req.AutoApprove).
		Build()

	if req.BatchSize < 0 || req.BatchSize > maxBatchSize {
		err := NewErrInvalidRequest("batchSize out of range")
		tracer.Error(err).Log()
		return nil, err
	}

	job, err := s.store.Job().Create(ctx, model.JobConfig{
		BatchSize:   req.BatchSize,
		OwnerFilter: req.OwnerFilter,
		AutoApprove: req.AutoApprove,
	})
	if err != nil {
		tracer.Error(err).Log()
		return nil, err
	}

	metrics.IncJobCreated()
	s.runner.Start(s.workCtx, job.ID)

	tracer.Success().WithUUID("job_id", job.ID).Log()
	return &api.StartJobResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt,
	}, nil
}

func (s *JobService) GetJob(ctx context.Context, id uuid.UUID) (*api.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	out := ToAPIJob(*job)
	return &out, nil
}

func (s *JobService) ListJobs(ctx context.Context) (api.JobList, error) {
	jobs, err := s.store.Job().List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(api.JobList, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, ToAPIJob(j))
	}
	return out, nil
}

// PendingApproval returns the checkpoint currently awaiting a decision.
func (s *JobService) PendingApproval(ctx context.Context, id uuid.UUID) (*api.PendingApproval, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	if job.PendingApproval == nil {
		return nil, NewErrNoPendingApproval(id)
	}
	out := toAPIPendingApproval(id, *job.PendingApproval)
	return &out, nil
}

// Approve posts the reviewer's decision for the job's current
// checkpoint. Only the first decision per checkpoint is honored.
func (s *JobService) Approve(ctx context.Context, id uuid.UUID, req api.ApprovalRequest) (*api.ApprovalResponse, error) {
	tracer := log.NewDebugLogger("job_service").WithContext(ctx).
		Operation("approve_job").
		WithUUID("job_id", id).
		WithBool("approved", req.Approved).
		Build()

	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			err = NewErrJobNotFound(id)
		}
		tracer.Error(err).Log()
		return nil, err
	}
	if job.Status != model.JobStatusAwaitingApproval {
		err := NewErrJobNotAwaitingApproval(id, string(job.Status))
		tracer.Error(err).Log()
		return nil, err
	}

	decision := model.ApprovalDecision{
		Approved:        req.Approved,
		ExcludedPairIDs: req.ExcludedPairIDs,
		Timestamp:       time.Now(),
	}
	if err := s.gate.Post(id, decision); err != nil {
		if errors.Is(err, approval.ErrNoPendingDecision) {
			err = NewErrDecisionConflict(id)
		}
		tracer.Error(err).Log()
		return nil, err
	}

	tracer.Success().WithInt("excluded_pairs", len(req.ExcludedPairIDs)).Log()
	return &api.ApprovalResponse{
		JobID:    id,
		Approved: req.Approved,
		Status:   "accepted",
	}, nil
}

// Dashboard aggregates all known jobs into the overview payload.
func (s *JobService) Dashboard(ctx context.Context) (*api.Dashboard, error) {
	jobs, err := s.store.Job().List(ctx)
	if err != nil {
		return nil, err
	}

	dash := api.Dashboard{
		TotalJobs:    len(jobs),
		JobsByStatus: map[string]int{},
	}
	for _, j := range jobs {
		dash.JobsByStatus[string(j.Status)]++
		if j.Status == model.JobStatusAwaitingApproval {
			dash.AwaitingApproval = append(dash.AwaitingApproval, j.ID)
		}
		dash.ContactsScanned += j.Metrics.TotalContacts
		dash.DuplicatesFound += j.Metrics.DuplicatesFound
		dash.UpdatesApplied += j.Metrics.UpdatesApplied
	}
	return &dash, nil
}

// PhaseDetail looks up the most recent phase record with the given name.
func (s *JobService) PhaseDetail(ctx context.Context, id uuid.UUID, phase string) (*api.PhaseDetail, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	// A phase re-entered after a checkpoint shows up more than once; the
	// latest run is the interesting one.
	for i := len(job.Phases) - 1; i >= 0; i-- {
		if job.Phases[i].Name == phase {
			out := toAPIPhaseDetail(id, job.Phases[i])
			return &out, nil
		}
	}
	return nil, NewErrPhaseNotFound(id, phase)
}

// Subscribe attaches a live observer to the job's snapshot stream. The
// first delivery is the current state. The subscriber registers before
// the snapshot is read, so a commit racing with this call is either part
// of the snapshot or queued behind it; stale duplicates are dropped by
// version.
func (s *JobService) Subscribe(ctx context.Context, id uuid.UUID) (*events.Subscriber, error) {
	sub := s.broadcaster.Subscribe(id)
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		s.broadcaster.Unsubscribe(sub)
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	s.broadcaster.Deliver(sub, *job)
	return sub, nil
}

func (s *JobService) Unsubscribe(sub *events.Subscriber) {
	s.broadcaster.Unsubscribe(sub)
}
