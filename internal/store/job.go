package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crmtools/dedup-planner/internal/store/model"
)

// MetricsDelta is applied to a job's metrics under the store lock, so
// concurrent updates incrementing different counters never lose writes.
type MetricsDelta struct {
	TotalContacts   int
	TotalAccounts   int
	EmailsValidated int
	DuplicatesFound int
	UpdatesApplied  int
	Errors          []model.ItemError
}

// JobPatch is a shallow merge of top-level fields: nil fields are left
// untouched, Progress/PendingApproval/ApprovalDecision are replaced
// wholesale and Metrics are adjusted by delta. Clearing a pointer field
// is explicit so a nil value can never be mistaken for "no change".
type JobPatch struct {
	Status               *model.JobStatus
	Progress             *model.Progress
	Metrics              *MetricsDelta
	Phases               []model.PhaseRecord
	PendingApproval      *model.PendingApproval
	ClearPendingApproval bool
	Decision             *model.ApprovalDecision
	ClearDecision        bool
	Results              *model.Results
	Error                *string
}

type Job interface {
	Create(ctx context.Context, config model.JobConfig) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	Update(ctx context.Context, id uuid.UUID, patch JobPatch) (*model.Job, error)
	List(ctx context.Context) (model.JobList, error)
}

// CommitHook is invoked after every committed mutation with a snapshot of
// the new state. Invocations for one job happen in commit order; the
// store lock is not held while the hook runs. The hook must not block:
// while one job's hook runs, a racing update to the same job holds the
// store lock until the hook returns, stalling every other job.
type CommitHook func(job model.Job)

type jobEntry struct {
	job model.Job
	// notifyMu serializes post-commit notifications for this job. It is
	// acquired while the store lock is still held, so notification order
	// matches commit order.
	notifyMu sync.Mutex
}

type JobStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*jobEntry
	order    []uuid.UUID
	onCommit CommitHook
	nowFunc  func() time.Time
}

var _ Job = (*JobStore)(nil)

func NewJobStore(onCommit CommitHook) *JobStore {
	return &JobStore{
		jobs:     make(map[uuid.UUID]*jobEntry),
		onCommit: onCommit,
		nowFunc:  time.Now,
	}
}

func (s *JobStore) Create(ctx context.Context, config model.JobConfig) (*model.Job, error) {
	now := s.nowFunc()
	job := model.Job{
		ID:     uuid.New(),
		Status: model.JobStatusPending,
		Config: config,
		Progress: model.Progress{
			Phase:   "initializing",
			Message: "Job created",
		},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}

	s.mu.Lock()
	s.jobs[job.ID] = &jobEntry{job: job}
	s.order = append(s.order, job.ID)
	s.mu.Unlock()

	out := job.Copy()
	return &out, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.jobs[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	out := entry.job.Copy()
	return &out, nil
}

func (s *JobStore) Update(ctx context.Context, id uuid.UUID, patch JobPatch) (*model.Job, error) {
	s.mu.Lock()
	entry, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrRecordNotFound
	}

	// The patch is applied to a copy; the live record changes only once
	// the whole patch validated. A rejected patch must leave no trace.
	updated := entry.job.Copy()
	job := &updated
	if patch.Status != nil && *patch.Status != job.Status {
		if !validTransition(job.Status, *patch.Status) {
			s.mu.Unlock()
			return nil, ErrInvalidTransition
		}
		job.Status = *patch.Status
	}
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.Metrics != nil {
		applyMetricsDelta(&job.Metrics, patch.Metrics)
	}
	if patch.Phases != nil {
		job.Phases = append([]model.PhaseRecord(nil), patch.Phases...)
	}
	if patch.ClearPendingApproval {
		job.PendingApproval = nil
	} else if patch.PendingApproval != nil {
		pa := *patch.PendingApproval
		job.PendingApproval = &pa
	}
	if patch.ClearDecision {
		job.ApprovalDecision = nil
	} else if patch.Decision != nil {
		d := *patch.Decision
		job.ApprovalDecision = &d
	}
	if patch.Results != nil {
		res := *patch.Results
		job.Results = &res
	}
	if patch.Error != nil {
		msg := *patch.Error
		job.Error = &msg
	}

	if (job.Status == model.JobStatusAwaitingApproval) != (job.PendingApproval != nil) {
		s.mu.Unlock()
		return nil, ErrInvalidPatch
	}

	if now := s.nowFunc(); now.After(job.UpdatedAt) {
		job.UpdatedAt = now
	}
	job.Version++

	entry.job = updated
	snapshot := job.Copy()
	// Take the per-job notify lock before releasing the store lock so two
	// racing updates cannot publish out of commit order.
	entry.notifyMu.Lock()
	s.mu.Unlock()

	if s.onCommit != nil {
		s.onCommit(snapshot)
	}
	entry.notifyMu.Unlock()

	out := snapshot.Copy()
	return &out, nil
}

func (s *JobStore) List(ctx context.Context) (model.JobList, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make(model.JobList, 0, len(s.order))
	for _, id := range s.order {
		jobs = append(jobs, s.jobs[id].job.Copy())
	}
	return jobs, nil
}

func applyMetricsDelta(m *model.Metrics, d *MetricsDelta) {
	m.TotalContacts += d.TotalContacts
	m.TotalAccounts += d.TotalAccounts
	m.EmailsValidated += d.EmailsValidated
	m.DuplicatesFound += d.DuplicatesFound
	m.UpdatesApplied += d.UpdatesApplied
	if len(d.Errors) > 0 {
		m.Errors = append(m.Errors, d.Errors...)
	}
}

func validTransition(from, to model.JobStatus) bool {
	switch from {
	case model.JobStatusPending:
		return to == model.JobStatusRunning || to == model.JobStatusFailed || to == model.JobStatusCancelled
	case model.JobStatusRunning:
		return to == model.JobStatusAwaitingApproval || to.IsTerminal()
	case model.JobStatusAwaitingApproval:
		return to == model.JobStatusRunning || to == model.JobStatusCancelled || to == model.JobStatusFailed
	default:
		// Terminal states have no outgoing edges.
		return false
	}
}
