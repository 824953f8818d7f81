// Package runner executes the dedup workflow for one job on a dedicated
// goroutine. Phases run strictly in order; each phase commits its
// progress to the store, and approval checkpoints block on the gate
// until a reviewer decides or the timeout denies by default.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmtools/dedup-planner/internal/approval"
	"github.com/crmtools/dedup-planner/internal/classifier"
	"github.com/crmtools/dedup-planner/internal/crm"
	"github.com/crmtools/dedup-planner/internal/report"
	"github.com/crmtools/dedup-planner/internal/store"
	"github.com/crmtools/dedup-planner/internal/store/model"
	"github.com/crmtools/dedup-planner/pkg/metrics"
)

// Workflow phases, in execution order.
const (
	PhaseConnect          = "connect"
	PhaseExtract          = "extract"
	PhaseValidateEmails   = "validate_emails"
	PhaseDetectDuplicates = "detect_duplicates"
	PhasePrepareUpdates   = "prepare_updates"
	PhaseApproval         = "approval_checkpoint"
	PhaseApplyUpdates     = "apply_updates"
	PhaseFinalize         = "finalize"
)

const totalSteps = 8

const defaultMutationBatchSize = 200

type Runner struct {
	store      store.Store
	gate       *approval.Gate
	dataSource crm.DataSource
	classifier classifier.Classifier
	reports    report.Sink

	approvalTimeout   time.Duration
	mutationBatchSize int
}

type Option func(*Runner)

// WithApprovalTimeout overrides how long a checkpoint waits before
// denying by default.
func WithApprovalTimeout(d time.Duration) Option {
	return func(r *Runner) { r.approvalTimeout = d }
}

// WithMutationBatchSize overrides how many contact updates go into one
// CRM batch.
func WithMutationBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.mutationBatchSize = n
		}
	}
}

// WithReportSink enables end-of-run report generation.
func WithReportSink(sink report.Sink) Option {
	return func(r *Runner) { r.reports = sink }
}

func New(s store.Store, gate *approval.Gate, ds crm.DataSource, cl classifier.Classifier, opts ...Option) *Runner {
	r := &Runner{
		store:             s,
		gate:              gate,
		dataSource:        ds,
		classifier:        cl,
		approvalTimeout:   time.Hour,
		mutationBatchSize: defaultMutationBatchSize,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start schedules the job's workflow on its own goroutine and returns
// immediately. The submission path never blocks on workflow progress.
func (r *Runner) Start(ctx context.Context, jobID uuid.UUID) {
	go r.run(ctx, jobID)
}

func (r *Runner) run(ctx context.Context, jobID uuid.UUID) {
	logger := zap.S().Named("runner").With("job_id", jobID.String())
	phases := newPhaseLog()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorw("workflow panicked", "panic", rec)
			r.markFailed(ctx, jobID, phases, fmt.Errorf("internal error: %v", rec))
		}
	}()

	job, err := r.store.Job().Get(ctx, jobID)
	if err != nil {
		logger.Errorw("job disappeared before start", "error", err)
		return
	}
	cfg := job.Config

	logger.Infow("workflow started", "auto_approve", cfg.AutoApprove, "batch_size", cfg.BatchSize)

	// connect
	running := model.JobStatusRunning
	if !r.updateJob(ctx, jobID, store.JobPatch{
		Status:   &running,
		Progress: progress(PhaseConnect, 1, "Connecting to CRM..."),
		Phases:   phases.begin(PhaseConnect, "Connecting to CRM"),
	}) {
		return
	}

	phaseStart := time.Now()
	conn, err := r.dataSource.Connect(ctx)
	if err != nil {
		r.markFailed(ctx, jobID, phases, crm.NewConnectionError(err))
		return
	}
	metrics.ObservePhaseDuration(PhaseConnect, time.Since(phaseStart))

	// extract
	if !r.updateJob(ctx, jobID, store.JobPatch{
		Progress: progress(PhaseExtract, 2, "Extracting contacts..."),
		Phases:   phases.begin(PhaseExtract, "Extracting contacts"),
	}) {
		return
	}

	phaseStart = time.Now()
	contacts, err := conn.ExtractContacts(ctx, crm.ExtractFilter{
		BatchSize: cfg.BatchSize,
		OwnerIDs:  cfg.OwnerFilter,
	})
	if err != nil {
		r.markFailed(ctx, jobID, phases, crm.NewExtractionError(err))
		return
	}
	groups := groupByAccount(contacts)
	metrics.ObservePhaseDuration(PhaseExtract, time.Since(phaseStart))

	if !r.updateJob(ctx, jobID, store.JobPatch{
		Progress: progress(PhaseValidateEmails, 3, fmt.Sprintf("Validating emails of %d contacts...", len(contacts))),
		Metrics:  &store.MetricsDelta{TotalContacts: len(contacts), TotalAccounts: len(groups)},
		Phases:   phases.begin(PhaseValidateEmails, "Validating emails from activity history"),
	}) {
		return
	}

	// validate_emails
	phaseStart = time.Now()
	activities, err := conn.ExtractActivities(ctx, contactIDs(contacts))
	if err != nil {
		// Activity history is an enrichment; without it every contact
		// simply validates to Unknown.
		logger.Warnw("activity extraction failed, continuing without history", "error", err)
		activities = nil
	}
	emailUpdates := validateEmails(contacts, activities, time.Now())
	metrics.ObservePhaseDuration(PhaseValidateEmails, time.Since(phaseStart))

	if !r.updateJob(ctx, jobID, store.JobPatch{
		Progress: progress(PhaseDetectDuplicates, 4, fmt.Sprintf("Detecting duplicates across %d accounts...", len(groups))),
		Metrics:  &store.MetricsDelta{EmailsValidated: len(contacts)},
		Phases:   phases.begin(PhaseDetectDuplicates, "Classifying contacts per account"),
	}) {
		return
	}

	// detect_duplicates: accounts are classified independently, one
	// account's failure never aborts the others.
	phaseStart = time.Now()
	var candidates []classifier.CandidatePair
	for _, g := range groups {
		if len(g.contacts) < 2 {
			continue
		}
		pairs, err := r.classifier.DetectDuplicates(ctx, g.accountName, g.contacts)
		if err != nil {
			cerr := classifier.NewClassificationError(g.accountName, err)
			logger.Warnw("skipping account after classification failure", "account", g.accountName, "error", cerr)
			continue
		}
		candidates = append(candidates, pairs...)
	}
	metrics.ObservePhaseDuration(PhaseDetectDuplicates, time.Since(phaseStart))

	if !r.updateJob(ctx, jobID, store.JobPatch{
		Progress: progress(PhasePrepareUpdates, 5, fmt.Sprintf("Preparing updates for %d duplicate pair(s)...", len(candidates))),
		Metrics:  &store.MetricsDelta{DuplicatesFound: len(candidates)},
		Phases:   phases.begin(PhasePrepareUpdates, "Preparing contact updates"),
	}) {
		return
	}

	// prepare_updates
	phaseStart = time.Now()
	pairs := buildDecisionPairs(candidates)
	markUpdates := buildMarkUpdates(candidates)
	metrics.ObservePhaseDuration(PhasePrepareUpdates, time.Since(phaseStart))

	// Checkpoint 1: the duplicate markings themselves. Nothing to
	// approve when no candidates were found.
	if len(pairs) > 0 && !cfg.AutoApprove {
		decision, proceed := r.awaitApproval(ctx, jobID, phases, model.StageDuplicateMarking, pairs, len(markUpdates),
			fmt.Sprintf("Found %d duplicate pair(s) ready to be marked for review", len(pairs)))
		if !proceed {
			return
		}
		if len(decision.ExcludedPairIDs) > 0 {
			candidates = excludePairs(candidates, decision.ExcludedPairIDs)
			pairs = buildDecisionPairs(candidates)
			markUpdates = buildMarkUpdates(candidates)
		}
	}

	allUpdates := append(append([]crm.ContactUpdate(nil), emailUpdates...), markUpdates...)

	// Checkpoint 2: the CRM write as a whole, immediately before it
	// executes. No update may be applied after a rejection.
	if len(allUpdates) > 0 && !cfg.AutoApprove {
		if _, proceed := r.awaitApproval(ctx, jobID, phases, model.StageCRMUpdate, pairs, len(allUpdates),
			fmt.Sprintf("Ready to apply %d contact update(s) to the CRM", len(allUpdates))); !proceed {
			return
		}
	}

	// apply_updates
	if !r.updateJob(ctx, jobID, store.JobPatch{
		Progress: progress(PhaseApplyUpdates, 7, fmt.Sprintf("Applying %d update(s)...", len(allUpdates))),
		Phases:   phases.begin(PhaseApplyUpdates, "Applying updates to the CRM"),
	}) {
		return
	}

	phaseStart = time.Now()
	applied, ok := r.applyUpdates(ctx, jobID, phases, conn, allUpdates)
	if !ok {
		return
	}
	metrics.ObservePhaseDuration(PhaseApplyUpdates, time.Since(phaseStart))

	// finalize
	phases.begin(PhaseFinalize, "Writing results")
	results := &model.Results{
		ContactsProcessed: len(contacts),
		DuplicatesMarked:  len(pairs),
		UpdatesApplied:    applied,
	}

	if r.reports != nil {
		if final, err := r.store.Job().Get(ctx, jobID); err == nil {
			if path, err := r.reports.WriteRunReport(ctx, *final, pairs); err != nil {
				logger.Warnw("report generation failed", "error", err)
			} else {
				results.ReportPath = path
			}
		}
	}

	completed := model.JobStatusCompleted
	r.updateJob(ctx, jobID, store.JobPatch{
		Status:   &completed,
		Progress: progress(PhaseFinalize, totalSteps, "Job completed successfully"),
		Phases:   phases.end(model.PhaseCompleted),
		Results:  results,
	})
	metrics.IncJobFinished(string(completed))
	logger.Infow("workflow completed", "duplicates_marked", len(pairs), "updates_applied", applied)
}

// awaitApproval parks the workflow at a checkpoint. It returns the
// decision and true to proceed; on rejection or timeout the job is moved
// to cancelled and false is returned.
func (r *Runner) awaitApproval(ctx context.Context, jobID uuid.UUID, phases *phaseLog, stage string, pairs []model.DuplicatePair, totalUpdates int, message string) (model.ApprovalDecision, bool) {
	logger := zap.S().Named("runner").With("job_id", jobID.String(), "stage", stage)

	// The gate must accept decisions before the awaiting state becomes
	// visible: a client that reads awaiting_approval and posts right away
	// must not be refused.
	r.gate.Register(jobID)

	awaiting := model.JobStatusAwaitingApproval
	if !r.updateJob(ctx, jobID, store.JobPatch{
		Status:   &awaiting,
		Progress: progress(PhaseApproval, 6, message),
		Phases:   phases.begin(stage, message),
		PendingApproval: &model.PendingApproval{
			Stage:        stage,
			TotalUpdates: totalUpdates,
			Pairs:        pairs,
			Message:      message,
		},
	}) {
		r.gate.Deregister(jobID)
		return model.ApprovalDecision{}, false
	}

	logger.Infow("awaiting approval", "total_updates", totalUpdates, "timeout", r.approvalTimeout)
	decision, ok := r.gate.WaitForDecision(ctx, jobID, r.approvalTimeout)

	switch {
	case !ok:
		r.cancel(ctx, jobID, phases, nil, "approval timed out, cancelling by default")
		metrics.IncApprovalDecision(stage, "timeout")
		return model.ApprovalDecision{}, false
	case !decision.Approved:
		r.cancel(ctx, jobID, phases, &decision, "approval rejected by reviewer")
		metrics.IncApprovalDecision(stage, "rejected")
		return decision, false
	}

	running := model.JobStatusRunning
	if !r.updateJob(ctx, jobID, store.JobPatch{
		Status:               &running,
		Progress:             progress(PhaseApproval, 6, "Approval received, resuming"),
		Phases:               phases.end(model.PhaseCompleted),
		Decision:             &decision,
		ClearPendingApproval: true,
	}) {
		return model.ApprovalDecision{}, false
	}
	metrics.IncApprovalDecision(stage, "approved")
	logger.Infow("approval received", "excluded_pairs", len(decision.ExcludedPairIDs))
	return decision, true
}

// applyUpdates pushes updates in fixed-size batches. Individual
// rejections are recorded in the job metrics and never abort the phase;
// only a batch-level sink error fails the job.
func (r *Runner) applyUpdates(ctx context.Context, jobID uuid.UUID, phases *phaseLog, conn crm.Connection, updates []crm.ContactUpdate) (int, bool) {
	applied := 0
	for start := 0; start < len(updates); start += r.mutationBatchSize {
		end := start + r.mutationBatchSize
		if end > len(updates) {
			end = len(updates)
		}

		results, err := conn.ApplyBatch(ctx, updates[start:end])
		if err != nil {
			r.markFailed(ctx, jobID, phases, fmt.Errorf("mutation sink failed: %w", err))
			return 0, false
		}

		delta := store.MetricsDelta{}
		for _, res := range results {
			if res.Success {
				delta.UpdatesApplied++
				applied++
				continue
			}
			delta.Errors = append(delta.Errors, model.ItemError{
				ContactID: res.ContactID,
				Message:   res.Message,
			})
		}

		if !r.updateJob(ctx, jobID, store.JobPatch{
			Progress: progress(PhaseApplyUpdates, 7, fmt.Sprintf("Applied %d/%d update(s)", end, len(updates))),
			Metrics:  &delta,
		}) {
			return 0, false
		}
	}
	return applied, true
}

func (r *Runner) cancel(ctx context.Context, jobID uuid.UUID, phases *phaseLog, decision *model.ApprovalDecision, reason string) {
	cancelled := model.JobStatusCancelled
	r.updateJob(ctx, jobID, store.JobPatch{
		Status:               &cancelled,
		Progress:             &model.Progress{Phase: string(cancelled), TotalSteps: totalSteps, Message: reason},
		Phases:               phases.end(model.PhaseCancelled),
		Decision:             decision,
		ClearPendingApproval: true,
	})
	metrics.IncJobFinished(string(cancelled))
	zap.S().Named("runner").Infow("workflow cancelled", "job_id", jobID.String(), "reason", reason)
}

func (r *Runner) markFailed(ctx context.Context, jobID uuid.UUID, phases *phaseLog, err error) {
	failed := model.JobStatusFailed
	msg := err.Error()
	r.updateJob(ctx, jobID, store.JobPatch{
		Status:               &failed,
		Progress:             &model.Progress{Phase: string(failed), TotalSteps: totalSteps, Message: "Job failed: " + msg},
		Phases:               phases.end(model.PhaseFailed),
		Error:                &msg,
		ClearPendingApproval: true,
	})
	metrics.IncJobFinished(string(failed))
	zap.S().Named("runner").Errorw("workflow failed", "job_id", jobID.String(), "error", err)
}

// updateJob commits a patch and reports whether the workflow may keep
// going. A store rejection here means the record was moved under us;
// the only safe reaction is to stop.
func (r *Runner) updateJob(ctx context.Context, jobID uuid.UUID, patch store.JobPatch) bool {
	if _, err := r.store.Job().Update(ctx, jobID, patch); err != nil {
		zap.S().Named("runner").Errorw("job update rejected, stopping workflow",
			"job_id", jobID.String(), "error", err)
		return false
	}
	return true
}

func progress(phase string, step int, message string) *model.Progress {
	return &model.Progress{
		Phase:       phase,
		CurrentStep: step,
		TotalSteps:  totalSteps,
		Message:     message,
	}
}
