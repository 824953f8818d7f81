package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmtools/dedup-planner/internal/approval"
	"github.com/crmtools/dedup-planner/internal/classifier"
	"github.com/crmtools/dedup-planner/internal/crm"
	"github.com/crmtools/dedup-planner/internal/store"
	"github.com/crmtools/dedup-planner/internal/store/model"
)

type harness struct {
	store  store.Store
	gate   *approval.Gate
	source *crm.InMemory
	runner *Runner
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewStore(nil),
		gate:   approval.NewGate(),
		source: crm.NewInMemory(),
	}
	base := []Option{WithApprovalTimeout(2 * time.Second)}
	h.runner = New(h.store, h.gate, h.source, classifier.NewHeuristic(), append(base, opts...)...)
	return h
}

// duplicatePairContacts returns one account holding an obvious duplicate
// pair plus an unrelated contact in a second account.
func duplicatePairContacts() []crm.Contact {
	return []crm.Contact{
		{ID: "c1", FirstName: "Benjamin", LastName: "Fry", Email: "ben.fry@acme.com", Phone: "555-0100", Title: "VP Sales", AccountName: "Acme Corp"},
		{ID: "c2", FirstName: "Ben", LastName: "Fry", Email: "bfry@acme.com", AccountName: "Acme Corp"},
		{ID: "c3", FirstName: "Dana", LastName: "Whitfield", Email: "dana@globex.com", AccountName: "Globex"},
	}
}

func (h *harness) startJob(t *testing.T, config model.JobConfig) uuid.UUID {
	t.Helper()
	job, err := h.store.Job().Create(context.Background(), config)
	require.NoError(t, err)
	h.runner.Start(context.Background(), job.ID)
	return job.ID
}

func (h *harness) waitForStatus(t *testing.T, jobID uuid.UUID, want model.JobStatus) model.Job {
	t.Helper()
	var last model.Job
	require.Eventually(t, func() bool {
		job, err := h.store.Job().Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		last = *job
		return job.Status == want
	}, 5*time.Second, 5*time.Millisecond, "job never reached %s (last: %s)", want, last.Status)
	return last
}

func (h *harness) waitForStage(t *testing.T, jobID uuid.UUID, stage string) model.Job {
	t.Helper()
	var last model.Job
	require.Eventually(t, func() bool {
		job, err := h.store.Job().Get(context.Background(), jobID)
		if err != nil {
			return false
		}
		last = *job
		return job.Status == model.JobStatusAwaitingApproval &&
			job.PendingApproval != nil && job.PendingApproval.Stage == stage &&
			h.gate.Waiting(jobID)
	}, 5*time.Second, 5*time.Millisecond, "job never reached checkpoint %s", stage)
	return last
}

func (h *harness) approve(t *testing.T, jobID uuid.UUID, excluded ...string) {
	t.Helper()
	require.NoError(t, h.gate.Post(jobID, model.ApprovalDecision{
		Approved:        true,
		ExcludedPairIDs: excluded,
		Timestamp:       time.Now(),
	}))
}

func TestWorkflowCompletesThroughBothCheckpoints(t *testing.T) {
	h := newHarness(t)
	h.source.Seed(duplicatePairContacts(), nil)

	jobID := h.startJob(t, model.JobConfig{})

	first := h.waitForStage(t, jobID, model.StageDuplicateMarking)
	require.Len(t, first.PendingApproval.Pairs, 1)
	pair := first.PendingApproval.Pairs[0]
	assert.Equal(t, "Acme Corp", pair.AccountName)
	assert.Equal(t, "Benjamin Fry", pair.CanonicalName)
	assert.Equal(t, classifier.ConfidenceHigh, pair.Confidence)
	h.approve(t, jobID)

	second := h.waitForStage(t, jobID, model.StageCRMUpdate)
	assert.Equal(t, 2, second.PendingApproval.TotalUpdates)
	h.approve(t, jobID)

	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)
	require.NotNil(t, final.Results)
	assert.Equal(t, 3, final.Results.ContactsProcessed)
	assert.Equal(t, 1, final.Results.DuplicatesMarked)
	assert.Equal(t, 2, final.Results.UpdatesApplied)
	assert.Nil(t, final.PendingApproval)
	assert.Equal(t, 1, final.Metrics.DuplicatesFound)
	assert.Equal(t, 2, final.Metrics.TotalAccounts)

	applied := h.source.Applied()
	require.Len(t, applied, 2)
	byID := map[string]crm.ContactUpdate{}
	for _, u := range applied {
		byID[u.ContactID] = u
	}
	assert.Equal(t, "keep", byID["c1"].Fields[crm.FieldSuggestedAction])
	assert.Equal(t, "merge", byID["c2"].Fields[crm.FieldSuggestedAction])
	assert.Equal(t, crm.EmailStatusDuplicate, byID["c2"].Fields[crm.FieldEmailStatus])
	assert.Equal(t, byID["c1"].Fields[crm.FieldDuplicateGroup], byID["c2"].Fields[crm.FieldDuplicateGroup])
}

func TestRejectionCancelsWithoutMutation(t *testing.T) {
	h := newHarness(t)
	h.source.Seed(duplicatePairContacts(), nil)

	jobID := h.startJob(t, model.JobConfig{})
	h.waitForStage(t, jobID, model.StageDuplicateMarking)

	require.NoError(t, h.gate.Post(jobID, model.ApprovalDecision{Approved: false, Timestamp: time.Now()}))

	final := h.waitForStatus(t, jobID, model.JobStatusCancelled)
	assert.Nil(t, final.PendingApproval)
	require.NotNil(t, final.ApprovalDecision)
	assert.False(t, final.ApprovalDecision.Approved)
	assert.Empty(t, h.source.Applied())
	assert.Equal(t, 0, final.Metrics.UpdatesApplied)
}

func TestApprovalTimeoutCancelsByDefault(t *testing.T) {
	h := newHarness(t, WithApprovalTimeout(30*time.Millisecond))
	h.source.Seed(duplicatePairContacts(), nil)

	jobID := h.startJob(t, model.JobConfig{})

	final := h.waitForStatus(t, jobID, model.JobStatusCancelled)
	assert.Empty(t, h.source.Applied())
	assert.Equal(t, 0, final.Metrics.UpdatesApplied)
	assert.Empty(t, final.Metrics.Errors)
}

func TestConnectFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	h.source.FailConnect(errors.New("invalid credentials"))

	jobID := h.startJob(t, model.JobConfig{})

	final := h.waitForStatus(t, jobID, model.JobStatusFailed)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "connection failed")
	assert.Contains(t, *final.Error, "invalid credentials")
}

func TestExtractFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	h.source.FailExtract(errors.New("query timeout"))

	jobID := h.startJob(t, model.JobConfig{})

	final := h.waitForStatus(t, jobID, model.JobStatusFailed)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "extraction failed")
}

func TestPerItemRejectionsAreCollected(t *testing.T) {
	h := newHarness(t)
	h.source.Seed(duplicatePairContacts(), nil)
	h.source.RejectContact("c2", "entity is locked")

	jobID := h.startJob(t, model.JobConfig{AutoApprove: true})

	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)
	require.NotNil(t, final.Results)
	assert.Equal(t, 1, final.Results.UpdatesApplied)
	require.Len(t, final.Metrics.Errors, 1)
	assert.Equal(t, "c2", final.Metrics.Errors[0].ContactID)
	assert.Equal(t, "entity is locked", final.Metrics.Errors[0].Message)
}

func TestAutoApproveSkipsCheckpoints(t *testing.T) {
	h := newHarness(t, WithApprovalTimeout(time.Millisecond))
	h.source.Seed(duplicatePairContacts(), nil)

	jobID := h.startJob(t, model.JobConfig{AutoApprove: true})

	// Completes even though no decision is ever posted and the timeout
	// is effectively zero.
	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)
	assert.Equal(t, 2, final.Results.UpdatesApplied)
	assert.Nil(t, final.ApprovalDecision)
}

func TestNoDuplicatesSkipsMarkingCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.source.Seed([]crm.Contact{
		{ID: "c1", FirstName: "Dana", LastName: "Whitfield", Email: "dana@globex.com", AccountName: "Globex"},
		{ID: "c2", FirstName: "Marcus", LastName: "Oduya", Email: "m.oduya@initech.io", AccountName: "Initech"},
	}, nil)

	jobID := h.startJob(t, model.JobConfig{})

	// No pairs and no email updates: both checkpoints are skipped.
	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)
	assert.Equal(t, 0, final.Metrics.DuplicatesFound)
	assert.Equal(t, 0, final.Results.UpdatesApplied)
	assert.Empty(t, h.source.Applied())
}

func TestExcludedPairsAreNotMarked(t *testing.T) {
	h := newHarness(t)
	contacts := append(duplicatePairContacts(),
		crm.Contact{ID: "c4", FirstName: "Katherine", LastName: "Ellis", Email: "kellis@globex.com", Phone: "555-0200", AccountName: "Globex"},
		crm.Contact{ID: "c5", FirstName: "Kate", LastName: "Ellis", Email: "kate.ellis@globex.com", AccountName: "Globex"},
	)
	h.source.Seed(contacts, nil)

	jobID := h.startJob(t, model.JobConfig{})

	first := h.waitForStage(t, jobID, model.StageDuplicateMarking)
	require.Len(t, first.PendingApproval.Pairs, 2)
	h.approve(t, jobID, "c1_c2")

	second := h.waitForStage(t, jobID, model.StageCRMUpdate)
	require.Len(t, second.PendingApproval.Pairs, 1)
	assert.Equal(t, "c4_c5", second.PendingApproval.Pairs[0].PairID)
	h.approve(t, jobID)

	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)
	assert.Equal(t, 1, final.Results.DuplicatesMarked)

	for _, u := range h.source.Applied() {
		assert.NotContains(t, []string{"c1", "c2"}, u.ContactID)
	}
}

func TestDecisionRightAfterAwaitingIsAccepted(t *testing.T) {
	h := newHarness(t)
	h.source.Seed(duplicatePairContacts(), nil)

	jobID := h.startJob(t, model.JobConfig{})

	// Watch the store only: the moment awaiting_approval is visible there,
	// a posted decision must be accepted, whether or not the worker has
	// started waiting yet.
	require.Eventually(t, func() bool {
		job, err := h.store.Job().Get(context.Background(), jobID)
		return err == nil && job.Status == model.JobStatusAwaitingApproval
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, h.gate.Post(jobID, model.ApprovalDecision{Approved: false, Timestamp: time.Now()}))
	h.waitForStatus(t, jobID, model.JobStatusCancelled)
}

func TestPhaseLogRecordsFullRun(t *testing.T) {
	h := newHarness(t)
	h.source.Seed(duplicatePairContacts(), nil)

	jobID := h.startJob(t, model.JobConfig{})
	h.waitForStage(t, jobID, model.StageDuplicateMarking)
	h.approve(t, jobID)
	h.waitForStage(t, jobID, model.StageCRMUpdate)
	h.approve(t, jobID)

	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)

	var names []string
	for _, rec := range final.Phases {
		names = append(names, rec.Name)
		assert.Equal(t, model.PhaseCompleted, rec.Status, "phase %s", rec.Name)
		require.NotNil(t, rec.CompletedAt, "phase %s", rec.Name)
		assert.False(t, rec.CompletedAt.Before(rec.StartedAt), "phase %s", rec.Name)
	}
	assert.Equal(t, []string{
		PhaseConnect, PhaseExtract, PhaseValidateEmails, PhaseDetectDuplicates,
		PhasePrepareUpdates, model.StageDuplicateMarking, model.StageCRMUpdate,
		PhaseApplyUpdates, PhaseFinalize,
	}, names)
}

func TestPhaseLogClosesCancelledCheckpoint(t *testing.T) {
	h := newHarness(t)
	h.source.Seed(duplicatePairContacts(), nil)

	jobID := h.startJob(t, model.JobConfig{})
	h.waitForStage(t, jobID, model.StageDuplicateMarking)
	require.NoError(t, h.gate.Post(jobID, model.ApprovalDecision{Approved: false, Timestamp: time.Now()}))

	final := h.waitForStatus(t, jobID, model.JobStatusCancelled)
	require.NotEmpty(t, final.Phases)
	last := final.Phases[len(final.Phases)-1]
	assert.Equal(t, model.StageDuplicateMarking, last.Name)
	assert.Equal(t, model.PhaseCancelled, last.Status)
	require.NotNil(t, last.CompletedAt)
}

func TestPhaseLogClosesFailedPhase(t *testing.T) {
	h := newHarness(t)
	h.source.FailExtract(errors.New("query timeout"))

	jobID := h.startJob(t, model.JobConfig{})

	final := h.waitForStatus(t, jobID, model.JobStatusFailed)
	require.NotEmpty(t, final.Phases)
	last := final.Phases[len(final.Phases)-1]
	assert.Equal(t, PhaseExtract, last.Name)
	assert.Equal(t, model.PhaseFailed, last.Status)
}

func TestEmailValidationUpdatesFromActivities(t *testing.T) {
	h := newHarness(t)
	now := time.Now()
	h.source.Seed([]crm.Contact{
		{ID: "c1", FirstName: "Dana", LastName: "Whitfield", Email: "dana@globex.com", AccountName: "Globex"},
		{ID: "c2", FirstName: "Marcus", LastName: "Oduya", Email: "m.oduya@initech.io", AccountName: "Initech"},
	}, map[string][]crm.Activity{
		"c1": {{Type: "Email", Status: "Bounced", Description: "mailbox unavailable", Date: now.AddDate(0, 0, -2)}},
		"c2": {{Type: "Email", Status: "Sent", Date: now.AddDate(0, 0, -1)}},
	})

	jobID := h.startJob(t, model.JobConfig{AutoApprove: true})

	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)
	assert.Equal(t, 2, final.Metrics.EmailsValidated)
	assert.Equal(t, 2, final.Results.UpdatesApplied)

	byID := map[string]crm.ContactUpdate{}
	for _, u := range h.source.Applied() {
		byID[u.ContactID] = u
	}
	assert.Equal(t, crm.EmailStatusInvalid, byID["c1"].Fields[crm.FieldEmailStatus])
	assert.NotEmpty(t, byID["c1"].Fields[crm.FieldEmailBouncedDate])
	assert.Equal(t, crm.EmailStatusValid, byID["c2"].Fields[crm.FieldEmailStatus])
	assert.NotEmpty(t, byID["c2"].Fields[crm.FieldEmailVerifiedDate])
}

func TestBatchSinkFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	h.source.Seed(duplicatePairContacts(), nil)
	h.source.FailApply(errors.New("service unavailable"))

	jobID := h.startJob(t, model.JobConfig{AutoApprove: true})

	final := h.waitForStatus(t, jobID, model.JobStatusFailed)
	require.NotNil(t, final.Error)
	assert.Contains(t, *final.Error, "mutation sink failed")
}

func TestBatchingRespectsMutationBatchSize(t *testing.T) {
	h := newHarness(t, WithMutationBatchSize(1))
	h.source.Seed(duplicatePairContacts(), nil)

	jobID := h.startJob(t, model.JobConfig{AutoApprove: true})

	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)
	assert.Equal(t, 2, final.Results.UpdatesApplied)
	assert.Len(t, h.source.Applied(), 2)
}

type failingClassifier struct {
	failAccount string
	inner       classifier.Classifier
}

func (f *failingClassifier) DetectDuplicates(ctx context.Context, accountName string, contacts []crm.Contact) ([]classifier.CandidatePair, error) {
	if accountName == f.failAccount {
		return nil, errors.New("model overloaded")
	}
	return f.inner.DetectDuplicates(ctx, accountName, contacts)
}

func TestClassifierFailureSkipsAccountOnly(t *testing.T) {
	h := newHarness(t)
	contacts := append(duplicatePairContacts(),
		crm.Contact{ID: "c4", FirstName: "Katherine", LastName: "Ellis", Email: "kellis@globex.com", AccountName: "Globex"},
		crm.Contact{ID: "c5", FirstName: "Kate", LastName: "Ellis", Email: "kate.ellis@globex.com", AccountName: "Globex"},
	)
	h.source.Seed(contacts, nil)
	h.runner.classifier = &failingClassifier{failAccount: "Acme Corp", inner: classifier.NewHeuristic()}

	jobID := h.startJob(t, model.JobConfig{AutoApprove: true})

	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)
	// Globex still classified; Acme skipped, not fatal.
	assert.Equal(t, 1, final.Metrics.DuplicatesFound)
	assert.Equal(t, 1, final.Results.DuplicatesMarked)
}

func TestReportSinkPathInResults(t *testing.T) {
	h := newHarness(t, WithReportSink(reportSinkStub{path: "/tmp/report.xlsx"}))
	h.source.Seed(duplicatePairContacts(), nil)

	jobID := h.startJob(t, model.JobConfig{AutoApprove: true})

	final := h.waitForStatus(t, jobID, model.JobStatusCompleted)
	assert.Equal(t, "/tmp/report.xlsx", final.Results.ReportPath)
}

type reportSinkStub struct {
	path string
}

func (s reportSinkStub) WriteRunReport(ctx context.Context, job model.Job, pairs []model.DuplicatePair) (string, error) {
	return s.path, nil
}
