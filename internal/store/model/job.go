package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending          JobStatus = "pending"
	JobStatusRunning          JobStatus = "running"
	JobStatusAwaitingApproval JobStatus = "awaiting_approval"
	JobStatusCompleted        JobStatus = "completed"
	JobStatusFailed           JobStatus = "failed"
	JobStatusCancelled        JobStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobConfig is the submission-time configuration of a dedup run.
type JobConfig struct {
	BatchSize   int      `json:"batchSize,omitempty"`
	OwnerFilter []string `json:"ownerFilter,omitempty"`
	AutoApprove bool     `json:"autoApprove"`
}

// Progress describes the phase the runner is currently in. It is replaced
// wholesale on every phase transition, never merged.
type Progress struct {
	Phase       string `json:"phase"`
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
	Message     string `json:"message"`
}

// ItemError records a single contact update rejected by the CRM.
type ItemError struct {
	ContactID string `json:"contactId"`
	Message   string `json:"message"`
}

// Metrics accumulates per-phase counters for one job. Counters are
// appended to or overwritten per phase, never reset mid-run.
type Metrics struct {
	TotalContacts   int         `json:"totalContacts"`
	TotalAccounts   int         `json:"totalAccounts"`
	EmailsValidated int         `json:"emailsValidated"`
	DuplicatesFound int         `json:"duplicatesFound"`
	UpdatesApplied  int         `json:"updatesApplied"`
	Errors          []ItemError `json:"errors,omitempty"`
}

// ContactRef is the projection of a contact shown to a reviewer.
type ContactRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Title string `json:"title,omitempty"`
}

// DuplicatePair is one candidate decision item of a pending approval.
type DuplicatePair struct {
	PairID        string     `json:"pairId"`
	AccountName   string     `json:"accountName"`
	Confidence    string     `json:"confidence"`
	Reasoning     string     `json:"reasoning"`
	CanonicalName string     `json:"canonicalName"`
	Contact1      ContactRef `json:"contact1"`
	Contact2      ContactRef `json:"contact2"`
}

// Phase record statuses.
const (
	PhaseRunning   = "running"
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseCancelled = "cancelled"
)

// PhaseRecord is one entry of the job's phase log: when the phase
// started, when it ended and how.
type PhaseRecord struct {
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Message     string     `json:"message,omitempty"`
}

// Approval checkpoint stages.
const (
	StageDuplicateMarking string = "duplicate_marking"
	StageCRMUpdate        string = "crm_update"
)

// PendingApproval is present if and only if the job status is
// awaiting_approval.
type PendingApproval struct {
	Stage        string          `json:"stage"`
	TotalUpdates int             `json:"totalUpdates"`
	Pairs        []DuplicatePair `json:"pairs"`
	Message      string          `json:"message"`
}

// ApprovalDecision is the externally posted answer for one checkpoint.
type ApprovalDecision struct {
	Approved        bool      `json:"approved"`
	ExcludedPairIDs []string  `json:"excludedPairIds,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Results is the final payload of a successful run.
type Results struct {
	ContactsProcessed int    `json:"contactsProcessed"`
	DuplicatesMarked  int    `json:"duplicatesMarked"`
	UpdatesApplied    int    `json:"updatesApplied"`
	ReportPath        string `json:"reportPath,omitempty"`
}

// Job is the state of one dedup workflow. The store owns it; all
// mutations go through store.Job().Update.
type Job struct {
	ID               uuid.UUID         `json:"id"`
	Status           JobStatus         `json:"status"`
	Config           JobConfig         `json:"config"`
	Progress         Progress          `json:"progress"`
	Metrics          Metrics           `json:"metrics"`
	Phases           []PhaseRecord     `json:"phases,omitempty"`
	PendingApproval  *PendingApproval  `json:"pendingApproval,omitempty"`
	ApprovalDecision *ApprovalDecision `json:"approvalDecision,omitempty"`
	Results          *Results          `json:"results,omitempty"`
	Error            *string           `json:"error,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	// Version counts committed mutations, starting at 1 on creation. It
	// is strictly increasing per job, so observers can discard stale
	// snapshots.
	Version int64 `json:"version"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}

// Copy returns a deep copy so callers never alias store-owned state.
func (j Job) Copy() Job {
	out := j
	if j.Metrics.Errors != nil {
		out.Metrics.Errors = append([]ItemError(nil), j.Metrics.Errors...)
	}
	if j.Config.OwnerFilter != nil {
		out.Config.OwnerFilter = append([]string(nil), j.Config.OwnerFilter...)
	}
	if j.Phases != nil {
		out.Phases = make([]PhaseRecord, len(j.Phases))
		for i, p := range j.Phases {
			out.Phases[i] = p
			if p.CompletedAt != nil {
				done := *p.CompletedAt
				out.Phases[i].CompletedAt = &done
			}
		}
	}
	if j.PendingApproval != nil {
		pa := *j.PendingApproval
		pa.Pairs = append([]DuplicatePair(nil), j.PendingApproval.Pairs...)
		out.PendingApproval = &pa
	}
	if j.ApprovalDecision != nil {
		ad := *j.ApprovalDecision
		ad.ExcludedPairIDs = append([]string(nil), j.ApprovalDecision.ExcludedPairIDs...)
		out.ApprovalDecision = &ad
	}
	if j.Results != nil {
		res := *j.Results
		out.Results = &res
	}
	if j.Error != nil {
		msg := *j.Error
		out.Error = &msg
	}
	return out
}
