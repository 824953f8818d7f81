// Package v1alpha1 holds the wire types of the dedup planner HTTP API.
package v1alpha1

import (
	"time"

	"github.com/google/uuid"
)

// StartJobRequest is the body of POST /api/v1alpha1/jobs.
type StartJobRequest struct {
	// BatchSize limits how many contacts are extracted; zero means all.
	BatchSize int `json:"batchSize,omitempty"`
	// OwnerFilter restricts extraction to contacts owned by these users.
	OwnerFilter []string `json:"ownerFilter,omitempty"`
	// AutoApprove skips both approval checkpoints.
	AutoApprove bool `json:"autoApprove,omitempty"`
}

type StartJobResponse struct {
	JobID     uuid.UUID `json:"jobId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type Progress struct {
	Phase       string `json:"phase"`
	CurrentStep int    `json:"currentStep"`
	TotalSteps  int    `json:"totalSteps"`
	Message     string `json:"message"`
}

type ItemError struct {
	ContactID string `json:"contactId"`
	Message   string `json:"message"`
}

type Metrics struct {
	TotalContacts   int         `json:"totalContacts"`
	TotalAccounts   int         `json:"totalAccounts"`
	EmailsValidated int         `json:"emailsValidated"`
	DuplicatesFound int         `json:"duplicatesFound"`
	UpdatesApplied  int         `json:"updatesApplied"`
	Errors          []ItemError `json:"errors,omitempty"`
}

type ContactRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	Title string `json:"title,omitempty"`
}

type DuplicatePair struct {
	PairID        string     `json:"pairId"`
	AccountName   string     `json:"accountName"`
	Confidence    string     `json:"confidence"`
	Reasoning     string     `json:"reasoning"`
	CanonicalName string     `json:"canonicalName"`
	Contact1      ContactRef `json:"contact1"`
	Contact2      ContactRef `json:"contact2"`
}

type PendingApproval struct {
	JobID        uuid.UUID       `json:"jobId"`
	Stage        string          `json:"stage"`
	TotalUpdates int             `json:"totalUpdates"`
	Pairs        []DuplicatePair `json:"pairs"`
	Message      string          `json:"message"`
}

// PhaseDetail is the body of GET /api/v1alpha1/jobs/{id}/phases/{phase}:
// the latest run of one workflow phase.
type PhaseDetail struct {
	JobID       uuid.UUID  `json:"jobId"`
	Phase       string     `json:"phase"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Message     string     `json:"message,omitempty"`
}

type Results struct {
	ContactsProcessed int    `json:"contactsProcessed"`
	DuplicatesMarked  int    `json:"duplicatesMarked"`
	UpdatesApplied    int    `json:"updatesApplied"`
	ReportPath        string `json:"reportPath,omitempty"`
}

// Job is the full externally visible state of one dedup run.
type Job struct {
	ID              uuid.UUID        `json:"id"`
	Status          string           `json:"status"`
	Progress        Progress         `json:"progress"`
	Metrics         Metrics          `json:"metrics"`
	PendingApproval *PendingApproval `json:"pendingApproval,omitempty"`
	Results         *Results         `json:"results,omitempty"`
	Error           string           `json:"error,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

type JobList []Job

// ApprovalRequest is the body of POST /api/v1alpha1/jobs/{id}/approve.
type ApprovalRequest struct {
	Approved        bool     `json:"approved"`
	ExcludedPairIDs []string `json:"excludedPairIds,omitempty"`
}

type ApprovalResponse struct {
	JobID    uuid.UUID `json:"jobId"`
	Approved bool      `json:"approved"`
	Status   string    `json:"status"`
}

// Dashboard aggregates all known jobs for the overview page.
type Dashboard struct {
	TotalJobs        int            `json:"totalJobs"`
	JobsByStatus     map[string]int `json:"jobsByStatus"`
	AwaitingApproval []uuid.UUID    `json:"awaitingApproval"`
	ContactsScanned  int            `json:"contactsScanned"`
	DuplicatesFound  int            `json:"duplicatesFound"`
	UpdatesApplied   int            `json:"updatesApplied"`
}

type Health struct {
	Status string `json:"status"`
}

// Error is the uniform error body of the API.
type Error struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}
