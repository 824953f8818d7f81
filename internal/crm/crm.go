// Package crm defines the narrow surface the workflow runner needs from
// a CRM backend: connect, extract contacts and their email activity, and
// apply batched contact updates with per-item results.
package crm

import (
	"context"
	"fmt"
	"time"
)

// Contact update field keys understood by the mutation sink.
const (
	FieldEmailStatus        = "email_status"
	FieldEmailLastValidated = "email_last_validated"
	FieldEmailBouncedDate   = "email_bounced_date"
	FieldEmailVerifiedDate  = "email_verified_date"
	FieldDuplicateGroup     = "duplicate_group"
	FieldDuplicateReason    = "duplicate_reason"
	FieldSuggestedAction    = "suggested_action"
	FieldDuplicateReviewed  = "duplicate_reviewed"
)

// Email statuses derived from activity history.
const (
	EmailStatusValid     = "Valid"
	EmailStatusInvalid   = "Invalid"
	EmailStatusUnknown   = "Unknown"
	EmailStatusDuplicate = "Duplicate"
)

type Contact struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
	MobilePhone  string
	Title        string
	AccountID    string
	AccountName  string
	OwnerID      string
	EmailStatus  string
	BouncedAt    *time.Time
	LastModified time.Time
}

func (c Contact) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

// Activity is one email interaction recorded against a contact.
type Activity struct {
	Type        string
	Status      string
	Subject     string
	Description string
	Date        time.Time
}

// ExtractFilter narrows the contact extraction.
type ExtractFilter struct {
	// BatchSize limits the number of contacts returned; zero means all.
	BatchSize int
	// OwnerIDs restricts extraction to contacts owned by these users.
	OwnerIDs []string
}

// ContactUpdate is one per-entity mutation request.
type ContactUpdate struct {
	ContactID string
	Fields    map[string]string
}

// UpdateResult is the per-request outcome of a batch application.
type UpdateResult struct {
	ContactID string
	Success   bool
	Message   string
}

// DataSource opens connections to the CRM backend.
type DataSource interface {
	Connect(ctx context.Context) (Connection, error)
}

// Connection is an authenticated session against the CRM.
//
// ApplyBatch evaluates every request independently: an individual
// rejection is reported in its UpdateResult, never as an error. The
// returned error signals total loss of the sink only.
type Connection interface {
	ExtractContacts(ctx context.Context, filter ExtractFilter) ([]Contact, error)
	ExtractActivities(ctx context.Context, contactIDs []string) (map[string][]Activity, error)
	ApplyBatch(ctx context.Context, updates []ContactUpdate) ([]UpdateResult, error)
}

// ConnectionError is fatal for the whole job.
type ConnectionError struct {
	error
}

func NewConnectionError(err error) *ConnectionError {
	return &ConnectionError{fmt.Errorf("crm connection failed: %w", err)}
}

// ExtractionError is fatal for the whole job.
type ExtractionError struct {
	error
}

func NewExtractionError(err error) *ExtractionError {
	return &ExtractionError{fmt.Errorf("contact extraction failed: %w", err)}
}
