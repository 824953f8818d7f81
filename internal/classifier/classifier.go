// Package classifier decides which contacts within one account are
// records of the same person. Accounts are classified independently: a
// failure for one account must not abort the others.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/crmtools/dedup-planner/internal/crm"
)

// Confidence levels attached to candidate pairs.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// CandidatePair is a suspected duplicate within one account.
type CandidatePair struct {
	Contact1   crm.Contact
	Contact2   crm.Contact
	Confidence string
	Reasoning  string
}

// PairID builds the stable identifier used for approval decisions.
func (p CandidatePair) PairID() string {
	return p.Contact1.ID + "_" + p.Contact2.ID
}

type Classifier interface {
	// DetectDuplicates inspects the contacts of a single account and
	// returns the pairs it believes are the same person.
	DetectDuplicates(ctx context.Context, accountName string, contacts []crm.Contact) ([]CandidatePair, error)
}

// ClassificationError wraps a per-account classification failure. The
// runner records it and continues with the remaining accounts.
type ClassificationError struct {
	error
}

func NewClassificationError(accountName string, err error) *ClassificationError {
	return &ClassificationError{fmt.Errorf("classification failed for account %q: %w", accountName, err)}
}

// CanonicalName picks the name the duplicate group should carry: the
// more complete record wins, longer names break ties (so "Benjamin Fry"
// beats "Ben Fry").
func CanonicalName(c1, c2 crm.Contact) string {
	name1, name2 := c1.FullName(), c2.FullName()

	score1, score2 := len(name1), len(name2)
	if c1.Phone != "" {
		score1 += 10
	}
	if c2.Phone != "" {
		score2 += 10
	}
	if c1.Title != "" {
		score1 += 10
	}
	if c2.Title != "" {
		score2 += 10
	}

	if score1 >= score2 {
		return name1
	}
	return name2
}

// SurvivorID returns the id of the record to keep, using the same
// completeness scoring as CanonicalName.
func SurvivorID(c1, c2 crm.Contact) string {
	if CanonicalName(c1, c2) == c1.FullName() {
		return c1.ID
	}
	return c2.ID
}

// Justification produces the reviewer-facing explanation of why contact
// should be kept or merged away relative to other.
func Justification(contact, other crm.Contact, suggestedDelete bool) string {
	name, otherName := contact.FullName(), other.FullName()

	var parts []string
	if suggestedDelete {
		if name != otherName {
			if strings.EqualFold(name, otherName) {
				parts = append(parts, fmt.Sprintf("name capitalization differs from %q", otherName))
			} else {
				parts = append(parts, fmt.Sprintf("likely variant of %q", otherName))
			}
		}
		var missing []string
		if contact.Phone == "" && other.Phone != "" {
			missing = append(missing, "phone")
		}
		if contact.Title == "" && other.Title != "" {
			missing = append(missing, "title")
		}
		if len(missing) > 0 {
			parts = append(parts, "missing "+joinAnd(missing))
		}
		if contact.BouncedAt != nil {
			parts = append(parts, "email bounced")
		}
		if len(parts) == 0 {
			parts = append(parts, "less complete than the other record")
		}
	} else {
		var has []string
		if contact.Phone != "" {
			has = append(has, "phone")
		}
		if contact.Title != "" {
			has = append(has, "title")
		}
		if len(has) > 0 {
			parts = append(parts, "has "+joinAnd(has))
		}
		if name != otherName && len(name) > len(otherName) {
			parts = append(parts, "more complete name")
		}
		if len(parts) == 0 {
			parts = append(parts, "more complete record")
		}
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += "; " + p
	}
	return out
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	out := items[0]
	for _, s := range items[1 : len(items)-1] {
		out += ", " + s
	}
	return out + " and " + items[len(items)-1]
}
