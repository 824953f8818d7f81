package runner

import (
	"sort"
	"strings"
	"time"

	"github.com/crmtools/dedup-planner/internal/classifier"
	"github.com/crmtools/dedup-planner/internal/crm"
	"github.com/crmtools/dedup-planner/internal/store/model"
)

type accountGroup struct {
	accountName string
	contacts    []crm.Contact
}

// groupByAccount partitions contacts by account name, keeping a
// deterministic account order so repeated runs classify in the same
// sequence.
func groupByAccount(contacts []crm.Contact) []accountGroup {
	byName := map[string][]crm.Contact{}
	for _, c := range contacts {
		byName[c.AccountName] = append(byName[c.AccountName], c)
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	groups := make([]accountGroup, 0, len(names))
	for _, name := range names {
		groups = append(groups, accountGroup{accountName: name, contacts: byName[name]})
	}
	return groups
}

func contactIDs(contacts []crm.Contact) []string {
	ids := make([]string, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}
	return ids
}

// Activity keywords that mark an address as bounced or confirmed. Matched
// case-insensitively against status and description.
var (
	bounceKeywords  = []string{"bounce", "bounced", "failed", "undeliverable", "invalid"}
	successKeywords = []string{"sent", "delivered", "completed"}
)

// validateEmails derives an email status per contact from its activity
// history and returns the updates for contacts whose stored status is
// stale. The most recent conclusive activity wins.
func validateEmails(contacts []crm.Contact, activities map[string][]crm.Activity, now time.Time) []crm.ContactUpdate {
	var updates []crm.ContactUpdate
	stamp := now.Format(time.RFC3339)

	for _, c := range contacts {
		status, when := classifyActivities(activities[c.ID])
		if status == crm.EmailStatusUnknown || status == c.EmailStatus {
			continue
		}

		fields := map[string]string{
			crm.FieldEmailStatus:        status,
			crm.FieldEmailLastValidated: stamp,
		}
		switch status {
		case crm.EmailStatusInvalid:
			fields[crm.FieldEmailBouncedDate] = when.Format(time.RFC3339)
		case crm.EmailStatusValid:
			fields[crm.FieldEmailVerifiedDate] = when.Format(time.RFC3339)
		}
		updates = append(updates, crm.ContactUpdate{ContactID: c.ID, Fields: fields})
	}
	return updates
}

func classifyActivities(acts []crm.Activity) (string, time.Time) {
	status := crm.EmailStatusUnknown
	var when time.Time

	for _, a := range acts {
		text := strings.ToLower(a.Status + " " + a.Description)
		var verdict string
		if containsAny(text, bounceKeywords) {
			verdict = crm.EmailStatusInvalid
		} else if containsAny(strings.ToLower(a.Status), successKeywords) {
			verdict = crm.EmailStatusValid
		} else {
			continue
		}
		if status == crm.EmailStatusUnknown || a.Date.After(when) {
			status = verdict
			when = a.Date
		}
	}
	return status, when
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// buildDecisionPairs projects classifier candidates into the shape a
// reviewer sees at the approval checkpoint.
func buildDecisionPairs(candidates []classifier.CandidatePair) []model.DuplicatePair {
	pairs := make([]model.DuplicatePair, 0, len(candidates))
	for _, cand := range candidates {
		pairs = append(pairs, model.DuplicatePair{
			PairID:        cand.PairID(),
			AccountName:   cand.Contact1.AccountName,
			Confidence:    cand.Confidence,
			Reasoning:     cand.Reasoning,
			CanonicalName: classifier.CanonicalName(cand.Contact1, cand.Contact2),
			Contact1:      contactRef(cand.Contact1),
			Contact2:      contactRef(cand.Contact2),
		})
	}
	return pairs
}

func contactRef(c crm.Contact) model.ContactRef {
	return model.ContactRef{
		ID:    c.ID,
		Name:  c.FullName(),
		Email: c.Email,
		Phone: c.Phone,
		Title: c.Title,
	}
}

// buildMarkUpdates turns each candidate pair into the two contact
// updates that mark the group in the CRM. The survivor is flagged keep,
// the other record merge, and the merge candidate's email status is set
// to Duplicate so campaigns stop targeting it.
func buildMarkUpdates(candidates []classifier.CandidatePair) []crm.ContactUpdate {
	var updates []crm.ContactUpdate
	for _, cand := range candidates {
		groupID := cand.PairID()
		survivor := classifier.SurvivorID(cand.Contact1, cand.Contact2)

		for _, c := range []crm.Contact{cand.Contact1, cand.Contact2} {
			other := cand.Contact2
			if c.ID == cand.Contact2.ID {
				other = cand.Contact1
			}
			keep := c.ID == survivor

			fields := map[string]string{
				crm.FieldDuplicateGroup:    groupID,
				crm.FieldDuplicateReviewed: "false",
			}
			if keep {
				fields[crm.FieldSuggestedAction] = "keep"
				fields[crm.FieldDuplicateReason] = classifier.Justification(c, other, false)
			} else {
				fields[crm.FieldSuggestedAction] = "merge"
				fields[crm.FieldDuplicateReason] = classifier.Justification(c, other, true)
				fields[crm.FieldEmailStatus] = crm.EmailStatusDuplicate
			}
			updates = append(updates, crm.ContactUpdate{ContactID: c.ID, Fields: fields})
		}
	}
	return updates
}

// excludePairs drops the candidates a reviewer struck from the decision.
func excludePairs(candidates []classifier.CandidatePair, excludedIDs []string) []classifier.CandidatePair {
	if len(excludedIDs) == 0 {
		return candidates
	}
	excluded := make(map[string]struct{}, len(excludedIDs))
	for _, id := range excludedIDs {
		excluded[id] = struct{}{}
	}

	kept := candidates[:0]
	for _, cand := range candidates {
		if _, skip := excluded[cand.PairID()]; !skip {
			kept = append(kept, cand)
		}
	}
	return kept
}
