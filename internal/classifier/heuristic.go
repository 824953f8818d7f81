package classifier

import (
	"context"
	"strings"

	"github.com/crmtools/dedup-planner/internal/crm"
)

// nicknames maps common short forms to their formal first name. Both
// directions are checked at match time.
var nicknames = map[string]string{
	"ben":   "benjamin",
	"bob":   "robert",
	"rob":   "robert",
	"bill":  "william",
	"will":  "william",
	"jon":   "jonathan",
	"jim":   "james",
	"mike":  "michael",
	"dave":  "david",
	"dan":   "daniel",
	"tom":   "thomas",
	"chris": "christopher",
	"kate":  "katherine",
	"liz":   "elizabeth",
	"beth":  "elizabeth",
	"alex":  "alexander",
	"tony":  "anthony",
	"steve": "steven",
	"rick":  "richard",
	"dick":  "richard",
	"ed":    "edward",
	"ted":   "edward",
	"andy":  "andrew",
	"matt":  "matthew",
	"sam":   "samuel",
	"nick":  "nicholas",
	"pat":   "patricia",
	"peggy": "margaret",
	"meg":   "margaret",
}

// Heuristic is the default classifier. It applies the same rules the
// reviewers were instructed to use: only flag records that look like the
// SAME person (name variants, typos, email variations), never colleagues
// who merely share an account or phone number.
type Heuristic struct{}

var _ Classifier = (*Heuristic)(nil)

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) DetectDuplicates(ctx context.Context, accountName string, contacts []crm.Contact) ([]CandidatePair, error) {
	if len(contacts) < 2 {
		return nil, nil
	}

	var pairs []CandidatePair
	for i := 0; i < len(contacts); i++ {
		for j := i + 1; j < len(contacts); j++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if pair, ok := h.compare(contacts[i], contacts[j]); ok {
				pairs = append(pairs, pair)
			}
		}
	}
	return pairs, nil
}

func (h *Heuristic) compare(c1, c2 crm.Contact) (CandidatePair, bool) {
	first1, last1 := normalize(c1.FirstName), normalize(c1.LastName)
	first2, last2 := normalize(c2.FirstName), normalize(c2.LastName)

	pair := func(confidence, reasoning string) (CandidatePair, bool) {
		return CandidatePair{Contact1: c1, Contact2: c2, Confidence: confidence, Reasoning: reasoning}, true
	}

	sameLast := last1 != "" && last1 == last2
	lastTypo := !sameLast && last1 != "" && last2 != "" && editDistance(last1, last2) == 1

	switch {
	case sameLast && first1 == first2 && first1 != "":
		if c1.FullName() == c2.FullName() {
			return pair(ConfidenceHigh, "identical name on the same account")
		}
		return pair(ConfidenceHigh, "same name with different capitalization")

	case sameLast && nicknameMatch(first1, first2):
		return pair(ConfidenceHigh, "first name variant of the same person ("+c1.FirstName+" / "+c2.FirstName+")")

	case sameLast && first1 != "" && first2 != "" && editDistance(first1, first2) == 1:
		return pair(ConfidenceMedium, "likely first name typo ("+c1.FirstName+" vs "+c2.FirstName+")")

	case lastTypo && (first1 == first2 || nicknameMatch(first1, first2)):
		return pair(ConfidenceMedium, "likely last name typo ("+c1.LastName+" vs "+c2.LastName+")")
	}

	// Email evidence: same or near-identical local part suggests the
	// same person even when one of the names is incomplete.
	if local1, local2 := emailLocal(c1.Email), emailLocal(c2.Email); local1 != "" && local2 != "" {
		if local1 == local2 && !strings.EqualFold(c1.Email, c2.Email) && (sameLast || last1 == "" || last2 == "") {
			return pair(ConfidenceMedium, "same email local part on different domains")
		}
		if sameLast && editDistance(local1, local2) == 1 {
			return pair(ConfidenceMedium, "likely email typo ("+c1.Email+" vs "+c2.Email+")")
		}
	}

	return CandidatePair{}, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func nicknameMatch(a, b string) bool {
	if a == "" || b == "" || a == b {
		return false
	}
	if formal, ok := nicknames[a]; ok && formal == b {
		return true
	}
	if formal, ok := nicknames[b]; ok && formal == a {
		return true
	}
	// "Ben" vs "Benjamin" style prefixes not covered by the table.
	if len(a) >= 3 && strings.HasPrefix(b, a) {
		return true
	}
	if len(b) >= 3 && strings.HasPrefix(a, b) {
		return true
	}
	return false
}

func emailLocal(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return ""
	}
	return strings.ToLower(email[:at])
}

// editDistance is the Levenshtein distance; inputs are short so the full
// matrix is fine.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
