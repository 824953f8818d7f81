package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/crmtools/dedup-planner/internal/crm"
)

const llmPrompt = `You are analyzing contacts from the CRM account %q to identify duplicate records of the SAME person.

Contacts:
%s

Only flag contacts as duplicates if they are likely the same person with multiple records: name variants ("Ben" vs "Benjamin"), typos, email variations or one record being a stale copy. Never flag different people who merely work at the same company.

Return ONLY a JSON array; each element: {"contact_id_1": "...", "contact_id_2": "...", "confidence": "high|medium|low", "reasoning": "..."}. Return [] when no duplicates are found.`

type llmPair struct {
	ContactID1 string `json:"contact_id_1"`
	ContactID2 string `json:"contact_id_2"`
	Confidence string `json:"confidence"`
	Reasoning  string `json:"reasoning"`
}

type llmContact struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	MobilePhone  string `json:"mobilePhone,omitempty"`
	Title        string `json:"title,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

// LLM asks a chat-completion model to judge duplicates within one
// account. An API or parse failure is returned to the caller, which
// skips the account and keeps going.
type LLM struct {
	client *openai.Client
	model  string
}

var _ Classifier = (*LLM)(nil)

func NewLLM(token, model string) *LLM {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLM{
		client: openai.NewClientWithConfig(openai.DefaultConfig(token)),
		model:  model,
	}
}

func (l *LLM) DetectDuplicates(ctx context.Context, accountName string, contacts []crm.Contact) ([]CandidatePair, error) {
	if len(contacts) < 2 {
		return nil, nil
	}

	formatted := make([]llmContact, 0, len(contacts))
	byID := make(map[string]crm.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
		formatted = append(formatted, llmContact{
			ID:           c.ID,
			Name:         c.FullName(),
			Email:        c.Email,
			Phone:        c.Phone,
			MobilePhone:  c.MobilePhone,
			Title:        c.Title,
			LastModified: c.LastModified.Format("2006-01-02"),
		})
	}

	payload, err := json.MarshalIndent(formatted, "", "  ")
	if err != nil {
		return nil, err
	}

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     l.model,
		MaxTokens: 2000,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(llmPrompt, accountName, payload),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	raw, err := extractJSONArray(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	var parsed []llmPair
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	pairs := make([]CandidatePair, 0, len(parsed))
	for _, p := range parsed {
		c1, ok1 := byID[p.ContactID1]
		c2, ok2 := byID[p.ContactID2]
		if !ok1 || !ok2 || p.ContactID1 == p.ContactID2 {
			zap.S().Named("classifier").Warnw("model referenced unknown contact id",
				"account", accountName, "contact_id_1", p.ContactID1, "contact_id_2", p.ContactID2)
			continue
		}
		confidence := strings.ToLower(p.Confidence)
		switch confidence {
		case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		default:
			confidence = ConfidenceLow
		}
		pairs = append(pairs, CandidatePair{
			Contact1:   c1,
			Contact2:   c2,
			Confidence: confidence,
			Reasoning:  p.Reasoning,
		})
	}
	return pairs, nil
}

// extractJSONArray tolerates prose around the array the prompt asked for.
func extractJSONArray(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		return s, nil
	}
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start == -1 || end <= start {
		return "", fmt.Errorf("no JSON array in model response")
	}
	return s[start : end+1], nil
}
