package crm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemory is a fixture-backed CRM used by local runs and tests. Faults
// can be injected per operation to exercise the runner's error paths.
type InMemory struct {
	mu         sync.Mutex
	contacts   map[string]Contact
	activities map[string][]Activity

	connectErr error
	extractErr error
	applyErr   error
	rejectIDs  map[string]string

	applied []ContactUpdate
}

var (
	_ DataSource = (*InMemory)(nil)
	_ Connection = (*InMemory)(nil)
)

func NewInMemory() *InMemory {
	return &InMemory{
		contacts:   make(map[string]Contact),
		activities: make(map[string][]Activity),
		rejectIDs:  make(map[string]string),
	}
}

// Seed loads fixture contacts and their activity history.
func (m *InMemory) Seed(contacts []Contact, activities map[string][]Activity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range contacts {
		m.contacts[c.ID] = c
	}
	for id, acts := range activities {
		m.activities[id] = append([]Activity(nil), acts...)
	}
}

// FailConnect makes the next Connect calls return err. Nil clears it.
func (m *InMemory) FailConnect(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectErr = err
}

// FailExtract makes contact extraction return err. Nil clears it.
func (m *InMemory) FailExtract(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractErr = err
}

// FailApply makes ApplyBatch fail wholesale with err. Nil clears it.
func (m *InMemory) FailApply(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyErr = err
}

// RejectContact marks a single contact id so its updates fail
// individually, without failing the batch.
func (m *InMemory) RejectContact(id, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectIDs[id] = message
}

// Applied returns every update accepted so far, in application order.
func (m *InMemory) Applied() []ContactUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ContactUpdate(nil), m.applied...)
}

func (m *InMemory) Connect(ctx context.Context) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	return m, nil
}

func (m *InMemory) ExtractContacts(ctx context.Context, filter ExtractFilter) ([]Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extractErr != nil {
		return nil, m.extractErr
	}

	owners := make(map[string]struct{}, len(filter.OwnerIDs))
	for _, id := range filter.OwnerIDs {
		owners[id] = struct{}{}
	}

	out := make([]Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		if len(owners) > 0 {
			if _, ok := owners[c.OwnerID]; !ok {
				continue
			}
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountName != out[j].AccountName {
			return out[i].AccountName < out[j].AccountName
		}
		if out[i].LastName != out[j].LastName {
			return out[i].LastName < out[j].LastName
		}
		return out[i].ID < out[j].ID
	})

	if filter.BatchSize > 0 && len(out) > filter.BatchSize {
		out = out[:filter.BatchSize]
	}
	return out, nil
}

func (m *InMemory) ExtractActivities(ctx context.Context, contactIDs []string) (map[string][]Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]Activity)
	for _, id := range contactIDs {
		if acts, ok := m.activities[id]; ok {
			out[id] = append([]Activity(nil), acts...)
		}
	}
	return out, nil
}

func (m *InMemory) ApplyBatch(ctx context.Context, updates []ContactUpdate) ([]UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applyErr != nil {
		return nil, m.applyErr
	}

	results := make([]UpdateResult, 0, len(updates))
	for _, u := range updates {
		if msg, rejected := m.rejectIDs[u.ContactID]; rejected {
			results = append(results, UpdateResult{ContactID: u.ContactID, Success: false, Message: msg})
			continue
		}
		if _, ok := m.contacts[u.ContactID]; !ok {
			results = append(results, UpdateResult{
				ContactID: u.ContactID,
				Success:   false,
				Message:   fmt.Sprintf("contact %s not found", u.ContactID),
			})
			continue
		}
		m.applied = append(m.applied, u)
		results = append(results, UpdateResult{ContactID: u.ContactID, Success: true})
	}
	return results, nil
}
