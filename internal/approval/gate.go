// Package approval provides the synchronization point between a job's
// worker goroutine and the request path. The worker registers its
// checkpoint before the awaiting state becomes visible, then blocks on
// WaitForDecision; a decision posted through the API wakes it
// immediately. No polling is involved.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmtools/dedup-planner/internal/store/model"
)

// ErrNoPendingDecision is returned by Post when no checkpoint is
// registered for the job, or when a decision for the current checkpoint
// was already posted. Only the first decision per checkpoint is honored.
var ErrNoPendingDecision = errors.New("no pending decision for job")

type waiter struct {
	ch      chan model.ApprovalDecision
	decided bool
}

type Gate struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]*waiter
}

func NewGate() *Gate {
	return &Gate{
		waiters: make(map[uuid.UUID]*waiter),
	}
}

// Register opens the job's checkpoint for decisions. The worker calls
// this before it publishes the awaiting state, so any client that
// observes the job as awaiting approval can post a decision without a
// window where the gate would refuse it. Registering an already
// registered checkpoint is a no-op.
func (g *Gate) Register(jobID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.waiters[jobID]; !ok {
		g.waiters[jobID] = &waiter{ch: make(chan model.ApprovalDecision, 1)}
	}
}

// Deregister withdraws a checkpoint that will never be waited on, for
// example when publishing the awaiting state failed.
func (g *Gate) Deregister(jobID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.waiters, jobID)
}

// WaitForDecision blocks the calling goroutine until a decision is
// posted for jobID or the timeout elapses. A decision posted between
// Register and this call is returned immediately. Absence of a decision
// is a rejection: ok is false on timeout or context cancellation, and
// the caller must treat that as a deny.
func (g *Gate) WaitForDecision(ctx context.Context, jobID uuid.UUID, timeout time.Duration) (model.ApprovalDecision, bool) {
	g.mu.Lock()
	w, ok := g.waiters[jobID]
	if !ok {
		w = &waiter{ch: make(chan model.ApprovalDecision, 1)}
		g.waiters[jobID] = w
	}
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision := <-w.ch:
		g.Deregister(jobID)
		return decision, true
	case <-timer.C:
		zap.S().Named("approval").Infow("approval wait timed out", "job_id", jobID, "timeout", timeout)
	case <-ctx.Done():
		zap.S().Named("approval").Infow("approval wait cancelled", "job_id", jobID, "error", ctx.Err())
	}

	g.Deregister(jobID)

	// Drain a decision that raced with the timeout; it was posted before
	// the waiter deregistered, so honoring it keeps Post's success answer
	// truthful.
	select {
	case decision := <-w.ch:
		return decision, true
	default:
	}
	return model.ApprovalDecision{}, false
}

// Post hands the decision to the job's registered checkpoint. The
// checkpoint is marked decided on success, so a second post for the same
// checkpoint fails with ErrNoPendingDecision.
func (g *Gate) Post(jobID uuid.UUID, decision model.ApprovalDecision) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.waiters[jobID]
	if !ok || w.decided {
		return ErrNoPendingDecision
	}
	w.decided = true
	w.ch <- decision
	return nil
}

// Waiting reports whether the job has a registered checkpoint that has
// not received a decision yet.
func (g *Gate) Waiting(jobID uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.waiters[jobID]
	return ok && !w.decided
}
