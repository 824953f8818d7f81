package runner

import (
	"time"

	"github.com/crmtools/dedup-planner/internal/store/model"
)

// phaseLog accumulates the job's phase history as the workflow advances.
// It is owned by the single workflow goroutine, so no locking; snapshots
// handed to the store are copies.
type phaseLog struct {
	records []model.PhaseRecord
	now     func() time.Time
}

func newPhaseLog() *phaseLog {
	return &phaseLog{now: time.Now}
}

// begin closes the open record as completed and appends a new running
// one. It returns the full history for the accompanying store patch.
func (l *phaseLog) begin(name, message string) []model.PhaseRecord {
	l.closeOpen(model.PhaseCompleted)
	l.records = append(l.records, model.PhaseRecord{
		Name:      name,
		Status:    model.PhaseRunning,
		StartedAt: l.now(),
		Message:   message,
	})
	return l.snapshot()
}

// end closes the open record with the given outcome, typically
// completed on finalize, cancelled on rejection or failed on error.
func (l *phaseLog) end(status string) []model.PhaseRecord {
	l.closeOpen(status)
	return l.snapshot()
}

func (l *phaseLog) closeOpen(status string) {
	if len(l.records) == 0 {
		return
	}
	last := &l.records[len(l.records)-1]
	if last.CompletedAt != nil {
		return
	}
	done := l.now()
	last.CompletedAt = &done
	last.Status = status
}

func (l *phaseLog) snapshot() []model.PhaseRecord {
	return append([]model.PhaseRecord(nil), l.records...)
}
