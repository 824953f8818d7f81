package events

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmtools/dedup-planner/internal/store/model"
)

// subscriberBuffer bounds how far a slow consumer may lag before it is
// detached. Delivery is best-effort: detaching one subscriber never
// affects the others nor the publishing call.
const subscriberBuffer = 32

// Subscriber is one live observer of a job's snapshots. Updates returns
// a channel closed on unsubscribe or detach.
type Subscriber struct {
	jobID uuid.UUID
	ch    chan model.Job
	// lastVersion is the newest snapshot version queued so far, guarded
	// by the broadcaster mutex. Older snapshots are discarded, so a
	// subscriber registered before its initial snapshot was fetched can
	// never observe the job state move backwards.
	lastVersion int64

	closeOnce sync.Once
}

func (s *Subscriber) Updates() <-chan model.Job {
	return s.ch
}

func (s *Subscriber) close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// Broadcaster fans out job snapshots to per-job subscribers. Snapshots
// for one job are delivered in the order Publish is called; stale
// versions are dropped; there is no cross-job ordering, no replay and no
// acknowledgment.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[*Subscriber]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[uuid.UUID]map[*Subscriber]struct{}),
	}
}

// Subscribe registers a new observer for jobID. Registration happens
// before the caller fetches the current snapshot (handed over through
// Deliver), so no commit between the two can be missed.
func (b *Broadcaster) Subscribe(jobID uuid.UUID) *Subscriber {
	sub := &Subscriber{
		jobID: jobID,
		ch:    make(chan model.Job, subscriberBuffer),
	}

	b.mu.Lock()
	sinks, ok := b.subs[jobID]
	if !ok {
		sinks = make(map[*Subscriber]struct{})
		b.subs[jobID] = sinks
	}
	sinks[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Deliver queues the snapshot for a single subscriber, typically the
// current state right after Subscribe. If a newer snapshot was already
// published to the subscriber, the stale one is discarded.
func (b *Broadcaster) Deliver(sub *Subscriber, snapshot model.Job) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	dropped := !b.enqueueLocked(sub, snapshot)
	b.mu.Unlock()

	if dropped {
		sub.close()
		zap.S().Named("broadcaster").Warnw("dropped slow subscriber", "job_id", sub.jobID)
	}
}

func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	b.detachLocked(sub)
	b.mu.Unlock()
	sub.close()
}

// Publish delivers the snapshot to every subscriber of the job. A sink
// whose buffer is full is dropped; Publish itself never blocks.
func (b *Broadcaster) Publish(jobID uuid.UUID, snapshot model.Job) {
	b.mu.Lock()
	var dropped []*Subscriber
	for sub := range b.subs[jobID] {
		if !b.enqueueLocked(sub, snapshot) {
			dropped = append(dropped, sub)
		}
	}
	for _, sub := range dropped {
		b.detachLocked(sub)
	}
	b.mu.Unlock()

	for _, sub := range dropped {
		sub.close()
		zap.S().Named("broadcaster").Warnw("dropped slow subscriber", "job_id", jobID)
	}
}

// SubscriberCount reports the number of live observers of one job.
func (b *Broadcaster) SubscriberCount(jobID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}

// enqueueLocked queues the snapshot unless it is stale. It reports false
// when the subscriber's buffer is full and the subscriber must be
// detached.
func (b *Broadcaster) enqueueLocked(sub *Subscriber, snapshot model.Job) bool {
	if snapshot.Version <= sub.lastVersion {
		return true
	}
	select {
	case sub.ch <- snapshot.Copy():
		sub.lastVersion = snapshot.Version
		return true
	default:
		return false
	}
}

func (b *Broadcaster) detachLocked(sub *Subscriber) {
	sinks, ok := b.subs[sub.jobID]
	if !ok {
		return
	}
	delete(sinks, sub)
	if len(sinks) == 0 {
		delete(b.subs, sub.jobID)
	}
}
