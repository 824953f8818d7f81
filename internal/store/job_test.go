package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/crmtools/dedup-planner/internal/store"
	"github.com/crmtools/dedup-planner/internal/store/model"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Job store suite")
}

func statusPtr(s model.JobStatus) *model.JobStatus { return &s }

var _ = Describe("job store", Ordered, func() {
	var (
		s   store.Store
		ctx context.Context
	)

	BeforeEach(func() {
		s = store.NewStore(nil)
		ctx = context.Background()
	})

	AfterEach(func() {
		Expect(s.Close()).To(Succeed())
	})

	Context("create and get", func() {
		It("creates a pending job with its config", func() {
			job, err := s.Job().Create(ctx, model.JobConfig{BatchSize: 50, AutoApprove: true})
			Expect(err).ToNot(HaveOccurred())
			Expect(job.Status).To(Equal(model.JobStatusPending))
			Expect(job.Config.BatchSize).To(Equal(50))
			Expect(job.Config.AutoApprove).To(BeTrue())
			Expect(job.CreatedAt).To(Equal(job.UpdatedAt))

			got, err := s.Job().Get(ctx, job.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got.ID).To(Equal(job.ID))
		})

		It("returns ErrRecordNotFound for an unknown id", func() {
			_, err := s.Job().Get(ctx, uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))

			_, err = s.Job().Update(ctx, uuid.New(), store.JobPatch{})
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("status transitions", func() {
		It("accepts the happy path through approval", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{})

			_, err := s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusRunning)})
			Expect(err).ToNot(HaveOccurred())

			_, err = s.Job().Update(ctx, job.ID, store.JobPatch{
				Status:          statusPtr(model.JobStatusAwaitingApproval),
				PendingApproval: &model.PendingApproval{Stage: model.StageDuplicateMarking},
			})
			Expect(err).ToNot(HaveOccurred())

			_, err = s.Job().Update(ctx, job.ID, store.JobPatch{
				Status:               statusPtr(model.JobStatusRunning),
				ClearPendingApproval: true,
			})
			Expect(err).ToNot(HaveOccurred())

			updated, err := s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusCompleted)})
			Expect(err).ToNot(HaveOccurred())
			Expect(updated.Status).To(Equal(model.JobStatusCompleted))
		})

		It("rejects transitions out of terminal states", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{})
			_, err := s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusCancelled)})
			Expect(err).ToNot(HaveOccurred())

			_, err = s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusRunning)})
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})

		It("rejects pending directly to completed", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{})
			_, err := s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusCompleted)})
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})
	})

	Context("pending approval invariant", func() {
		It("refuses awaiting_approval without a pending approval", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{})
			_, err := s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusRunning)})
			Expect(err).ToNot(HaveOccurred())

			_, err = s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusAwaitingApproval)})
			Expect(err).To(MatchError(store.ErrInvalidPatch))
		})

		It("refuses a pending approval on a running job", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{})
			_, err := s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusRunning)})
			Expect(err).ToNot(HaveOccurred())

			_, err = s.Job().Update(ctx, job.ID, store.JobPatch{
				PendingApproval: &model.PendingApproval{Stage: model.StageDuplicateMarking},
			})
			Expect(err).To(MatchError(store.ErrInvalidPatch))
		})

		It("leaves the record untouched when a patch is rejected", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{})
			running, err := s.Job().Update(ctx, job.ID, store.JobPatch{
				Status:   statusPtr(model.JobStatusRunning),
				Progress: &model.Progress{Phase: "extract", CurrentStep: 2, TotalSteps: 8},
			})
			Expect(err).ToNot(HaveOccurred())

			// The status alone violates the approval invariant, so the whole
			// patch is rejected, its progress and metrics included.
			_, err = s.Job().Update(ctx, job.ID, store.JobPatch{
				Status:   statusPtr(model.JobStatusAwaitingApproval),
				Progress: &model.Progress{Phase: "bogus", CurrentStep: 99, TotalSteps: 99},
				Metrics:  &store.MetricsDelta{DuplicatesFound: 42},
			})
			Expect(err).To(MatchError(store.ErrInvalidPatch))

			got, err := s.Job().Get(ctx, job.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Status).To(Equal(model.JobStatusRunning))
			Expect(got.Progress).To(Equal(running.Progress))
			Expect(got.Metrics.DuplicatesFound).To(BeZero())
			Expect(got.Version).To(Equal(running.Version))
		})
	})

	Context("metrics deltas", func() {
		It("never loses concurrent increments", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{})
			_, err := s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusRunning)})
			Expect(err).ToNot(HaveOccurred())

			const writers = 8
			const perWriter = 50
			var wg sync.WaitGroup
			for w := 0; w < writers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWriter; i++ {
						_, err := s.Job().Update(ctx, job.ID, store.JobPatch{
							Metrics: &store.MetricsDelta{UpdatesApplied: 1},
						})
						Expect(err).ToNot(HaveOccurred())
					}
				}()
			}
			wg.Wait()

			got, err := s.Job().Get(ctx, job.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Metrics.UpdatesApplied).To(Equal(writers * perWriter))
		})

		It("appends item errors instead of replacing them", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{})
			_, err := s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusRunning)})
			Expect(err).ToNot(HaveOccurred())

			for _, id := range []string{"c1", "c2"} {
				_, err := s.Job().Update(ctx, job.ID, store.JobPatch{
					Metrics: &store.MetricsDelta{Errors: []model.ItemError{{ContactID: id, Message: "rejected"}}},
				})
				Expect(err).ToNot(HaveOccurred())
			}

			got, _ := s.Job().Get(ctx, job.ID)
			Expect(got.Metrics.Errors).To(HaveLen(2))
		})
	})

	Context("snapshots", func() {
		It("returns copies that never alias store state", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{OwnerFilter: []string{"005X"}})
			job.Config.OwnerFilter[0] = "mutated"

			got, err := s.Job().Get(ctx, job.ID)
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Config.OwnerFilter).To(Equal([]string{"005X"}))
		})

		It("increments the version on every commit", func() {
			job, _ := s.Job().Create(ctx, model.JobConfig{})
			Expect(job.Version).To(Equal(int64(1)))

			updated, err := s.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusRunning)})
			Expect(err).ToNot(HaveOccurred())
			Expect(updated.Version).To(Equal(int64(2)))

			updated, err = s.Job().Update(ctx, job.ID, store.JobPatch{Metrics: &store.MetricsDelta{TotalContacts: 1}})
			Expect(err).ToNot(HaveOccurred())
			Expect(updated.Version).To(Equal(int64(3)))
		})

		It("lists jobs in creation order", func() {
			first, _ := s.Job().Create(ctx, model.JobConfig{})
			second, _ := s.Job().Create(ctx, model.JobConfig{})

			jobs, err := s.Job().List(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(jobs).To(HaveLen(2))
			Expect(jobs[0].ID).To(Equal(first.ID))
			Expect(jobs[1].ID).To(Equal(second.ID))
		})
	})

	Context("commit hook", func() {
		It("publishes one snapshot per committed mutation in order", func() {
			var mu sync.Mutex
			var seen []model.JobStatus
			hooked := store.NewStore(func(j model.Job) {
				mu.Lock()
				seen = append(seen, j.Status)
				mu.Unlock()
			})

			job, _ := hooked.Job().Create(ctx, model.JobConfig{})
			_, err := hooked.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusRunning)})
			Expect(err).ToNot(HaveOccurred())
			_, err = hooked.Job().Update(ctx, job.ID, store.JobPatch{Status: statusPtr(model.JobStatusCompleted)})
			Expect(err).ToNot(HaveOccurred())

			mu.Lock()
			defer mu.Unlock()
			Expect(seen).To(Equal([]model.JobStatus{model.JobStatusRunning, model.JobStatusCompleted}))
		})
	})
})
