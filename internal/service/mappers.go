package service

import (
	"github.com/google/uuid"

	api "github.com/crmtools/dedup-planner/api/v1alpha1"
	"github.com/crmtools/dedup-planner/internal/store/model"
)

func ToAPIJob(j model.Job) api.Job {
	out := api.Job{
		ID:     j.ID,
		Status: string(j.Status),
		Progress: api.Progress{
			Phase:       j.Progress.Phase,
			CurrentStep: j.Progress.CurrentStep,
			TotalSteps:  j.Progress.TotalSteps,
			Message:     j.Progress.Message,
		},
		Metrics: api.Metrics{
			TotalContacts:   j.Metrics.TotalContacts,
			TotalAccounts:   j.Metrics.TotalAccounts,
			EmailsValidated: j.Metrics.EmailsValidated,
			DuplicatesFound: j.Metrics.DuplicatesFound,
			UpdatesApplied:  j.Metrics.UpdatesApplied,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	for _, e := range j.Metrics.Errors {
		out.Metrics.Errors = append(out.Metrics.Errors, api.ItemError{
			ContactID: e.ContactID,
			Message:   e.Message,
		})
	}
	if j.PendingApproval != nil {
		pa := toAPIPendingApproval(j.ID, *j.PendingApproval)
		out.PendingApproval = &pa
	}
	if j.Results != nil {
		out.Results = &api.Results{
			ContactsProcessed: j.Results.ContactsProcessed,
			DuplicatesMarked:  j.Results.DuplicatesMarked,
			UpdatesApplied:    j.Results.UpdatesApplied,
			ReportPath:        j.Results.ReportPath,
		}
	}
	if j.Error != nil {
		out.Error = *j.Error
	}
	return out
}

func toAPIPendingApproval(jobID uuid.UUID, pa model.PendingApproval) api.PendingApproval {
	out := api.PendingApproval{
		JobID:        jobID,
		Stage:        pa.Stage,
		TotalUpdates: pa.TotalUpdates,
		Pairs:        make([]api.DuplicatePair, 0, len(pa.Pairs)),
		Message:      pa.Message,
	}
	for _, p := range pa.Pairs {
		out.Pairs = append(out.Pairs, api.DuplicatePair{
			PairID:        p.PairID,
			AccountName:   p.AccountName,
			Confidence:    p.Confidence,
			Reasoning:     p.Reasoning,
			CanonicalName: p.CanonicalName,
			Contact1:      toAPIContactRef(p.Contact1),
			Contact2:      toAPIContactRef(p.Contact2),
		})
	}
	return out
}

func toAPIPhaseDetail(jobID uuid.UUID, rec model.PhaseRecord) api.PhaseDetail {
	out := api.PhaseDetail{
		JobID:     jobID,
		Phase:     rec.Name,
		Status:    rec.Status,
		StartedAt: rec.StartedAt,
		Message:   rec.Message,
	}
	if rec.CompletedAt != nil {
		done := *rec.CompletedAt
		out.CompletedAt = &done
	}
	return out
}

func toAPIContactRef(c model.ContactRef) api.ContactRef {
	return api.ContactRef{
		ID:    c.ID,
		Name:  c.Name,
		Email: c.Email,
		Phone: c.Phone,
		Title: c.Title,
	}
}
