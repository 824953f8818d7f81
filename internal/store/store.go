package store

// Store aggregates the per-entity stores. The process starts with an
// empty store; job records live for the lifetime of the process and are
// never persisted (retention is the operator's concern).
type Store interface {
	Job() Job
	Close() error
}

type DataStore struct {
	job Job
}

// NewStore builds the in-memory data store. The commit hook, when not
// nil, is invoked after every job mutation in per-job commit order.
func NewStore(onCommit CommitHook) Store {
	return &DataStore{
		job: NewJobStore(onCommit),
	}
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Close() error {
	return nil
}
