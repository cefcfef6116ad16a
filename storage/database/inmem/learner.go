package inmemdb

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/tabiasoft/orodha/core/learner"
)

// learnerRepository keeps the applied register in memory. Used by tests and
// by deployments that only relay webhooks without a database.
type learnerRepository struct {
	mutex sync.RWMutex
	table map[string]learner.Record
}

var _ learner.Repository = (*learnerRepository)(nil)

func NewLearnerRepository() *learnerRepository {
	return &learnerRepository{table: make(map[string]learner.Record)}
}

func (repo *learnerRepository) ApplyChanges(ctx context.Context, changes []learner.Change) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	for _, change := range changes {
		key := change.Record.Key()
		switch change.Type {
		case learner.EventNewStudent, learner.EventStudentUpdated:
			repo.table[key] = change.Record
		case learner.EventStudentRemoved:
			delete(repo.table, key)
		default:
			return errors.Errorf("unknown change type %q", change.Type)
		}
	}
	return nil
}

func (repo *learnerRepository) Get(admissionNo string) (learner.Record, error) {
	repo.mutex.RLock()
	defer repo.mutex.RUnlock()

	rec, ok := repo.table[learner.Record{AdmissionNo: admissionNo}.Key()]
	if !ok {
		return learner.Record{}, learner.ErrNotFound
	}
	return rec, nil
}

func (repo *learnerRepository) All() []learner.Record {
	repo.mutex.RLock()
	defer repo.mutex.RUnlock()

	recs := make([]learner.Record, 0, len(repo.table))
	for _, rec := range repo.table {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].AdmissionNo < recs[j].AdmissionNo })
	return recs
}
