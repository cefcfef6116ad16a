package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/tabiasoft/orodha/core/learner"
)

type learnerRepository struct {
	db *sqlx.DB
}

var _ learner.Repository = (*learnerRepository)(nil)

func NewLearnerRepository(db *sqlx.DB) *learnerRepository {
	return &learnerRepository{db: db}
}

// upsertParams binds a record for the upsert statement. Rows are keyed on the
// record's natural key, not the raw admission number: a case-only edit in the
// source must land on the existing row, never insert a sibling.
func upsertParams(rec learner.Record) map[string]interface{} {
	return map[string]interface{}{
		"admission_no": rec.Key(),
		"full_name":    rec.FullName,
		"grade_name":   rec.GradeName,
		"date_joined":  rec.DateJoined,
		"gender":       rec.Gender,
		"status":       rec.Status,
	}
}

// ApplyChanges persists one batch of inferred events in a single transaction.
// Inserts and updates share an upsert keyed on the natural key, so replaying
// a batch converges on the same rows.
func (repo learnerRepository) ApplyChanges(ctx context.Context, changes []learner.Change) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	const upsert = `
INSERT INTO learner (admission_no, full_name, grade_name, date_joined, gender, status, updated_at)
VALUES (:admission_no, :full_name, :grade_name, :date_joined, :gender, :status, now())
ON CONFLICT (admission_no) DO UPDATE SET
	full_name   = EXCLUDED.full_name,
	grade_name  = EXCLUDED.grade_name,
	date_joined = EXCLUDED.date_joined,
	gender      = EXCLUDED.gender,
	status      = EXCLUDED.status,
	updated_at  = now()`

	for _, change := range changes {
		switch change.Type {
		case learner.EventNewStudent, learner.EventStudentUpdated:
			if _, err := tx.NamedExecContext(ctx, upsert, upsertParams(change.Record)); err != nil {
				return errors.Wrapf(err, "upserting learner %s", change.Record.AdmissionNo)
			}
		case learner.EventStudentRemoved:
			if _, err := tx.ExecContext(ctx, "DELETE FROM learner WHERE admission_no = $1", change.Record.Key()); err != nil {
				return errors.Wrapf(err, "deleting learner %s", change.Record.AdmissionNo)
			}
		default:
			return errors.Errorf("unknown change type %q", change.Type)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	return nil
}
