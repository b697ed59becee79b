package catalog

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/google/uuid"
)

// Submission is a freshly queued job: what the worker will claim and the
// basename its package will publish under.
type Submission struct {
	JobID    int64
	Token    string
	Basename string
}

// Submit inserts the job row directly as Queued, with a fresh task token
// and a pre-assigned basename. The caller publishes the matching task
// message; if that publish is lost, re-running Submit on the same source
// just makes a new job.
func (s *Store) Submit(ctx context.Context, source, presetName string) (Submission, error) {
	sub := Submission{
		Token:    uuid.NewString(),
		Basename: hexUUID(uuid.NewString()),
	}
	err := s.transact(ctx, func(tx *sql.Tx) error {
		var presetID sql.NullInt64
		if presetName != "" {
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM presets WHERE name = $1`, presetName).Scan(&presetID.Int64)
			if stderrors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("unknown preset %q", presetName)
			}
			if err != nil {
				return err
			}
			presetID.Valid = true
		}
		return tx.QueryRowContext(ctx, `
INSERT INTO videos (status, task_id, source, basename, preset_id)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
			int(Queued), sub.Token, source, sub.Basename, presetID).Scan(&sub.JobID)
	})
	if err != nil {
		return Submission{}, err
	}
	return sub, nil
}
