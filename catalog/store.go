package catalog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/just-work/video-transcoding/errors"
	"github.com/just-work/video-transcoding/log"
	"github.com/just-work/video-transcoding/profiles"
)

// Schema the store expects (DDL for reference, migrations live with the
// control plane):
//
//	CREATE TABLE presets (
//	    id      bigserial PRIMARY KEY,
//	    name    text NOT NULL UNIQUE,
//	    data    jsonb NOT NULL
//	);
//	CREATE TABLE videos (
//	    id        bigserial PRIMARY KEY,
//	    status    smallint NOT NULL DEFAULT 0,
//	    task_id   uuid,
//	    source    text NOT NULL,
//	    basename  uuid,
//	    preset_id bigint REFERENCES presets (id),
//	    metadata  jsonb,
//	    duration  interval,
//	    error     text,
//	    created   timestamptz NOT NULL DEFAULT now(),
//	    modified  timestamptz NOT NULL DEFAULT now()
//	);

// ErrWrongState reports a job row that exists but is not in the state the
// operation expects: locked elsewhere, already finished, or claimed by a
// different task token. Lock retries it a bounded number of times because
// the competing transaction usually commits quickly.
var ErrWrongState = stderrors.New("job is not in the expected state")

// Store runs job lifecycle transactions against Postgres.
type Store struct {
	db       *sql.DB
	fallback profiles.Preset
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db, fallback: profiles.DefaultPreset}
}

// SetFallbackPreset replaces the ladder applied to jobs that reference no
// preset row, normally loaded from the -preset-file option.
func (s *Store) SetFallbackPreset(p profiles.Preset) {
	s.fallback = p
}

// Open connects to the catalog database. The pool is kept tiny, every
// worker goroutine holds at most one transaction at a time.
func Open(databaseURL string, concurrency int) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening job catalog: %w", err)
	}
	db.SetMaxOpenConns(concurrency + 1)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return Classify(s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

const lockQuery = `
SELECT v.id, v.status, v.task_id, v.source, v.basename, p.data
FROM videos v LEFT JOIN presets p ON p.id = v.preset_id
WHERE v.id = $1
FOR UPDATE OF v SKIP LOCKED`

// Lock claims a queued job for a task: verifies the row carries this
// task's token and the Queued status, assigns a basename when the row has
// none yet, and moves the row to Process. A missing or locked row and a
// row in any other state return ErrWrongState.
func (s *Store) Lock(ctx context.Context, jobID int64, token string) (Job, error) {
	var job Job
	err := s.transact(ctx, func(tx *sql.Tx) error {
		var (
			taskID   sql.NullString
			basename sql.NullString
			preset   []byte
		)
		row := tx.QueryRowContext(ctx, lockQuery, jobID)
		var status int
		if err := row.Scan(&job.ID, &status, &taskID, &job.Source, &basename, &preset); err != nil {
			if stderrors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("job %d missing or locked: %w", jobID, ErrWrongState)
			}
			return err
		}
		job.Status = Status(status)
		job.TaskID = taskID.String
		if job.Status != Queued {
			return fmt.Errorf("job %d has status %s: %w", jobID, job.Status, ErrWrongState)
		}
		if job.TaskID != token {
			return fmt.Errorf("job %d belongs to task %q: %w", jobID, job.TaskID, ErrWrongState)
		}

		if basename.Valid {
			job.Basename = hexUUID(basename.String)
		} else {
			job.Basename = hexUUID(uuid.NewString())
		}

		if len(preset) > 0 {
			decoded, err := profiles.Decode(preset)
			if err != nil {
				return errors.Unretriable(err)
			}
			job.Preset = decoded
		} else {
			job.Preset = s.fallback
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE videos SET status = $2, basename = $3, modified = now() WHERE id = $1`,
			jobID, int(Process), job.Basename)
		if err != nil {
			return err
		}
		job.Status = Process
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

const unlockQuery = `
SELECT v.status, v.task_id
FROM videos v
WHERE v.id = $1
FOR UPDATE OF v SKIP LOCKED`

// Unlock commits the terminal state of a job this task still owns. Any
// sign the row moved on without us, a missing row, a foreign token, a
// status other than Process, is ConcurrencyLost: the job is being handled
// elsewhere and this task must not touch its state.
func (s *Store) Unlock(ctx context.Context, jobID int64, token string, final Final) error {
	return s.transact(ctx, func(tx *sql.Tx) error {
		var (
			status int
			taskID sql.NullString
		)
		row := tx.QueryRowContext(ctx, unlockQuery, jobID)
		if err := row.Scan(&status, &taskID); err != nil {
			if stderrors.Is(err, sql.ErrNoRows) {
				return errors.Newf(errors.ConcurrencyLost,
					"job %d missing or locked at finalize", jobID)
			}
			return err
		}
		if Status(status) != Process {
			return errors.Newf(errors.ConcurrencyLost,
				"job %d has status %s at finalize", jobID, Status(status))
		}
		if taskID.String != token {
			return errors.Newf(errors.ConcurrencyLost,
				"job %d belongs to task %q at finalize", jobID, taskID.String)
		}
		return finalize(ctx, tx, jobID, final)
	})
}

func finalize(ctx context.Context, tx *sql.Tx, jobID int64, final Final) error {
	switch final.Status {
	case Done:
		metadata, err := json.Marshal(final.Metadata)
		if err != nil {
			return errors.Unretriable(err)
		}
		_, err = tx.ExecContext(ctx, `
UPDATE videos
SET status = $2, metadata = $3, duration = make_interval(secs => $4),
    error = NULL, modified = now()
WHERE id = $1`,
			jobID, int(Done), metadata, final.Duration)
		return err
	case Queued:
		// Soft stop: the task token stays so the requeued message can
		// claim the row again.
		_, err := tx.ExecContext(ctx, `
UPDATE videos SET status = $2, error = $3, modified = now() WHERE id = $1`,
			jobID, int(Queued), final.Error)
		return err
	case Error:
		_, err := tx.ExecContext(ctx, `
UPDATE videos SET status = $2, error = $3, modified = now() WHERE id = $1`,
			jobID, int(Error), final.Error)
		return err
	}
	return errors.Unretriable(fmt.Errorf("status %s is not terminal", final.Status))
}

// hexUUID renders a uuid the way basenames appear in artifact paths and
// playback URLs, 32 hex digits without dashes.
func hexUUID(s string) string {
	return strings.ReplaceAll(s, "-", "")
}

// transact runs op in a transaction and classifies the outcome, so every
// caller sees transport faults tagged transient.
func (s *Store) transact(ctx context.Context, op func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Classify(err)
	}
	if err := op(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
			log.LogNoTaskID("catalog rollback failed", "err", rbErr)
		}
		return Classify(err)
	}
	return Classify(tx.Commit())
}

// Transient SQLSTATE classes: connection exceptions, transaction
// rollbacks (serialization, deadlock), insufficient resources, operator
// intervention (shutdown, crash recovery).
var transientClasses = map[string]bool{
	"08": true,
	"40": true,
	"53": true,
	"57": true,
}

// Classify tags infrastructure faults as TransientInfra and leaves
// everything else alone. Logical errors, ErrWrongState included, pass
// through for the caller's bounded retry.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.IsCancellation(err) || errors.IsConcurrencyLost(err) {
		return err
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		if class := pqErr.Code.Class(); transientClasses[string(class)] {
			return errors.Wrap(errors.TransientInfra, err, "database")
		}
		return err
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) || stderrors.Is(err, driver.ErrBadConn) {
		return errors.Wrap(errors.TransientInfra, err, "database transport")
	}
	return err
}
