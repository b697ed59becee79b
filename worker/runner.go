// Package worker turns queue deliveries into finished jobs: claim the row,
// drive the transcoding pipeline, commit the terminal state, and put
// interrupted jobs back on the queue.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/just-work/video-transcoding/cache"
	"github.com/just-work/video-transcoding/catalog"
	"github.com/just-work/video-transcoding/config"
	"github.com/just-work/video-transcoding/encoder"
	"github.com/just-work/video-transcoding/errors"
	"github.com/just-work/video-transcoding/log"
	"github.com/just-work/video-transcoding/metrics"
	"github.com/just-work/video-transcoding/pipeline"
	"github.com/just-work/video-transcoding/progress"
	"github.com/just-work/video-transcoding/queue"
	"github.com/just-work/video-transcoding/video"
	"github.com/just-work/video-transcoding/workspace"
)

// finalizeTimeout caps the detached finalize/requeue calls that must land
// even while the run context is already canceled.
const finalizeTimeout = 30 * time.Second

// Catalog is the slice of the job store the runner needs.
type Catalog interface {
	Lock(ctx context.Context, jobID int64, token string) (catalog.Job, error)
	Unlock(ctx context.Context, jobID int64, token string, final catalog.Final) error
}

// Requeuer sends interrupted tasks back with a countdown.
type Requeuer interface {
	Requeue(ctx context.Context, token string, task queue.Task, countdown time.Duration) error
}

// Strategy is one pipeline run. *pipeline.Strategy satisfies it.
type Strategy interface {
	Run(ctx context.Context) (video.Metadata, error)
}

// Info describes an in-flight job for the ops endpoint.
type Info struct {
	JobID    int64     `json:"job_id"`
	TaskID   string    `json:"task_id"`
	Basename string    `json:"basename"`
	Source   string    `json:"source"`
	Started  time.Time `json:"started"`
}

// Runner processes deliveries one at a time.
type Runner struct {
	Config  *config.Cli
	Catalog Catalog
	Queue   Requeuer
	Encoder pipeline.Encoder
	Active  *cache.Cache[Info]
	Clock   clock.Clock

	// NewStrategy builds the pipeline for a locked job. Left nil it
	// builds the real one; tests substitute their own.
	NewStrategy func(job catalog.Job, temp, store workspace.Workspace) Strategy

	// LockRetries overrides DefaultLockRetries when positive.
	LockRetries uint64
}

// Run consumes deliveries until the context is canceled or the channel
// closes. A closed channel means the broker connection is gone, which is
// fatal for this runner.
func (r *Runner) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New(errors.TransientInfra, "delivery channel closed")
			}
			r.Handle(ctx, d)
		}
	}
}

// Handle drives one delivery to an ack. Every outcome acks the message:
// the catalog row, not the broker, is the source of truth, and a requeued
// job travels as a fresh message.
func (r *Runner) Handle(ctx context.Context, d amqp.Delivery) {
	task, err := queue.Decode(d)
	if err != nil {
		log.LogNoTaskID("dropping malformed task", "err", err)
		r.finish(d)
		return
	}
	token := d.MessageId
	log.AddContext(token, "job_id", task.ID)
	defer log.Clear(token)
	if d.Redelivered {
		metrics.Metrics.QueueRedelivered.Inc()
	}

	job, err := r.lock(ctx, task, token)
	if err != nil {
		// Claim lost or abandoned; the row belongs to someone else and
		// stays untouched.
		log.LogError(token, "abandoning task", err)
		r.finish(d)
		return
	}

	metrics.Metrics.JobsStarted.Inc()
	metrics.Metrics.JobsActive.Inc()
	started := r.clock().Now()
	r.register(job, started)
	defer func() {
		metrics.Metrics.JobsActive.Dec()
		r.unregister(token)
	}()

	outcome := r.process(ctx, task, job, token)
	metrics.Metrics.JobsFinished.WithLabelValues(outcome).Inc()
	metrics.Metrics.JobDurationSec.WithLabelValues(outcome).
		Observe(r.clock().Since(started).Seconds())
	r.finish(d)
}

// lock claims the job row, retrying per the two-tier policy.
func (r *Runner) lock(ctx context.Context, task queue.Task, token string) (catalog.Job, error) {
	var job catalog.Job
	err := Retry(ctx, r.lockRetries(), func() error {
		var err error
		job, err = r.Catalog.Lock(ctx, task.ID, token)
		if err != nil {
			log.LogError(token, "claim attempt failed", err)
		}
		return err
	})
	return job, err
}

func (r *Runner) process(ctx context.Context, task queue.Task, job catalog.Job, token string) string {
	log.AddContext(token, "basename", job.Basename)
	log.Log(token, "job locked", "source", log.RedactURL(job.Source))

	md, err := r.transcode(ctx, job)
	switch {
	case err == nil:
		if err := r.unlock(task.ID, token, catalog.FinalizeDone(md)); err != nil {
			return "lost"
		}
		log.Log(token, "job done",
			"duration", md.MinDuration(), "url", r.Config.VideoURL(job.Basename))
		return "done"

	case errors.IsCancellation(err):
		log.Log(token, "job interrupted, returning to queue", "reason", err)
		if err := r.unlock(task.ID, token, catalog.FinalizeRequeued(err.Error())); err != nil {
			return "lost"
		}
		r.requeue(task, token)
		return "requeued"

	default:
		log.LogError(token, "job failed", err)
		if err := r.unlock(task.ID, token, catalog.FinalizeError(err)); err != nil {
			return "lost"
		}
		return "error"
	}
}

// transcode builds the two job workspaces and runs the pipeline under the
// encode deadline. A pipeline panic is contained here: the job fails, the
// worker survives.
func (r *Runner) transcode(ctx context.Context, job catalog.Job) (md video.Metadata, err error) {
	temp, err := workspace.Open(
		workspace.SubURI(r.Config.TempURI, job.Basename), r.workspaceOptions())
	if err != nil {
		return md, err
	}
	store, err := workspace.Open(
		workspace.SubURI(r.Config.Store(), job.Basename), r.workspaceOptions())
	if err != nil {
		return md, err
	}

	if r.Config.EncodeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Config.EncodeTimeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf(errors.Encode, "pipeline panic: %v", p)
		}
	}()
	return r.newStrategy(job, temp, store).Run(ctx)
}

// unlock commits the terminal state on a detached context so it lands
// even during shutdown. A lost row is logged and swallowed; the job is
// someone else's now.
func (r *Runner) unlock(jobID int64, token string, final catalog.Final) error {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	err := Retry(ctx, r.lockRetries(), func() error {
		return r.Catalog.Unlock(ctx, jobID, token, final)
	})
	if err != nil {
		log.LogError(token, "finalize failed", err, "status", final.Status)
	}
	return err
}

func (r *Runner) requeue(task queue.Task, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := r.Queue.Requeue(ctx, token, task, r.Config.Countdown); err != nil {
		// The row is already QUEUED with its token, so a lost message
		// only delays the job until an operator re-publishes it.
		log.LogError(token, "requeue publish failed", err)
		return
	}
	metrics.Metrics.QueueRequeued.Inc()
	log.Log(token, "task requeued", "countdown", r.Config.Countdown)
}

func (r *Runner) finish(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.LogNoTaskID("ack failed", "err", err)
	}
}

func (r *Runner) register(job catalog.Job, started time.Time) {
	if r.Active == nil {
		return
	}
	r.Active.Store(job.TaskID, Info{
		JobID:    job.ID,
		TaskID:   job.TaskID,
		Basename: job.Basename,
		Source:   log.RedactURL(job.Source),
		Started:  started,
	})
}

func (r *Runner) unregister(token string) {
	if r.Active != nil {
		r.Active.Remove(token)
	}
}

func (r *Runner) newStrategy(job catalog.Job, temp, store workspace.Workspace) Strategy {
	if r.NewStrategy != nil {
		return r.NewStrategy(job, temp, store)
	}
	enc := r.Encoder
	if enc == nil {
		enc = encoder.New(r.Config.FFmpegPath, r.Config.StopGrace, r.Config.ErrorTail)
	}
	return &pipeline.Strategy{
		TaskID:          job.TaskID,
		Source:          job.Source,
		Temp:            temp,
		Store:           store,
		Preset:          job.Preset,
		Encoder:         enc,
		Progress:        progressLog(job.TaskID),
		ChunkDuration:   r.Config.ChunkDuration.Seconds(),
		SegmentDuration: r.Config.SegmentDuration.Seconds(),
	}
}

// progressLog reports throttled chunk completion into the task log.
func progressLog(taskID string) progress.Func {
	return func(completed, total int, fraction float64) {
		log.Log(taskID, "transcoding progress",
			"completed", completed, "total", total,
			"percent", fmt.Sprintf("%.0f", fraction*100))
	}
}

func (r *Runner) workspaceOptions() workspace.Options {
	return workspace.Options{
		ConnectTimeout: r.Config.ConnectTimeout,
		RequestTimeout: r.Config.RequestTimeout,
	}
}

func (r *Runner) lockRetries() uint64 {
	if r.LockRetries > 0 {
		return r.LockRetries
	}
	return DefaultLockRetries
}

func (r *Runner) clock() clock.Clock {
	if r.Clock == nil {
		r.Clock = clock.New()
	}
	return r.Clock
}

// ConsumerTag names this runner's subscription at the broker.
func ConsumerTag(index int) string {
	return fmt.Sprintf("transcode-worker-%d", index)
}
