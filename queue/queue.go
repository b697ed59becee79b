// Package queue moves transcode tasks between the control plane and the
// workers over AMQP. The broker only carries triggers; all job state lives
// in the catalog, so messages stay tiny and losing one costs a requeue,
// never a result.
package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/just-work/video-transcoding/errors"
)

// Task is the body of a transcode message. The task token travels in the
// AMQP MessageId header, not the body, mirroring the catalog's task_id
// column.
type Task struct {
	ID int64 `json:"id"`
}

// waitSuffix names the parking queue used for delayed requeues. Messages
// published there expire after the countdown and dead-letter back into
// the task queue.
const waitSuffix = ".wait"

// Queue owns one AMQP channel with the worker topology declared on it.
// One Queue serves one consuming goroutine; concurrency N means N queues
// over one connection.
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	name    string
}

// Options tune the declared topology.
type Options struct {
	// ConsumerTimeout caps how long the broker waits for an ack before
	// treating the consumer as lost. Must be at least the encode timeout,
	// otherwise the broker re-queues jobs that are still transcoding.
	ConsumerTimeout time.Duration
}

// Dial connects to the broker. The connection is shared by every channel
// the worker opens.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(errors.TransientInfra, err, "connecting to broker")
	}
	return conn, nil
}

// New opens a channel on conn and declares the task and wait queues.
// Declaration is idempotent; every worker asserts the same topology.
func New(conn *amqp.Connection, name string, opts Options) (*Queue, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(errors.TransientInfra, err, "opening channel")
	}
	// One unacked message at a time: a worker must not hoard tasks it
	// cannot start.
	if err := channel.Qos(1, 0, false); err != nil {
		return nil, errors.Wrap(errors.TransientInfra, err, "setting prefetch")
	}

	if _, err := channel.QueueDeclare(name, true, false, false, false, taskQueueArgs(opts)); err != nil {
		return nil, errors.Wrap(errors.TransientInfra, err, "declaring task queue")
	}
	if _, err := channel.QueueDeclare(name+waitSuffix, true, false, false, false, waitQueueArgs(name)); err != nil {
		return nil, errors.Wrap(errors.TransientInfra, err, "declaring wait queue")
	}
	return &Queue{conn: conn, channel: channel, name: name}, nil
}

func taskQueueArgs(opts Options) amqp.Table {
	if opts.ConsumerTimeout <= 0 {
		return nil
	}
	return amqp.Table{"x-consumer-timeout": opts.ConsumerTimeout.Milliseconds()}
}

func waitQueueArgs(name string) amqp.Table {
	return amqp.Table{
		// Expired messages fall through the default exchange straight
		// back into the task queue.
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": name,
	}
}

// Consume starts delivering tasks. Deliveries must be acked or rejected
// by the caller; the channel is capped to one in flight.
func (q *Queue) Consume(tag string) (<-chan amqp.Delivery, error) {
	deliveries, err := q.channel.Consume(q.name, tag, false, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(errors.TransientInfra, err, "starting consumer")
	}
	return deliveries, nil
}

// Publish sends a task for immediate consumption.
func (q *Queue) Publish(ctx context.Context, token string, task Task) error {
	return q.publish(ctx, q.name, token, task, 0)
}

// Requeue sends a task back through the wait queue so it reappears after
// the countdown. Used on soft stop: the job row is already back in QUEUED
// with its token intact.
func (q *Queue) Requeue(ctx context.Context, token string, task Task, countdown time.Duration) error {
	if countdown <= 0 {
		return q.publish(ctx, q.name, token, task, 0)
	}
	return q.publish(ctx, q.name+waitSuffix, token, task, countdown)
}

func (q *Queue) publish(ctx context.Context, routingKey, token string, task Task, ttl time.Duration) error {
	body, err := json.Marshal(task)
	if err != nil {
		return errors.Unretriable(err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    token,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if ttl > 0 {
		msg.Expiration = Expiration(ttl)
	}
	err = q.channel.PublishWithContext(ctx, "", routingKey, false, false, msg)
	if err != nil {
		return errors.Wrap(errors.TransientInfra, err, "publishing task")
	}
	return nil
}

// Close shuts the channel down; the shared connection is closed by the
// owner of the process.
func (q *Queue) Close() error {
	err := q.channel.Close()
	if err != nil && !stderrors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

// Decode parses a delivery into a task, rejecting bodies the worker
// cannot act on.
func Decode(d amqp.Delivery) (Task, error) {
	var task Task
	if err := json.Unmarshal(d.Body, &task); err != nil {
		return task, errors.Unretriable(fmt.Errorf("malformed task body: %w", err))
	}
	if task.ID <= 0 {
		return task, errors.Unretriable(fmt.Errorf("task without a job id: %q", d.Body))
	}
	if d.MessageId == "" {
		return task, errors.Unretriable(fmt.Errorf("task %d without a token", task.ID))
	}
	return task, nil
}

// Expiration renders a per-message TTL the way AMQP wants it, whole
// milliseconds in a string.
func Expiration(ttl time.Duration) string {
	return strconv.FormatInt(ttl.Milliseconds(), 10)
}
