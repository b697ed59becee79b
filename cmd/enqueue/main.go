// Command enqueue submits one transcoding job: it inserts the catalog row
// and publishes the matching task message. Meant for smoke tests and
// operator re-queues, the admin plane does this in production.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	_ "github.com/lib/pq"
	"github.com/peterbourgon/ff/v3"

	"github.com/just-work/video-transcoding/catalog"
	"github.com/just-work/video-transcoding/config"
	"github.com/just-work/video-transcoding/queue"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
	cli := config.Cli{}

	source := fs.String("source", "", "Source video URI (required)")
	presetName := fs.String("preset", "", "Preset name from the catalog, empty for the built-in ladder")
	countdown := fs.Duration("delay", 0, "Delay before the task becomes consumable")
	fs.StringVar(&cli.DatabaseURL, "database-url", "", "Postgres URL of the job catalog")
	fs.StringVar(&cli.AMQPURL, "amqp-url", "", "RabbitMQ url")
	fs.StringVar(&cli.QueueName, "queue", "transcode", "Name of the task queue")
	config.URLSliceVarFlag(fs, &cli.Edges, "edge", "http://localhost:8000/media/", "Comma-separated public playback base URLs")
	fs.StringVar(&cli.URLTemplate, "url-template", "{edge}/results/{filename}/index.m3u8", "Playback URL format for finished jobs")

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("VIDEO")); err != nil {
		glog.Fatalf("Error parsing flags: %s", err)
	}
	if *source == "" {
		glog.Fatal("-source is required")
	}
	if cli.DatabaseURL == "" || cli.AMQPURL == "" {
		glog.Fatal("-database-url and -amqp-url are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := catalog.Open(cli.DatabaseURL, 1)
	if err != nil {
		glog.Fatalf("Error opening the job catalog: %s", err)
	}
	defer store.Close()

	sub, err := store.Submit(ctx, *source, *presetName)
	if err != nil {
		glog.Fatalf("Error submitting job: %s", err)
	}

	conn, err := queue.Dial(cli.AMQPURL)
	if err != nil {
		glog.Fatalf("Error connecting to the broker: %s", err)
	}
	defer conn.Close()
	q, err := queue.New(conn, cli.QueueName, queue.Options{})
	if err != nil {
		glog.Fatalf("Error setting up queue channel: %s", err)
	}
	defer q.Close()

	task := queue.Task{ID: sub.JobID}
	if *countdown > 0 {
		err = q.Requeue(ctx, sub.Token, task, *countdown)
	} else {
		err = q.Publish(ctx, sub.Token, task)
	}
	if err != nil {
		glog.Fatalf("Error publishing task: %s", err)
	}

	fmt.Printf("job %d queued (task %s)\n", sub.JobID, sub.Token)
	fmt.Printf("playback URL after transcoding: %s\n", cli.VideoURL(sub.Basename))
}
