package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	_ "github.com/lib/pq"
	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	ffprobe "gopkg.in/vansante/go-ffprobe.v2"

	"github.com/just-work/video-transcoding/cache"
	"github.com/just-work/video-transcoding/catalog"
	"github.com/just-work/video-transcoding/config"
	"github.com/just-work/video-transcoding/log"
	"github.com/just-work/video-transcoding/profiles"
	"github.com/just-work/video-transcoding/queue"
	"github.com/just-work/video-transcoding/shutdown"
	"github.com/just-work/video-transcoding/worker"
)

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	fs := flag.NewFlagSet("transcode-worker", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")
	fs.StringVar(&cli.DatabaseURL, "database-url", "", "Postgres URL of the job catalog")
	fs.StringVar(&cli.AMQPURL, "amqp-url", "", "RabbitMQ url")
	fs.StringVar(&cli.QueueName, "queue", "transcode", "Name of the task queue")
	fs.IntVar(&cli.Concurrency, "concurrency", 2, "Number of jobs processed in parallel")
	fs.DurationVar(&cli.Countdown, "countdown", 10*time.Second, "Delay before a requeued task is consumed again")
	config.URLVarFlag(fs, &cli.TempURI, "temp-uri", "file:///data/tmp/", "Workspace for intermediate artifacts")
	config.URLSliceVarFlag(fs, &cli.Origins, "origin", "file:///data/results/", "Comma-separated origins; finished packages are written to the first one")
	config.URLSliceVarFlag(fs, &cli.Edges, "edge", "http://localhost:8000/media/", "Comma-separated public playback base URLs")
	fs.StringVar(&cli.URLTemplate, "url-template", "{edge}/results/{filename}/index.m3u8", "Playback URL format for finished jobs")
	fs.DurationVar(&cli.ChunkDuration, "chunk-duration", time.Minute, "Target duration of one split chunk")
	fs.DurationVar(&cli.SegmentDuration, "segment-duration", 4*time.Second, "Target duration of one HLS segment")
	fs.DurationVar(&cli.ConnectTimeout, "connect-timeout", time.Second, "Connect timeout for WebDAV workspaces")
	fs.DurationVar(&cli.RequestTimeout, "request-timeout", time.Second, "Per-request timeout for WebDAV workspaces")
	fs.DurationVar(&cli.EncodeTimeout, "encode-timeout", 0, "Wall-clock limit for one job, 0 disables")
	fs.DurationVar(&cli.StopGrace, "stop-grace", 10*time.Second, "How long a stopped ffmpeg may keep running before the hard kill")
	fs.StringVar(&cli.PresetFile, "preset-file", "", "YAML or JSON preset applied to jobs without one in the catalog")
	fs.StringVar(&cli.FFmpegPath, "ffmpeg-path", config.DefaultFFmpegPath, "Path to the ffmpeg binary")
	fs.StringVar(&cli.FFprobePath, "ffprobe-path", config.DefaultFFprobePath, "Path to the ffprobe binary")
	fs.IntVar(&cli.OpsPort, "ops-port", 8097, "Port for the liveness/metrics/jobs listener")
	fs.IntVar(&cli.ErrorTail, "error-tail", 10, "How many ffmpeg error lines are kept for the failure message")

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("VIDEO")); err != nil {
		glog.Fatalf("Error parsing flags: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	if *version {
		fmt.Printf("transcode-worker version: %s\n", config.Version)
		return
	}
	if err := cli.Validate(); err != nil {
		glog.Fatalf("Invalid configuration: %s", err)
	}
	if err := shutdown.JoinProcessGroup(); err != nil {
		glog.Fatalf("Error setting up process group: %s", err)
	}
	if cli.FFprobePath != config.DefaultFFprobePath {
		ffprobe.SetFFProbeBinPath(cli.FFprobePath)
	}

	store, err := connectCatalog(&cli)
	if err != nil {
		glog.Fatalf("Error connecting to the job catalog: %s", err)
	}
	defer store.Close()

	if cli.PresetFile != "" {
		preset, err := profiles.LoadFile(cli.PresetFile)
		if err != nil {
			glog.Fatalf("Error loading preset file: %s", err)
		}
		store.SetFallbackPreset(preset)
	}

	conn, err := queue.Dial(cli.AMQPURL)
	if err != nil {
		glog.Fatalf("Error connecting to the broker: %s", err)
	}
	defer conn.Close()

	active := cache.New[worker.Info]()

	// Canceling this context prompts every component to shut down cleanly.
	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return shutdown.Handle(ctx)
	})

	group.Go(func() error {
		return serveOps(ctx, &cli, active)
	})

	for i := 0; i < cli.Concurrency; i++ {
		q, err := queue.New(conn, cli.QueueName, queue.Options{
			ConsumerTimeout: consumerTimeout(&cli),
		})
		if err != nil {
			glog.Fatalf("Error setting up queue channel: %s", err)
		}
		deliveries, err := q.Consume(worker.ConsumerTag(i))
		if err != nil {
			glog.Fatalf("Error starting consumer: %s", err)
		}
		runner := &worker.Runner{
			Config:  &cli,
			Catalog: store,
			Queue:   q,
			Active:  active,
			Clock:   clock.New(),
		}
		group.Go(func() error {
			defer q.Close()
			return runner.Run(ctx, deliveries)
		})
	}

	log.LogNoTaskID("worker started",
		"queue", cli.QueueName, "concurrency", cli.Concurrency,
		"temp", cli.TempURI, "store", cli.Store())

	err = group.Wait()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

// consumerTimeout keeps the broker patient for at least as long as one
// job may legally run, plus slack for the probe and storage steps. The
// broker must never reclaim a task that is still transcoding.
func consumerTimeout(cli *config.Cli) time.Duration {
	if cli.EncodeTimeout <= 0 {
		return 0
	}
	return cli.EncodeTimeout + 5*time.Minute
}

// connectCatalog opens the catalog and proves the connection works. A
// database that is merely starting up gets a minute of retries; a bad URL
// does not survive them.
func connectCatalog(cli *config.Cli) (*catalog.Store, error) {
	store, err := catalog.Open(cli.DatabaseURL, cli.Concurrency)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	err = backoff.Retry(func() error {
		return store.Ping(ctx)
	}, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// serveOps exposes the small operational surface: liveness, prometheus
// metrics and the in-flight job registry.
func serveOps(ctx context.Context, cli *config.Cli, active *cache.Cache[worker.Info]) error {
	router := httprouter.New()
	router.GET("/ok", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.Handler("GET", "/metrics", promhttp.Handler())
	router.GET("/jobs", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(active.Values()); err != nil {
			glog.Errorf("Error writing jobs response: %s", err)
		}
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cli.OpsPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
