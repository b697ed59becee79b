package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type WorkerMetrics struct {
	JobsStarted    prometheus.Counter
	JobsFinished   *prometheus.CounterVec
	JobsActive     prometheus.Gauge
	JobDurationSec *prometheus.HistogramVec

	ChunksTranscoded prometheus.Counter
	ChunksSkipped    prometheus.Counter
	ChunkDurationSec prometheus.Histogram
	PipelineProgress prometheus.Gauge
	StageDurationSec *prometheus.HistogramVec

	StorageRequests  *prometheus.CounterVec
	QueueRedelivered prometheus.Counter
	QueueRequeued    prometheus.Counter
}

func NewMetrics() *WorkerMetrics {
	m := &WorkerMetrics{
		JobsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_jobs_started_count",
			Help: "The total number of jobs locked by this worker",
		}),
		JobsFinished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_jobs_finished_count",
			Help: "The total number of finished jobs broken up by outcome",
		}, []string{"outcome"}),
		JobsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcode_jobs_active",
			Help: "The number of jobs currently being processed",
		}),
		JobDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcode_job_duration_seconds",
			Help:    "Wall-clock time a whole job took, broken up by outcome",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"outcome"}),

		ChunksTranscoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_chunks_transcoded_count",
			Help: "The total number of chunks sent through the encoder",
		}),
		ChunksSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_chunks_skipped_count",
			Help: "The total number of chunks skipped on resume because their results already existed",
		}),
		ChunkDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcode_chunk_duration_seconds",
			Help:    "Time taken to transcode one chunk",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),
		PipelineProgress: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "transcode_pipeline_progress_ratio",
			Help: "Chunk completion ratio of the job currently being processed",
		}),
		StageDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "transcode_stage_duration_seconds",
			Help:    "Time each pipeline stage took, broken up by stage",
			Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"stage"}),

		StorageRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transcode_storage_requests_count",
			Help: "WebDAV requests made by the workspace layer, broken up by method and result class",
		}, []string{"method", "class"}),
		QueueRedelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_queue_redelivered_count",
			Help: "The total number of task messages received with the redelivered flag",
		}),
		QueueRequeued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcode_queue_requeued_count",
			Help: "The total number of tasks sent back to the queue after a soft stop",
		}),
	}

	return m
}

var Metrics = NewMetrics()
