// Package catalog is the worker's view of the persistent job store. The
// store owns the one piece of shared mutable state in the system, the job
// row, and guards it with row locks so no two workers ever process the
// same job.
package catalog

import (
	"github.com/just-work/video-transcoding/profiles"
	"github.com/just-work/video-transcoding/video"
)

// Status values of a job row. The producer creates rows in Created and
// queues them; this worker only ever sees Queued onwards.
type Status int

const (
	Created Status = iota
	Queued
	Process
	Done
	Error
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Queued:
		return "queued"
	case Process:
		return "process"
	case Done:
		return "done"
	case Error:
		return "error"
	}
	return "unknown"
}

// Job is one transcoding request claimed from the catalog. Preset is
// already decoded; jobs without one get the built-in default.
type Job struct {
	ID       int64
	Status   Status
	TaskID   string
	Source   string
	Basename string
	Preset   profiles.Preset
}

// Final carries the terminal fields written back when a job finishes.
// Metadata and Duration are set only for Done; Error holds the failure
// message for Error and the shutdown reason for Queued.
type Final struct {
	Status   Status
	Error    string
	Metadata *video.Metadata
	Duration float64
}

// maxErrorLength bounds the error column so a runaway ffmpeg tail cannot
// blow up the row.
const maxErrorLength = 255

// Truncate shortens an error message to what the catalog stores.
func Truncate(message string) string {
	if len(message) <= maxErrorLength {
		return message
	}
	return message[:maxErrorLength-1] + "…"
}

// FinalizeDone builds the terminal fields of a successful job: cleaned
// metadata and the playable duration, the minimum over the output streams.
func FinalizeDone(md video.Metadata) Final {
	cleaned := md.Cleaned()
	return Final{
		Status:   Done,
		Metadata: &cleaned,
		Duration: md.MinDuration(),
	}
}

// FinalizeError builds the terminal fields of a failed job.
func FinalizeError(err error) Final {
	return Final{Status: Error, Error: Truncate(err.Error())}
}

// FinalizeRequeued returns a job to the queue after a soft stop. The
// reason lands in the error column so operators can tell a requeued job
// from a stuck one.
func FinalizeRequeued(reason string) Final {
	return Final{Status: Queued, Error: Truncate(reason)}
}
