// Package progress rate-limits pipeline completion updates. A job with
// hundreds of chunks would otherwise spam its consumers with near-identical
// reports, so the reporter forwards an update only when it crosses a
// completion bucket or enough time has passed since the last one.
package progress

import (
	"sort"
	"time"

	"github.com/benbjohnson/clock"
)

// Clock is swapped for a mock in tests.
var Clock = clock.New()

var reportBuckets = []float64{0, 0.25, 0.5, 0.75, 1}

const minReportInterval = 10 * time.Second

// Func consumes throttled updates. fraction is completed/total in [0, 1].
type Func func(completed, total int, fraction float64)

// Reporter tracks chunk completion for one job. Not safe for concurrent
// use; the pipeline advances it from a single goroutine.
type Reporter struct {
	total    int
	done     int
	sink     Func
	lastSent float64
	lastAt   time.Time
}

func NewReporter(total int, sink Func) *Reporter {
	return &Reporter{total: total, sink: sink}
}

// Advance records count more completed chunks. The sink hears about it
// when the completion fraction moves into another report bucket, when the
// throttle window has elapsed, and always on the final chunk.
func (r *Reporter) Advance(count int) {
	if r.sink == nil || r.total <= 0 {
		return
	}
	r.done += count
	if r.done > r.total {
		r.done = r.total
	}
	fraction := float64(r.done) / float64(r.total)
	if r.done < r.total &&
		Clock.Since(r.lastAt) < minReportInterval &&
		bucket(fraction) == bucket(r.lastSent) {
		return
	}
	r.sink(r.done, r.total, fraction)
	r.lastSent, r.lastAt = fraction, Clock.Now()
}

func bucket(fraction float64) int {
	return sort.SearchFloat64s(reportBuckets, fraction)
}
