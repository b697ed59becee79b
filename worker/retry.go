package worker

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/just-work/video-transcoding/errors"
)

// DefaultLockRetries bounds how often a claim is retried on logical
// rejections (row locked elsewhere, unexpected state) before the task is
// abandoned.
const DefaultLockRetries = 5

// Retry runs op until it succeeds, the context dies, or the policy gives
// up. Infrastructure faults retry without bound because waiting the
// database or broker out is the only fix; logical errors consume a bounded
// budget; unretriable errors stop the loop at once.
func Retry(ctx context.Context, bounded uint64, op func() error) error {
	tiers := &tieredBackOff{
		transient: errors.Forever(),
		logical:   errors.Retries(bounded),
	}
	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if errors.IsUnretriable(err) {
			return backoff.Permanent(err)
		}
		tiers.lastTransient = errors.IsTransient(err)
		return err
	}
	err := backoff.Retry(wrapped, backoff.WithContext(tiers, ctx))
	var perm *backoff.PermanentError
	for stderrors.As(err, &perm) {
		err = perm.Err
	}
	return err
}

// tieredBackOff picks the pause after a failure by what failed: the
// unbounded policy for infrastructure faults, the bounded one for logical
// rejections. Only the logical tier can exhaust the loop.
type tieredBackOff struct {
	transient     backoff.BackOff
	logical       backoff.BackOff
	lastTransient bool
}

func (b *tieredBackOff) NextBackOff() time.Duration {
	if b.lastTransient {
		return b.transient.NextBackOff()
	}
	return b.logical.NextBackOff()
}

func (b *tieredBackOff) Reset() {
	b.transient.Reset()
	b.logical.Reset()
}
