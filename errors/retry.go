package errors

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retries returns an exponential backoff policy that gives up after n
// attempts. Used for application-level errors where endless retries would
// only repeat the same rejection.
func Retries(n uint64) backoff.BackOff {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 1 * time.Second
	backOff.MaxInterval = 30 * time.Second
	backOff.MaxElapsedTime = 0
	return backoff.WithMaxRetries(backOff, n)
}

// Forever returns an exponential backoff policy with no attempt limit.
// Infrastructure errors are retried on it until the context dies.
func Forever() backoff.BackOff {
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 1 * time.Second
	backOff.MaxInterval = 30 * time.Second
	backOff.MaxElapsedTime = 0
	return backOff
}
