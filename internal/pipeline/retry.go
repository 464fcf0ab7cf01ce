package pipeline

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/proxyvote/internal/classify"
)

const (
	// MaxRetries bounds the classification attempts for one section.
	MaxRetries = 3

	maxBackoff    = 30 * time.Second
	maxRetryAfter = 2 * time.Minute
)

// IsRetryable reports whether a classification error is transient.
func IsRetryable(err error) bool {
	var retryErr *classify.RetryableError
	return errors.As(err, &retryErr)
}

// Backoff returns the jittered exponential delay before attempt n+1.
func Backoff(attempt int) time.Duration {
	base := min(time.Duration(1<<uint(min(attempt, 10)))*time.Second, maxBackoff)
	return base + time.Duration(rand.Int64N(int64(base)/2))
}

// RetryDelay is the wait before retrying after err. A Retry-After sent by the
// API wins over the backoff, capped at two minutes.
func RetryDelay(err error, attempt int) time.Duration {
	var retryErr *classify.RetryableError
	if errors.As(err, &retryErr) && retryErr.RetryAfter > 0 {
		return min(retryErr.RetryAfter, maxRetryAfter)
	}
	return Backoff(attempt)
}
