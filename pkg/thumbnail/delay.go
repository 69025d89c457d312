package thumbnail

import "time"

const (
	baseRetryDelay = 30 * time.Second
	maxRetryDelay  = 900 * time.Second
)

// RetryDelay returns the delay before redelivering a job whose attempt
// just failed: min(900s, 30s * 2^(attempt-1)).
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
