package delivery

import "time"

// backoffTable maps attempt number (1-based) to the delay before the next
// try. Attempts past the end of the table reuse the last entry.
var backoffTable = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

// Backoff returns the retry delay after the n-th failed attempt.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(backoffTable) {
		attempt = len(backoffTable)
	}
	return backoffTable[attempt-1]
}
