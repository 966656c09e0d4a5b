package trainer

import "time"

// maxWriteAttempts bounds how often a control point write is retried
// before the whole operation is reported as failed.
const maxWriteAttempts = 3

// writeBackoff returns the delay before retry number attempt (1-based,
// so the first retry waits one base interval). Doubles per attempt.
func writeBackoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}
