package upload

import (
	"math/rand"
	"time"
)

func calculateBackoff(retryCount int, baseDelay time.Duration) time.Duration {
	delay := baseDelay * (1 << uint(retryCount))

	jitter := time.Duration(rand.Float64() * float64(delay) * 0.2) // +/- 10%
	finalDelay := delay + jitter - (time.Duration(float64(delay) * 0.1))

	maxDelay := time.Minute
	if finalDelay > maxDelay {
		finalDelay = maxDelay
	}

	return finalDelay
}
