package models

import "time"

// RetryPolicy bounds automatic retries: attempt n waits
// BaseDelay * 2^(n-1), capped at MaxDelay, after the previous attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
		if delay <= 0 {
			// overflowed without a cap
			return time.Duration(1<<63 - 1)
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Due reports whether a retrying lineage may be attempted again at now.
func (p RetryPolicy) Due(log *UploadAttemptLog, now time.Time) bool {
	if log.Status != AttemptStatusRetrying || log.AttemptCount >= p.MaxAttempts {
		return false
	}
	return !log.LastAttempt.Add(p.Backoff(log.AttemptCount)).After(now)
}
