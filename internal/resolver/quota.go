package resolver

import (
	"sync"
	"time"
)

// transcriptionQuota meters transcriptions over a sliding window. A limit of
// zero disables the cap.
type transcriptionQuota struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

func newTranscriptionQuota(limit int, window time.Duration) *transcriptionQuota {
	return &transcriptionQuota{
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// tryAcquire records one transcription if the window has room, and reports
// whether the caller may proceed.
func (q *transcriptionQuota) tryAcquire() bool {
	if q.limit <= 0 {
		return true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().Add(-q.window)
	kept := q.stamps[:0]
	for _, ts := range q.stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	q.stamps = kept

	if len(q.stamps) >= q.limit {
		return false
	}
	q.stamps = append(q.stamps, q.now())
	return true
}
