package middleware

import "sync"

// StreamLimiter caps concurrent SSE streams per api key. Acquire returns
// false at the cap; callers must Release what they acquired.
type StreamLimiter struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
}

func NewStreamLimiter(max int) *StreamLimiter {
	return &StreamLimiter{
		max:    max,
		counts: make(map[string]int),
	}
}

func (l *StreamLimiter) Acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max > 0 && l.counts[key] >= l.max {
		return false
	}
	l.counts[key]++
	return true
}

func (l *StreamLimiter) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[key] <= 1 {
		delete(l.counts, key)
		return
	}
	l.counts[key]--
}
