package ingest

import (
	"log"
	"sync"
)

// Serializer runs tasks strictly in submission order per key while letting
// different keys proceed concurrently. The pipeline keys it by session
// (channel + external user), which gives per-user message ordering without a
// global queue.
type Serializer struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewSerializer creates an empty serializer.
func NewSerializer() *Serializer {
	return &Serializer{tails: make(map[string]chan struct{})}
}

// Enqueue schedules fn to run after every previously enqueued task for the
// same key has finished. A panicking task is logged and the chain continues;
// the key's entry is removed once its chain drains.
func (s *Serializer) Enqueue(key string, fn func()) {
	s.mu.Lock()
	prev := s.tails[key]
	done := make(chan struct{})
	s.tails[key] = done
	s.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("ERROR: ingest: panic in task for session %s: %v", key, r)
			}
			close(done)

			s.mu.Lock()
			if s.tails[key] == done {
				delete(s.tails, key)
			}
			s.mu.Unlock()
		}()

		if prev != nil {
			<-prev
		}
		fn()
	}()
}
