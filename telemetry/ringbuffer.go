package telemetry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// A RingBuffer keeps the most recent events. When it is full, the oldest
// event is dropped to make room for the new one. It is safe to publish and
// read from different goroutines.
type RingBuffer struct {
	lock     sync.RWMutex
	events   []Event
	head     int
	size     int
	dropped  uint64
	received uint64
}

// NewRingBuffer creates a RingBuffer that holds up to capacity events.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		logrus.Panicf("ring buffer capacity must be positive, got %d", capacity)
	}

	return &RingBuffer{events: make([]Event, capacity)}
}

// Publish stores the event.
func (r *RingBuffer) Publish(evt Event) {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.received++

	tail := (r.head + r.size) % len(r.events)
	r.events[tail] = evt

	if r.size < len(r.events) {
		r.size++
		return
	}

	r.head = (r.head + 1) % len(r.events)
	r.dropped++
}

// Capacity returns the maximum number of events kept.
func (r *RingBuffer) Capacity() int {
	return len(r.events)
}

// Len returns the number of events kept.
func (r *RingBuffer) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.size
}

// Dropped returns the number of events that were dropped because the buffer
// was full.
func (r *RingBuffer) Dropped() uint64 {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.dropped
}

// Received returns the number of events ever published.
func (r *RingBuffer) Received() uint64 {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.received
}

func (r *RingBuffer) at(i int) Event {
	return r.events[(r.head+i)%len(r.events)]
}

// Since returns, oldest first, up to max events whose sequence number is
// greater than afterSeq and whose level is at least as severe as minLevel.
// A max that is not positive means no limit.
func (r *RingBuffer) Since(afterSeq uint64, minLevel logrus.Level, max int) []Event {
	r.lock.RLock()
	defer r.lock.RUnlock()

	result := make([]Event, 0)
	for i := 0; i < r.size; i++ {
		evt := r.at(i)
		if evt.Seq <= afterSeq || evt.Level > minLevel {
			continue
		}

		result = append(result, evt)
		if max > 0 && len(result) >= max {
			break
		}
	}

	return result
}

// SinceWall returns the events that were emitted after the given wall time.
func (r *RingBuffer) SinceWall(t time.Time) []Event {
	r.lock.RLock()
	defer r.lock.RUnlock()

	result := make([]Event, 0)
	for i := 0; i < r.size; i++ {
		evt := r.at(i)
		if evt.WallTime.After(t) {
			result = append(result, evt)
		}
	}

	return result
}

// Recent returns the last n events of the given kind, oldest first. An empty
// kind matches all the events.
func (r *RingBuffer) Recent(kind Kind, n int) []Event {
	r.lock.RLock()
	defer r.lock.RUnlock()

	result := make([]Event, 0, n)
	for i := r.size - 1; i >= 0 && len(result) < n; i-- {
		evt := r.at(i)
		if kind == "" || evt.Kind == kind {
			result = append(result, evt)
		}
	}

	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}

	return result
}

// LastSeq returns the sequence number of the newest event kept.
func (r *RingBuffer) LastSeq() uint64 {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.size == 0 {
		return 0
	}

	return r.at(r.size - 1).Seq
}
