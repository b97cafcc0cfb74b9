package telemetry

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// A Bus stamps events with sequence numbers and wall time and forwards them
// to all the subscribed sinks, in emission order.
//
// Sinks may emit while they publish, for example by logging through a
// LogHook. Such events are queued and delivered after the current one.
type Bus struct {
	lock       sync.Mutex
	nextSeq    uint64
	sinks      []Sink
	pending    []Event
	delivering bool
	now        func() time.Time
}

// NewBus creates a Bus.
func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// WithClock sets the function that provides the wall time of events.
func (b *Bus) WithClock(now func() time.Time) *Bus {
	b.now = now
	return b
}

// Subscribe adds a sink. The sink receives the events emitted after the
// subscription.
func (b *Bus) Subscribe(s Sink) {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.sinks = append(b.sinks, s)
}

// Emit delivers an event to all the sinks. Events without a level (the zero
// level) are emitted at the info level. It returns the event as stamped.
func (b *Bus) Emit(evt Event) Event {
	b.lock.Lock()

	b.nextSeq++
	evt.Seq = b.nextSeq

	if evt.WallTime.IsZero() {
		evt.WallTime = b.now()
	}

	if evt.Level == logrus.PanicLevel {
		evt.Level = logrus.InfoLevel
	}

	b.pending = append(b.pending, evt)
	if b.delivering {
		b.lock.Unlock()
		return evt
	}

	b.delivering = true
	for len(b.pending) > 0 {
		next := b.pending[0]
		b.pending = b.pending[1:]
		sinks := b.sinks

		b.lock.Unlock()
		for _, s := range sinks {
			s.Publish(next)
		}
		b.lock.Lock()
	}
	b.delivering = false

	b.lock.Unlock()

	return evt
}

// LastSeq returns the sequence number of the last emitted event.
func (b *Bus) LastSeq() uint64 {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.nextSeq
}
