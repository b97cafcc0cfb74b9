package sim

// VTimeInSec defines the time in the simulated space in the unit of second
type VTimeInSec float64

// An Event is something going to happen in the future.
//
// Events are ordered by their time. Events that are scheduled for the same
// time are ordered by their sequence number, which is assigned by the engine
// in the order of registration.
type Event struct {
	ID      string
	Payload interface{}

	time      VTimeInSec
	seq       uint64
	handler   Handler
	cancelled bool
	fired     bool
}

// Time returns the time that the event should happen.
func (e *Event) Time() VTimeInSec {
	return e.time
}

// Seq returns the registration order of the event.
func (e *Event) Seq() uint64 {
	return e.seq
}

// Handler returns the handler to handle the event.
func (e *Event) Handler() Handler {
	return e.handler
}

// Cancelled tells if the event has been cancelled before it fires.
func (e *Event) Cancelled() bool {
	return e.cancelled
}

// Fired tells if the event has been handled.
func (e *Event) Fired() bool {
	return e.fired
}

// A Handler defines a domain for the events.
type Handler interface {
	Handle(e *Event) error
}

// HandlerFunc turns a function into a Handler.
type HandlerFunc func(e *Event) error

// Handle calls the function.
func (f HandlerFunc) Handle(e *Event) error {
	return f(e)
}
