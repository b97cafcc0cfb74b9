package sim

// TimeTeller can be used to get the current time.
type TimeTeller interface {
	CurrentTime() VTimeInSec
}

// EventScheduler can be used to schedule future events.
type EventScheduler interface {
	// Schedule registers an event that fires after delay. The delay must not
	// be negative.
	Schedule(delay VTimeInSec, handler Handler, payload interface{}) (*Event, error)

	// Cancel prevents a pending event from firing. It returns false if the
	// event has already fired or been cancelled.
	Cancel(evt *Event) bool
}

// A SimulationEndHandler is a handler that is called after the simulation ends.
type SimulationEndHandler interface {
	Handle(now VTimeInSec)
}

// An Engine is a unit that keeps the discrete event simulation run.
type Engine interface {
	Hookable
	TimeTeller
	EventScheduler

	// AdvanceTo fires all the events that are due no later than t, in
	// order, and then moves the clock to t.
	AdvanceTo(t VTimeInSec) error

	// Pending returns the number of events that are still going to fire.
	Pending() int

	// NextEventTime returns the time of the earliest pending event.
	NextEventTime() (VTimeInSec, bool)

	// Spawn creates a process that starts at the current time.
	Spawn(name string, body ProcessBody, parent *Process) *Process

	// Interrupt delivers an interrupt signal to a suspended process.
	Interrupt(p *Process, cause interface{}) error

	// RegisterSimulationEndHandler registers a handler that perform some
	// actions after the simulation is finished.
	RegisterSimulationEndHandler(handler SimulationEndHandler)

	// Finished invokes all the registered SimulationEndHandler
	Finished()

	// Shutdown releases the goroutines of the processes that are still
	// suspended. No simulation logic runs after Shutdown.
	Shutdown()
}
