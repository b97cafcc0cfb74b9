package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// A SerialEngine is an Engine that always run events one after another.
//
// Processes are backed by goroutines, but the engine hands control to exactly
// one of them at a time and waits until it suspends or finishes. Therefore,
// no two process bodies ever run at the same time.
type SerialEngine struct {
	HookableBase

	timeLock sync.RWMutex
	time     VTimeInSec
	queue    EventQueue
	nextSeq  uint64
	live     atomic.Int64

	idGenerator IDGenerator
	log         *logrus.Entry

	singleRunLock sync.Mutex
	current       *Process
	quit          chan struct{}
	quitOnce      sync.Once

	simulationEndHandlers []SimulationEndHandler
}

// NewSerialEngine creates a SerialEngine
func NewSerialEngine() *SerialEngine {
	e := new(SerialEngine)

	e.queue = NewEventQueue()
	e.idGenerator = NewSequentialIDGenerator()
	e.log = logrus.NewEntry(logrus.StandardLogger())
	e.quit = make(chan struct{})

	return e
}

// WithIDGenerator sets the generator that names events and processes.
func (e *SerialEngine) WithIDGenerator(g IDGenerator) *SerialEngine {
	e.idGenerator = g
	return e
}

// WithLogger sets the logger that the engine reports to.
func (e *SerialEngine) WithLogger(l *logrus.Entry) *SerialEngine {
	e.log = l
	return e
}

// Logger returns the logger of the engine.
func (e *SerialEngine) Logger() *logrus.Entry {
	return e.log
}

// Schedule register an event to be happen in the future
func (e *SerialEngine) Schedule(
	delay VTimeInSec,
	handler Handler,
	payload interface{},
) (*Event, error) {
	if delay < 0 {
		return nil, &InvalidStateError{
			Op:     "schedule",
			Reason: fmt.Sprintf("negative delay %.6f", delay),
		}
	}

	evt := &Event{
		ID:      e.idGenerator.Generate(),
		Payload: payload,
		time:    e.readNow() + delay,
		seq:     atomic.AddUint64(&e.nextSeq, 1),
		handler: handler,
	}

	e.queue.Push(evt)
	e.live.Add(1)

	return evt, nil
}

// Cancel marks an event so that it does not fire. The event stays in the
// queue and is dropped when it reaches the front.
func (e *SerialEngine) Cancel(evt *Event) bool {
	if evt == nil || evt.cancelled || evt.fired {
		return false
	}

	evt.cancelled = true
	e.live.Add(-1)

	return true
}

// Pending returns the number of events that have neither fired nor been
// cancelled.
func (e *SerialEngine) Pending() int {
	return int(e.live.Load())
}

// NextEventTime returns the time of the earliest event that is going to
// fire.
func (e *SerialEngine) NextEventTime() (VTimeInSec, bool) {
	e.dropCancelled()

	evt := e.queue.Peek()
	if evt == nil {
		return 0, false
	}

	return evt.time, true
}

func (e *SerialEngine) readNow() VTimeInSec {
	e.timeLock.RLock()
	t := e.time
	e.timeLock.RUnlock()
	return t
}

func (e *SerialEngine) writeNow(t VTimeInSec) {
	e.timeLock.Lock()
	e.time = t
	e.timeLock.Unlock()
}

// AdvanceTo fires all the events that are due no later than t and then sets
// the current time to t. All the events of the same time fire before the
// clock moves on.
func (e *SerialEngine) AdvanceTo(t VTimeInSec) error {
	if !e.singleRunLock.TryLock() {
		return &InvalidStateError{
			Op:     "advance",
			Reason: "engine is already advancing",
		}
	}
	defer e.singleRunLock.Unlock()

	if e.isShutdown() {
		return &InvalidStateError{Op: "advance", State: "shutdown"}
	}

	now := e.readNow()
	if t < now {
		return &InvalidStateError{
			Op:     "advance",
			Reason: fmt.Sprintf("target %.6f is earlier than now %.6f", t, now),
		}
	}

	for {
		evt := e.nextDueEvent(t)
		if evt == nil {
			break
		}

		now = e.readNow()
		if evt.time < now {
			logrus.Panicf(
				"cannot run event in the past, evt %s @ %.10f, now %.10f",
				evt.ID, evt.time, now,
			)
		}
		e.writeNow(evt.time)

		e.fire(evt)
	}

	e.writeNow(t)

	return nil
}

func (e *SerialEngine) nextDueEvent(t VTimeInSec) *Event {
	e.dropCancelled()

	evt := e.queue.Peek()
	if evt == nil || evt.time > t {
		return nil
	}

	return e.queue.Pop()
}

func (e *SerialEngine) dropCancelled() {
	for {
		evt := e.queue.Peek()
		if evt == nil || !evt.cancelled {
			return
		}

		e.queue.Pop()
	}
}

func (e *SerialEngine) fire(evt *Event) {
	evt.fired = true
	e.live.Add(-1)

	hookCtx := HookCtx{
		Domain: e,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	e.InvokeHook(hookCtx)

	err := evt.handler.Handle(evt)
	if err != nil {
		e.log.WithFields(logrus.Fields{
			"event":    evt.ID,
			"sim_time": float64(evt.time),
		}).WithError(err).Warn("event handler returned error")
	}

	hookCtx.Pos = HookPosAfterEvent
	e.InvokeHook(hookCtx)
}

// CurrentTime returns the current time at which the engine is at.
// Specifically, the run time of the current event.
func (e *SerialEngine) CurrentTime() VTimeInSec {
	return e.readNow()
}

// CurrentProcess returns the process that is currently running, or nil if
// the engine is not running a process.
func (e *SerialEngine) CurrentProcess() *Process {
	return e.current
}

// RegisterSimulationEndHandler invokes all the registered simulation end
// handler.
func (e *SerialEngine) RegisterSimulationEndHandler(
	handler SimulationEndHandler,
) {
	e.simulationEndHandlers = append(e.simulationEndHandlers, handler)
}

// Finished should be called after the simulation ends. This function
// calls all the registered SimulationEndHandler.
func (e *SerialEngine) Finished() {
	now := e.readNow()
	for _, h := range e.simulationEndHandlers {
		h.Handle(now)
	}
}

// Shutdown releases all the goroutines that back suspended processes. The
// processes do not run any more code other than their deferred functions.
func (e *SerialEngine) Shutdown() {
	e.quitOnce.Do(func() {
		close(e.quit)
	})
}

func (e *SerialEngine) isShutdown() bool {
	select {
	case <-e.quit:
		return true
	default:
		return false
	}
}
