package sim

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"
)

// ProcessState is the life-cycle stage of a process.
type ProcessState int

// A list of all the process states.
const (
	ProcessRunnable ProcessState = iota
	ProcessSuspended
	ProcessInterrupted
	ProcessDone
	ProcessFailed
)

func (s ProcessState) String() string {
	switch s {
	case ProcessRunnable:
		return "runnable"
	case ProcessSuspended:
		return "suspended"
	case ProcessInterrupted:
		return "interrupted"
	case ProcessDone:
		return "done"
	case ProcessFailed:
		return "failed"
	default:
		return fmt.Sprintf("ProcessState(%d)", int(s))
	}
}

// WaitKind names what a suspended process waits on.
type WaitKind string

// A list of all the suspension points.
const (
	WaitTimeout  WaitKind = "timeout"
	WaitResource WaitKind = "resource"
	WaitQueue    WaitKind = "queue"
	WaitJoin     WaitKind = "join"
)

// SuspendDetail describes a suspension point.
type SuspendDetail struct {
	Kind   WaitKind
	Target string
	Until  VTimeInSec
}

// ProcessBody is the code that a process runs. The returned value is handed
// to the processes that join it.
type ProcessBody func(p *Process) (interface{}, error)

type wakeup struct {
	epoch uint64
	value interface{}
	err   error
}

// A Process is a suspendable unit of execution.
type Process struct {
	id     string
	name   string
	engine *SerialEngine
	body   ProcessBody
	parent *Process
	owner  interface{}

	lock       sync.RWMutex
	state      ProcessState
	children   []*Process
	waitDetail SuspendDetail

	epoch      uint64
	cancelWait func()
	started    bool
	killed     bool
	done       bool
	value      interface{}
	err        error
	joiners    []*Process

	resume chan wakeup
	yield  chan struct{}
}

// Spawn creates a process. The process starts running at the current time,
// after the events that are already scheduled for the current time.
func (e *SerialEngine) Spawn(
	name string,
	body ProcessBody,
	parent *Process,
) *Process {
	p := &Process{
		id:     e.idGenerator.Generate(),
		name:   name,
		engine: e,
		body:   body,
		parent: parent,
		state:  ProcessRunnable,
		resume: make(chan wakeup),
		yield:  make(chan struct{}),
	}

	if parent != nil {
		p.owner = parent.owner

		parent.lock.Lock()
		parent.children = append(parent.children, p)
		parent.lock.Unlock()
	}

	_, err := e.Schedule(0, p, wakeup{epoch: p.epoch})
	if err != nil {
		panic(err)
	}

	return p
}

// Interrupt cancels what a suspended process waits on and resumes it with an
// InterruptSignal. Processes that are not suspended cannot be interrupted.
func (e *SerialEngine) Interrupt(p *Process, cause interface{}) error {
	state := p.State()
	if state != ProcessSuspended {
		return &InvalidStateError{
			Op:     "interrupt",
			State:  state.String(),
			Reason: fmt.Sprintf("process %s is not suspended", p.name),
		}
	}

	if p.cancelWait != nil {
		cancel := p.cancelWait
		p.cancelWait = nil
		cancel()
	}

	p.epoch++
	p.setState(ProcessInterrupted)

	_, err := e.Schedule(0, p, wakeup{
		epoch: p.epoch,
		err:   &InterruptSignal{Cause: cause},
	})

	return err
}

// Handle resumes the process. Wakeups that were issued before the process
// got interrupted are ignored.
func (p *Process) Handle(evt *Event) error {
	w, ok := evt.Payload.(wakeup)
	if !ok {
		return fmt.Errorf("process %s cannot handle payload %T", p.name, evt.Payload)
	}

	if w.epoch != p.epoch || p.Finished() {
		return nil
	}

	p.epoch++
	p.cancelWait = nil
	p.setState(ProcessRunnable)

	if !p.started {
		p.started = true
		go p.run()
	}

	p.engine.current = p
	p.resume <- w
	<-p.yield
	p.engine.current = nil

	return nil
}

func (p *Process) run() {
	<-p.resume

	var value interface{}
	var err error

	defer func() {
		if p.killed {
			return
		}

		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("panic: %v", r)
			p.engine.log.
				WithField("process", p.name).
				WithField("stack", string(debug.Stack())).
				Debug("process panicked")
		}

		p.finish(value, err)
		p.yield <- struct{}{}
	}()

	value, err = p.body(p)
}

func (p *Process) finish(value interface{}, err error) {
	switch {
	case err == nil:
		p.setFinal(ProcessDone, value, nil)
	case IsInterrupt(err):
		p.setFinal(ProcessInterrupted, nil, err)
	default:
		failure := &ProcessFailure{ProcessID: p.id, Name: p.name, Cause: err}
		p.setFinal(ProcessFailed, nil, failure)

		p.engine.log.WithFields(logrus.Fields{
			"process":  p.name,
			"sim_time": float64(p.engine.CurrentTime()),
		}).WithError(err).Error("process failed")

		p.engine.InvokeHook(HookCtx{
			Domain: p.engine,
			Pos:    HookPosProcessFailed,
			Item:   p,
			Detail: failure,
		})
	}

	joiners := p.joiners
	p.joiners = nil
	for _, j := range joiners {
		j.wake(p.Value(), p.Err(), nil)
	}

	p.engine.InvokeHook(HookCtx{
		Domain: p.engine,
		Pos:    HookPosProcessEnd,
		Item:   p,
	})
}

// suspend hands the control back to the engine until the process is woken
// up. The cancel function withdraws the registration that would wake the
// process up.
func (p *Process) suspend(
	detail SuspendDetail,
	cancel func(),
) (interface{}, error) {
	p.cancelWait = cancel
	p.lock.Lock()
	p.state = ProcessSuspended
	p.waitDetail = detail
	p.lock.Unlock()

	p.engine.InvokeHook(HookCtx{
		Domain: p.engine,
		Pos:    HookPosProcessSuspend,
		Item:   p,
		Detail: detail,
	})

	p.yield <- struct{}{}

	select {
	case w := <-p.resume:
		return w.value, w.err
	case <-p.engine.quit:
		p.killed = true
		runtime.Goexit()
	}

	return nil, nil
}

// wake schedules the process to resume with the given value. If the process
// is interrupted before it resumes, the wakeup is cancelled and refund is
// called to undo what has been granted.
func (p *Process) wake(value interface{}, err error, refund func()) {
	evt, _ := p.engine.Schedule(0, p, wakeup{
		epoch: p.epoch,
		value: value,
		err:   err,
	})

	p.cancelWait = func() {
		p.engine.Cancel(evt)
		if refund != nil {
			refund()
		}
	}
}

func (p *Process) mustBeRunning(op string) error {
	if p.engine.current != p {
		return &InvalidStateError{
			Op:     op,
			State:  p.State().String(),
			Reason: fmt.Sprintf("process %s is not running", p.name),
		}
	}

	return nil
}

// Timeout suspends the process for d seconds of simulated time.
func (p *Process) Timeout(d VTimeInSec) error {
	if err := p.mustBeRunning("timeout"); err != nil {
		return err
	}

	evt, err := p.engine.Schedule(d, p, wakeup{epoch: p.epoch})
	if err != nil {
		return err
	}

	_, err = p.suspend(
		SuspendDetail{Kind: WaitTimeout, Until: evt.time},
		func() { p.engine.Cancel(evt) },
	)

	return err
}

// Join waits for the child process to finish and returns what the child
// returns. If the child is already finished, Join returns immediately.
func (p *Process) Join(child *Process) (interface{}, error) {
	if err := p.mustBeRunning("join"); err != nil {
		return nil, err
	}

	if child == p {
		return nil, &InvalidStateError{
			Op:     "join",
			Reason: "a process cannot join itself",
		}
	}

	if child.Finished() {
		return child.Value(), child.Err()
	}

	child.joiners = append(child.joiners, p)

	return p.suspend(
		SuspendDetail{Kind: WaitJoin, Target: child.name},
		func() { child.removeJoiner(p) },
	)
}

func (p *Process) removeJoiner(j *Process) {
	for i, x := range p.joiners {
		if x == j {
			p.joiners = append(p.joiners[:i], p.joiners[i+1:]...)
			return
		}
	}
}

func (p *Process) setFinal(s ProcessState, value interface{}, err error) {
	p.lock.Lock()
	p.state = s
	p.value = value
	p.err = err
	p.done = true
	p.lock.Unlock()
}

func (p *Process) setState(s ProcessState) {
	p.lock.Lock()
	p.state = s
	p.lock.Unlock()
}

// ID returns the ID of the process.
func (p *Process) ID() string {
	return p.id
}

// Name returns the name of the process.
func (p *Process) Name() string {
	return p.name
}

// State returns the current state of the process.
func (p *Process) State() ProcessState {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.state
}

// WaitingOn returns what the process waited on when it suspended last time.
func (p *Process) WaitingOn() SuspendDetail {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.waitDetail
}

// Finished tells if the process will not run anymore.
func (p *Process) Finished() bool {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.done
}

// Parent returns the process that spawned this process.
func (p *Process) Parent() *Process {
	return p.parent
}

// Children returns the processes spawned with this process as the parent.
func (p *Process) Children() []*Process {
	p.lock.RLock()
	defer p.lock.RUnlock()

	children := make([]*Process, len(p.children))
	copy(children, p.children)

	return children
}

// Owner returns the object that the process works for. Processes inherit the
// owner of their parent.
func (p *Process) Owner() interface{} {
	return p.owner
}

// SetOwner sets the object that the process works for.
func (p *Process) SetOwner(o interface{}) {
	p.owner = o
}

// Value returns the value returned by the process body.
func (p *Process) Value() interface{} {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.value
}

// Err returns the error that terminated the process. It is a ProcessFailure
// if the process failed, or an InterruptSignal if it was interrupted.
func (p *Process) Err() error {
	p.lock.RLock()
	defer p.lock.RUnlock()

	return p.err
}

// Engine returns the engine that runs the process.
func (p *Process) Engine() *SerialEngine {
	return p.engine
}

// Now returns the current simulated time.
func (p *Process) Now() VTimeInSec {
	return p.engine.CurrentTime()
}
