package model

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/sim"
)

// A Plan decides which activities an action runs.
type Plan func(run *ActionRun) error

// An Action is an interruptible composite of activities.
type Action struct {
	ID    string
	Name  string
	Label string

	// Precheck is an optional non-blocking check. If it returns an error,
	// the action is skipped.
	Precheck func(w World, e Entity) error

	Plan Plan
}

// Sequence creates a plan that runs the activities one after another.
func Sequence(activities ...*Activity) Plan {
	return func(run *ActionRun) error {
		for _, a := range activities {
			if _, err := run.Do(a); err != nil {
				return err
			}
		}

		return nil
	}
}

// Loop creates a plan that runs the activities in sequence for as long as
// cond holds. The condition is checked before every round.
func Loop(cond func(run *ActionRun) bool, activities ...*Activity) Plan {
	seq := Sequence(activities...)

	return func(run *ActionRun) error {
		for cond(run) {
			if err := seq(run); err != nil {
				return err
			}
		}

		return nil
	}
}

// ActionStatus tells how an action ended.
type ActionStatus string

// A list of the ways an action can end.
const (
	ActionRunning     ActionStatus = "running"
	ActionCompleted   ActionStatus = "completed"
	ActionFailed      ActionStatus = "failed"
	ActionInterrupted ActionStatus = "interrupted"
	ActionSkipped     ActionStatus = "skipped"
)

// ActionRecord describes one execution of an action.
type ActionRecord struct {
	Action   *Action
	EntityID string
	Start    sim.VTimeInSec
	End      sim.VTimeInSec
	Err      error
	Status   ActionStatus
}

// ActionRun is one execution of an action by an entity.
type ActionRun struct {
	action *Action
	world  World
	entity Entity
	proc   *sim.Process

	current     *sim.Process
	interrupted bool
	cause       interface{}
	skipped     bool
	err         error

	vars map[string]interface{}
}

// Perform starts an action for an entity, as a child process of parent. If
// the precheck of the action fails, the action is skipped and the returned
// run is already finished.
func Perform(w World, e Entity, a *Action, parent *sim.Process) *ActionRun {
	run := &ActionRun{
		action: a,
		world:  w,
		entity: e,
		vars:   make(map[string]interface{}),
	}
	engine := w.Engine()
	log := w.Logger().WithFields(logrus.Fields{
		"entity":   e.ID(),
		"action":   a.ID,
		"sim_time": float64(engine.CurrentTime()),
	})

	if a.Precheck != nil {
		if err := a.Precheck(w, e); err != nil {
			run.skipped = true
			run.err = err

			log.WithError(err).Errorf("%s cannot perform %s", e.Name(), a.Label)

			now := engine.CurrentTime()
			e.Base().InvokeHook(sim.HookCtx{
				Domain: e.Base(),
				Pos:    HookPosActionEnd,
				Item: ActionRecord{
					Action:   a,
					EntityID: e.ID(),
					Start:    now,
					End:      now,
					Err:      err,
					Status:   ActionSkipped,
				},
			})

			return run
		}
	}

	run.proc = engine.Spawn(a.ID, run.body, parent)
	run.proc.SetOwner(e)

	return run
}

func (r *ActionRun) body(p *sim.Process) (interface{}, error) {
	base := r.entity.Base()
	rec := ActionRecord{
		Action:   r.action,
		EntityID: r.entity.ID(),
		Start:    p.Now(),
		Status:   ActionRunning,
	}

	base.setAction(r)
	base.InvokeHook(sim.HookCtx{
		Domain: base,
		Pos:    HookPosActionStart,
		Item:   rec,
	})

	var err error
	if r.interrupted {
		err = &sim.InterruptSignal{Cause: r.cause}
	} else {
		err = r.action.Plan(r)
	}

	rec.End = p.Now()
	rec.Err = err
	switch {
	case err == nil:
		rec.Status = ActionCompleted
	case sim.IsInterrupt(err):
		rec.Status = ActionInterrupted
	default:
		rec.Status = ActionFailed
	}
	r.err = err

	base.clearAction(r)
	base.InvokeHook(sim.HookCtx{
		Domain: base,
		Pos:    HookPosActionEnd,
		Item:   rec,
	})

	return nil, err
}

// Do runs an activity as a child process and waits for it to finish. If
// the action has been interrupted, the activity is not started.
func (r *ActionRun) Do(a *Activity) (interface{}, error) {
	if r.interrupted {
		return nil, &sim.InterruptSignal{Cause: r.cause}
	}

	child := r.world.Engine().Spawn(
		a.ID(),
		func(p *sim.Process) (interface{}, error) {
			return RunActivity(p, r.world, r.entity, r, a)
		},
		r.proc,
	)

	r.current = child
	v, err := r.proc.Join(child)
	r.current = nil

	return v, err
}

// Timeout suspends the action itself, between activities.
func (r *ActionRun) Timeout(d sim.VTimeInSec) error {
	if r.interrupted {
		return &sim.InterruptSignal{Cause: r.cause}
	}

	return r.proc.Timeout(d)
}

// Interrupt asks the action to stop. The current activity observes the
// interrupt at its current or next suspension point, and no further
// activity starts.
func (r *ActionRun) Interrupt(cause interface{}) error {
	if r.skipped || r.proc.Finished() {
		return &sim.InvalidStateError{
			Op:     "interrupt",
			State:  "finished",
			Reason: fmt.Sprintf("action %s is not running", r.action.ID),
		}
	}

	r.interrupted = true
	r.cause = cause

	engine := r.world.Engine()

	if r.current != nil {
		if r.current.State() == sim.ProcessSuspended {
			return engine.Interrupt(r.current, cause)
		}

		return nil
	}

	if r.proc.State() == sim.ProcessSuspended {
		return engine.Interrupt(r.proc, cause)
	}

	return nil
}

// Wait suspends p until the action finishes. It returns the error that
// ended the action. A skipped action returns immediately without an error.
func (r *ActionRun) Wait(p *sim.Process) error {
	if r.skipped {
		return nil
	}

	_, err := p.Join(r.proc)

	return err
}

// Action returns the action being run.
func (r *ActionRun) Action() *Action {
	return r.action
}

// Entity returns the entity that performs the action.
func (r *ActionRun) Entity() Entity {
	return r.entity
}

// World returns the simulation that runs the action.
func (r *ActionRun) World() World {
	return r.world
}

// Process returns the process of the action. It is nil if the action was
// skipped.
func (r *ActionRun) Process() *sim.Process {
	return r.proc
}

// Skipped tells if the action was skipped by its precheck.
func (r *ActionRun) Skipped() bool {
	return r.skipped
}

// Interrupted tells if the action has been asked to stop.
func (r *ActionRun) Interrupted() bool {
	return r.interrupted
}

// Err returns the error that ended the action, or the precheck error of a
// skipped action.
func (r *ActionRun) Err() error {
	return r.err
}

// Set stores a value that the later activities of the run can read.
func (r *ActionRun) Set(key string, value interface{}) {
	r.vars[key] = value
}

// Get returns a value stored in the run.
func (r *ActionRun) Get(key string) (interface{}, bool) {
	v, ok := r.vars[key]
	return v, ok
}
