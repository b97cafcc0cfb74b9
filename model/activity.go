package model

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/sim"
)

// ActivityFunc is the body of an activity.
type ActivityFunc func(ctx *ActivityContext) (interface{}, error)

// An Activity is a leaf unit of work with a tracked start and end.
type Activity struct {
	Name  string
	Label string
	Body  ActivityFunc
}

// ID returns the identifier that the activity is reported with.
func (a *Activity) ID() string {
	return "activity_" + a.Name
}

// ActivityStatus tells how an activity ended.
type ActivityStatus string

// A list of the ways an activity can end.
const (
	ActivityRunning     ActivityStatus = "running"
	ActivityCompleted   ActivityStatus = "completed"
	ActivityFailed      ActivityStatus = "failed"
	ActivityInterrupted ActivityStatus = "interrupted"
)

// ActivityRecord describes one execution of an activity.
type ActivityRecord struct {
	Activity   *Activity
	EntityID   string
	EntityName string
	ActionID   string
	ProcessID  string
	Start      sim.VTimeInSec
	End        sim.VTimeInSec
	Result     interface{}
	Err        error
	Status     ActivityStatus
}

// Duration returns how long the activity took.
func (r ActivityRecord) Duration() sim.VTimeInSec {
	return r.End - r.Start
}

// RunActivity runs the body of an activity on process p. It reports the
// start and the end of the activity through the hooks of the entity and
// keeps the current activity of the entity up to date. An activity whose
// action is already interrupted does not start.
func RunActivity(
	p *sim.Process,
	w World,
	e Entity,
	run *ActionRun,
	a *Activity,
) (interface{}, error) {
	ctx := &ActivityContext{
		proc:     p,
		world:    w,
		entity:   e,
		run:      run,
		activity: a,
		start:    p.Now(),
	}

	if err := ctx.checkInterrupt(); err != nil {
		return nil, err
	}

	base := e.Base()
	rec := ActivityRecord{
		Activity:   a,
		EntityID:   e.ID(),
		EntityName: e.Name(),
		ProcessID:  p.ID(),
		Start:      ctx.start,
		Status:     ActivityRunning,
	}
	if run != nil {
		rec.ActionID = run.Action().ID
	}

	base.setActivity(a)
	base.InvokeHook(sim.HookCtx{
		Domain: base,
		Pos:    HookPosActivityStart,
		Item:   rec,
	})
	ctx.Log().Infof("[activity start] %s - %s", e.Name(), a.Label)

	result, err := callActivityBody(a, ctx)

	rec.End = p.Now()
	rec.Result = result
	rec.Err = err

	switch {
	case err == nil:
		rec.Status = ActivityCompleted
		ctx.Log().Infof("[activity done] %s - %s (duration %.1fs)",
			e.Name(), a.Label, float64(rec.Duration()))
	case sim.IsInterrupt(err):
		rec.Status = ActivityInterrupted
		ctx.Log().Infof("[activity interrupted] %s - %s", e.Name(), a.Label)
	default:
		rec.Status = ActivityFailed
		ctx.Log().WithError(err).
			Errorf("[activity failed] %s - %s", e.Name(), a.Label)
	}

	base.clearActivity(a)
	base.InvokeHook(sim.HookCtx{
		Domain: base,
		Pos:    HookPosActivityEnd,
		Item:   rec,
	})

	return result, err
}

func callActivityBody(
	a *Activity,
	ctx *ActivityContext,
) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("activity %s panicked: %v", a.Name, r)
		}
	}()

	return a.Body(ctx)
}

// ActivityContext is what an activity body works with. Every waiting method
// is a suspension point, where a pending interrupt of the action is
// observed.
type ActivityContext struct {
	proc     *sim.Process
	world    World
	entity   Entity
	run      *ActionRun
	activity *Activity
	start    sim.VTimeInSec
}

// Process returns the process that runs the activity.
func (c *ActivityContext) Process() *sim.Process {
	return c.proc
}

// Run returns the action run that the activity belongs to. It is nil for an
// activity that runs outside an action.
func (c *ActivityContext) Run() *ActionRun {
	return c.run
}

// World returns the simulation that runs the activity.
func (c *ActivityContext) World() World {
	return c.world
}

// Entity returns the entity that performs the activity.
func (c *ActivityContext) Entity() Entity {
	return c.entity
}

// Globals returns the global variables of the simulation.
func (c *ActivityContext) Globals() *GlobalVars {
	return c.world.Globals()
}

// Now returns the current simulated time.
func (c *ActivityContext) Now() sim.VTimeInSec {
	return c.proc.Now()
}

// StartTime returns when the activity started.
func (c *ActivityContext) StartTime() sim.VTimeInSec {
	return c.start
}

// Log returns a logger that tags entries with the entity, the activity, and
// the simulated time.
func (c *ActivityContext) Log() *logrus.Entry {
	return c.world.Logger().WithFields(logrus.Fields{
		"entity":   c.entity.ID(),
		"activity": c.activity.ID(),
		"sim_time": float64(c.proc.Now()),
	})
}

func (c *ActivityContext) checkInterrupt() error {
	if c.run != nil && c.run.interrupted {
		return &sim.InterruptSignal{Cause: c.run.cause}
	}

	return nil
}

// Wait suspends the activity for d seconds.
func (c *ActivityContext) Wait(d sim.VTimeInSec) error {
	if err := c.checkInterrupt(); err != nil {
		return err
	}

	return c.proc.Timeout(d)
}

// Acquire takes n units from a resource, waiting if they are not available.
func (c *ActivityContext) Acquire(resourceID string, n int) error {
	if err := c.checkInterrupt(); err != nil {
		return err
	}

	res := c.world.Resource(resourceID)
	if res == nil {
		return fmt.Errorf("unknown resource %s", resourceID)
	}

	return res.Get(c.proc, n)
}

// Release returns n units to a resource.
func (c *ActivityContext) Release(resourceID string, n int) error {
	res := c.world.Resource(resourceID)
	if res == nil {
		return fmt.Errorf("unknown resource %s", resourceID)
	}

	return res.Put(n)
}

// Receive waits for the next message in the mailbox of the entity.
func (c *ActivityContext) Receive() (interface{}, error) {
	if err := c.checkInterrupt(); err != nil {
		return nil, err
	}

	return c.entity.Mailbox().Get(c.proc)
}

// Send puts a message into the mailbox of another entity.
func (c *ActivityContext) Send(to string, msgType string, payload map[string]interface{}) error {
	return Send(c.world, c.proc, c.entity.ID(), to, msgType, payload)
}

// Send puts a message from one entity into the mailbox of another.
func Send(
	w World,
	p *sim.Process,
	from, to, msgType string,
	payload map[string]interface{},
) error {
	target := w.Entity(to)
	if target == nil {
		return fmt.Errorf("unknown entity %s", to)
	}

	target.Mailbox().Put(Message{
		Type:    msgType,
		From:    from,
		To:      to,
		Time:    p.Now(),
		Payload: payload,
	})

	return nil
}
