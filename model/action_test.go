package model

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eatisim/eatisim/sim"
)

var _ = Describe("Action", func() {
	var (
		world  *testWorld
		entity *testEntity
		hooks  *hookRecorder
		root   *sim.Process
	)

	waitActivity := func(name string, d sim.VTimeInSec) *Activity {
		return &Activity{
			Name:  name,
			Label: name + " label",
			Body: func(ctx *ActivityContext) (interface{}, error) {
				if err := ctx.Wait(d); err != nil {
					return nil, err
				}
				return name + " result", nil
			},
		}
	}

	perform := func(a *Action) *ActionRun {
		var run *ActionRun
		root = world.engine.Spawn("root", func(p *sim.Process) (interface{}, error) {
			run = Perform(world, entity, a, p)
			return nil, run.Wait(p)
		}, nil)
		Expect(world.engine.AdvanceTo(0)).To(Succeed())
		return run
	}

	activityRecords := func(pos *sim.HookPos) []ActivityRecord {
		records := make([]ActivityRecord, 0)
		for _, ctx := range hooks.at(pos) {
			records = append(records, ctx.Item.(ActivityRecord))
		}
		return records
	}

	BeforeEach(func() {
		world = newTestWorld()
		entity = newTestEntity(world, "ent_a")
		hooks = &hookRecorder{}
		entity.AcceptHook(hooks)
	})

	AfterEach(func() {
		world.engine.Shutdown()
	})

	It("should run activities in sequence", func() {
		action := &Action{
			ID: "act_x",
			Plan: Sequence(
				waitActivity("a1", 10),
				waitActivity("a2", 5),
			),
		}

		run := perform(action)
		Expect(world.engine.AdvanceTo(12)).To(Succeed())

		Expect(entity.CurrentActivity().Name).To(Equal("a2"))
		Expect(entity.Status().CurrentAction).To(Equal("act_x"))
		Expect(entity.Status().CurrentActivity).To(Equal("activity_a2"))

		Expect(world.engine.AdvanceTo(20)).To(Succeed())

		starts := activityRecords(HookPosActivityStart)
		ends := activityRecords(HookPosActivityEnd)
		Expect(starts).To(HaveLen(2))
		Expect(ends).To(HaveLen(2))
		Expect(ends[0].Activity.Name).To(Equal("a1"))
		Expect(ends[0].Start).To(Equal(sim.VTimeInSec(0)))
		Expect(ends[0].End).To(Equal(sim.VTimeInSec(10)))
		Expect(ends[0].Result).To(Equal("a1 result"))
		Expect(ends[0].ActionID).To(Equal("act_x"))
		Expect(ends[1].Status).To(Equal(ActivityCompleted))
		Expect(ends[1].Duration()).To(Equal(sim.VTimeInSec(5)))

		Expect(run.Process().State()).To(Equal(sim.ProcessDone))
		Expect(root.State()).To(Equal(sim.ProcessDone))
		Expect(entity.CurrentAction()).To(BeNil())
		Expect(entity.CurrentActivity()).To(BeNil())

		actionEnds := hooks.at(HookPosActionEnd)
		Expect(actionEnds).To(HaveLen(1))
		Expect(actionEnds[0].Item.(ActionRecord).Status).To(Equal(ActionCompleted))
	})

	It("should stop at the interrupted activity", func() {
		action := &Action{
			ID: "act_x",
			Plan: Sequence(
				waitActivity("a1", 30),
				waitActivity("a2", 5),
			),
		}

		run := perform(action)
		Expect(world.engine.AdvanceTo(10)).To(Succeed())

		Expect(run.Interrupt("enemy contact")).To(Succeed())
		Expect(world.engine.AdvanceTo(100)).To(Succeed())

		starts := activityRecords(HookPosActivityStart)
		ends := activityRecords(HookPosActivityEnd)
		Expect(starts).To(HaveLen(1))
		Expect(starts[0].Activity.Name).To(Equal("a1"))
		Expect(ends).To(HaveLen(1))
		Expect(ends[0].Status).To(Equal(ActivityInterrupted))
		Expect(ends[0].End).To(Equal(sim.VTimeInSec(10)))
		Expect(sim.IsInterrupt(ends[0].Err)).To(BeTrue())

		Expect(run.Process().State()).To(Equal(sim.ProcessInterrupted))
		Expect(sim.IsInterrupt(run.Err())).To(BeTrue())

		actionEnds := hooks.at(HookPosActionEnd)
		Expect(actionEnds[0].Item.(ActionRecord).Status).
			To(Equal(ActionInterrupted))
	})

	It("should not start activities after an early interrupt", func() {
		action := &Action{
			ID:   "act_x",
			Plan: Sequence(waitActivity("a1", 30)),
		}

		var run *ActionRun
		world.engine.Spawn("root", func(p *sim.Process) (interface{}, error) {
			run = Perform(world, entity, action, p)
			Expect(run.Interrupt("abort")).To(Succeed())
			return nil, nil
		}, nil)
		Expect(world.engine.AdvanceTo(50)).To(Succeed())

		Expect(activityRecords(HookPosActivityStart)).To(BeEmpty())
		Expect(run.Process().State()).To(Equal(sim.ProcessInterrupted))
	})

	It("should observe interrupts raised by the running activity", func() {
		waits := 0
		action := &Action{
			ID: "act_x",
			Plan: Sequence(&Activity{
				Name: "self_abort",
				Body: func(ctx *ActivityContext) (interface{}, error) {
					Expect(ctx.Run().Interrupt("self")).To(Succeed())
					err := ctx.Wait(1)
					waits++
					return nil, err
				},
			}),
		}

		run := perform(action)
		Expect(world.engine.AdvanceTo(5)).To(Succeed())

		Expect(waits).To(Equal(1))
		Expect(run.Interrupted()).To(BeTrue())
		ends := activityRecords(HookPosActivityEnd)
		Expect(ends).To(HaveLen(1))
		Expect(ends[0].End).To(Equal(sim.VTimeInSec(0)))
		Expect(ends[0].Status).To(Equal(ActivityInterrupted))
	})

	It("should report failed activities before propagating", func() {
		cause := errors.New("radio broken")
		action := &Action{
			ID: "act_x",
			Plan: Sequence(
				&Activity{
					Name: "transmit",
					Body: func(ctx *ActivityContext) (interface{}, error) {
						if err := ctx.Wait(2); err != nil {
							return nil, err
						}
						return nil, cause
					},
				},
				waitActivity("never", 1),
			),
		}

		var waitErr error
		world.engine.Spawn("root", func(p *sim.Process) (interface{}, error) {
			run := Perform(world, entity, action, p)
			waitErr = run.Wait(p)
			return nil, nil
		}, nil)
		Expect(world.engine.AdvanceTo(10)).To(Succeed())

		ends := activityRecords(HookPosActivityEnd)
		Expect(ends).To(HaveLen(1))
		Expect(ends[0].Status).To(Equal(ActivityFailed))
		Expect(ends[0].Err).To(MatchError(cause))
		Expect(sim.IsProcessFailure(waitErr)).To(BeTrue())
		Expect(errors.Is(waitErr, cause)).To(BeTrue())
	})

	It("should turn panics in activities into failures", func() {
		action := &Action{
			ID: "act_x",
			Plan: Sequence(&Activity{
				Name: "explode",
				Body: func(ctx *ActivityContext) (interface{}, error) {
					panic("boom")
				},
			}),
		}

		run := perform(action)
		Expect(world.engine.AdvanceTo(1)).To(Succeed())

		ends := activityRecords(HookPosActivityEnd)
		Expect(ends).To(HaveLen(1))
		Expect(ends[0].Status).To(Equal(ActivityFailed))
		Expect(run.Process().State()).To(Equal(sim.ProcessFailed))
	})

	It("should skip actions whose precheck fails", func() {
		world.resources["ammo"] = sim.NewContainer("ammo", 200, 20)
		action := &Action{
			ID: "act_fire",
			Precheck: func(w World, e Entity) error {
				return w.Resource("ammo").Check(36)
			},
			Plan: Sequence(waitActivity("fire", 1)),
		}

		run := perform(action)
		Expect(world.engine.AdvanceTo(5)).To(Succeed())

		Expect(run.Skipped()).To(BeTrue())
		Expect(run.Process()).To(BeNil())
		Expect(sim.IsResourceExhausted(run.Err())).To(BeTrue())
		Expect(root.State()).To(Equal(sim.ProcessDone))
		Expect(activityRecords(HookPosActivityStart)).To(BeEmpty())

		actionEnds := hooks.at(HookPosActionEnd)
		Expect(actionEnds).To(HaveLen(1))
		Expect(actionEnds[0].Item.(ActionRecord).Status).To(Equal(ActionSkipped))

		Expect(sim.IsInvalidState(run.Interrupt(nil))).To(BeTrue())
	})

	It("should loop while the condition holds", func() {
		world.globals.Set("Patrolling", true)
		rounds := 0
		action := &Action{
			ID: "act_patrol",
			Plan: Loop(
				func(run *ActionRun) bool {
					return run.World().Globals().Bool("Patrolling")
				},
				&Activity{
					Name: "move",
					Body: func(ctx *ActivityContext) (interface{}, error) {
						rounds++
						if rounds == 3 {
							ctx.Globals().Set("Patrolling", false)
						}
						return nil, ctx.Wait(10)
					},
				},
			),
		}

		run := perform(action)
		Expect(world.engine.AdvanceTo(100)).To(Succeed())

		Expect(rounds).To(Equal(3))
		Expect(run.Process().State()).To(Equal(sim.ProcessDone))
	})

	It("should acquire and release resources", func() {
		world.resources["ammo"] = sim.NewContainer("ammo", 200, 180)
		action := &Action{
			ID: "act_fire",
			Plan: Sequence(&Activity{
				Name: "fire",
				Body: func(ctx *ActivityContext) (interface{}, error) {
					if err := ctx.Acquire("ammo", 36); err != nil {
						return nil, err
					}
					return nil, ctx.Release("ammo", 6)
				},
			}),
		}

		perform(action)
		Expect(world.engine.AdvanceTo(1)).To(Succeed())

		Expect(world.resources["ammo"].Level()).To(Equal(150))
	})

	It("should set the owner of action processes", func() {
		run := perform(&Action{ID: "act_x", Plan: Sequence(waitActivity("a", 1))})

		Expect(run.Process().Owner()).To(BeIdenticalTo(entity))
	})
})
