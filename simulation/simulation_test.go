package simulation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/eatisim/eatisim/control"
	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/telemetry"
)

func spawnOwned(
	w model.World,
	e model.Entity,
	name string,
	body sim.ProcessBody,
) *sim.Process {
	p := w.Engine().Spawn(name, body, nil)
	p.SetOwner(e)

	return p
}

func ticker(interval sim.VTimeInSec, count *int) func(model.World, *testEntity) error {
	return func(w model.World, e *testEntity) error {
		spawnOwned(w, e, "tick", func(p *sim.Process) (interface{}, error) {
			for {
				if err := p.Timeout(interval); err != nil {
					return nil, err
				}

				if count != nil {
					*count++
				}
			}
		})

		return nil
	}
}

func runAsync(s *Simulation, ctx context.Context) chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()

	return done
}

var _ = Describe("Builder", func() {
	It("should use the defaults of the simulation", func() {
		s := MakeBuilder().WithLogger(quietLogger()).Build()
		defer s.Terminate()

		status := s.Snapshot()
		Expect(status.TotalTime).To(Equal(1800.0))
		Expect(status.RunState).To(Equal(control.Stepping))
		Expect(status.SimulationSpeed).To(Equal(5.0))
		Expect(status.StepMode).To(BeTrue())
		Expect(s.ID()).NotTo(BeEmpty())
	})

	DescribeTable("should reject invalid parameters",
		func(b Builder) {
			Expect(func() { b.Build() }).To(Panic())
		},
		Entry("end before start",
			MakeBuilder().WithStartTime(10).WithEndTime(5)),
		Entry("zero step size", MakeBuilder().WithStepSize(0)),
		Entry("negative slice", MakeBuilder().WithSlice(-1)),
		Entry("zero watch interval", MakeBuilder().WithWatchInterval(0)),
		Entry("stopped run mode", MakeBuilder().WithRunMode(control.Stopped)),
		Entry("empty telemetry buffer", MakeBuilder().WithTelemetryCapacity(0)),
	)
})

var _ = Describe("Simulation", func() {
	var (
		mockCtrl *gomock.Controller
		sink     *MockSink
		events   *eventLog
		builder  Builder
		s        *Simulation
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		events = &eventLog{}

		sink = NewMockSink(mockCtrl)
		sink.EXPECT().Publish(gomock.Any()).
			Do(func(evt telemetry.Event) { events.add(evt) }).
			AnyTimes()

		builder = MakeBuilder().
			WithLogger(quietLogger()).
			WithSink(sink).
			WithRatio(0).
			WithEndTime(10)
	})

	AfterEach(func() {
		if s != nil {
			s.Terminate()
			s = nil
		}

		mockCtrl.Finish()
	})

	Context("registration", func() {
		BeforeEach(func() {
			s = builder.Build()
		})

		It("should find what is registered", func() {
			e := newTestEntity("e1", nil)
			c := sim.NewContainer("ammo", 10, 5)
			a := &model.Action{ID: "act", Plan: model.Sequence()}

			s.RegisterEntity(e)
			s.RegisterResource(c, "Ammo")
			s.RegisterAction(a)

			Expect(s.Entity("e1")).To(BeIdenticalTo(e))
			Expect(s.Entity("nothing")).To(BeNil())
			Expect(s.Resource("ammo")).To(BeIdenticalTo(c))
			Expect(s.Resource("nothing")).To(BeNil())
			Expect(s.Action("act")).To(BeIdenticalTo(a))
			Expect(s.Entities()).To(HaveLen(1))
		})

		It("should panic on duplicates", func() {
			s.RegisterEntity(newTestEntity("e1", nil))
			s.RegisterResource(sim.NewContainer("ammo", 10, 5), "")
			s.RegisterAction(&model.Action{ID: "act", Plan: model.Sequence()})
			s.RegisterCondition(&Condition{
				ID:    "cond",
				Check: func(*model.GlobalVars) bool { return false },
			})

			Expect(func() { s.RegisterEntity(newTestEntity("e1", nil)) }).To(Panic())
			Expect(func() {
				s.RegisterResource(sim.NewContainer("ammo", 1, 1), "")
			}).To(Panic())
			Expect(func() {
				s.RegisterAction(&model.Action{ID: "act", Plan: model.Sequence()})
			}).To(Panic())
			Expect(func() {
				s.RegisterCondition(&Condition{
					ID:    "cond",
					Check: func(*model.GlobalVars) bool { return true },
				})
			}).To(Panic())
		})

		It("should panic on a condition that names only half a response", func() {
			Expect(func() {
				s.RegisterCondition(&Condition{
					ID:       "cond",
					Check:    func(*model.GlobalVars) bool { return false },
					EntityID: "e1",
				})
			}).To(Panic())
		})

		It("should not register after the simulation starts", func() {
			s.Commands().Send(control.Stop())
			Expect(s.Run(context.Background())).To(Succeed())

			Expect(func() { s.RegisterEntity(newTestEntity("late", nil)) }).
				To(Panic())
		})
	})

	Context("stepping", func() {
		It("should advance exactly one quantum per step", func() {
			s = builder.WithEndTime(2.5).WithStepSize(1).Build()
			s.RegisterEntity(newTestEntity("e1", ticker(0.5, nil)))

			done := runAsync(s, context.Background())

			Consistently(func() float64 {
				return s.Snapshot().SimulationTime
			}, 50*time.Millisecond).Should(Equal(0.0))
			Expect(s.StepReport().WaitingForStep).To(BeTrue())

			s.Commands().Send(control.Step())
			Eventually(func() float64 {
				return s.StepReport().CurrentTime
			}).Should(Equal(1.0))

			report := s.StepReport()
			Expect(report.WaitingForStep).To(BeTrue())
			Expect(report.NextAvailable).To(BeTrue())
			Expect(report.StepPoints).To(HaveLen(3))
			Expect(report.StepPoints[0].Time).To(Equal(0.0))
			Expect(report.StepPoints[1].Time).To(Equal(0.5))
			Expect(report.StepPoints[2].Time).To(Equal(1.0))
			Expect(report.StepPoints[0].EntityID).To(Equal("e1"))
			Expect(report.StepPoints[0].WaitKind).To(Equal(sim.WaitTimeout))

			s.Commands().Send(control.Step())
			Eventually(func() float64 {
				return s.StepReport().CurrentTime
			}).Should(Equal(2.0))

			report = s.StepReport()
			Expect(report.StepPoints).To(HaveLen(2))
			Expect(report.StepPoints[0].Time).To(Equal(1.5))

			s.Commands().Send(control.Step())
			Eventually(done).Should(Receive(BeNil()))

			Expect(s.Now()).To(Equal(sim.VTimeInSec(2.5)))
			Expect(s.StepReport().NextAvailable).To(BeFalse())
			Expect(events.ofKind(telemetry.KindStepCompleted)).To(HaveLen(3))
			Expect(events.ofKind(telemetry.KindSimulationCompleted)).To(HaveLen(1))
		})

		It("should record step points of processes without an entity", func() {
			s = builder.WithEndTime(3).WithStepSize(1).Build()
			s.RegisterCondition(&Condition{
				ID:    "cond",
				Check: func(*model.GlobalVars) bool { return false },
			})

			done := runAsync(s, context.Background())

			s.Commands().Send(control.Step())
			Eventually(func() float64 {
				return s.StepReport().CurrentTime
			}).Should(Equal(1.0))

			points := s.StepReport().StepPoints
			Expect(points).NotTo(BeEmpty())
			Expect(points[0].Process).To(Equal("condition_watcher"))
			Expect(points[0].EntityID).To(BeEmpty())
			Expect(points[0].WaitKind).To(Equal(sim.WaitTimeout))

			s.Commands().Send(control.Stop())
			Eventually(done).Should(Receive(BeNil()))
		})

		It("should record no step points when running", func() {
			s = builder.WithRunMode(control.Running).Build()
			s.RegisterEntity(newTestEntity("e1", ticker(0.5, nil)))

			Expect(s.Run(context.Background())).To(Succeed())

			Expect(s.StepReport().StepPoints).To(BeEmpty())
		})
	})

	Context("pause and resume", func() {
		It("should keep the time while paused and continue from it", func() {
			count := 0
			s = builder.WithEndTime(5).Build()
			s.RegisterEntity(newTestEntity("e1", ticker(1, &count)))

			done := runAsync(s, context.Background())

			s.Commands().Send(control.Step())
			Eventually(func() float64 {
				return s.Snapshot().SimulationTime
			}).Should(Equal(1.0))

			s.Commands().Send(control.Pause())
			Eventually(func() control.RunState {
				return s.Snapshot().RunState
			}).Should(Equal(control.Paused))

			Consistently(func() float64 {
				return s.Snapshot().SimulationTime
			}, 50*time.Millisecond).Should(Equal(1.0))

			s.Commands().Send(control.Resume())
			Eventually(done).Should(Receive(BeNil()))

			Expect(s.Now()).To(Equal(sim.VTimeInSec(5)))
			Expect(count).To(Equal(5))

			changes := events.ofKind(telemetry.KindStateChanged)
			newStates := []interface{}{}
			for _, c := range changes {
				newStates = append(newStates, c.Data["new_state"])
			}
			Expect(newStates).To(Equal([]interface{}{
				"stepping", "paused", "running",
			}))
		})
	})

	Context("pacing", func() {
		It("should sleep so that the ratio holds", func() {
			clock := newFakeClock()
			s = builder.
				WithRunMode(control.Running).
				WithRatio(2).
				WithSlice(0.5).
				WithEndTime(2).
				WithWallClock(clock).
				Build()

			Expect(s.Run(context.Background())).To(Succeed())

			Expect(clock.Slept()).To(Equal(time.Second))
			Expect(s.Now()).To(Equal(sim.VTimeInSec(2)))
		})

		It("should apply a speed change", func() {
			clock := newFakeClock()
			s = builder.
				WithRunMode(control.Running).
				WithRatio(2).
				WithSlice(0.5).
				WithEndTime(2).
				WithWallClock(clock).
				Build()

			s.Commands().Send(control.ChangeSpeed(10))
			Expect(s.Run(context.Background())).To(Succeed())

			Expect(clock.Slept()).To(Equal(200 * time.Millisecond))
			Expect(s.Snapshot().SimulationSpeed).To(Equal(10.0))
		})

		It("should not sleep when the ratio is not positive", func() {
			clock := newFakeClock()
			s = builder.
				WithRunMode(control.Running).
				WithWallClock(clock).
				Build()

			Expect(s.Run(context.Background())).To(Succeed())

			Expect(clock.Slept()).To(BeZero())
			Expect(s.Now()).To(Equal(sim.VTimeInSec(10)))
		})
	})

	Context("commands", func() {
		It("should report bad commands and keep going", func() {
			s = builder.Build()

			s.Commands().Send(control.Command{Kind: "warp"})
			s.Commands().Send(control.Resume())
			s.Commands().Send(control.Stop())
			s.Commands().Send(control.Step())

			Expect(s.Run(context.Background())).To(Succeed())

			Expect(events.ofKind(telemetry.KindCommandIgnored)).To(HaveLen(1))
			Expect(events.ofKind(telemetry.KindCommandRejected)).To(HaveLen(2))
			Expect(s.Snapshot().RunState).To(Equal(control.Stopped))
			Expect(s.Now()).To(Equal(sim.VTimeInSec(0)))
		})

		It("should keep the speed when the new ratio is not finite", func() {
			s = builder.WithRatio(2).Build()

			s.Commands().Send(control.ChangeSpeed(math.NaN()))
			s.Commands().Send(control.Stop())

			Expect(s.Run(context.Background())).To(Succeed())

			Expect(events.ofKind(telemetry.KindCommandRejected)).To(HaveLen(1))
			Expect(s.Snapshot().SimulationSpeed).To(Equal(2.0))

			path := filepath.Join(GinkgoT().TempDir(), "results.json")
			Expect(s.WriteResults(path)).To(Succeed())
		})

		It("should stop when the context is cancelled", func() {
			s = builder.Build()
			ctx, cancel := context.WithCancel(context.Background())

			done := runAsync(s, ctx)
			cancel()

			Eventually(done).Should(Receive(MatchError(context.Canceled)))
		})

		It("should only run once", func() {
			s = builder.WithRunMode(control.Running).Build()

			Expect(s.Run(context.Background())).To(Succeed())

			err := s.Run(context.Background())
			Expect(sim.IsInvalidState(err)).To(BeTrue())
		})
	})

	Context("failures", func() {
		It("should isolate a failing entity", func() {
			count := 0
			s = builder.WithRunMode(control.Running).WithEndTime(5).Build()

			s.RegisterEntity(newTestEntity("a",
				func(w model.World, e *testEntity) error {
					spawnOwned(w, e, "doomed",
						func(p *sim.Process) (interface{}, error) {
							if err := p.Timeout(1); err != nil {
								return nil, err
							}

							return nil, errors.New("boom")
						})

					return nil
				}))
			s.RegisterEntity(newTestEntity("b", ticker(1, &count)))
			s.RegisterEntity(newTestEntity("c",
				func(model.World, *testEntity) error {
					return errors.New("cannot start")
				}))
			s.RegisterEntity(newTestEntity("d",
				func(model.World, *testEntity) error {
					panic("cannot start either")
				}))

			Expect(s.Run(context.Background())).To(Succeed())

			Expect(count).To(Equal(5))

			failures := events.ofKind(telemetry.KindProcessFailed)
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].EntityID).To(Equal("a"))
			Expect(failures[0].SimTime).To(Equal(1.0))
			Expect(failures[0].Data[telemetry.DataError]).To(Equal("boom"))
		})
	})

	Context("conditions", func() {
		It("should trigger once per crossing", func() {
			responses := 0

			s = builder.WithRunMode(control.Running).Build()
			s.RegisterEntity(newTestEntity("setter",
				func(w model.World, e *testEntity) error {
					spawnOwned(w, e, "set",
						func(p *sim.Process) (interface{}, error) {
							g := w.Globals()
							steps := []struct {
								wait  sim.VTimeInSec
								value bool
							}{{2.5, true}, {2, false}, {2, true}}

							for _, st := range steps {
								if err := p.Timeout(st.wait); err != nil {
									return nil, err
								}

								g.Set("Flag", st.value)
							}

							return nil, nil
						})

					return nil
				}))
			s.RegisterAction(&model.Action{
				ID: "respond",
				Plan: func(*model.ActionRun) error {
					responses++
					return nil
				},
			})
			s.RegisterCondition(&Condition{
				ID:       "evt_flag",
				Label:    "flag raised",
				Check:    func(g *model.GlobalVars) bool { return g.Bool("Flag") },
				EntityID: "setter",
				ActionID: "respond",
			})

			Expect(s.Run(context.Background())).To(Succeed())

			triggered := s.Triggered()
			Expect(triggered).To(HaveLen(2))
			Expect(triggered[0].Time).To(Equal(3.0))
			Expect(triggered[1].Time).To(Equal(7.0))
			Expect(triggered[0].ID).To(Equal("evt_flag"))
			Expect(responses).To(Equal(2))
			Expect(events.ofKind(telemetry.KindEventTriggered)).To(HaveLen(2))
			Expect(events.ofKind(telemetry.KindGlobalVarUpdate)).To(HaveLen(3))
		})
	})

	Context("observation", func() {
		var (
			load *model.Activity
			fire *model.Activity
			work *model.Action
			ammo *sim.Container
		)

		BeforeEach(func() {
			load = &model.Activity{
				Name:  "load",
				Label: "Load",
				Body: func(ctx *model.ActivityContext) (interface{}, error) {
					if err := ctx.Acquire("ammo", 2); err != nil {
						return nil, err
					}

					return "loaded", ctx.Wait(3)
				},
			}
			fire = &model.Activity{
				Name:  "fire",
				Label: "Fire",
				Body: func(ctx *model.ActivityContext) (interface{}, error) {
					return nil, ctx.Wait(1)
				},
			}
			work = &model.Action{
				ID:   "act_work",
				Name: "work",
				Plan: model.Sequence(load, fire),
			}
			ammo = sim.NewContainer("ammo", 20, 5)
		})

		register := func(s *Simulation) {
			s.RegisterResource(ammo, "Ammunition")
			s.RegisterAction(work)
			s.RegisterEntity(newTestEntity("worker",
				func(w model.World, e *testEntity) error {
					model.Perform(w, e, w.Action("act_work"), nil)
					return nil
				}))
		}

		It("should emit the lifecycle of activities in order", func() {
			s = builder.WithRunMode(control.Running).Build()
			register(s)

			Expect(s.Run(context.Background())).To(Succeed())

			kinds := []telemetry.Kind{}
			for _, evt := range events.all() {
				switch evt.Kind {
				case telemetry.KindActivityStarted,
					telemetry.KindActivityCompleted:
					kinds = append(kinds, evt.Kind)
				}
			}
			Expect(kinds).To(Equal([]telemetry.Kind{
				telemetry.KindActivityStarted,
				telemetry.KindActivityCompleted,
				telemetry.KindActivityStarted,
				telemetry.KindActivityCompleted,
			}))

			ends := events.ofKind(telemetry.KindActivityCompleted)
			Expect(ends[0].EntityID).To(Equal("worker"))
			Expect(ends[0].SimTime).To(Equal(3.0))
			Expect(ends[0].Data[telemetry.DataActivity]).To(Equal("activity_load"))
			Expect(ends[0].Data[telemetry.DataActivityLabel]).To(Equal("Load"))
			Expect(ends[0].Data[telemetry.DataDuration]).To(Equal(3.0))
			Expect(ends[0].Data[telemetry.DataResult]).To(Equal("loaded"))
			Expect(ends[0].Data[telemetry.DataStatus]).To(Equal("completed"))

			actions := events.ofKind(telemetry.KindActionCompleted)
			Expect(actions).To(HaveLen(1))
			Expect(actions[0].Data[telemetry.DataDuration]).To(Equal(4.0))

			resources := events.ofKind(telemetry.KindResourceUpdate)
			Expect(resources).To(HaveLen(1))
			Expect(resources[0].Data["level"]).To(Equal(3))
			Expect(resources[0].Data["utilization"]).To(Equal(85.0))

			var last uint64
			for _, evt := range events.all() {
				Expect(evt.Seq).To(BeNumerically(">", last))
				last = evt.Seq
			}
		})

		It("should take a snapshot", func() {
			s = builder.WithRunMode(control.Running).Build()
			register(s)
			s.Globals().Set("Alert", "high")

			Expect(s.Run(context.Background())).To(Succeed())

			status := s.Snapshot()
			Expect(status.SimulationTime).To(Equal(10.0))
			Expect(status.Progress).To(Equal(1.0))
			Expect(status.Completed).To(BeTrue())
			Expect(status.Resources).To(HaveKey("ammo"))
			Expect(status.Resources["ammo"].Level).To(Equal(3))
			Expect(status.Resources["ammo"].Label).To(Equal("Ammunition"))
			Expect(status.Entities).To(HaveKey("worker"))
			Expect(status.Entities["worker"].CurrentAction).To(BeEmpty())
			Expect(status.GlobalVars).To(HaveKeyWithValue("Alert", "high"))

			st, found := s.EntityStatus("worker")
			Expect(found).To(BeTrue())
			Expect(st.Name).To(Equal("worker name"))

			_, found = s.EntityStatus("nobody")
			Expect(found).To(BeFalse())
		})

		It("should write the results", func() {
			s = builder.WithName("test run").WithRunMode(control.Running).Build()
			register(s)

			Expect(s.Run(context.Background())).To(Succeed())

			path := filepath.Join(GinkgoT().TempDir(), "results.json")
			Expect(s.WriteResults(path)).To(Succeed())

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())

			var results Results
			Expect(json.Unmarshal(data, &results)).To(Succeed())
			Expect(results.SimulationInfo.Name).To(Equal("test run"))
			Expect(results.SimulationInfo.CompletionRate).To(Equal(1.0))
			Expect(results.FinalStatus.RunState).To(Equal(control.Running))
		})

		It("should record the timeline", func() {
			path := filepath.Join(GinkgoT().TempDir(), "recording")
			s = builder.WithRunMode(control.Running).WithRecorder(path).Build()
			register(s)

			Expect(s.Run(context.Background())).To(Succeed())

			summary := s.Timeline().Summary()
			Expect(summary.TotalActivities).To(Equal(2))
			Expect(summary.TotalExecutions).To(Equal(2))
			Expect(s.DataRecorder().ListTables()).To(ContainElement("activity_timeline"))
		})

		It("should start at the start time", func() {
			s = builder.
				WithRunMode(control.Running).
				WithStartTime(10).
				WithEndTime(12).
				Build()

			Expect(s.Snapshot().Progress).To(Equal(0.0))

			Expect(s.Run(context.Background())).To(Succeed())

			Expect(s.Now()).To(Equal(sim.VTimeInSec(12)))
			Expect(s.Snapshot().Progress).To(Equal(1.0))
		})
	})
})
