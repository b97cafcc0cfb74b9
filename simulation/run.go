package simulation

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/control"
	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/telemetry"
)

const statusPushInterval = time.Second

// Run starts the entities and advances the simulation until it reaches the
// end time or a stop command arrives. Commands are applied only between two
// advances of the clock. Run returns the context error if the context is
// cancelled first. A simulation can only run once.
func (s *Simulation) Run(ctx context.Context) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.complete()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.serviceCommands()

		state := s.machine.State()
		if state == control.Stopped || s.atEnd() {
			return nil
		}

		var err error
		switch state {
		case control.Paused:
			s.waitForCommand(ctx)
		case control.Stepping:
			var stepped bool
			stepped, err = s.step()
			if err == nil && !stepped {
				s.waitForCommand(ctx)
			}
		case control.Running:
			err = s.runSlice()
			if err == nil {
				s.pace(ctx)
			}
		}

		if err != nil {
			return err
		}
	}
}

func (s *Simulation) begin() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.started {
		return &sim.InvalidStateError{
			Op:     "run",
			Reason: "simulation has already run",
		}
	}

	s.started = true
	s.wallStart = s.clock.Now()
	s.lastStatus = s.wallStart

	if s.startTime > 0 {
		if err := s.engine.AdvanceTo(s.startTime); err != nil {
			return err
		}
	}

	s.log.WithFields(logrus.Fields{
		"run_mode": s.machine.State().String(),
		"end_time": float64(s.endTime),
	}).Info("simulation started")

	for _, e := range s.entities {
		s.startEntity(e)
	}

	if len(s.conditions) > 0 {
		s.engine.Spawn("condition_watcher", s.watchConditions, nil)
	}

	s.emit(telemetry.KindStateChanged, logrus.InfoLevel, "",
		map[string]interface{}{
			"old_state": "initialized",
			"new_state": s.machine.State().String(),
		})

	return nil
}

func (s *Simulation) startEntity(e model.Entity) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("entity", e.ID()).
				Errorf("entity panicked while starting: %v", r)
		}
	}()

	if err := e.Start(s); err != nil {
		s.log.WithField("entity", e.ID()).WithError(err).
			Error("entity failed to start")
	}
}

func (s *Simulation) atEnd() bool {
	return s.engine.CurrentTime() >= s.endTime
}

func (s *Simulation) serviceCommands() {
	cmds := s.commands.Drain()
	if len(cmds) == 0 {
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, cmd := range cmds {
		s.applyCommand(cmd)
	}
}

func (s *Simulation) applyCommand(cmd control.Command) {
	t, err := s.machine.Apply(cmd)

	if err != nil {
		s.log.WithField("command", string(cmd.Kind)).WithError(err).
			Warn("command rejected")
		s.emit(telemetry.KindCommandRejected, logrus.WarnLevel, "",
			map[string]interface{}{
				"command":           string(cmd.Kind),
				"state":             t.From.String(),
				telemetry.DataError: err.Error(),
			})

		return
	}

	if t.Ignored {
		s.log.WithField("command", string(cmd.Kind)).Warn("unknown command ignored")
		s.emit(telemetry.KindCommandIgnored, logrus.WarnLevel, "",
			map[string]interface{}{"command": string(cmd.Kind)})

		return
	}

	if t.Changed() || cmd.Kind == control.CmdChangeSpeed {
		s.paceAnchored = false
	}

	if t.To == control.Stepping {
		s.waitingForStep = !s.machine.StepArmed()
	}

	if cmd.Kind == control.CmdChangeSpeed {
		s.log.Infof("simulation speed changed to %.2fx", s.machine.Ratio())
	}

	if !t.Changed() {
		return
	}

	s.log.WithFields(logrus.Fields{
		"old_state": t.From.String(),
		"new_state": t.To.String(),
		"sim_time":  float64(s.engine.CurrentTime()),
	}).Info("run state changed")

	s.emit(telemetry.KindStateChanged, logrus.InfoLevel, "",
		map[string]interface{}{
			"old_state": t.From.String(),
			"new_state": t.To.String(),
			"command":   string(cmd.Kind),
		})
}

func (s *Simulation) waitForCommand(ctx context.Context) {
	select {
	case <-s.commands.Ready():
	case <-ctx.Done():
	}
}

func (s *Simulation) nextBoundary(d sim.VTimeInSec) sim.VTimeInSec {
	target := s.engine.CurrentTime() + d
	if target > s.endTime {
		target = s.endTime
	}

	return target
}

// step advances one quantum if a step has been armed.
func (s *Simulation) step() (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.machine.ConsumeStep() {
		s.waitingForStep = true
		return false, nil
	}

	s.waitingForStep = false
	from := s.engine.CurrentTime()
	target := s.nextBoundary(s.quantum)

	s.stepPoints = nil
	s.recordingSteps = true
	err := s.engine.AdvanceTo(target)
	s.recordingSteps = false
	s.waitingForStep = true

	if err != nil {
		return false, err
	}

	s.log.WithFields(logrus.Fields{
		"step_start": float64(from),
		"step_end":   float64(target),
		"points":     len(s.stepPoints),
	}).Debug("step completed")

	s.emit(telemetry.KindStepCompleted, logrus.InfoLevel, "",
		map[string]interface{}{
			"step_start":     float64(from),
			"step_end":       float64(target),
			"step_points":    s.copyStepPoints(),
			"next_available": target < s.endTime,
		})
	s.emitStatus()

	return true, nil
}

func (s *Simulation) copyStepPoints() []StepPoint {
	return append([]StepPoint{}, s.stepPoints...)
}

func (s *Simulation) runSlice() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.paceAnchored {
		s.paceAnchored = true
		s.paceWall = s.clock.Now()
		s.paceSim = s.engine.CurrentTime()
	}

	err := s.engine.AdvanceTo(s.nextBoundary(s.slice))
	if err != nil {
		return err
	}

	if now := s.clock.Now(); now.Sub(s.lastStatus) >= statusPushInterval {
		s.lastStatus = now
		s.emitStatus()
	}

	return nil
}

// pace sleeps while the simulated time is ahead of the wall time scaled by
// the ratio. When the simulation is behind, it does not sleep, so the
// simulation catches up without skipping events.
func (s *Simulation) pace(ctx context.Context) {
	s.lock.RLock()
	ratio := s.machine.Ratio()
	simElapsed := s.engine.CurrentTime() - s.paceSim
	anchor := s.paceWall
	s.lock.RUnlock()

	if ratio <= 0 {
		return
	}

	due := anchor.Add(time.Duration(float64(simElapsed) / ratio * float64(time.Second)))

	delay := due.Sub(s.clock.Now())
	if delay <= 0 {
		return
	}

	select {
	case <-s.clock.After(delay):
	case <-s.commands.Ready():
	case <-ctx.Done():
	}
}

func (s *Simulation) complete() {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.completed = true
	status := s.statusLocked()

	s.log.WithFields(logrus.Fields{
		"sim_time":  float64(s.engine.CurrentTime()),
		"run_state": s.machine.State().String(),
	}).Info("simulation completed")

	s.emit(telemetry.KindSimulationCompleted, logrus.InfoLevel, "",
		map[string]interface{}{"final_status": status})

	s.engine.Finished()
}

func (s *Simulation) emitStatus() {
	s.emit(telemetry.KindStatusUpdate, logrus.DebugLevel, "",
		map[string]interface{}{"status": s.statusLocked()})
}
