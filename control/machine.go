package control

import (
	"fmt"
	"math"

	"github.com/eatisim/eatisim/sim"
)

// A Transition records the effect of applying a command.
type Transition struct {
	Command Command
	From    RunState
	To      RunState
	Ignored bool
}

// Changed tells if the command moved the machine into a different state.
func (t Transition) Changed() bool {
	return t.From != t.To
}

// Machine is the run-control state machine. It is owned by the simulation
// driver and is not safe for concurrent use.
type Machine struct {
	state     RunState
	ratio     float64
	stepArmed bool
}

// NewMachine creates a Machine in the given state with the given pacing
// ratio. A machine that starts in Stepping waits for the first step command.
func NewMachine(initial RunState, ratio float64) *Machine {
	return &Machine{
		state: initial,
		ratio: ratio,
	}
}

// State returns the current state.
func (m *Machine) State() RunState {
	return m.state
}

// Ratio returns the pacing ratio, in simulated seconds per real second. A
// ratio that is not positive means the simulation runs as fast as possible.
func (m *Machine) Ratio() float64 {
	return m.ratio
}

// StepArmed tells if a step quantum is waiting to be advanced.
func (m *Machine) StepArmed() bool {
	return m.stepArmed
}

// ConsumeStep disarms the pending step. It returns false if no step was
// armed.
func (m *Machine) ConsumeStep() bool {
	if m.state != Stepping || !m.stepArmed {
		return false
	}

	m.stepArmed = false

	return true
}

// Apply changes the state according to the command. Commands sent after
// the machine stopped and resume commands sent while the machine is not
// paused are rejected with an InvalidStateError, and so are speed changes
// to a ratio that is not finite. Unknown commands are ignored.
func (m *Machine) Apply(cmd Command) (Transition, error) {
	t := Transition{Command: cmd, From: m.state, To: m.state}

	if !cmd.Known() {
		t.Ignored = true
		return t, nil
	}

	if m.state == Stopped {
		t.Ignored = true
		return t, &sim.InvalidStateError{
			Op:     string(cmd.Kind),
			State:  m.state.String(),
			Reason: "simulation has stopped",
		}
	}

	switch cmd.Kind {
	case CmdPause:
		m.state = Paused
		m.stepArmed = false
	case CmdResume:
		if m.state != Paused {
			t.Ignored = true
			return t, &sim.InvalidStateError{
				Op:     string(cmd.Kind),
				State:  m.state.String(),
				Reason: "only a paused simulation can be resumed",
			}
		}
		m.state = Running
	case CmdStep:
		m.state = Stepping
		m.stepArmed = true
	case CmdRun:
		m.state = Running
		m.stepArmed = false
	case CmdChangeSpeed:
		if math.IsNaN(cmd.SpeedRatio) || math.IsInf(cmd.SpeedRatio, 0) {
			t.Ignored = true
			return t, &sim.InvalidStateError{
				Op:     string(cmd.Kind),
				State:  m.state.String(),
				Reason: fmt.Sprintf("speed ratio %v is not a finite number", cmd.SpeedRatio),
			}
		}

		m.ratio = cmd.SpeedRatio
	case CmdStop:
		m.state = Stopped
		m.stepArmed = false
	default:
		panic(fmt.Sprintf("unhandled command %s", cmd.Kind))
	}

	t.To = m.state

	return t, nil
}
