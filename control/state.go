package control

import (
	"fmt"
	"strings"
)

// RunState decides how the simulation driver advances the clock.
type RunState int

// A list of all the run states. Stopped is terminal.
const (
	Running RunState = iota
	Paused
	Stepping
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stepping:
		return "stepping"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// MarshalText writes the state as its name.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText reads a state from its name.
func (s *RunState) UnmarshalText(text []byte) error {
	state, err := ParseRunState(string(text))
	if err != nil {
		return err
	}

	*s = state

	return nil
}

// ParseRunState converts a name into a RunState. The run modes "continuous"
// and "step" are accepted as aliases of running and stepping.
func ParseRunState(name string) (RunState, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "running", "continuous", "run":
		return Running, nil
	case "paused", "pause":
		return Paused, nil
	case "stepping", "step":
		return Stepping, nil
	case "stopped", "stop":
		return Stopped, nil
	default:
		return Running, fmt.Errorf("unknown run state %q", name)
	}
}
