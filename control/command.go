package control

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CommandKind names an operator command.
type CommandKind string

// A list of all the commands that the state machine understands.
const (
	CmdPause       CommandKind = "pause"
	CmdResume      CommandKind = "resume"
	CmdStep        CommandKind = "step"
	CmdRun         CommandKind = "run"
	CmdStop        CommandKind = "stop"
	CmdChangeSpeed CommandKind = "change_speed"
)

// DefaultSpeedRatio is used when a change_speed command does not carry a
// ratio.
const DefaultSpeedRatio = 1.0

// A Command is an operator request sent to the simulation.
type Command struct {
	Kind       CommandKind `json:"type"`
	SpeedRatio float64     `json:"speed_ratio,omitempty"`
}

// Pause creates a pause command.
func Pause() Command { return Command{Kind: CmdPause} }

// Resume creates a resume command.
func Resume() Command { return Command{Kind: CmdResume} }

// Step creates a step command.
func Step() Command { return Command{Kind: CmdStep} }

// Run creates a run command.
func Run() Command { return Command{Kind: CmdRun} }

// Stop creates a stop command.
func Stop() Command { return Command{Kind: CmdStop} }

// ChangeSpeed creates a command that sets the pacing ratio.
func ChangeSpeed(ratio float64) Command {
	return Command{Kind: CmdChangeSpeed, SpeedRatio: ratio}
}

// UnmarshalJSON reads a command. A change_speed command without a ratio
// uses DefaultSpeedRatio.
func (c *Command) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind       CommandKind `json:"type"`
		SpeedRatio *float64    `json:"speed_ratio"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.Kind = raw.Kind
	c.SpeedRatio = 0

	if raw.SpeedRatio != nil {
		c.SpeedRatio = *raw.SpeedRatio
	} else if raw.Kind == CmdChangeSpeed {
		c.SpeedRatio = DefaultSpeedRatio
	}

	return nil
}

// ParseCommand reads a command either from its JSON form or from a bare
// command name.
func ParseCommand(data []byte) (Command, error) {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return Command{}, fmt.Errorf("empty command")
	}

	if strings.HasPrefix(text, "{") {
		var cmd Command
		if err := json.Unmarshal([]byte(text), &cmd); err != nil {
			return Command{}, fmt.Errorf("malformed command: %w", err)
		}

		return cmd, nil
	}

	kind := CommandKind(strings.Trim(text, `"`))
	if kind == CmdChangeSpeed {
		return ChangeSpeed(DefaultSpeedRatio), nil
	}

	return Command{Kind: kind}, nil
}

// Known tells if the state machine understands the command.
func (c Command) Known() bool {
	switch c.Kind {
	case CmdPause, CmdResume, CmdStep, CmdRun, CmdStop, CmdChangeSpeed:
		return true
	default:
		return false
	}
}
