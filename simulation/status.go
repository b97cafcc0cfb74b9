package simulation

import (
	"encoding/json"
	"math"
	"os"

	"github.com/eatisim/eatisim/control"
	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
)

// ResourceStatus is a point-in-time view of a resource.
type ResourceStatus struct {
	ID          string  `json:"id"`
	Label       string  `json:"name"`
	Level       int     `json:"level"`
	Capacity    int     `json:"capacity"`
	Utilization float64 `json:"utilization"`
	Waiting     int     `json:"waiting"`
}

// Status is a point-in-time view of the whole simulation.
type Status struct {
	SimulationTime  float64                       `json:"simulation_time"`
	RealElapsedTime float64                       `json:"real_elapsed_time"`
	TotalTime       float64                       `json:"total_time"`
	Progress        float64                       `json:"progress"`
	RunState        control.RunState              `json:"run_state"`
	SimulationSpeed float64                       `json:"simulation_speed"`
	StepMode        bool                          `json:"step_mode"`
	Completed       bool                          `json:"completed"`
	Entities        map[string]model.EntityStatus `json:"entities"`
	Resources       map[string]ResourceStatus     `json:"resources"`
	GlobalVars      map[string]interface{}        `json:"global_vars"`
}

// StepReport tells an observer where the last step stopped.
type StepReport struct {
	CurrentTime    float64          `json:"current_time"`
	RunState       control.RunState `json:"run_state"`
	StepPoints     []StepPoint      `json:"step_points"`
	NextAvailable  bool             `json:"next_available"`
	WaitingForStep bool             `json:"waiting_for_step"`
}

// ResultInfo summarizes a finished run.
type ResultInfo struct {
	Name           string  `json:"name"`
	ID             string  `json:"id"`
	TotalTime      float64 `json:"total_time"`
	EndTime        float64 `json:"end_time"`
	CompletionRate float64 `json:"completion_rate"`
}

// Results is what a run leaves behind.
type Results struct {
	SimulationInfo  ResultInfo             `json:"simulation_info"`
	FinalStatus     Status                 `json:"final_status"`
	GlobalVars      map[string]interface{} `json:"global_vars"`
	TriggeredEvents []TriggeredEvent       `json:"triggered_events"`
}

// Snapshot returns the current status. It never observes the simulation in
// the middle of processing events.
func (s *Simulation) Snapshot() Status {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.statusLocked()
}

// progressLocked returns the completed fraction of the run, within [0, 1].
func (s *Simulation) progressLocked(now sim.VTimeInSec) float64 {
	span := float64(s.endTime - s.startTime)
	if span <= 0 {
		return 0
	}

	p := float64(now-s.startTime) / span

	return math.Min(1, math.Max(0, p))
}

func (s *Simulation) statusLocked() Status {
	now := s.engine.CurrentTime()
	state := s.machine.State()

	st := Status{
		SimulationTime:  float64(now),
		TotalTime:       float64(s.endTime),
		Progress:        s.progressLocked(now),
		RunState:        state,
		SimulationSpeed: s.machine.Ratio(),
		StepMode:        state == control.Stepping,
		Completed:       s.completed,
		Entities:        make(map[string]model.EntityStatus, len(s.entities)),
		Resources:       s.resourceStatusLocked(),
		GlobalVars:      s.globals.Snapshot(),
	}

	if s.started {
		st.RealElapsedTime = s.clock.Now().Sub(s.wallStart).Seconds()
	}

	for _, e := range s.entities {
		st.Entities[e.ID()] = e.Status()
	}

	return st
}

// Resources returns the status of all the resources.
func (s *Simulation) Resources() map[string]ResourceStatus {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.resourceStatusLocked()
}

func (s *Simulation) resourceStatusLocked() map[string]ResourceStatus {
	res := make(map[string]ResourceStatus, len(s.resources))
	for _, r := range s.resources {
		c := r.container
		res[c.Name()] = ResourceStatus{
			ID:          c.Name(),
			Label:       r.label,
			Level:       c.Level(),
			Capacity:    c.Capacity(),
			Utilization: c.Utilization(),
			Waiting:     c.Waiting(),
		}
	}

	return res
}

// GlobalVars returns a copy of the global variables.
func (s *Simulation) GlobalVars() map[string]interface{} {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.globals.Snapshot()
}

// EntityStatus returns the status of an entity.
func (s *Simulation) EntityStatus(id string) (model.EntityStatus, bool) {
	var st model.EntityStatus

	found := s.InspectEntity(id, func(e model.Entity) {
		st = e.Status()
	})

	return st, found
}

// StepReport returns the step points recorded in the last quantum.
func (s *Simulation) StepReport() StepReport {
	s.lock.RLock()
	defer s.lock.RUnlock()

	now := s.engine.CurrentTime()

	return StepReport{
		CurrentTime:    float64(now),
		RunState:       s.machine.State(),
		StepPoints:     s.copyStepPoints(),
		NextAvailable:  now < s.endTime,
		WaitingForStep: s.machine.State() == control.Stepping && s.waitingForStep,
	}
}

// Results returns the results of the run.
func (s *Simulation) Results() Results {
	s.lock.RLock()
	defer s.lock.RUnlock()

	status := s.statusLocked()

	return Results{
		SimulationInfo: ResultInfo{
			Name:           s.name,
			ID:             s.id,
			TotalTime:      float64(s.endTime - s.startTime),
			EndTime:        status.SimulationTime,
			CompletionRate: status.Progress,
		},
		FinalStatus:     status,
		GlobalVars:      status.GlobalVars,
		TriggeredEvents: append([]TriggeredEvent{}, s.triggered...),
	}
}

// WriteResults writes the results into a JSON file.
func (s *Simulation) WriteResults(path string) error {
	data, err := json.MarshalIndent(s.Results(), "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
