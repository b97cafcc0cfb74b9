package simulation

import (
	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/telemetry"
)

// A Condition is a predicate over the global variables that the simulation
// watches. It triggers once every time it turns from false to true.
type Condition struct {
	ID    string
	Label string
	Check func(g *model.GlobalVars) bool

	// Level is the level the trigger is logged and emitted at. The zero
	// value means info.
	Level logrus.Level

	// EntityID and ActionID name an optional response. When both are set,
	// the entity performs the action every time the condition triggers.
	EntityID string
	ActionID string
}

// TriggeredEvent records a condition that triggered.
type TriggeredEvent struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Time  float64 `json:"time"`
}

// RegisterCondition adds a condition to watch.
func (s *Simulation) RegisterCondition(c *Condition) {
	s.mustNotHaveStarted("condition " + c.ID)

	if _, found := s.conditionIndex[c.ID]; found {
		panic("condition " + c.ID + " already registered")
	}

	if c.Check == nil {
		panic("condition " + c.ID + " has no check")
	}

	if (c.EntityID == "") != (c.ActionID == "") {
		panic("condition " + c.ID + " must name both the entity and the action")
	}

	s.conditions = append(s.conditions, c)
	s.conditionIndex[c.ID] = c
}

// Triggered returns the conditions that have triggered, in order.
func (s *Simulation) Triggered() []TriggeredEvent {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return append([]TriggeredEvent{}, s.triggered...)
}

func (s *Simulation) watchConditions(p *sim.Process) (interface{}, error) {
	for {
		if err := p.Timeout(s.watchInterval); err != nil {
			return nil, err
		}

		s.checkConditions()
	}
}

func (s *Simulation) checkConditions() {
	for _, c := range s.conditions {
		holds := c.Check(s.globals)
		fired := s.conditionFired[c.ID]

		switch {
		case holds && !fired:
			s.conditionFired[c.ID] = true
			s.trigger(c)
		case !holds && fired:
			s.conditionFired[c.ID] = false
		}
	}
}

func (s *Simulation) trigger(c *Condition) {
	now := s.engine.CurrentTime()

	s.triggered = append(s.triggered, TriggeredEvent{
		ID:    c.ID,
		Label: c.Label,
		Time:  float64(now),
	})

	level := c.Level
	if level == logrus.PanicLevel {
		level = logrus.InfoLevel
	}

	s.log.WithFields(logrus.Fields{
		"event":    c.ID,
		"sim_time": float64(now),
	}).Logf(level, "event triggered: %s", c.Label)

	s.emit(telemetry.KindEventTriggered, level, c.EntityID,
		map[string]interface{}{
			"event": c.ID,
			"label": c.Label,
		})

	if c.ActionID == "" {
		return
	}

	e := s.Entity(c.EntityID)
	a := s.Action(c.ActionID)
	if e == nil || a == nil {
		s.log.WithField("event", c.ID).
			Errorf("cannot respond with %s by %s", c.ActionID, c.EntityID)
		return
	}

	model.Perform(s, e, a, nil)
}
