// Package simulation drives a set of entities through simulated time under
// the control of an operator.
package simulation

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/control"
	"github.com/eatisim/eatisim/datarecording"
	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/telemetry"
)

type registeredResource struct {
	container *sim.Container
	label     string
}

// A Simulation owns the entities, resources, actions, and conditions of a
// scenario and advances the engine according to the operator commands.
//
// All the simulation state is mutated by the goroutine that calls Run, while
// it holds the write lock. Queries take the read lock, so they never observe
// a half-processed batch of events.
type Simulation struct {
	id     string
	name   string
	engine *sim.SerialEngine
	logger *logrus.Logger
	log    *logrus.Entry
	rng    *rand.Rand
	clock  WallClock

	lock     sync.RWMutex
	machine  *control.Machine
	commands *control.CommandChannel
	bus      *telemetry.Bus
	ring     *telemetry.RingBuffer
	globals  *model.GlobalVars

	entities       []model.Entity
	entityIndex    map[string]model.Entity
	resources      []*registeredResource
	resourceIndex  map[string]*registeredResource
	actions        map[string]*model.Action
	conditions     []*Condition
	conditionIndex map[string]*Condition
	conditionFired map[string]bool
	triggered      []TriggeredEvent

	startTime     sim.VTimeInSec
	endTime       sim.VTimeInSec
	quantum       sim.VTimeInSec
	slice         sim.VTimeInSec
	watchInterval sim.VTimeInSec

	recordingSteps bool
	stepPoints     []StepPoint
	waitingForStep bool

	paceAnchored bool
	paceWall     time.Time
	paceSim      sim.VTimeInSec
	lastStatus   time.Time

	started   bool
	wallStart time.Time
	completed bool

	dataRecorder datarecording.DataRecorder
	timeline     *datarecording.TimelineRecorder
}

// ID returns the unique ID of the simulation run.
func (s *Simulation) ID() string {
	return s.id
}

// Name returns the name of the simulation.
func (s *Simulation) Name() string {
	return s.name
}

// Engine returns the engine that the simulation advances.
func (s *Simulation) Engine() *sim.SerialEngine {
	return s.engine
}

// Globals returns the global variables.
func (s *Simulation) Globals() *model.GlobalVars {
	return s.globals
}

// Rand returns the random number generator of the simulation.
func (s *Simulation) Rand() *rand.Rand {
	return s.rng
}

// Logger returns the logger that the simulation logs to.
func (s *Simulation) Logger() *logrus.Entry {
	return s.log
}

// Commands returns the channel that operators send commands through.
func (s *Simulation) Commands() *control.CommandChannel {
	return s.commands
}

// Bus returns the bus that the telemetry events are emitted on.
func (s *Simulation) Bus() *telemetry.Bus {
	return s.bus
}

// Telemetry returns the buffer of the recent telemetry events.
func (s *Simulation) Telemetry() *telemetry.RingBuffer {
	return s.ring
}

// DataRecorder returns the recorder of the simulation, or nil if the
// simulation does not record.
func (s *Simulation) DataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// Timeline returns the activity timeline recorder, or nil if the simulation
// does not record.
func (s *Simulation) Timeline() *datarecording.TimelineRecorder {
	return s.timeline
}

// StartTime returns the simulated time at which the simulation starts.
func (s *Simulation) StartTime() sim.VTimeInSec {
	return s.startTime
}

// EndTime returns the simulated time at which the simulation ends.
func (s *Simulation) EndTime() sim.VTimeInSec {
	return s.endTime
}

// Now returns the current simulated time.
func (s *Simulation) Now() sim.VTimeInSec {
	return s.engine.CurrentTime()
}

func (s *Simulation) mustNotHaveStarted(what string) {
	if s.started {
		panic(fmt.Sprintf("cannot register %s after the simulation starts", what))
	}
}

// RegisterEntity adds an entity to the simulation. The entity starts when
// the simulation runs.
func (s *Simulation) RegisterEntity(e model.Entity) {
	s.mustNotHaveStarted("entity " + e.ID())

	if _, found := s.entityIndex[e.ID()]; found {
		panic("entity " + e.ID() + " already registered")
	}

	s.entities = append(s.entities, e)
	s.entityIndex[e.ID()] = e

	e.AcceptHook(sim.HookFunc(s.observeEntity))
}

// RegisterResource adds a container to the simulation. The container is
// identified by its name.
func (s *Simulation) RegisterResource(c *sim.Container, label string) {
	s.mustNotHaveStarted("resource " + c.Name())

	if _, found := s.resourceIndex[c.Name()]; found {
		panic("resource " + c.Name() + " already registered")
	}

	r := &registeredResource{container: c, label: label}
	s.resources = append(s.resources, r)
	s.resourceIndex[c.Name()] = r

	c.AcceptHook(sim.HookFunc(s.observeResource))
}

// RegisterAction makes an action available by ID.
func (s *Simulation) RegisterAction(a *model.Action) {
	s.mustNotHaveStarted("action " + a.ID)

	if _, found := s.actions[a.ID]; found {
		panic("action " + a.ID + " already registered")
	}

	if a.Plan == nil {
		panic("action " + a.ID + " has no plan")
	}

	s.actions[a.ID] = a
}

// Entity returns the entity with the given ID, or nil if there is none.
func (s *Simulation) Entity(id string) model.Entity {
	return s.entityIndex[id]
}

// Entities returns all the entities in the order of registration.
func (s *Simulation) Entities() []model.Entity {
	entities := make([]model.Entity, len(s.entities))
	copy(entities, s.entities)

	return entities
}

// Resource returns the container with the given ID, or nil if there is none.
func (s *Simulation) Resource(id string) *sim.Container {
	r, found := s.resourceIndex[id]
	if !found {
		return nil
	}

	return r.container
}

// Action returns the action with the given ID, or nil if there is none.
func (s *Simulation) Action(id string) *model.Action {
	return s.actions[id]
}

// InspectEntity calls fn with the entity while no event is being processed.
// It returns false if the entity does not exist.
func (s *Simulation) InspectEntity(id string, fn func(e model.Entity)) bool {
	e, found := s.entityIndex[id]
	if !found {
		return false
	}

	s.lock.RLock()
	defer s.lock.RUnlock()

	fn(e)

	return true
}

// Terminate releases the resources held by the simulation. It must be called
// after Run returns.
func (s *Simulation) Terminate() {
	s.engine.Shutdown()

	if s.dataRecorder != nil {
		if err := s.dataRecorder.Close(); err != nil {
			s.log.WithError(err).Error("failed to close the data recorder")
		}
	}
}

func (s *Simulation) emit(
	kind telemetry.Kind,
	level logrus.Level,
	entityID string,
	data map[string]interface{},
) {
	s.bus.Emit(telemetry.Event{
		Kind:     kind,
		Level:    level,
		SimTime:  float64(s.engine.CurrentTime()),
		EntityID: entityID,
		Data:     data,
	})
}
