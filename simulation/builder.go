package simulation

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/control"
	"github.com/eatisim/eatisim/datarecording"
	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/telemetry"
)

// Builder can be used to build a simulation.
type Builder struct {
	name          string
	startTime     sim.VTimeInSec
	endTime       sim.VTimeInSec
	stepSize      sim.VTimeInSec
	slice         sim.VTimeInSec
	watchInterval sim.VTimeInSec
	ratio         float64
	runMode       control.RunState
	seed          int64
	ringCapacity  int

	logger          *logrus.Logger
	logCapture      bool
	logCaptureLevel logrus.Level

	sinks       []telemetry.Sink
	clock       WallClock
	idGenerator sim.IDGenerator

	recorderOn   bool
	recorderPath string
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{
		name:          "simulation",
		endTime:       1800,
		stepSize:      1,
		slice:         0.1,
		watchInterval: 1,
		ratio:         5.0,
		runMode:       control.Stepping,
		seed:          123,
		ringCapacity:  1000,
	}
}

// WithName sets the name that the results are reported with.
func (b Builder) WithName(name string) Builder {
	b.name = name
	return b
}

// WithStartTime sets the simulated time at which the simulation starts.
func (b Builder) WithStartTime(t sim.VTimeInSec) Builder {
	b.startTime = t
	return b
}

// WithEndTime sets the simulated time beyond which the clock never advances.
func (b Builder) WithEndTime(t sim.VTimeInSec) Builder {
	b.endTime = t
	return b
}

// WithStepSize sets the quantum that each step command advances.
func (b Builder) WithStepSize(q sim.VTimeInSec) Builder {
	b.stepSize = q
	return b
}

// WithSlice sets the simulated time advanced between two pacing checks when
// running continuously.
func (b Builder) WithSlice(s sim.VTimeInSec) Builder {
	b.slice = s
	return b
}

// WithWatchInterval sets how often the conditions are checked, in simulated
// seconds.
func (b Builder) WithWatchInterval(d sim.VTimeInSec) Builder {
	b.watchInterval = d
	return b
}

// WithRatio sets the pacing ratio in simulated seconds per real second. A
// ratio that is not positive runs the simulation as fast as possible.
func (b Builder) WithRatio(r float64) Builder {
	b.ratio = r
	return b
}

// WithRunMode sets the run state that the simulation starts in.
func (b Builder) WithRunMode(s control.RunState) Builder {
	b.runMode = s
	return b
}

// WithSeed sets the seed of the random number generator.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithTelemetryCapacity sets the number of telemetry events kept for
// observers.
func (b Builder) WithTelemetryCapacity(n int) Builder {
	b.ringCapacity = n
	return b
}

// WithLogger sets the logger that the simulation logs to.
func (b Builder) WithLogger(l *logrus.Logger) Builder {
	b.logger = l
	return b
}

// WithLogCapture turns the log entries at least as severe as level into
// telemetry events.
func (b Builder) WithLogCapture(level logrus.Level) Builder {
	b.logCapture = true
	b.logCaptureLevel = level
	return b
}

// WithSink adds an observer of the telemetry events.
func (b Builder) WithSink(s telemetry.Sink) Builder {
	b.sinks = append(b.sinks[:len(b.sinks):len(b.sinks)], s)
	return b
}

// WithWallClock replaces the real clock that pacing is measured against.
func (b Builder) WithWallClock(c WallClock) Builder {
	b.clock = c
	return b
}

// WithIDGenerator sets the generator that names events and processes.
func (b Builder) WithIDGenerator(g sim.IDGenerator) Builder {
	b.idGenerator = g
	return b
}

// WithRecorder records the activity timeline into <path>.sqlite3. An empty
// path picks a unique name.
func (b Builder) WithRecorder(path string) Builder {
	b.recorderOn = true
	b.recorderPath = path
	return b
}

func (b Builder) parametersMustBeValid() {
	if b.endTime <= b.startTime {
		panic(fmt.Sprintf("end time %.2f must be after start time %.2f",
			b.endTime, b.startTime))
	}

	if b.startTime < 0 {
		panic("start time cannot be negative")
	}

	if b.stepSize <= 0 {
		panic("step size must be positive")
	}

	if b.slice <= 0 {
		panic("slice must be positive")
	}

	if b.watchInterval <= 0 {
		panic("watch interval must be positive")
	}

	if b.runMode == control.Stopped {
		panic("simulation cannot start stopped")
	}

	if b.ringCapacity <= 0 {
		panic("telemetry capacity must be positive")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:             xid.New().String(),
		name:           b.name,
		startTime:      b.startTime,
		endTime:        b.endTime,
		quantum:        b.stepSize,
		slice:          b.slice,
		watchInterval:  b.watchInterval,
		entityIndex:    make(map[string]model.Entity),
		resourceIndex:  make(map[string]*registeredResource),
		actions:        make(map[string]*model.Action),
		conditionIndex: make(map[string]*Condition),
		conditionFired: make(map[string]bool),
		rng:            rand.New(rand.NewSource(b.seed)),
	}

	s.logger = b.logger
	if s.logger == nil {
		s.logger = logrus.New()
		s.logger.SetOutput(os.Stderr)
	}
	s.log = s.logger.WithField("sim_id", s.id)

	s.clock = b.clock
	if s.clock == nil {
		s.clock = realClock{}
	}

	s.engine = sim.NewSerialEngine().
		WithLogger(s.log.WithField("component", "engine"))
	if b.idGenerator != nil {
		s.engine.WithIDGenerator(b.idGenerator)
	}
	s.engine.AcceptHook(sim.HookFunc(s.observeEngine))

	s.machine = control.NewMachine(b.runMode, b.ratio)
	s.commands = control.NewCommandChannel()
	s.waitingForStep = b.runMode == control.Stepping

	s.bus = telemetry.NewBus().WithClock(s.clock.Now)
	s.ring = telemetry.NewRingBuffer(b.ringCapacity)
	s.bus.Subscribe(s.ring)
	for _, sink := range b.sinks {
		s.bus.Subscribe(sink)
	}

	if b.recorderOn {
		s.dataRecorder = datarecording.New(b.recorderPath)
		s.timeline = datarecording.NewTimelineRecorder(s.dataRecorder)
		s.bus.Subscribe(s.timeline)
		s.engine.RegisterSimulationEndHandler(recorderFlusher{s.dataRecorder})
	}

	if b.logCapture {
		s.logger.AddHook(telemetry.NewLogHook(s.bus, b.logCaptureLevel))
	}

	s.globals = model.NewGlobalVars(nil)
	s.globals.AcceptHook(sim.HookFunc(s.observeGlobals))

	return s
}

// recorderFlusher writes the buffered records when the simulation ends.
type recorderFlusher struct {
	recorder datarecording.DataRecorder
}

func (f recorderFlusher) Handle(sim.VTimeInSec) {
	f.recorder.Flush()
}
