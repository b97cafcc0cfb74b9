// Package telemetry carries the lifecycle events of a simulation to
// observers.
package telemetry

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Kind is the type of a telemetry event.
type Kind string

// A list of all the event kinds that the simulation emits.
const (
	KindStatusUpdate        Kind = "status_update"
	KindLogMessage          Kind = "log_message"
	KindAlert               Kind = "alert"
	KindEntityUpdate        Kind = "entity_update"
	KindResourceUpdate      Kind = "resource_update"
	KindGlobalVarUpdate     Kind = "global_var_update"
	KindEventTriggered      Kind = "event_triggered"
	KindActionStarted       Kind = "action_started"
	KindActionCompleted     Kind = "action_completed"
	KindActivityStarted     Kind = "activity_started"
	KindActivityCompleted   Kind = "activity_completed"
	KindProcessFailed       Kind = "process_failed"
	KindStateChanged        Kind = "simulation_state_changed"
	KindStepCompleted       Kind = "step_completed"
	KindCommandRejected     Kind = "command_rejected"
	KindCommandIgnored      Kind = "command_ignored"
	KindSimulationCompleted Kind = "simulation_completed"
)

// An Event is one telemetry record. Seq is assigned by the Bus and increases
// in emission order.
type Event struct {
	Seq      uint64                 `json:"id"`
	Kind     Kind                   `json:"type"`
	Level    logrus.Level           `json:"level"`
	SimTime  float64                `json:"sim_time"`
	WallTime time.Time              `json:"timestamp"`
	EntityID string                 `json:"entity_id,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// A Sink receives telemetry events. Publish must not block the caller for
// long, since the kernel waits for it.
type Sink interface {
	Publish(evt Event)
}

// SinkFunc turns a function into a Sink.
type SinkFunc func(evt Event)

// Publish calls the function.
func (f SinkFunc) Publish(evt Event) {
	f(evt)
}

// Keys of Event.Data that more than one package reads.
const (
	DataActivity      = "activity"
	DataActivityName  = "activity_name"
	DataActivityLabel = "activity_label"
	DataEntityName    = "entity_name"
	DataAction        = "action"
	DataStartTime     = "start_time"
	DataEndTime       = "end_time"
	DataDuration      = "duration"
	DataStatus        = "status"
	DataError         = "error"
	DataResult        = "result"
)
