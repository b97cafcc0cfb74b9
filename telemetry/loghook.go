package telemetry

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// FieldAlert marks a log entry that should be emitted as an alert.
const FieldAlert = "alert"

// FieldSimTime carries the simulated time of a log entry.
const FieldSimTime = "sim_time"

// FieldEntity carries the ID of the entity that a log entry is about.
const FieldEntity = "entity"

// LogHook is a logrus hook that turns log entries into telemetry events.
type LogHook struct {
	bus      *Bus
	minLevel logrus.Level
}

// NewLogHook creates a LogHook that emits the entries that are at least as
// severe as minLevel.
func NewLogHook(bus *Bus, minLevel logrus.Level) *LogHook {
	return &LogHook{bus: bus, minLevel: minLevel}
}

// Levels returns the levels that the hook fires on.
func (h *LogHook) Levels() []logrus.Level {
	levels := make([]logrus.Level, 0)
	for _, l := range logrus.AllLevels {
		if l <= h.minLevel {
			levels = append(levels, l)
		}
	}

	return levels
}

// Fire emits the entry.
func (h *LogHook) Fire(entry *logrus.Entry) error {
	evt := Event{
		Kind:     KindLogMessage,
		Level:    entry.Level,
		WallTime: entry.Time,
		Data: map[string]interface{}{
			"message": entry.Message,
			"level":   entry.Level.String(),
		},
	}

	for k, v := range entry.Data {
		switch k {
		case FieldAlert:
			if alert, ok := v.(bool); ok && alert {
				evt.Kind = KindAlert
			}
		case FieldSimTime:
			if t, ok := v.(float64); ok {
				evt.SimTime = t
			}
		case FieldEntity:
			evt.EntityID = fmt.Sprint(v)
		case logrus.ErrorKey:
			evt.Data["error"] = fmt.Sprint(v)
		default:
			evt.Data[k] = v
		}
	}

	h.bus.Emit(evt)

	return nil
}
