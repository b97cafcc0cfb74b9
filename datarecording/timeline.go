package datarecording

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/eatisim/eatisim/telemetry"
)

// TimelineEntry is a row of the activity_timeline table.
type TimelineEntry struct {
	EventType     string
	ActivityID    string
	ActivityName  string
	ActivityLabel string
	EntityID      string
	EntityName    string
	ActionID      string
	SimTime       float64
	StartSimTime  float64
	Duration      float64
	Status        string
	Result        string
	WallTime      string
}

// SummaryEntry is a row of the activity_summary table.
type SummaryEntry struct {
	ActivityName    string
	ExecutionCount  int
	TotalDuration   float64
	AverageDuration float64
}

// Execution is one finished run of an activity, as listed in a summary.
type Execution struct {
	Entity   string  `json:"entity"`
	Duration float64 `json:"duration"`
	SimTime  float64 `json:"sim_time"`
}

// ActivitySummary aggregates the executions of one activity.
type ActivitySummary struct {
	ExecutionCount  int         `json:"execution_count"`
	TotalDuration   float64     `json:"total_duration"`
	AverageDuration float64     `json:"average_duration"`
	Executions      []Execution `json:"executions"`
}

// Summary aggregates the executions of all the activities.
type Summary struct {
	TotalActivities int                         `json:"total_activities"`
	TotalExecutions int                         `json:"total_executions"`
	ActivityDetails map[string]*ActivitySummary `json:"activity_details"`
}

const (
	timelineTable = "activity_timeline"
	summaryTable  = "activity_summary"

	maxListedExecutions = 10
)

// A TimelineRecorder is a telemetry sink that writes the start and the end
// of every activity into the activity_timeline table and keeps an execution
// summary per activity.
type TimelineRecorder struct {
	lock     sync.Mutex
	recorder DataRecorder
	stats    map[string]*ActivitySummary

	summaryTableCreated bool
}

// NewTimelineRecorder creates a TimelineRecorder. The recorder may be nil,
// in which case only the summary is kept.
func NewTimelineRecorder(recorder DataRecorder) *TimelineRecorder {
	r := &TimelineRecorder{
		recorder: recorder,
		stats:    make(map[string]*ActivitySummary),
	}

	if recorder != nil {
		recorder.CreateTable(timelineTable, TimelineEntry{})
	}

	return r
}

// Publish records activity events and ignores the others.
func (r *TimelineRecorder) Publish(evt telemetry.Event) {
	switch evt.Kind {
	case telemetry.KindActivityStarted:
		r.record("activity_start", evt)
	case telemetry.KindActivityCompleted:
		r.record("activity_end", evt)
	}
}

func (r *TimelineRecorder) record(eventType string, evt telemetry.Event) {
	entry := TimelineEntry{
		EventType:     eventType,
		ActivityID:    dataString(evt.Data, telemetry.DataActivity),
		ActivityName:  dataString(evt.Data, telemetry.DataActivityName),
		ActivityLabel: dataString(evt.Data, telemetry.DataActivityLabel),
		EntityID:      evt.EntityID,
		EntityName:    dataString(evt.Data, telemetry.DataEntityName),
		ActionID:      dataString(evt.Data, telemetry.DataAction),
		SimTime:       evt.SimTime,
		StartSimTime:  dataFloat(evt.Data, telemetry.DataStartTime),
		Duration:      dataFloat(evt.Data, telemetry.DataDuration),
		Status:        dataString(evt.Data, telemetry.DataStatus),
		Result:        dataString(evt.Data, telemetry.DataResult),
		WallTime:      evt.WallTime.Format("2006-01-02T15:04:05.000000"),
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if r.recorder != nil {
		r.recorder.InsertData(timelineTable, entry)
	}

	stats, ok := r.stats[entry.ActivityName]
	if !ok {
		stats = &ActivitySummary{Executions: []Execution{}}
		r.stats[entry.ActivityName] = stats
	}

	if eventType != "activity_end" {
		return
	}

	stats.ExecutionCount++
	stats.TotalDuration += entry.Duration
	stats.AverageDuration = stats.TotalDuration / float64(stats.ExecutionCount)

	if len(stats.Executions) < maxListedExecutions {
		stats.Executions = append(stats.Executions, Execution{
			Entity:   entry.EntityName,
			Duration: entry.Duration,
			SimTime:  entry.SimTime,
		})
	}
}

// Summary returns a copy of the execution summary.
func (r *TimelineRecorder) Summary() Summary {
	r.lock.Lock()
	defer r.lock.Unlock()

	s := Summary{
		TotalActivities: len(r.stats),
		ActivityDetails: make(map[string]*ActivitySummary, len(r.stats)),
	}

	for name, stats := range r.stats {
		c := *stats
		c.Executions = append([]Execution{}, stats.Executions...)
		s.ActivityDetails[name] = &c
		s.TotalExecutions += stats.ExecutionCount
	}

	return s
}

// WriteSummary writes the summary into a JSON file. If the recorder has a
// database, the summary is also written into the activity_summary table.
func (r *TimelineRecorder) WriteSummary(path string) error {
	s := r.Summary()

	if r.recorder != nil {
		if !r.summaryTableCreated {
			r.recorder.CreateTable(summaryTable, SummaryEntry{})
			r.summaryTableCreated = true
		}

		names := make([]string, 0, len(s.ActivityDetails))
		for name := range s.ActivityDetails {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			d := s.ActivityDetails[name]
			r.recorder.InsertData(summaryTable, SummaryEntry{
				ActivityName:    name,
				ExecutionCount:  d.ExecutionCount,
				TotalDuration:   d.TotalDuration,
				AverageDuration: d.AverageDuration,
			})
		}

		r.recorder.Flush()
	}

	if path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

func dataString(data map[string]interface{}, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}

	if s, ok := v.(string); ok {
		return s
	}

	return fmt.Sprint(v)
}

func dataFloat(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
