package monitoring

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/telemetry"
)

const (
	defaultMessageCount = 50
	maxHistoryCount     = 200
	maxPushInterval     = 5 * time.Second
	emptyPushesToSlow   = 5
)

type messageQuery struct {
	kind  telemetry.Kind
	count int
	since time.Time
}

// parseMessageQuery reads the options of a message query. The log message
// type selects all the messages, since logs are served separately.
func parseMessageQuery(kind, count, since string) (messageQuery, error) {
	q := messageQuery{
		kind:  telemetry.Kind(strings.ToLower(kind)),
		count: defaultMessageCount,
	}

	if q.kind == telemetry.KindLogMessage {
		q.kind = ""
	}

	if count != "" {
		n, err := strconv.Atoi(count)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("invalid count %q", count)
		}

		q.count = n
	}

	if since != "" {
		t, err := time.Parse(time.RFC3339Nano, since)
		if err != nil {
			return q, fmt.Errorf("invalid since %q: %w", since, err)
		}

		q.since = t
	}

	return q, nil
}

func (m *Monitor) queryMessages(q messageQuery) []telemetry.Event {
	ring := m.sim.Telemetry()

	var candidates []telemetry.Event
	if q.since.IsZero() {
		candidates = ring.Recent(q.kind, ring.Capacity())
	} else {
		candidates = ring.SinceWall(q.since)
	}

	result := make([]telemetry.Event, 0)
	for _, evt := range candidates {
		if evt.Kind == telemetry.KindLogMessage {
			continue
		}

		if q.kind != "" && evt.Kind != q.kind {
			continue
		}

		result = append(result, evt)
	}

	if q.since.IsZero() && len(result) > q.count {
		result = result[len(result)-q.count:]
	}

	return result
}

func isLog(evt telemetry.Event) bool {
	return evt.Kind == telemetry.KindLogMessage || evt.Kind == telemetry.KindAlert
}

// collectLogs returns up to max log events after the given sequence number
// and the sequence number to continue from.
func (m *Monitor) collectLogs(
	after uint64,
	level logrus.Level,
	max int,
) ([]telemetry.Event, uint64) {
	logs := make([]telemetry.Event, 0)
	last := after

	for _, evt := range m.sim.Telemetry().Since(after, level, 0) {
		if !isLog(evt) {
			continue
		}

		logs = append(logs, evt)
		last = evt.Seq

		if max > 0 && len(logs) >= max {
			break
		}
	}

	return logs, last
}

type logBatch struct {
	Logs         []telemetry.Event `json:"logs"`
	Count        int               `json:"count"`
	LastID       uint64            `json:"last_id"`
	PushInterval float64           `json:"push_interval,omitempty"`
	HasMore      bool              `json:"has_more"`
	LevelFilter  string            `json:"level_filter"`
}

func (m *Monitor) logBatch(after uint64, level logrus.Level, max int) logBatch {
	logs, last := m.collectLogs(after, level, max)

	return logBatch{
		Logs:        logs,
		Count:       len(logs),
		LastID:      last,
		HasMore:     max > 0 && len(logs) >= max,
		LevelFilter: level.String(),
	}
}

// parseLevel reads a log level filter. Besides the logrus names, "critical"
// is accepted as the fatal level.
func parseLevel(name string, def logrus.Level) (logrus.Level, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return def, nil
	}

	if strings.EqualFold(name, "critical") {
		return logrus.FatalLevel, nil
	}

	return logrus.ParseLevel(name)
}

func parseUint(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}

	return strconv.ParseUint(s, 10, 64)
}

func clampInterval(d time.Duration) time.Duration {
	switch {
	case d < 100*time.Millisecond:
		return 100 * time.Millisecond
	case d > time.Minute:
		return time.Minute
	default:
		return d
	}
}

func clampMaxLogs(n int) int {
	switch {
	case n < 10:
		return 10
	case n > 100:
		return 100
	default:
		return n
	}
}

// slowDown returns the push interval to use after a push that found no new
// logs. After a few empty pushes in a row, the interval grows up to a cap.
func slowDown(interval time.Duration, emptyPushes int) time.Duration {
	if emptyPushes < emptyPushesToSlow || interval >= maxPushInterval {
		return interval
	}

	next := time.Duration(float64(interval) * 1.5)
	if next > maxPushInterval {
		next = maxPushInterval
	}

	return next
}
