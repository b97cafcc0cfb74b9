package monitoring

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/control"
	"github.com/eatisim/eatisim/telemetry"
)

type clientMessage struct {
	Type    string          `json:"type"`
	Command json.RawMessage `json:"command"`
	Config  *logConfig      `json:"config"`
	Options clientOptions   `json:"options"`
}

type logConfig struct {
	Interval *float64 `json:"interval"`
	Level    *string  `json:"level"`
	MaxLogs  *int     `json:"max_logs"`
}

type clientOptions struct {
	Count       int    `json:"count"`
	Level       string `json:"level"`
	MessageType string `json:"message_type"`
	Since       string `json:"since"`
}

type serverMessage struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Command interface{} `json:"command,omitempty"`
	Config  interface{} `json:"config,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type welcomeData struct {
	SimulationName string           `json:"simulation_name"`
	TotalTime      float64          `json:"total_time"`
	CurrentState   control.RunState `json:"current_state"`
	LogInterval    float64          `json:"log_push_interval"`
	LevelFilter    string           `json:"log_level_filter"`
	Message        string           `json:"message"`
}

type sessionLogConfig struct {
	Interval float64 `json:"interval"`
	Level    string  `json:"level"`
	MaxLogs  int     `json:"max_logs"`
}

// A session is one websocket client. The client receives the new log
// messages periodically and can query the simulation or send commands.
type session struct {
	m    *Monitor
	conn *websocket.Conn
	log  *logrus.Entry

	writeLock sync.Mutex

	lock      sync.Mutex
	interval  time.Duration
	level     logrus.Level
	maxLogs   int
	lastLogID uint64

	restart   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (m *Monitor) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	interval := m.logInterval
	if v := r.URL.Query().Get("log_interval"); v != "" {
		if seconds, err := strconv.ParseFloat(v, 64); err == nil {
			interval = clampInterval(secondsToDuration(seconds))
		}
	}

	level, err := parseLevel(r.URL.Query().Get("log_level"), m.logLevel)
	if err != nil {
		level = m.logLevel
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	s := &session{
		m:        m,
		conn:     conn,
		log:      m.log.WithField("client", conn.RemoteAddr().String()),
		interval: interval,
		level:    level,
		maxLogs:  m.maxLogs,
		restart:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	m.addSession(s)
	defer m.removeSession(s)

	s.serve()
}

func (m *Monitor) addSession(s *session) {
	m.sessionsLock.Lock()
	m.sessions[s] = struct{}{}
	count := len(m.sessions)
	m.sessionsLock.Unlock()

	s.log.WithField("clients", count).Info("client connected")
}

func (m *Monitor) removeSession(s *session) {
	s.close()

	m.sessionsLock.Lock()
	delete(m.sessions, s)
	count := len(m.sessions)
	m.sessionsLock.Unlock()

	s.log.WithField("clients", count).Info("client disconnected")
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (s *session) serve() {
	status := s.m.sim.Snapshot()

	s.lock.Lock()
	welcome := welcomeData{
		SimulationName: s.m.sim.Name(),
		TotalTime:      status.TotalTime,
		CurrentState:   status.RunState,
		LogInterval:    s.interval.Seconds(),
		LevelFilter:    s.level.String(),
	}
	s.lock.Unlock()

	welcome.Message = fmt.Sprintf(
		"connected, logs of level %s and above are pushed every %.1fs",
		welcome.LevelFilter, welcome.LogInterval)

	if !s.write(serverMessage{Type: "welcome", Data: welcome}) {
		return
	}

	go s.pushLogs()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.WithError(err).Warn("discarding malformed message")
			continue
		}

		if !s.handle(msg) {
			return
		}
	}
}

func (s *session) handle(msg clientMessage) bool {
	sim := s.m.sim

	switch msg.Type {
	case "command":
		cmd, err := control.ParseCommand(msg.Command)
		if err != nil {
			return s.write(serverMessage{Type: "error", Error: err.Error()})
		}

		sim.Commands().Send(cmd)

		return s.write(serverMessage{Type: "ack", Command: cmd})
	case "set_log_config":
		return s.write(serverMessage{
			Type:   "log_config_updated",
			Config: s.applyLogConfig(msg.Config),
		})
	case "get_log_history":
		return s.write(serverMessage{
			Type: "log_history",
			Data: s.history(msg.Options),
		})
	case "get_status":
		return s.write(serverMessage{
			Type: string(telemetry.KindStatusUpdate),
			Data: sim.Snapshot(),
		})
	case "get_resources":
		return s.write(serverMessage{
			Type: string(telemetry.KindResourceUpdate),
			Data: sim.Resources(),
		})
	case "get_global_vars":
		return s.write(serverMessage{
			Type: string(telemetry.KindGlobalVarUpdate),
			Data: sim.GlobalVars(),
		})
	case "get_step_info":
		return s.write(serverMessage{
			Type: string(telemetry.KindStepCompleted),
			Data: sim.StepReport(),
		})
	case "get_messages":
		q, err := parseMessageQuery(
			msg.Options.MessageType,
			countOption(msg.Options.Count),
			msg.Options.Since,
		)
		if err != nil {
			return s.write(serverMessage{Type: "error", Error: err.Error()})
		}

		return s.write(serverMessage{
			Type: "messages",
			Data: s.m.queryMessages(q),
		})
	default:
		return s.write(serverMessage{
			Type:  "error",
			Error: fmt.Sprintf("unknown message type %q", msg.Type),
		})
	}
}

func countOption(n int) string {
	if n <= 0 {
		return ""
	}

	return strconv.Itoa(n)
}

func (s *session) applyLogConfig(c *logConfig) sessionLogConfig {
	s.lock.Lock()

	if c != nil {
		if c.Interval != nil {
			s.interval = clampInterval(secondsToDuration(*c.Interval))
		}

		if c.Level != nil {
			if level, err := parseLevel(*c.Level, s.level); err == nil {
				s.level = level
			}
		}

		if c.MaxLogs != nil {
			s.maxLogs = clampMaxLogs(*c.MaxLogs)
		}
	}

	applied := sessionLogConfig{
		Interval: s.interval.Seconds(),
		Level:    s.level.String(),
		MaxLogs:  s.maxLogs,
	}

	s.lock.Unlock()

	select {
	case s.restart <- struct{}{}:
	default:
	}

	return applied
}

func (s *session) history(opt clientOptions) logBatch {
	count := opt.Count
	if count <= 0 {
		count = defaultMessageCount
	}

	if count > maxHistoryCount {
		count = maxHistoryCount
	}

	level, err := parseLevel(opt.Level, logrus.InfoLevel)
	if err != nil {
		level = logrus.InfoLevel
	}

	batch := s.m.logBatch(0, level, count)

	if batch.Count > 0 {
		s.lock.Lock()
		s.lastLogID = batch.LastID
		s.lock.Unlock()
	}

	return batch
}

// pushLogs sends the new log messages to the client until the session
// closes.
func (s *session) pushLogs() {
	emptyPushes := 0

	s.lock.Lock()
	timer := time.NewTimer(s.interval)
	s.lock.Unlock()

	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.restart:
			emptyPushes = 0
		case <-timer.C:
			if !s.pushOnce(&emptyPushes) {
				return
			}
		}

		s.lock.Lock()
		interval := s.interval
		s.lock.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}

func (s *session) pushOnce(emptyPushes *int) bool {
	s.lock.Lock()
	after, level, max := s.lastLogID, s.level, s.maxLogs
	s.lock.Unlock()

	batch := s.m.logBatch(after, level, max)

	if batch.Count == 0 {
		*emptyPushes++

		s.lock.Lock()
		s.interval = slowDown(s.interval, *emptyPushes)
		s.lock.Unlock()

		return true
	}

	*emptyPushes = 0

	s.lock.Lock()
	s.lastLogID = batch.LastID
	batch.PushInterval = s.interval.Seconds()
	s.lock.Unlock()

	return s.write(serverMessage{Type: "log_batch", Data: batch})
}

func (s *session) write(msg serverMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal message")
		return true
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.close()
		return false
	}

	return true
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
