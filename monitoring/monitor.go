// Package monitoring turns a simulation into a server that external tools can
// use to watch and control the simulation.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/browser"
	"github.com/rs/xid"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"

	"github.com/eatisim/eatisim/control"
	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/monitoring/web"
	"github.com/eatisim/eatisim/simulation"
)

// Defaults of the log push of websocket sessions.
const (
	DefaultLogInterval = time.Second
	DefaultMaxLogs     = 30
)

// Monitor can turn a simulation into a server and allows external monitoring
// and controlling of the simulation.
type Monitor struct {
	sim        *simulation.Simulation
	portNumber int
	log        *logrus.Entry
	upgrader   websocket.Upgrader

	logInterval time.Duration
	logLevel    logrus.Level
	maxLogs     int

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	sessionsLock sync.Mutex
	sessions     map[*session]struct{}

	server   *http.Server
	listener net.Listener
}

// NewMonitor creates a new Monitor
func NewMonitor(s *simulation.Simulation) *Monitor {
	return &Monitor{
		sim:         s,
		log:         s.Logger().WithField("component", "monitor"),
		logInterval: DefaultLogInterval,
		logLevel:    logrus.InfoLevel,
		maxLogs:     DefaultMaxLogs,
		sessions:    make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.log.Warnf(
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogPush sets how new websocket sessions push logs, until the client
// changes it.
func (m *Monitor) WithLogPush(
	interval time.Duration,
	level logrus.Level,
	maxLogs int,
) *Monitor {
	m.logInterval = clampInterval(interval)
	m.logLevel = level
	m.maxLogs = clampMaxLogs(maxLogs)

	return m
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        xid.New().String(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the handler that serves the monitor.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	for name, cmd := range map[string]func() control.Command{
		"pause":    control.Pause,
		"resume":   control.Resume,
		"continue": control.Resume,
		"step":     control.Step,
		"run":      control.Run,
		"stop":     control.Stop,
	} {
		r.HandleFunc("/api/"+name, m.commandHandler(cmd))
	}

	r.HandleFunc("/api/speed/{ratio}", m.changeSpeed)
	r.HandleFunc("/api/command", m.command).Methods(http.MethodPost)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/status", m.status)
	r.HandleFunc("/api/resources", m.resources)
	r.HandleFunc("/api/globals", m.globals)
	r.HandleFunc("/api/step_info", m.stepInfo)
	r.HandleFunc("/api/messages", m.messages)
	r.HandleFunc("/api/logs", m.logs)
	r.HandleFunc("/api/entity/{id}", m.entityDetails)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/process_usage", m.processUsage)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/ws", m.serveWebsocket)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns the URL it
// listens on.
func (m *Monitor) StartServer() string {
	actualPort := ":" + strconv.Itoa(m.portNumber)

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	m.listener = listener
	m.server = &http.Server{
		Handler:           m.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	fmt.Fprintf(os.Stderr, "Monitoring simulation with %s\n", url)

	go func() {
		err := m.server.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			dieOnErr(err)
		}
	}()

	return url
}

// OpenBrowser opens the monitor page in the default browser.
func (m *Monitor) OpenBrowser(url string) {
	if err := browser.OpenURL(url); err != nil {
		m.log.WithError(err).Warn("cannot open the browser")
	}
}

// Shutdown closes the websocket sessions and stops the server.
func (m *Monitor) Shutdown(ctx context.Context) error {
	m.sessionsLock.Lock()
	for s := range m.sessions {
		s.close()
	}
	m.sessionsLock.Unlock()

	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

type commandRsp struct {
	Type    string          `json:"type"`
	Command control.Command `json:"command"`
}

func (m *Monitor) send(w http.ResponseWriter, cmd control.Command) {
	m.sim.Commands().Send(cmd)
	writeJSON(w, http.StatusAccepted, commandRsp{Type: "ack", Command: cmd})
}

func (m *Monitor) commandHandler(
	create func() control.Command,
) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		m.send(w, create())
	}
}

func (m *Monitor) changeSpeed(w http.ResponseWriter, r *http.Request) {
	ratio, err := strconv.ParseFloat(mux.Vars(r)["ratio"], 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		writeError(w, http.StatusBadRequest,
			fmt.Errorf("speed ratio %v is not a finite number", ratio))
		return
	}

	m.send(w, control.ChangeSpeed(ratio))
}

func (m *Monitor) command(w http.ResponseWriter, r *http.Request) {
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(r.Body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cmd, err := control.ParseCommand(buf.Bytes())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	m.send(w, cmd)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	fmt.Fprintf(w, "{\"now\":%.10f}", float64(m.sim.Now()))
}

func (m *Monitor) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.sim.Snapshot())
}

func (m *Monitor) resources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.sim.Resources())
}

func (m *Monitor) globals(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.sim.GlobalVars())
}

func (m *Monitor) stepInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.sim.StepReport())
}

func (m *Monitor) messages(w http.ResponseWriter, r *http.Request) {
	q, err := parseMessageQuery(
		r.URL.Query().Get("type"),
		r.URL.Query().Get("count"),
		r.URL.Query().Get("since"),
	)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, m.queryMessages(q))
}

func (m *Monitor) logs(w http.ResponseWriter, r *http.Request) {
	after, err := parseUint(r.URL.Query().Get("after"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	level, err := parseLevel(r.URL.Query().Get("level"), logrus.InfoLevel)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	max, err := parseUint(r.URL.Query().Get("max"), uint64(m.maxLogs))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	writeJSON(w, http.StatusOK, m.logBatch(after, level, int(max)))
}

func (m *Monitor) entityDetails(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var err error

	found := m.sim.InspectEntity(id, func(e model.Entity) {
		serializer := goseth.NewSerializer()
		serializer.SetRoot(e)
		serializer.SetMaxDepth(1)
		err = serializer.Serialize(w)
	})

	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("entity %s not found", id))
		return
	}

	if err != nil {
		m.log.WithError(err).Error("cannot serialize entity")
	}
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarView, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.view())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, http.StatusOK, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) processUsage(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, prof)
}

type errorRsp struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, errorRsp{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "{\"error\":%q}", err.Error())

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func dieOnErr(err error) {
	if err != nil {
		logrus.Panic(err)
	}
}
