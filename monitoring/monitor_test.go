package monitoring

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/control"
	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/simulation"
	"github.com/eatisim/eatisim/telemetry"
)

var _ = Describe("Monitor", func() {
	var (
		s      *simulation.Simulation
		m      *Monitor
		server *httptest.Server
	)

	BeforeEach(func() {
		s = simulation.MakeBuilder().
			WithName("probe run").
			WithLogger(quietLogger()).
			Build()
		s.RegisterEntity(&probe{
			EntityBase: model.NewEntityBase("probe", "Probe", "probe"),
			Rounds:     7,
		})
		s.RegisterResource(sim.NewContainer("ammo", 10, 4), "Ammunition")

		m = NewMonitor(s)
		server = httptest.NewServer(m.Router())
	})

	AfterEach(func() {
		server.Close()
		s.Terminate()
	})

	get := func(path string) *http.Response {
		rsp, err := http.Get(server.URL + path)
		Expect(err).NotTo(HaveOccurred())

		return rsp
	}

	Context("commands", func() {
		It("should queue the command of a route", func() {
			rsp := get("/api/pause")
			Expect(rsp.StatusCode).To(Equal(http.StatusAccepted))

			var ack commandRsp
			decode(rsp, &ack)
			Expect(ack.Type).To(Equal("ack"))
			Expect(ack.Command).To(Equal(control.Pause()))

			Expect(s.Commands().Drain()).To(Equal([]control.Command{control.Pause()}))
		})

		It("should treat continue as resume", func() {
			get("/api/continue").Body.Close()

			Expect(s.Commands().Drain()).To(Equal([]control.Command{control.Resume()}))
		})

		It("should change the speed", func() {
			get("/api/speed/2.5").Body.Close()

			Expect(s.Commands().Drain()).
				To(Equal([]control.Command{control.ChangeSpeed(2.5)}))
		})

		It("should reject a bad speed", func() {
			rsp := get("/api/speed/fast")
			defer rsp.Body.Close()

			Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(s.Commands().Len()).To(BeZero())
		})

		It("should reject a speed that is not finite", func() {
			for _, ratio := range []string{"NaN", "Inf", "-Inf"} {
				rsp := get("/api/speed/" + ratio)
				rsp.Body.Close()

				Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))
			}

			Expect(s.Commands().Len()).To(BeZero())

			rsp := get("/api/status")
			defer rsp.Body.Close()
			Expect(rsp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should take a command in its JSON form", func() {
			rsp, err := http.Post(server.URL+"/api/command", "application/json",
				strings.NewReader(`{"type": "change_speed"}`))
			Expect(err).NotTo(HaveOccurred())
			rsp.Body.Close()

			Expect(s.Commands().Drain()).To(Equal([]control.Command{
				control.ChangeSpeed(control.DefaultSpeedRatio),
			}))
		})

		It("should reject an empty command", func() {
			rsp, err := http.Post(server.URL+"/api/command", "application/json",
				strings.NewReader(""))
			Expect(err).NotTo(HaveOccurred())
			defer rsp.Body.Close()

			Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Context("queries", func() {
		It("should report the status", func() {
			var status simulation.Status
			decode(get("/api/status"), &status)

			Expect(status.RunState).To(Equal(control.Stepping))
			Expect(status.TotalTime).To(Equal(1800.0))
			Expect(status.Entities).To(HaveKey("probe"))
			Expect(status.Resources["ammo"].Level).To(Equal(4))
		})

		It("should report the current time", func() {
			var now struct{ Now float64 }
			decode(get("/api/now"), &now)

			Expect(now.Now).To(Equal(0.0))
		})

		It("should report the resources", func() {
			var resources map[string]simulation.ResourceStatus
			decode(get("/api/resources"), &resources)

			Expect(resources["ammo"].Label).To(Equal("Ammunition"))
			Expect(resources["ammo"].Utilization).To(Equal(60.0))
		})

		It("should report the global variables", func() {
			s.Globals().Set("EnemyDetected", true)

			var globals map[string]interface{}
			decode(get("/api/globals"), &globals)

			Expect(globals).To(HaveKeyWithValue("EnemyDetected", true))
		})

		It("should report the step", func() {
			var report simulation.StepReport
			decode(get("/api/step_info"), &report)

			Expect(report.NextAvailable).To(BeTrue())
			Expect(report.RunState).To(Equal(control.Stepping))
		})

		It("should dump an entity", func() {
			rsp := get("/api/entity/probe")
			defer rsp.Body.Close()

			body, err := io.ReadAll(rsp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.StatusCode).To(Equal(http.StatusOK))
			Expect(body).NotTo(BeEmpty())
		})

		It("should not find an unknown entity", func() {
			rsp := get("/api/entity/ghost")
			defer rsp.Body.Close()

			Expect(rsp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should serve the page", func() {
			rsp := get("/")
			defer rsp.Body.Close()

			Expect(rsp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Context("telemetry", func() {
		It("should return the logs after an id", func() {
			emitLog(s, logrus.InfoLevel, "one")
			emitLog(s, logrus.DebugLevel, "noise")
			s.Bus().Emit(telemetry.Event{Kind: telemetry.KindAlert,
				Level: logrus.WarnLevel})
			emitLog(s, logrus.ErrorLevel, "two")

			var batch logBatch
			decode(get("/api/logs?after=1&level=info"), &batch)

			Expect(batch.Count).To(Equal(2))
			Expect(batch.Logs[0].Kind).To(Equal(telemetry.KindAlert))
			Expect(batch.Logs[1].Data["message"]).To(Equal("two"))
			Expect(batch.LastID).To(Equal(uint64(4)))
			Expect(batch.HasMore).To(BeFalse())
		})

		It("should limit the logs", func() {
			for i := 0; i < 5; i++ {
				emitLog(s, logrus.InfoLevel, "line")
			}

			var batch logBatch
			decode(get("/api/logs?max=3"), &batch)

			Expect(batch.Count).To(Equal(3))
			Expect(batch.LastID).To(Equal(uint64(3)))
			Expect(batch.HasMore).To(BeTrue())
		})

		It("should reject a bad level", func() {
			rsp := get("/api/logs?level=loud")
			defer rsp.Body.Close()

			Expect(rsp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return the messages without the logs", func() {
			emitLog(s, logrus.InfoLevel, "one")
			s.Bus().Emit(telemetry.Event{Kind: telemetry.KindEventTriggered})
			s.Bus().Emit(telemetry.Event{Kind: telemetry.KindAlert})
			s.Bus().Emit(telemetry.Event{Kind: telemetry.KindEventTriggered})

			var all []telemetry.Event
			decode(get("/api/messages"), &all)
			Expect(all).To(HaveLen(3))

			var triggered []telemetry.Event
			decode(get("/api/messages?type=EVENT_TRIGGERED&count=1"), &triggered)
			Expect(triggered).To(HaveLen(1))
			Expect(triggered[0].Seq).To(Equal(uint64(4)))
		})
	})

	Context("progress bars", func() {
		It("should list the bars until they complete", func() {
			bar := m.CreateProgressBar("Simulation", 100)
			bar.IncrementInProgress(10)
			bar.MoveInProgressToFinished(4)

			var bars []progressBarView
			decode(get("/api/progress"), &bars)
			Expect(bars).To(HaveLen(1))
			Expect(bars[0].Finished).To(Equal(uint64(4)))
			Expect(bars[0].InProgress).To(Equal(uint64(6)))

			m.CompleteProgressBar(bar)

			decode(get("/api/progress"), &bars)
			Expect(bars).To(BeEmpty())
		})
	})

	Context("websocket", func() {
		var conn *websocket.Conn

		BeforeEach(func() {
			url := "ws" + strings.TrimPrefix(server.URL, "http") +
				"/ws?log_interval=0.1&log_level=warning"

			var err error
			conn, _, err = websocket.DefaultDialer.Dial(url, nil)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			conn.Close()
		})

		readUntil := func(kind string) map[string]interface{} {
			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).
				To(Succeed())

			for {
				_, payload, err := conn.ReadMessage()
				Expect(err).NotTo(HaveOccurred())

				msg := map[string]interface{}{}
				Expect(json.Unmarshal(payload, &msg)).To(Succeed())

				if msg["type"] == kind {
					return msg
				}
			}
		}

		It("should welcome the client", func() {
			msg := readUntil("welcome")
			data := msg["data"].(map[string]interface{})

			Expect(data["simulation_name"]).To(Equal("probe run"))
			Expect(data["current_state"]).To(Equal("stepping"))
			Expect(data["log_push_interval"]).To(Equal(0.1))
			Expect(data["log_level_filter"]).To(Equal("warning"))
		})

		It("should acknowledge commands", func() {
			Expect(conn.WriteJSON(map[string]interface{}{
				"type":    "command",
				"command": map[string]interface{}{"type": "step"},
			})).To(Succeed())

			msg := readUntil("ack")
			Expect(msg["command"]).To(HaveKeyWithValue("type", "step"))
			Expect(s.Commands().Drain()).To(Equal([]control.Command{control.Step()}))
		})

		It("should answer queries", func() {
			Expect(conn.WriteJSON(map[string]string{"type": "get_status"})).
				To(Succeed())
			status := readUntil("status_update")
			Expect(status["data"]).To(HaveKeyWithValue("run_state", "stepping"))

			Expect(conn.WriteJSON(map[string]string{"type": "get_resources"})).
				To(Succeed())
			resources := readUntil("resource_update")
			Expect(resources["data"]).To(HaveKey("ammo"))

			Expect(conn.WriteJSON(map[string]string{"type": "get_step_info"})).
				To(Succeed())
			step := readUntil("step_completed")
			Expect(step["data"]).To(HaveKeyWithValue("next_available", true))
		})

		It("should clamp the log config", func() {
			Expect(conn.WriteJSON(map[string]interface{}{
				"type": "set_log_config",
				"config": map[string]interface{}{
					"interval": 100,
					"level":    "ERROR",
					"max_logs": 5,
				},
			})).To(Succeed())

			msg := readUntil("log_config_updated")
			Expect(msg["config"]).To(Equal(map[string]interface{}{
				"interval": 60.0,
				"level":    "error",
				"max_logs": 10.0,
			}))
		})

		It("should push new logs", func() {
			readUntil("welcome")

			emitLog(s, logrus.InfoLevel, "quiet")
			emitLog(s, logrus.WarnLevel, "loud")

			msg := readUntil("log_batch")
			data := msg["data"].(map[string]interface{})
			Expect(data["count"]).To(Equal(1.0))
			Expect(data["last_id"]).To(Equal(2.0))
		})

		It("should return the log history", func() {
			emitLog(s, logrus.InfoLevel, "one")
			emitLog(s, logrus.InfoLevel, "two")

			Expect(conn.WriteJSON(map[string]interface{}{
				"type":    "get_log_history",
				"options": map[string]interface{}{"count": 1},
			})).To(Succeed())

			msg := readUntil("log_history")
			data := msg["data"].(map[string]interface{})
			Expect(data["count"]).To(Equal(1.0))
			Expect(data["last_id"]).To(Equal(1.0))
		})

		It("should report unknown requests", func() {
			Expect(conn.WriteJSON(map[string]string{"type": "dance"})).
				To(Succeed())

			msg := readUntil("error")
			Expect(msg["error"]).To(ContainSubstring("dance"))
		})
	})
})

var _ = Describe("Log push", func() {
	It("should slow down after empty pushes", func() {
		Expect(slowDown(time.Second, 4)).To(Equal(time.Second))
		Expect(slowDown(time.Second, 5)).To(Equal(1500 * time.Millisecond))
		Expect(slowDown(4*time.Second, 6)).To(Equal(5 * time.Second))
		Expect(slowDown(5*time.Second, 9)).To(Equal(5 * time.Second))
	})

	It("should clamp the settings", func() {
		Expect(clampInterval(time.Millisecond)).To(Equal(100 * time.Millisecond))
		Expect(clampInterval(time.Hour)).To(Equal(time.Minute))
		Expect(clampMaxLogs(1)).To(Equal(10))
		Expect(clampMaxLogs(1000)).To(Equal(100))
		Expect(clampMaxLogs(42)).To(Equal(42))
	})

	It("should parse levels", func() {
		level, err := parseLevel("", logrus.InfoLevel)
		Expect(err).NotTo(HaveOccurred())
		Expect(level).To(Equal(logrus.InfoLevel))

		level, err = parseLevel("WARNING", logrus.InfoLevel)
		Expect(err).NotTo(HaveOccurred())
		Expect(level).To(Equal(logrus.WarnLevel))

		level, err = parseLevel("CRITICAL", logrus.InfoLevel)
		Expect(err).NotTo(HaveOccurred())
		Expect(level).To(Equal(logrus.FatalLevel))

		_, err = parseLevel("loud", logrus.InfoLevel)
		Expect(err).To(HaveOccurred())
	})
})
