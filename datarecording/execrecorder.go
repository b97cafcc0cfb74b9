package datarecording

import (
	"os"
	"strings"
	"time"
)

// ExecInfo is one property of a program execution.
type ExecInfo struct {
	Property string
	Value    string
}

const execInfoTable = "exec_info"

const execTimeFormat = "2006-01-02 15:04:05.000000000"

// Records program execution
type execRecorder struct {
	recorder DataRecorder
	entries  []ExecInfo
}

func newExecRecorder(recorder DataRecorder) *execRecorder {
	e := &execRecorder{recorder: recorder}
	recorder.CreateTable(execInfoTable, ExecInfo{})

	return e
}

// Start logs the current execution.
func (e *execRecorder) Start() {
	e.entries = append(e.entries,
		ExecInfo{"Start Time", time.Now().Format(execTimeFormat)})

	e.entries = append(e.entries,
		ExecInfo{"Command", strings.Join(os.Args, " ")})

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "unknown"
	}
	e.entries = append(e.entries, ExecInfo{"Working Directory", cwd})
}

// End writes the entries along with the program exit time.
func (e *execRecorder) End() {
	for _, entry := range e.entries {
		e.recorder.InsertData(execInfoTable, entry)
	}

	e.recorder.InsertData(execInfoTable,
		ExecInfo{"End Time", time.Now().Format(execTimeFormat)})

	e.entries = nil
}
