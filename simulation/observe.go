package simulation

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/telemetry"
)

// StepPoint records a process reaching a suspension point while stepping.
// The entity fields are empty for processes that no entity owns.
type StepPoint struct {
	Time          float64      `json:"time"`
	EntityID      string       `json:"entity_id"`
	Entity        string       `json:"entity"`
	Process       string       `json:"process"`
	WaitKind      sim.WaitKind `json:"wait_kind"`
	Action        string       `json:"action"`
	Activity      string       `json:"activity"`
	ActivityName  string       `json:"activity_name"`
	ActivityLabel string       `json:"activity_label"`
}

func ownerEntity(p *sim.Process) (model.Entity, bool) {
	if p == nil {
		return nil, false
	}

	e, ok := p.Owner().(model.Entity)

	return e, ok
}

func (s *Simulation) observeEngine(ctx sim.HookCtx) {
	switch ctx.Pos {
	case sim.HookPosProcessSuspend:
		if s.recordingSteps {
			s.recordStepPoint(ctx.Item.(*sim.Process), ctx.Detail.(sim.SuspendDetail))
		}
	case sim.HookPosProcessFailed:
		p := ctx.Item.(*sim.Process)
		failure := ctx.Detail.(*sim.ProcessFailure)

		entityID := ""
		if e, ok := ownerEntity(p); ok {
			entityID = e.ID()
		}

		s.emit(telemetry.KindProcessFailed, logrus.ErrorLevel, entityID,
			map[string]interface{}{
				"process":           p.Name(),
				telemetry.DataError: failure.Cause.Error(),
			})
	}
}

func (s *Simulation) recordStepPoint(p *sim.Process, detail sim.SuspendDetail) {
	point := StepPoint{
		Time:     float64(s.engine.CurrentTime()),
		Process:  p.Name(),
		WaitKind: detail.Kind,
	}

	if e, ok := ownerEntity(p); ok {
		status := e.Status()
		point.EntityID = e.ID()
		point.Entity = e.Name()
		point.Action = status.CurrentAction
		point.Activity = status.CurrentActivity
		point.ActivityName = status.CurrentActivityName
		point.ActivityLabel = status.CurrentActivityLabel
	}

	s.stepPoints = append(s.stepPoints, point)
}

func (s *Simulation) observeEntity(ctx sim.HookCtx) {
	switch ctx.Pos {
	case model.HookPosEntityUpdate:
		base := ctx.Item.(*model.EntityBase)

		var status model.EntityStatus
		if e, found := s.entityIndex[base.ID()]; found {
			status = e.Status()
		} else {
			status = base.Status()
		}

		s.emit(telemetry.KindEntityUpdate, logrus.DebugLevel, base.ID(),
			map[string]interface{}{"entity": status})
	case model.HookPosActionStart:
		rec := ctx.Item.(model.ActionRecord)
		s.emit(telemetry.KindActionStarted, logrus.InfoLevel, rec.EntityID,
			actionData(rec))
	case model.HookPosActionEnd:
		rec := ctx.Item.(model.ActionRecord)

		level := logrus.InfoLevel
		switch rec.Status {
		case model.ActionFailed:
			level = logrus.ErrorLevel
		case model.ActionSkipped:
			level = logrus.WarnLevel
		}

		s.emit(telemetry.KindActionCompleted, level, rec.EntityID,
			actionData(rec))
	case model.HookPosActivityStart:
		rec := ctx.Item.(model.ActivityRecord)
		s.emit(telemetry.KindActivityStarted, logrus.InfoLevel, rec.EntityID,
			activityData(rec))
	case model.HookPosActivityEnd:
		rec := ctx.Item.(model.ActivityRecord)

		level := logrus.InfoLevel
		if rec.Status == model.ActivityFailed {
			level = logrus.ErrorLevel
		}

		s.emit(telemetry.KindActivityCompleted, level, rec.EntityID,
			activityData(rec))
	}
}

func actionData(rec model.ActionRecord) map[string]interface{} {
	data := map[string]interface{}{
		telemetry.DataAction:    rec.Action.ID,
		"action_name":           rec.Action.Name,
		"action_label":          rec.Action.Label,
		telemetry.DataStartTime: float64(rec.Start),
		telemetry.DataStatus:    string(rec.Status),
	}

	if rec.Status != model.ActionRunning {
		data[telemetry.DataEndTime] = float64(rec.End)
		data[telemetry.DataDuration] = float64(rec.End - rec.Start)
	}

	if rec.Err != nil {
		data[telemetry.DataError] = rec.Err.Error()
	}

	return data
}

func activityData(rec model.ActivityRecord) map[string]interface{} {
	data := map[string]interface{}{
		telemetry.DataActivity:      rec.Activity.ID(),
		telemetry.DataActivityName:  rec.Activity.Name,
		telemetry.DataActivityLabel: rec.Activity.Label,
		telemetry.DataEntityName:    rec.EntityName,
		telemetry.DataAction:        rec.ActionID,
		"process":                   rec.ProcessID,
		telemetry.DataStartTime:     float64(rec.Start),
		telemetry.DataStatus:        string(rec.Status),
	}

	if rec.Status != model.ActivityRunning {
		data[telemetry.DataEndTime] = float64(rec.End)
		data[telemetry.DataDuration] = float64(rec.Duration())
	}

	if rec.Result != nil {
		data[telemetry.DataResult] = fmt.Sprint(rec.Result)
	}

	if rec.Err != nil {
		data[telemetry.DataError] = rec.Err.Error()
	}

	return data
}

func (s *Simulation) observeResource(ctx sim.HookCtx) {
	if ctx.Pos != sim.HookPosResourceLevel {
		return
	}

	c := ctx.Item.(*sim.Container)
	change := ctx.Detail.(sim.LevelChange)

	label := ""
	if r, found := s.resourceIndex[c.Name()]; found {
		label = r.label
	}

	s.emit(telemetry.KindResourceUpdate, logrus.DebugLevel, "",
		map[string]interface{}{
			"resource":    c.Name(),
			"label":       label,
			"level":       change.New,
			"old_level":   change.Old,
			"capacity":    c.Capacity(),
			"utilization": c.Utilization(),
		})
}

func (s *Simulation) observeGlobals(ctx sim.HookCtx) {
	if ctx.Pos != model.HookPosGlobalVarChanged {
		return
	}

	change := ctx.Detail.(model.VarChange)
	s.emit(telemetry.KindGlobalVarUpdate, logrus.InfoLevel, "",
		map[string]interface{}{
			"name":  change.Name,
			"old":   change.Old,
			"value": change.New,
		})
}
