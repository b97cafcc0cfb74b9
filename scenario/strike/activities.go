package strike

import (
	"fmt"

	"github.com/eatisim/eatisim/dist"
	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/telemetry"
)

// Keys of the values that the activities of one action run share.
const (
	varEnemyInfo   = "enemy_info"
	varThreatLevel = "threat_level"
	varFireOrder   = "fire_order"
	varDamageLevel = "damage_level"
)

func waitFor(ctx *model.ActivityContext, d dist.Sampler) error {
	return ctx.Wait(d.Sample(ctx.World().Rand()))
}

func seconds(s float64) dist.Sampler {
	return dist.Constant{Value: sim.VTimeInSec(s)}
}

func runVar(ctx *model.ActivityContext, key string) map[string]interface{} {
	if ctx.Run() == nil {
		return nil
	}

	v, _ := ctx.Run().Get(key)
	m, _ := v.(map[string]interface{})

	return m
}

func alert(ctx *model.ActivityContext, format string, args ...interface{}) {
	ctx.Log().WithField(telemetry.FieldAlert, true).Warnf(format, args...)
}

func recon(ctx *model.ActivityContext) (*ReconSquad, error) {
	r, ok := ctx.Entity().(*ReconSquad)
	if !ok {
		return nil, fmt.Errorf("%s is not a recon squad", ctx.Entity().ID())
	}

	return r, nil
}

func artillery(ctx *model.ActivityContext) (*ArtilleryBattalion, error) {
	a, ok := ctx.Entity().(*ArtilleryBattalion)
	if !ok {
		return nil, fmt.Errorf("%s is not an artillery battalion", ctx.Entity().ID())
	}

	return a, nil
}

var movePatrol = &model.Activity{
	Name:  "move_patrol",
	Label: "Patrol movement",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		r, err := recon(ctx)
		if err != nil {
			return nil, err
		}

		pos := r.patrolPoint(ctx.Now())
		r.SetPosition(pos)
		ctx.Log().Debugf("%s moves to (%.1f, %.1f)", r.Name(), pos.X, pos.Y)

		if err := waitFor(ctx, seconds(30)); err != nil {
			return nil, err
		}

		return map[string]interface{}{"x": pos.X, "y": pos.Y}, nil
	},
}

var scanArea = &model.Activity{
	Name:  "scan_area",
	Label: "Area scan",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		r, err := recon(ctx)
		if err != nil {
			return nil, err
		}

		detected := ctx.World().Rand().Float64() < detectionChance
		if detected {
			r.EnemyContact = true
			r.SetState(PatrolContact)
			ctx.Globals().Set(VarEnemyDetected, true)
			alert(ctx, "%s detected enemy activity", r.Name())
		}

		if err := waitFor(ctx, seconds(10)); err != nil {
			return nil, err
		}

		return map[string]interface{}{"enemy_detected": detected}, nil
	},
}

var gatherIntel = &model.Activity{
	Name:  "gather_intel",
	Label: "Intelligence gathering",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		if err := waitFor(ctx, dist.Uniform{Min: 20, Max: 40}); err != nil {
			return nil, err
		}

		info := map[string]interface{}{
			"position": map[string]interface{}{"x": 800.0, "y": 600.0},
			"strength": "company",
			"type":     "mechanized",
		}
		ctx.Run().Set(varEnemyInfo, info)

		return info, nil
	},
}

var sendEnemyReport = &model.Activity{
	Name:  "send_enemy_report",
	Label: "Enemy report transmission",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		err := ctx.Send(CommandPostID, MsgEnemyReport, runVar(ctx, varEnemyInfo))
		if err != nil {
			return nil, err
		}

		ctx.Globals().Set(VarEnemyDetected, true)

		if err := waitFor(ctx, seconds(5)); err != nil {
			return nil, err
		}

		return map[string]interface{}{"sent_to": CommandPostID}, nil
	},
}

func threatOf(strength interface{}) float64 {
	switch strength {
	case "company":
		return 0.8
	case "platoon":
		return 0.5
	default:
		return 0.3
	}
}

var analyzeReport = &model.Activity{
	Name:  "analyze_report",
	Label: "Report analysis",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		info := runVar(ctx, varEnemyInfo)
		threat := threatOf(info["strength"])
		ctx.Run().Set(varThreatLevel, threat)

		ctx.Log().Infof("threat level assessed at %.1f", threat)

		if err := waitFor(ctx, seconds(30)); err != nil {
			return nil, err
		}

		return map[string]interface{}{"threat_level": threat}, nil
	},
}

var makeDecision = &model.Activity{
	Name:  "make_decision",
	Label: "Command decision",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		v, _ := ctx.Run().Get(varThreatLevel)
		threat, _ := v.(float64)
		fire := threat > fireThreshold

		if err := waitFor(ctx, seconds(20)); err != nil {
			return nil, err
		}

		if !fire {
			ctx.Log().Info("threat too low, holding fire")
			return map[string]interface{}{"decision": "hold"}, nil
		}

		alert(ctx, "decision made: engage the target")

		run := model.Perform(ctx.World(), ctx.Entity(),
			ctx.World().Action(ActIssueFireOrder), nil)
		run.Set(varEnemyInfo, runVar(ctx, varEnemyInfo))

		return map[string]interface{}{"decision": "fire"}, nil
	},
}

var prepareFireOrder = &model.Activity{
	Name:  "prepare_fire_order",
	Label: "Fire order preparation",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		order := map[string]interface{}{
			"target":     runVar(ctx, varEnemyInfo)["position"],
			"fire_type":  "suppression",
			"rounds":     roundsPerMission,
			"issued_by":  ctx.Entity().ID(),
			"issued_at":  float64(ctx.Now()),
			"call_sign":  "Eagle",
			"precedence": "immediate",
		}
		ctx.Run().Set(varFireOrder, order)

		if err := waitFor(ctx, seconds(15)); err != nil {
			return nil, err
		}

		return order, nil
	},
}

var transmitOrder = &model.Activity{
	Name:  "transmit_order",
	Label: "Fire order transmission",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		err := ctx.Send(ArtilleryID, MsgFireOrder, runVar(ctx, varFireOrder))
		if err != nil {
			return nil, err
		}

		if err := waitFor(ctx, seconds(5)); err != nil {
			return nil, err
		}

		return map[string]interface{}{"sent_to": ArtilleryID}, nil
	},
}

var prepareGuns = &model.Activity{
	Name:  "prepare_guns",
	Label: "Gun preparation",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		a, err := artillery(ctx)
		if err != nil {
			return nil, err
		}

		a.SetState(FirePreparing)

		const stages = 6
		for i := 0; i < stages; i++ {
			if err := waitFor(ctx, seconds(10)); err != nil {
				return nil, err
			}

			if i%2 == 0 {
				ctx.Log().Infof("gun preparation %d/%d", i+1, stages)
			}
		}

		return nil, nil
	},
}

var fireBarrage = &model.Activity{
	Name:  "fire_barrage",
	Label: "Fire barrage",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		a, err := artillery(ctx)
		if err != nil {
			return nil, err
		}

		alert(ctx, "%s opens fire", a.Name())
		a.SetState(FireFiring)

		if err := ctx.Acquire(AmmoID, roundsPerMission); err != nil {
			return nil, err
		}
		a.RoundsFired += roundsPerMission

		for i := 0; i < 4; i++ {
			if err := waitFor(ctx, seconds(30)); err != nil {
				return nil, err
			}
		}

		ctx.Globals().Set(VarStrikeCompleted, true)

		return map[string]interface{}{"rounds_fired": roundsPerMission}, nil
	},
}

var observeImpact = &model.Activity{
	Name:  "observe_impact",
	Label: "Impact observation",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		damage := 0.7 + ctx.World().Rand().Float64()*0.3
		ctx.Run().Set(varDamageLevel, damage)

		if err := waitFor(ctx, seconds(60)); err != nil {
			return nil, err
		}

		return map[string]interface{}{"damage_level": damage}, nil
	},
}

var reportBDA = &model.Activity{
	Name:  "report_bda",
	Label: "Damage assessment report",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		v, _ := ctx.Run().Get(varDamageLevel)
		damage, _ := v.(float64)

		ctx.Globals().Set(VarDamageAssessment, damage)

		err := ctx.Send(CommandPostID, MsgBDAReport, map[string]interface{}{
			"damage_level": damage,
		})
		if err != nil {
			return nil, err
		}

		if err := waitFor(ctx, seconds(10)); err != nil {
			return nil, err
		}

		return map[string]interface{}{"damage_level": damage}, nil
	},
}

var evaluateResults = &model.Activity{
	Name:  "evaluate_results",
	Label: "Result evaluation",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		damage := ctx.Globals().Float(VarDamageAssessment)
		success := damage >= successDamage

		if err := waitFor(ctx, seconds(20)); err != nil {
			return nil, err
		}

		ctx.Log().Infof("mission evaluated, damage %.2f, success %v", damage, success)

		return map[string]interface{}{"mission_success": success}, nil
	},
}

var sendCeaseFire = &model.Activity{
	Name:  "send_cease_fire",
	Label: "Cease fire transmission",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		if err := ctx.Send(ArtilleryID, MsgCeaseFire, nil); err != nil {
			return nil, err
		}

		if err := waitFor(ctx, seconds(5)); err != nil {
			return nil, err
		}

		return map[string]interface{}{"sent_to": ArtilleryID}, nil
	},
}

var stopFiring = &model.Activity{
	Name:  "stop_firing",
	Label: "Cease firing",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		a, err := artillery(ctx)
		if err != nil {
			return nil, err
		}

		a.SetState(FireCeased)

		return nil, waitFor(ctx, seconds(10))
	},
}

var reportStatus = &model.Activity{
	Name:  "report_status",
	Label: "Status report",
	Body: func(ctx *model.ActivityContext) (interface{}, error) {
		a, err := artillery(ctx)
		if err != nil {
			return nil, err
		}

		a.SetState(FireReady)

		remaining := 0
		if ammo := ctx.World().Resource(AmmoID); ammo != nil {
			remaining = ammo.Level()
		}

		ctx.Log().Infof("%s ready, %d rounds remaining", a.Name(), remaining)

		if err := waitFor(ctx, seconds(5)); err != nil {
			return nil, err
		}

		return map[string]interface{}{"remaining_ammo": remaining}, nil
	},
}

// Activities returns all the activities of the scenario.
func Activities() []*model.Activity {
	return []*model.Activity{
		movePatrol, scanArea, gatherIntel, sendEnemyReport,
		analyzeReport, makeDecision, prepareFireOrder, transmitOrder,
		prepareGuns, fireBarrage, observeImpact, reportBDA,
		evaluateResults, sendCeaseFire, stopFiring, reportStatus,
	}
}
