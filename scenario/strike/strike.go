// Package strike is a reconnaissance and fire strike scenario. A recon squad
// patrols until it spots the enemy and reports to the command post. The
// command post decides to engage and orders the artillery battalion to fire.
// The squad then assesses the damage, and the command post orders a cease
// fire once the strike succeeds.
package strike

import (
	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
	"github.com/eatisim/eatisim/simulation"
)

// Entity IDs.
const (
	CommandPostID = "ent_command_post"
	ArtilleryID   = "ent_artillery_battalion"
	ReconID       = "ent_recon_squad"
)

// Action IDs.
const (
	ActPatrol             = "act_patrol"
	ActReportEnemy        = "act_report_enemy"
	ActAssessDamage       = "act_assess_damage"
	ActProcessIntel       = "act_process_intel"
	ActIssueFireOrder     = "act_issue_fire_order"
	ActCeaseFireOrder     = "act_cease_fire_order"
	ActExecuteFireMission = "act_execute_fire_mission"
	ActCeaseFire          = "act_cease_fire"
)

// Message types.
const (
	MsgEnemyReport = "enemy_report"
	MsgFireOrder   = "fire_order"
	MsgCeaseFire   = "cease_fire"
	MsgBDAReport   = "bda_report"
)

// Global variables.
const (
	VarEnemyDetected    = "EnemyDetected"
	VarStrikeCompleted  = "StrikeCompleted"
	VarDamageAssessment = "DamageAssessment"
)

// Condition IDs.
const (
	EvtEnemyDetected   = "evt_enemy_detected"
	EvtMissionComplete = "evt_mission_complete"
)

// AmmoID is the resource that holds the artillery rounds.
const AmmoID = "res_artillery_rounds"

// States of the recon squad.
const (
	PatrolPatrolling = "patrolling"
	PatrolContact    = "contact"
)

// Fire states of the artillery battalion.
const (
	FireReady     = "ready"
	FirePreparing = "preparing"
	FireFiring    = "firing"
	FireCeased    = "ceased"
)

const (
	ammoCapacity     = 200
	ammoInitial      = 180
	roundsPerMission = 36

	patrolRadius    = 200.0
	detectionChance = 0.3
	fireThreshold   = 0.6
	successDamage   = 0.8

	monitorInterval sim.VTimeInSec = 1
)

// Globals returns the initial values of the global variables.
func Globals() map[string]interface{} {
	return map[string]interface{}{
		VarEnemyDetected:    false,
		VarStrikeCompleted:  false,
		VarDamageAssessment: 0.0,
	}
}

// Conditions returns the conditions that the scenario watches.
func Conditions() []*simulation.Condition {
	return []*simulation.Condition{
		{
			ID:    EvtEnemyDetected,
			Label: "Enemy detected",
			Check: func(g *model.GlobalVars) bool {
				return g.Bool(VarEnemyDetected)
			},
			Level: logrus.WarnLevel,
		},
		{
			ID:    EvtMissionComplete,
			Label: "Mission complete",
			Check: func(g *model.GlobalVars) bool {
				return g.Float(VarDamageAssessment) >= successDamage
			},
			Level:    logrus.InfoLevel,
			EntityID: CommandPostID,
			ActionID: ActCeaseFireOrder,
		},
	}
}

// Install registers the entities, the resource, the actions, and the
// conditions of the scenario, and sets the global variables.
func Install(s *simulation.Simulation) {
	initial := Globals()
	for _, name := range []string{
		VarEnemyDetected, VarStrikeCompleted, VarDamageAssessment,
	} {
		s.Globals().Set(name, initial[name])
	}

	s.RegisterResource(
		sim.NewContainer(AmmoID, ammoCapacity, ammoInitial),
		"Artillery rounds",
	)

	for _, a := range Actions() {
		s.RegisterAction(a)
	}

	s.RegisterEntity(NewCommandPost())
	s.RegisterEntity(NewArtilleryBattalion())
	s.RegisterEntity(NewReconSquad())

	for _, c := range Conditions() {
		s.RegisterCondition(c)
	}
}
