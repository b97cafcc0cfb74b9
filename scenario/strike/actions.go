package strike

import (
	"github.com/eatisim/eatisim/model"
)

func patrolling(run *model.ActionRun) bool {
	r, ok := run.Entity().(*ReconSquad)

	return ok && r.State() == PatrolPatrolling && !r.EnemyContact
}

// ammoForMission declines a fire mission when the rounds are short.
func ammoForMission(w model.World, _ model.Entity) error {
	return w.Resource(AmmoID).Check(roundsPerMission)
}

// Actions returns all the actions of the scenario.
func Actions() []*model.Action {
	return []*model.Action{
		{
			ID:    ActPatrol,
			Name:  "patrol",
			Label: "Patrol",
			Plan:  model.Loop(patrolling, movePatrol, scanArea),
		},
		{
			ID:    ActReportEnemy,
			Name:  "report_enemy",
			Label: "Report enemy",
			Plan:  model.Sequence(gatherIntel, sendEnemyReport),
		},
		{
			ID:    ActAssessDamage,
			Name:  "assess_damage",
			Label: "Assess damage",
			Plan:  model.Sequence(observeImpact, reportBDA),
		},
		{
			ID:    ActProcessIntel,
			Name:  "process_intel",
			Label: "Process intelligence",
			Plan:  model.Sequence(analyzeReport, makeDecision),
		},
		{
			ID:    ActIssueFireOrder,
			Name:  "issue_fire_order",
			Label: "Issue fire order",
			Plan:  model.Sequence(prepareFireOrder, transmitOrder),
		},
		{
			ID:    ActCeaseFireOrder,
			Name:  "cease_fire_order",
			Label: "Order cease fire",
			Plan:  model.Sequence(evaluateResults, sendCeaseFire),
		},
		{
			ID:       ActExecuteFireMission,
			Name:     "execute_fire_mission",
			Label:    "Execute fire mission",
			Precheck: ammoForMission,
			Plan:     model.Sequence(prepareGuns, fireBarrage),
		},
		{
			ID:    ActCeaseFire,
			Name:  "cease_fire",
			Label: "Cease fire",
			Plan:  model.Sequence(stopFiring, reportStatus),
		},
	}
}
