package strike

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/model"
	"github.com/eatisim/eatisim/sim"
)

// CommandPost analyzes the enemy reports and directs the fire missions.
type CommandPost struct {
	*model.EntityBase

	CallSign   string
	AlertLevel int
	LastBDA    float64
}

// NewCommandPost creates the command post.
func NewCommandPost() *CommandPost {
	c := &CommandPost{
		EntityBase: model.NewEntityBase(CommandPostID, "Command Post", "CommandPost"),
		CallSign:   "Eagle",
		AlertLevel: 1,
	}
	c.SetPosition(model.Position{})
	c.SetState("active")

	return c
}

// Status returns the view of the command post.
func (c *CommandPost) Status() model.EntityStatus {
	s := c.BaseStatus()
	s.Fields = map[string]interface{}{
		"call_sign":   c.CallSign,
		"alert_level": c.AlertLevel,
		"last_bda":    c.LastBDA,
	}

	return s
}

// Start starts handling the messages of the command post.
func (c *CommandPost) Start(w model.World) error {
	spawnHandler(w, c, func(p *sim.Process, msg model.Message) {
		switch msg.Type {
		case MsgEnemyReport:
			c.AlertLevel = 2
			run := model.Perform(w, c, w.Action(ActProcessIntel), nil)
			run.Set(varEnemyInfo, msg.Payload)
		case MsgBDAReport:
			if d, ok := msg.Payload["damage_level"].(float64); ok {
				c.LastBDA = d
			}
		}
	})

	return nil
}

// ArtilleryBattalion fires on the orders of the command post.
type ArtilleryBattalion struct {
	*model.EntityBase

	CallSign    string
	Guns        int
	RoundsFired int
}

// NewArtilleryBattalion creates the artillery battalion.
func NewArtilleryBattalion() *ArtilleryBattalion {
	a := &ArtilleryBattalion{
		EntityBase: model.NewEntityBase(
			ArtilleryID, "Artillery Battalion", "ArtilleryBattalion"),
		CallSign: "Thunder",
		Guns:     18,
	}
	a.SetPosition(model.Position{X: -500, Y: -200})
	a.SetState(FireReady)

	return a
}

// Status returns the view of the battalion.
func (a *ArtilleryBattalion) Status() model.EntityStatus {
	s := a.BaseStatus()
	s.Fields = map[string]interface{}{
		"call_sign":    a.CallSign,
		"guns":         a.Guns,
		"fire_status":  a.State(),
		"rounds_fired": a.RoundsFired,
	}

	return s
}

// Start starts handling the orders.
func (a *ArtilleryBattalion) Start(w model.World) error {
	spawnHandler(w, a, func(p *sim.Process, msg model.Message) {
		switch msg.Type {
		case MsgFireOrder:
			run := model.Perform(w, a, w.Action(ActExecuteFireMission), nil)
			run.Set(varFireOrder, msg.Payload)
		case MsgCeaseFire:
			model.Perform(w, a, w.Action(ActCeaseFire), nil)
		}
	})

	return nil
}

// ReconSquad patrols around its base point until it makes contact.
type ReconSquad struct {
	*model.EntityBase

	CallSign     string
	SquadSize    int
	EnemyContact bool
	Origin       model.Position

	patrol   *model.ActionRun
	reported bool
	assessed bool
}

// NewReconSquad creates the recon squad.
func NewReconSquad() *ReconSquad {
	r := &ReconSquad{
		EntityBase: model.NewEntityBase(ReconID, "Recon Squad", "ReconSquad"),
		CallSign:   "Scout",
		SquadSize:  8,
		Origin:     model.Position{X: 100, Y: 100},
	}
	r.SetPosition(r.Origin)
	r.SetState(PatrolPatrolling)

	return r
}

// Status returns the view of the squad.
func (r *ReconSquad) Status() model.EntityStatus {
	s := r.BaseStatus()
	s.Fields = map[string]interface{}{
		"call_sign":     r.CallSign,
		"squad_size":    r.SquadSize,
		"patrol_status": r.State(),
		"enemy_contact": r.EnemyContact,
	}

	return s
}

// patrolPoint returns where the squad is on its circular route at time t.
func (r *ReconSquad) patrolPoint(t sim.VTimeInSec) model.Position {
	angle := math.Mod(float64(t)/100, 2*math.Pi)

	return model.Position{
		X: r.Origin.X + patrolRadius*math.Cos(angle),
		Y: r.Origin.Y + patrolRadius*math.Sin(angle),
		Z: r.Origin.Z,
	}
}

// Start starts the patrol, the monitor, and the message log of the squad.
func (r *ReconSquad) Start(w model.World) error {
	r.patrol = model.Perform(w, r, w.Action(ActPatrol), nil)

	monitor := w.Engine().Spawn("recon_monitor", func(p *sim.Process) (interface{}, error) {
		for {
			if err := p.Timeout(monitorInterval); err != nil {
				return nil, err
			}

			r.checkProgress(w)
		}
	}, nil)
	monitor.SetOwner(r)

	spawnHandler(w, r, func(p *sim.Process, msg model.Message) {
		w.Logger().WithFields(logrus.Fields{
			"entity":   r.ID(),
			"sim_time": float64(p.Now()),
		}).Infof("%s received %s from %s", r.Name(), msg.Type, msg.From)
	})

	return nil
}

// checkProgress reports a contact once and assesses the damage once the
// strike is completed.
func (r *ReconSquad) checkProgress(w model.World) {
	if r.EnemyContact && !r.reported {
		r.reported = true

		if r.patrol != nil && !r.patrol.Skipped() && !r.patrol.Process().Finished() {
			if err := r.patrol.Interrupt("enemy contact"); err != nil {
				w.Logger().WithError(err).Warn("cannot stop the patrol")
			}
		}

		model.Perform(w, r, w.Action(ActReportEnemy), nil)
	}

	if w.Globals().Bool(VarStrikeCompleted) && !r.assessed {
		r.assessed = true
		model.Perform(w, r, w.Action(ActAssessDamage), nil)
	}
}

// spawnHandler starts a process that passes every message in the mailbox of
// e to handle.
func spawnHandler(
	w model.World,
	e model.Entity,
	handle func(p *sim.Process, msg model.Message),
) {
	p := w.Engine().Spawn(e.ID()+".handler", func(p *sim.Process) (interface{}, error) {
		for {
			item, err := e.Mailbox().Get(p)
			if err != nil {
				return nil, err
			}

			msg, ok := item.(model.Message)
			if !ok {
				continue
			}

			handle(p, msg)
		}
	}, nil)
	p.SetOwner(e)
}
