package model

import (
	"github.com/eatisim/eatisim/sim"
)

// Hook positions that entities trigger. The domain of these hooks is the
// EntityBase of the entity.
var (
	// HookPosEntityUpdate triggers when the position, status, current action,
	// or current activity of an entity changes.
	HookPosEntityUpdate = &sim.HookPos{Name: "EntityUpdate"}

	// HookPosActionStart triggers when an action starts. The item is an
	// ActionRecord.
	HookPosActionStart = &sim.HookPos{Name: "ActionStart"}

	// HookPosActionEnd triggers when an action completes, fails, is
	// interrupted, or is skipped. The item is an ActionRecord.
	HookPosActionEnd = &sim.HookPos{Name: "ActionEnd"}

	// HookPosActivityStart triggers when an activity starts. The item is an
	// ActivityRecord.
	HookPosActivityStart = &sim.HookPos{Name: "ActivityStart"}

	// HookPosActivityEnd triggers when an activity that has started ends.
	// The item is an ActivityRecord.
	HookPosActivityEnd = &sim.HookPos{Name: "ActivityEnd"}
)

// Position is the location of an entity.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// EntityStatus is a point-in-time view of an entity.
type EntityStatus struct {
	ID                   string                 `json:"id"`
	Name                 string                 `json:"name"`
	Kind                 string                 `json:"type"`
	Position             *Position              `json:"position"`
	Status               string                 `json:"status,omitempty"`
	CurrentAction        string                 `json:"current_action"`
	CurrentActivity      string                 `json:"current_activity"`
	CurrentActivityName  string                 `json:"current_activity_name"`
	CurrentActivityLabel string                 `json:"current_activity_label"`
	Fields               map[string]interface{} `json:"fields,omitempty"`
}

// An Entity is a simulated actor.
type Entity interface {
	sim.Hookable

	ID() string
	Name() string
	Kind() string
	Mailbox() *sim.MessageQueue

	// Status returns a view of the entity, including the fields that the
	// entity kind exposes.
	Status() EntityStatus

	// Start spawns the top-level processes of the entity.
	Start(w World) error

	// Base returns the common part of the entity.
	Base() *EntityBase
}

// EntityBase implements the parts common to all the entities. Entity kinds
// embed it.
type EntityBase struct {
	sim.HookableBase

	id       string
	name     string
	kind     string
	mailbox  *sim.MessageQueue
	position *Position
	status   string

	currentAction   *ActionRun
	currentActivity *Activity
}

// NewEntityBase creates an EntityBase.
func NewEntityBase(id, name, kind string) *EntityBase {
	return &EntityBase{
		id:      id,
		name:    name,
		kind:    kind,
		mailbox: sim.NewMessageQueue(id + ".mailbox"),
	}
}

// ID returns the ID of the entity.
func (b *EntityBase) ID() string {
	return b.id
}

// Name returns the display name of the entity.
func (b *EntityBase) Name() string {
	return b.name
}

// Kind returns the kind of the entity.
func (b *EntityBase) Kind() string {
	return b.kind
}

// Mailbox returns the message queue of the entity.
func (b *EntityBase) Mailbox() *sim.MessageQueue {
	return b.mailbox
}

// Base returns the EntityBase itself.
func (b *EntityBase) Base() *EntityBase {
	return b
}

// Position returns the position of the entity, or nil if it has none.
func (b *EntityBase) Position() *Position {
	if b.position == nil {
		return nil
	}

	p := *b.position

	return &p
}

// SetPosition moves the entity.
func (b *EntityBase) SetPosition(p Position) {
	if b.position != nil && *b.position == p {
		return
	}

	b.position = &p
	b.notify()
}

// State returns the free-form status string of the entity.
func (b *EntityBase) State() string {
	return b.status
}

// SetState changes the free-form status string of the entity.
func (b *EntityBase) SetState(s string) {
	if b.status == s {
		return
	}

	b.status = s
	b.notify()
}

// CurrentAction returns the action that the entity is performing.
func (b *EntityBase) CurrentAction() *ActionRun {
	return b.currentAction
}

// CurrentActivity returns the activity that the entity is performing.
func (b *EntityBase) CurrentActivity() *Activity {
	return b.currentActivity
}

func (b *EntityBase) setAction(run *ActionRun) {
	b.currentAction = run
	b.notify()
}

func (b *EntityBase) clearAction(run *ActionRun) {
	if b.currentAction != run {
		return
	}

	b.currentAction = nil
	b.notify()
}

func (b *EntityBase) setActivity(a *Activity) {
	b.currentActivity = a
	b.notify()
}

func (b *EntityBase) clearActivity(a *Activity) {
	if b.currentActivity != a {
		return
	}

	b.currentActivity = nil
	b.notify()
}

func (b *EntityBase) notify() {
	b.InvokeHook(sim.HookCtx{
		Domain: b,
		Pos:    HookPosEntityUpdate,
		Item:   b,
	})
}

// BaseStatus returns the status fields that all the entities share.
func (b *EntityBase) BaseStatus() EntityStatus {
	s := EntityStatus{
		ID:       b.id,
		Name:     b.name,
		Kind:     b.kind,
		Position: b.Position(),
		Status:   b.status,
	}

	if b.currentAction != nil {
		s.CurrentAction = b.currentAction.Action().ID
	}

	if b.currentActivity != nil {
		s.CurrentActivity = b.currentActivity.ID()
		s.CurrentActivityName = b.currentActivity.Name
		s.CurrentActivityLabel = b.currentActivity.Label
	}

	return s
}

// Status returns the shared status fields. Entity kinds that expose more
// fields override it.
func (b *EntityBase) Status() EntityStatus {
	return b.BaseStatus()
}
