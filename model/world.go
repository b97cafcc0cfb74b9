// Package model composes the simulation kernel into entities, actions, and
// activities.
package model

import (
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/eatisim/eatisim/sim"
)

// World is what an entity can see of the simulation that runs it.
type World interface {
	Engine() *sim.SerialEngine
	Globals() *GlobalVars
	Entity(id string) Entity
	Resource(id string) *sim.Container
	Action(id string) *Action
	Rand() *rand.Rand
	Logger() *logrus.Entry
}
