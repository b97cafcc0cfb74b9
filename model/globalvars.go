package model

import (
	"reflect"
	"sort"

	"github.com/eatisim/eatisim/sim"
)

// HookPosGlobalVarChanged triggers when a global variable is set to a
// different value. The detail is a VarChange.
var HookPosGlobalVarChanged = &sim.HookPos{Name: "GlobalVarChanged"}

// VarChange is the detail of a HookPosGlobalVarChanged hook.
type VarChange struct {
	Name string
	Old  interface{}
	New  interface{}
}

// GlobalVars is the shared scalar state of a simulation. It is only mutated
// by process bodies, so it does not lock.
type GlobalVars struct {
	sim.HookableBase

	vars map[string]interface{}
}

// NewGlobalVars creates GlobalVars holding a copy of the initial values.
func NewGlobalVars(initial map[string]interface{}) *GlobalVars {
	g := &GlobalVars{vars: make(map[string]interface{}, len(initial))}
	for k, v := range initial {
		g.vars[k] = v
	}

	return g
}

// Set changes a variable. Hooks are only invoked if the value changes.
func (g *GlobalVars) Set(name string, value interface{}) {
	old, ok := g.vars[name]
	if ok && reflect.DeepEqual(old, value) {
		return
	}

	g.vars[name] = value

	g.InvokeHook(sim.HookCtx{
		Domain: g,
		Pos:    HookPosGlobalVarChanged,
		Item:   name,
		Detail: VarChange{Name: name, Old: old, New: value},
	})
}

// Get returns a variable.
func (g *GlobalVars) Get(name string) (interface{}, bool) {
	v, ok := g.vars[name]
	return v, ok
}

// Float returns a numeric variable as a float64. Missing and non-numeric
// variables read as 0.
func (g *GlobalVars) Float(name string) float64 {
	switch v := g.vars[name].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Int returns a numeric variable as an int.
func (g *GlobalVars) Int(name string) int {
	return int(g.Float(name))
}

// Bool returns a boolean variable. Missing variables read as false.
func (g *GlobalVars) Bool(name string) bool {
	v, _ := g.vars[name].(bool)
	return v
}

// String returns a string variable.
func (g *GlobalVars) String(name string) string {
	v, _ := g.vars[name].(string)
	return v
}

// Add adds delta to a numeric variable and returns the new value.
func (g *GlobalVars) Add(name string, delta float64) float64 {
	v := g.Float(name) + delta

	switch g.vars[name].(type) {
	case int:
		g.Set(name, int(v))
	default:
		g.Set(name, v)
	}

	return v
}

// Names returns the names of all the variables in order.
func (g *GlobalVars) Names() []string {
	names := make([]string, 0, len(g.vars))
	for k := range g.vars {
		names = append(names, k)
	}
	sort.Strings(names)

	return names
}

// Snapshot returns a copy of all the variables.
func (g *GlobalVars) Snapshot() map[string]interface{} {
	s := make(map[string]interface{}, len(g.vars))
	for k, v := range g.vars {
		s[k] = v
	}

	return s
}
