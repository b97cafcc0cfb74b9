// Package dist provides the random durations that activities wait for.
package dist

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/eatisim/eatisim/sim"
)

// A Sampler draws durations.
type Sampler interface {
	Sample(rng *rand.Rand) sim.VTimeInSec
}

// Constant always returns the same duration.
type Constant struct {
	Value sim.VTimeInSec
}

// Sample returns the value.
func (c Constant) Sample(*rand.Rand) sim.VTimeInSec {
	return c.Value
}

// Exponential draws exponentially distributed durations.
type Exponential struct {
	Mean sim.VTimeInSec
}

// Sample draws a duration.
func (e Exponential) Sample(rng *rand.Rand) sim.VTimeInSec {
	return sim.VTimeInSec(rng.ExpFloat64() * float64(e.Mean))
}

// Normal draws normally distributed durations. Negative draws become zero.
type Normal struct {
	Mean   sim.VTimeInSec
	StdDev sim.VTimeInSec
}

// Sample draws a duration.
func (n Normal) Sample(rng *rand.Rand) sim.VTimeInSec {
	val := rng.NormFloat64()*float64(n.StdDev) + float64(n.Mean)

	return sim.VTimeInSec(math.Max(0, val))
}

// Uniform draws durations uniformly from [Min, Max).
type Uniform struct {
	Min sim.VTimeInSec
	Max sim.VTimeInSec
}

// Sample draws a duration.
func (u Uniform) Sample(rng *rand.Rand) sim.VTimeInSec {
	return u.Min + sim.VTimeInSec(rng.Float64())*(u.Max-u.Min)
}

// New creates a sampler by name. Missing parameters take their defaults:
// value 1 for constant, mean 1 for exponential, mean 1 and std 0.1 for
// normal, and min 0 and max 1 for uniform.
func New(kind string, params map[string]float64) (Sampler, error) {
	param := func(name string, def float64) sim.VTimeInSec {
		if v, ok := params[name]; ok {
			return sim.VTimeInSec(v)
		}

		return sim.VTimeInSec(def)
	}

	switch kind {
	case "constant":
		return Constant{Value: param("value", 1)}, nil
	case "exponential":
		return Exponential{Mean: param("mean", 1)}, nil
	case "normal":
		return Normal{Mean: param("mean", 1), StdDev: param("std", 0.1)}, nil
	case "uniform":
		u := Uniform{Min: param("min", 0), Max: param("max", 1)}
		if u.Max < u.Min {
			return nil, fmt.Errorf("uniform max %g is less than min %g",
				float64(u.Max), float64(u.Min))
		}

		return u, nil
	default:
		return nil, fmt.Errorf("unknown distribution %q", kind)
	}
}
