package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LevelChange is the detail of a HookPosResourceLevel hook.
type LevelChange struct {
	Old int
	New int
}

type containerWaiter struct {
	proc   *Process
	amount int
}

// A Container is a pool of countable units bounded by a capacity. Processes
// block on Get until enough units are available.
//
// Waiters are served in strict FIFO order. A Put stops serving at the first
// waiter whose request does not fit, even if a later, smaller request would.
type Container struct {
	HookableBase

	name     string
	capacity int
	level    int
	waiters  []*containerWaiter
}

// NewContainer creates a Container.
func NewContainer(name string, capacity, initial int) *Container {
	if capacity <= 0 {
		logrus.Panicf("container %s must have a positive capacity", name)
	}

	if initial < 0 || initial > capacity {
		logrus.Panicf(
			"container %s initial level %d is outside [0, %d]",
			name, initial, capacity,
		)
	}

	return &Container{
		name:     name,
		capacity: capacity,
		level:    initial,
	}
}

// Name returns the name of the container.
func (c *Container) Name() string {
	return c.name
}

// Capacity returns the maximum number of units that the container can hold.
func (c *Container) Capacity() int {
	return c.capacity
}

// Level returns the number of units in the container.
func (c *Container) Level() int {
	return c.level
}

// Waiting returns the number of processes blocked on the container.
func (c *Container) Waiting() int {
	return len(c.waiters)
}

// Utilization returns the percentage of capacity that has been taken out.
func (c *Container) Utilization() float64 {
	return float64(c.capacity-c.level) / float64(c.capacity) * 100
}

func (c *Container) validate(op string, n int) error {
	if n <= 0 {
		return &InvalidStateError{
			Op:     op,
			Reason: fmt.Sprintf("amount %d must be positive", n),
		}
	}

	if n > c.capacity {
		return &InvalidStateError{
			Op: op,
			Reason: fmt.Sprintf(
				"amount %d exceeds capacity %d of %s", n, c.capacity, c.name),
		}
	}

	return nil
}

// Check tells if n units can be taken right now without blocking. It does
// not change the container.
func (c *Container) Check(n int) error {
	if err := c.validate("check", n); err != nil {
		return err
	}

	if len(c.waiters) > 0 || c.level < n {
		return &ResourceExhaustedError{
			Resource:  c.name,
			Requested: n,
			Available: c.level,
		}
	}

	return nil
}

// Get takes n units out of the container. If the units are available and no
// other process is waiting, Get returns immediately without suspending.
// Otherwise, the process is suspended until a Put makes the units available.
func (c *Container) Get(p *Process, n int) error {
	if err := c.validate("get", n); err != nil {
		return err
	}

	if err := p.mustBeRunning("get"); err != nil {
		return err
	}

	if len(c.waiters) == 0 && c.level >= n {
		c.setLevel(c.level - n)
		return nil
	}

	w := &containerWaiter{proc: p, amount: n}
	c.waiters = append(c.waiters, w)

	_, err := p.suspend(
		SuspendDetail{Kind: WaitResource, Target: c.name},
		func() { c.removeWaiter(w) },
	)

	return err
}

// Put adds n units to the container. The level is capped at the capacity.
// Waiters are then served from the head of the queue.
func (c *Container) Put(n int) error {
	if err := c.validate("put", n); err != nil {
		return err
	}

	level := c.level + n
	if level > c.capacity {
		level = c.capacity
	}
	c.setLevel(level)

	c.serve()

	return nil
}

func (c *Container) serve() {
	for len(c.waiters) > 0 {
		w := c.waiters[0]
		if w.amount > c.level {
			return
		}

		c.waiters = c.waiters[1:]
		c.setLevel(c.level - w.amount)

		amount := w.amount
		w.proc.wake(amount, nil, func() {
			_ = c.Put(amount)
		})
	}
}

func (c *Container) removeWaiter(w *containerWaiter) {
	for i, x := range c.waiters {
		if x == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}

	c.serve()
}

func (c *Container) setLevel(level int) {
	if level == c.level {
		return
	}

	if level < 0 || level > c.capacity {
		logrus.Panicf(
			"container %s level %d is outside [0, %d]",
			c.name, level, c.capacity,
		)
	}

	old := c.level
	c.level = level

	c.InvokeHook(HookCtx{
		Domain: c,
		Pos:    HookPosResourceLevel,
		Item:   c,
		Detail: LevelChange{Old: old, New: level},
	})
}
