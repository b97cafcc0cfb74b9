package control

import "sync"

// CommandChannel carries commands from any number of operators to the
// simulation driver. Commands are kept in the order they are sent. The
// channel is unbounded.
type CommandChannel struct {
	lock  sync.Mutex
	queue []Command
	ready chan struct{}
}

// NewCommandChannel creates a CommandChannel.
func NewCommandChannel() *CommandChannel {
	return &CommandChannel{
		ready: make(chan struct{}, 1),
	}
}

// Send enqueues a command. It never blocks.
func (c *CommandChannel) Send(cmd Command) {
	c.lock.Lock()
	c.queue = append(c.queue, cmd)
	c.lock.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Drain removes and returns all the queued commands.
func (c *CommandChannel) Drain() []Command {
	c.lock.Lock()
	defer c.lock.Unlock()

	cmds := c.queue
	c.queue = nil

	return cmds
}

// Len returns the number of queued commands.
func (c *CommandChannel) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return len(c.queue)
}

// Ready returns a channel that receives a value after commands are sent.
// Receivers should Drain after waking up, since multiple sends may be merged
// into one signal.
func (c *CommandChannel) Ready() <-chan struct{} {
	return c.ready
}
