package sim

// A MessageQueue delivers messages to processes in FIFO order. Each message
// is delivered to at most one consumer.
type MessageQueue struct {
	HookableBase

	name    string
	buffer  []interface{}
	waiters []*Process
}

// NewMessageQueue creates a MessageQueue.
func NewMessageQueue(name string) *MessageQueue {
	return &MessageQueue{name: name}
}

// Name returns the name of the queue.
func (q *MessageQueue) Name() string {
	return q.name
}

// Len returns the number of buffered messages.
func (q *MessageQueue) Len() int {
	return len(q.buffer)
}

// Waiting returns the number of processes blocked on the queue.
func (q *MessageQueue) Waiting() int {
	return len(q.waiters)
}

// Put delivers the message to the oldest waiting process. If no process is
// waiting, the message is buffered.
func (q *MessageQueue) Put(msg interface{}) {
	q.InvokeHook(HookCtx{
		Domain: q,
		Pos:    HookPosMessagePut,
		Item:   msg,
	})

	q.deliver(msg, false)
}

func (q *MessageQueue) deliver(msg interface{}, front bool) {
	if len(q.waiters) > 0 {
		p := q.waiters[0]
		q.waiters = q.waiters[1:]
		p.wake(msg, nil, func() { q.deliver(msg, true) })

		return
	}

	if front {
		q.buffer = append([]interface{}{msg}, q.buffer...)
		return
	}

	q.buffer = append(q.buffer, msg)
}

// Get returns the oldest buffered message. If the buffer is empty, the
// process is suspended until a message is put.
func (q *MessageQueue) Get(p *Process) (interface{}, error) {
	if err := p.mustBeRunning("get"); err != nil {
		return nil, err
	}

	if len(q.buffer) > 0 {
		msg := q.buffer[0]
		q.buffer[0] = nil
		q.buffer = q.buffer[1:]

		return msg, nil
	}

	q.waiters = append(q.waiters, p)

	return p.suspend(
		SuspendDetail{Kind: WaitQueue, Target: q.name},
		func() { q.removeWaiter(p) },
	)
}

func (q *MessageQueue) removeWaiter(p *Process) {
	for i, x := range q.waiters {
		if x == p {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}
