package commands

import (
	"github.com/sasha-s/go-deadlock"
)

// Command is one player's action for a tick. The payload is opaque to the
// server; Seq records submission order.
type Command struct {
	Seq  uint64
	Data []byte
}

// Queue is an unbounded FIFO shared by every connection (producers) and the
// tick task (the only consumer).
type Queue struct {
	mutex    deadlock.Mutex
	commands []Command
	seq      uint64
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a command and returns it with its sequence number assigned.
func (q *Queue) Push(data []byte) Command {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.seq++
	command := Command{
		Seq:  q.seq,
		Data: data,
	}
	q.commands = append(q.commands, command)
	return command
}

func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.commands)
}

// Poll removes the oldest command.
func (q *Queue) Poll() (Command, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.commands) == 0 {
		return Command{}, false
	}

	command := q.commands[0]
	q.commands[0] = Command{}
	q.commands = q.commands[1:]
	return command, true
}

// Drain removes and returns everything queued so far, oldest first. Commands
// pushed while Drain runs end up either in the result or in the queue, never
// both.
func (q *Queue) Drain() []Command {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	drained := q.commands
	q.commands = nil
	return drained
}

// Total is the number of commands ever pushed.
func (q *Queue) Total() uint64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return q.seq
}
