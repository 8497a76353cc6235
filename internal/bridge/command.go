package bridge

import (
	"fmt"

	"github.com/AaronLay10/SentientBridge/internal/events"
)

// Kind identifies the variant of a Command.
type Kind int

const (
	KindExecute Kind = iota + 1
	KindDelay
	KindCollection
	KindRepeat
	KindWaitExit
)

func (k Kind) String() string {
	switch k {
	case KindExecute:
		return "execute"
	case KindDelay:
		return "delay"
	case KindCollection:
		return "collection"
	case KindRepeat:
		return "repeat"
	case KindWaitExit:
		return "wait_exit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Func is an execute callback. It receives the running Commands for the
// duration of the call and reports whether the script should continue.
type Func func(bc *Commands) bool

// Session is the live connection to a target. OnExit registers a one-shot
// callback invoked with the exit status when the session terminates.
type Session interface {
	OnExit(fn func(status int))
}

// Command is a unit of work in a bridge script. Which fields are meaningful
// depends on the kind.
type Command struct {
	kind Kind

	fn      Func
	delay   Delay
	session Session

	// collection
	queue []*Command

	// repeat
	body      []*Command
	count     int
	remaining int
}

// NewExecute returns a command that invokes fn. A nil fn always succeeds.
func NewExecute(fn Func) *Command {
	return &Command{kind: KindExecute, fn: fn}
}

// NewDelay returns a command whose only effect is to request d before the
// next tick.
func NewDelay(d Delay) *Command {
	if d < 0 {
		d = 0
	}
	return &Command{kind: KindDelay, delay: d}
}

// NewCollection returns a FIFO scope holding cmds.
func NewCollection(cmds ...*Command) *Command {
	return &Command{kind: KindCollection, queue: append([]*Command{}, cmds...)}
}

// NewRepeat returns a loop that runs its body count times, reporting delay
// on every activation.
func NewRepeat(delay Delay, count int) *Command {
	if delay < 0 {
		delay = 0
	}
	return &Command{kind: KindRepeat, delay: delay, count: count, remaining: count}
}

// NewWaitExit returns a command that parks the script until s exits.
func NewWaitExit(s Session) *Command {
	return &Command{kind: KindWaitExit, session: s}
}

// Kind returns the command variant.
func (c *Command) Kind() Kind {
	return c.kind
}

// Len returns the number of queued commands of a collection or the body
// length of a repeat. Other kinds report 0.
func (c *Command) Len() int {
	switch c.kind {
	case KindCollection:
		return len(c.queue)
	case KindRepeat:
		return len(c.body)
	}
	return 0
}

// Remaining returns the iterations a repeat has left.
func (c *Command) Remaining() int {
	return c.remaining
}

// add appends cmd to a scope being authored.
func (c *Command) add(cmd *Command) {
	switch c.kind {
	case KindCollection:
		c.queue = append(c.queue, cmd)
	case KindRepeat:
		c.body = append(c.body, cmd)
	default:
		panic(fmt.Sprintf("bridge: cannot add to %s command", c.kind))
	}
}

// clone returns a copy whose run-time state is independent of c. Execute,
// delay and wait-exit commands carry no run-time state and are shared.
func (c *Command) clone() *Command {
	switch c.kind {
	case KindCollection:
		return &Command{kind: KindCollection, queue: cloneAll(c.queue)}
	case KindRepeat:
		// The body is a template: it is only read, and cloned again on
		// every iteration, so it can be shared.
		return &Command{kind: KindRepeat, delay: c.delay, count: c.count, remaining: c.count, body: c.body}
	default:
		return c
	}
}

func cloneAll(cmds []*Command) []*Command {
	out := make([]*Command, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd.clone()
	}
	return out
}

// execute runs the command against bc and returns the delay before the next
// tick.
func (c *Command) execute(bc *Commands) Delay {
	switch c.kind {
	case KindExecute:
		return c.executeCallback(bc)
	case KindDelay:
		return c.delay
	case KindCollection:
		return c.executeCollection(bc)
	case KindRepeat:
		return c.executeRepeat(bc)
	case KindWaitExit:
		return c.executeWaitExit(bc)
	default:
		panic(fmt.Sprintf("bridge: unknown command kind %d", int(c.kind)))
	}
}

func (c *Command) executeCallback(bc *Commands) Delay {
	ok := true
	if c.fn != nil {
		ok = c.fn(bc)
	}
	bc.setLastResult(ok)
	if !ok {
		events.Emit("warning", "command.failed", "execute callback reported failure", map[string]interface{}{
			"bridge_id": bc.id,
			"depth":     bc.stack.len(),
		})
		return TimerDone
	}
	return 0
}

func (c *Command) executeCollection(bc *Commands) Delay {
	// Scope finished: control returns to the enclosing scope on the next tick
	if len(c.queue) == 0 {
		bc.stack.pop()
		return 0
	}

	next := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	return next.execute(bc)
}

func (c *Command) executeRepeat(bc *Commands) Delay {
	// First activation: the repeat was dequeued from its parent and becomes
	// a scope of its own, so that it is re-activated once each body drains.
	if bc.stack.top() != c {
		bc.stack.push(c)
		events.Emit("info", "loop.started", "", map[string]interface{}{
			"bridge_id": bc.id,
			"count":     c.count,
			"delay_us":  int64(c.delay),
		})
	}

	exhausted := c.remaining <= 0
	c.remaining--
	if exhausted {
		bc.stack.pop()
		events.Emit("info", "loop.completed", "", map[string]interface{}{
			"bridge_id": bc.id,
			"count":     c.count,
		})
		return c.delay
	}

	bc.stack.push(NewCollection(cloneAll(c.body)...))
	return c.delay
}

func (c *Command) executeWaitExit(bc *Commands) Delay {
	bc.suspendUntilExit(c.session)
	return TimerDone
}
