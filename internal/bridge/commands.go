// Package bridge sequences operations against an embedded target. A script is
// built programmatically (execute, delay, repeat, wait-exit) and then driven
// by a single recurring timer on an event loop, one command per tick.
package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/AaronLay10/SentientBridge/internal/events"
)

// EventLoop is the scheduler that drives a script.
//
// TimerEvent registers fn as a recurring timer first firing after initial.
// Each return value of fn is the delay before the next firing; TimerDone
// removes the timer. Start begins dispatch and is a no-op while running.
// Stop halts dispatch.
type EventLoop interface {
	TimerEvent(fn func() Delay, initial Delay)
	Start()
	Stop()
}

// Commands builds and runs a bridge script.
//
// Building and execution are not safe for concurrent use; everything runs on
// the event loop's goroutine. Status, State and Finished may be read from any
// goroutine.
type Commands struct {
	id    string
	loop  EventLoop
	stack commandStack

	failed  bool
	waiting int
	// resumed is set when an exit callback re-armed the timer during the
	// current tick.
	resumed bool
	started bool

	mu sync.RWMutex
	// epoch invalidates exit callbacks registered before a Stop.
	epoch      int
	state      State
	lastResult bool
	ticks      uint64
	depth      int
	err        error
	finished   chan struct{}
	stopped    chan struct{}

	finishOnce sync.Once
	stopOnce   sync.Once
}

// New creates an empty script bound to loop. The root collection is pushed
// immediately and stays at the bottom of the stack until it drains.
func New(id string, loop EventLoop) *Commands {
	bc := &Commands{
		id:       id,
		loop:     loop,
		state:    StateIdle,
		finished: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	bc.stack.push(NewCollection())
	bc.depth = 1
	return bc
}

// ID returns the bridge identifier used in emitted events.
func (bc *Commands) ID() string {
	return bc.id
}

// AddExecute appends an execute command to the scope being authored.
func (bc *Commands) AddExecute(fn Func) {
	bc.stack.top().add(NewExecute(fn))
}

// AddRepeatStart opens a loop scope running count times with delay between
// activations. Subsequent Add calls populate the loop body until
// AddRepeatEnd.
func (bc *Commands) AddRepeatStart(delay time.Duration, count int) {
	rep := NewRepeat(Microseconds(delay), count)
	bc.stack.top().add(rep)
	bc.stack.push(rep)
	bc.setDepth()
}

// AddRepeatEnd closes the innermost open loop scope.
func (bc *Commands) AddRepeatEnd() error {
	if bc.stack.len() <= 1 {
		return ErrUnmatchedLoop
	}
	bc.stack.pop()
	bc.setDepth()
	return nil
}

// AddDelay appends a command that waits d before the next tick.
func (bc *Commands) AddDelay(d time.Duration) {
	bc.stack.top().add(NewDelay(Microseconds(d)))
}

// AddWaitExit appends a command that parks the script until s exits.
func (bc *Commands) AddWaitExit(s Session) {
	bc.stack.top().add(NewWaitExit(s))
}

// Start runs the script from the root collection. All loop scopes must be
// closed before the first Start. After a Stop, Start continues from the
// command following the last one executed.
func (bc *Commands) Start() error {
	bc.mu.Lock()
	if bc.state == StateRunning || bc.state == StateSuspended {
		bc.mu.Unlock()
		return ErrAlreadyRunning
	}
	if bc.state.IsFinished() {
		bc.mu.Unlock()
		return ErrFinished
	}
	if !bc.started && bc.stack.len() != 1 {
		bc.mu.Unlock()
		return ErrUnmatchedLoop
	}
	bc.started = true
	bc.state = StateRunning
	bc.err = nil
	bc.mu.Unlock()

	bc.failed = false
	bc.waiting = 0
	bc.resumed = false
	queued := 0
	if top := bc.stack.top(); top != nil {
		queued = top.Len()
	}
	events.Emit("info", "bridge.started", "", map[string]interface{}{
		"bridge_id": bc.id,
		"commands":  queued,
	})

	bc.scheduleNext()
	return nil
}

// Stop halts the event loop. Pending wait-exit registrations are abandoned:
// their callbacks become no-ops. Stopped is closed on the first Stop.
func (bc *Commands) Stop() {
	bc.mu.Lock()
	prev := bc.state
	bc.state = StateIdle
	bc.epoch++
	bc.mu.Unlock()

	bc.loop.Stop()
	events.Emit("info", "bridge.stopped", "", map[string]interface{}{
		"bridge_id": bc.id,
		"from":      string(prev),
	})
	bc.stopOnce.Do(func() { close(bc.stopped) })
}

// scheduleNext installs the tick on the event loop and makes sure the loop
// is dispatching.
func (bc *Commands) scheduleNext() {
	bc.loop.TimerEvent(bc.tick, 0)
	bc.loop.Start()
}

func (bc *Commands) tick() Delay {
	if bc.isStopped() {
		return TimerDone
	}
	bc.resumed = false

	var d Delay
	if bc.stack.len() == 0 {
		d = TimerDone
	} else {
		d = bc.stack.top().execute(bc)
	}

	bc.mu.Lock()
	bc.ticks++
	bc.depth = bc.stack.len()
	bc.mu.Unlock()

	if d.IsDone() {
		bc.settle()
	}
	return d
}

// settle records where the run stands after a tick stopped the timer.
func (bc *Commands) settle() {
	switch {
	case bc.resumed:
		// The session exited synchronously and a new timer is already running.
		return
	case bc.stack.len() == 0:
		bc.finish(StateDone, nil)
	case bc.waiting > 0:
		bc.setState(StateSuspended)
		events.Emit("info", "bridge.suspended", "waiting for session exit", map[string]interface{}{
			"bridge_id": bc.id,
			"depth":     bc.stack.len(),
		})
	case bc.failed && bc.stack.len() == 1 && bc.stack.top().Len() == 0:
		// The failed command was the last one in the script.
		bc.finish(StateDone, nil)
	case bc.failed:
		bc.finish(StateAborted, ErrAborted)
	default:
		bc.finish(StateAborted, fmt.Errorf("%w: timer stopped with %d scopes pending", ErrStalled, bc.stack.len()))
	}
}

func (bc *Commands) finish(state State, err error) {
	bc.mu.Lock()
	if bc.state == StateIdle || bc.state.IsFinished() {
		// Stopped while the tick was running, or already reported.
		bc.mu.Unlock()
		return
	}
	bc.state = state
	bc.err = err
	lastResult := bc.lastResult
	bc.mu.Unlock()

	name := "bridge.completed"
	level := "info"
	if state == StateAborted {
		name = "bridge.aborted"
		level = "error"
	}
	events.Emit(level, name, "", map[string]interface{}{
		"bridge_id":   bc.id,
		"depth":       bc.stack.len(),
		"last_result": lastResult,
	})
	bc.finishOnce.Do(func() { close(bc.finished) })
}

func (bc *Commands) suspendUntilExit(s Session) {
	bc.waiting++
	bc.mu.RLock()
	epoch := bc.epoch
	bc.mu.RUnlock()
	s.OnExit(func(status int) {
		bc.resume(epoch, status)
	})
}

func (bc *Commands) resume(epoch, status int) {
	bc.mu.RLock()
	stale := epoch != bc.epoch || bc.state == StateIdle
	bc.mu.RUnlock()
	if stale {
		return
	}
	bc.waiting--
	bc.resumed = true

	bc.setState(StateRunning)
	events.Emit("info", "bridge.resumed", "session exited", map[string]interface{}{
		"bridge_id": bc.id,
		"status":    status,
	})
	bc.scheduleNext()
}

func (bc *Commands) isStopped() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state == StateIdle
}

func (bc *Commands) setState(s State) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.state == StateIdle || bc.state.IsFinished() {
		return
	}
	bc.state = s
}

func (bc *Commands) setLastResult(ok bool) {
	bc.failed = !ok
	bc.mu.Lock()
	bc.lastResult = ok
	bc.mu.Unlock()
}

func (bc *Commands) setDepth() {
	bc.mu.Lock()
	bc.depth = bc.stack.len()
	bc.mu.Unlock()
}

// LastResult returns the outcome of the most recent execute callback.
func (bc *Commands) LastResult() bool {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.lastResult
}

// State returns the current run state.
func (bc *Commands) State() State {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.state
}

// Depth returns the number of scopes on the command stack.
func (bc *Commands) Depth() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.depth
}

// Err returns ErrAborted if the run stalled on a failed command.
func (bc *Commands) Err() error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.err
}

// Finished is closed once the run reaches StateDone or StateAborted.
func (bc *Commands) Finished() <-chan struct{} {
	return bc.finished
}

// Stopped is closed once Stop has been called.
func (bc *Commands) Stopped() <-chan struct{} {
	return bc.stopped
}

// Status returns a snapshot of the run.
func (bc *Commands) Status() Status {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	st := Status{
		State:      bc.state,
		Depth:      bc.depth,
		Ticks:      bc.ticks,
		LastResult: bc.lastResult,
	}
	if bc.err != nil {
		st.Error = bc.err.Error()
	}
	return st
}
