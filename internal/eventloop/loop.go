// Package eventloop provides the single-goroutine scheduler that drives
// bridge scripts. Timer callbacks and posted tasks all run on the loop's own
// goroutine, one at a time.
package eventloop

import (
	"container/heap"
	"sync"
	"time"

	"github.com/AaronLay10/SentientBridge/internal/bridge"
)

// Loop dispatches recurring timers and posted tasks on one goroutine.
type Loop struct {
	mu      sync.Mutex
	timers  timerHeap
	tasks   []func()
	seq     uint64
	running bool
	stop    chan struct{}
	done    chan struct{}
	wake    chan struct{}
}

// New creates a stopped loop.
func New() *Loop {
	done := make(chan struct{})
	close(done)
	return &Loop{
		done: done,
		wake: make(chan struct{}, 1),
	}
}

// TimerEvent registers a recurring timer. fn first runs after initial; each
// non-negative return value is the delay until it runs again, and
// bridge.TimerDone removes it. Safe to call from any goroutine, including
// from inside a callback.
func (l *Loop) TimerEvent(fn func() bridge.Delay, initial bridge.Delay) {
	l.mu.Lock()
	l.pushLocked(fn, time.Now().Add(initial.Duration()))
	l.mu.Unlock()
	l.signal()
}

// Post queues fn to run on the loop goroutine ahead of any due timer.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.signal()
}

// Start begins dispatching. Calling Start on a running loop does nothing.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stop, l.done)
}

// Stop halts dispatching and discards pending timers and tasks. It does not
// wait for a callback in progress; use Done for that. Safe to call from a
// callback.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	close(l.stop)
	l.timers = nil
	l.tasks = nil
}

// Running reports whether the loop is dispatching.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Done is closed when the dispatch goroutine of the latest Start exits.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Pending returns the number of registered timers.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timers)
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) pushLocked(fn func() bridge.Delay, due time.Time) {
	l.seq++
	heap.Push(&l.timers, &timer{fn: fn, due: due, seq: l.seq})
}

func (l *Loop) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	wait := time.NewTimer(time.Hour)
	wait.Stop()
	defer wait.Stop()

	for {
		l.mu.Lock()
		select {
		case <-stop:
			l.mu.Unlock()
			return
		default:
		}

		if len(l.tasks) > 0 {
			task := l.tasks[0]
			l.tasks[0] = nil
			l.tasks = l.tasks[1:]
			l.mu.Unlock()
			task()
			continue
		}

		var next time.Duration = -1
		if len(l.timers) > 0 {
			t := l.timers[0]
			now := time.Now()
			if !t.due.After(now) {
				heap.Pop(&l.timers)
				l.mu.Unlock()
				l.fire(stop, t)
				continue
			}
			next = t.due.Sub(now)
		}
		l.mu.Unlock()

		if next < 0 {
			select {
			case <-stop:
				return
			case <-l.wake:
			}
			continue
		}

		wait.Reset(next)
		select {
		case <-stop:
			return
		case <-l.wake:
			wait.Stop()
		case <-wait.C:
		}
	}
}

// fire runs t and reschedules it unless it asked to stop or the loop was
// stopped meanwhile.
func (l *Loop) fire(stop <-chan struct{}, t *timer) {
	d := t.fn()
	if d.IsDone() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-stop:
		return
	default:
	}
	l.pushLocked(t.fn, time.Now().Add(d.Duration()))
}

type timer struct {
	fn  func() bridge.Delay
	due time.Time
	seq uint64
}

// timerHeap orders timers by due time, then registration order.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x interface{}) {
	*h = append(*h, x.(*timer))
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
