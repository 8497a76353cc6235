package eventloop

import (
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/SentientBridge/internal/bridge"
)

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %s", what)
	}
}

func TestTimerEvent_RecursUntilDone(t *testing.T) {
	l := New()
	defer l.Stop()

	var mu sync.Mutex
	count := 0
	finished := make(chan struct{})
	l.TimerEvent(func() bridge.Delay {
		mu.Lock()
		defer mu.Unlock()
		count++
		if count == 3 {
			close(finished)
			return bridge.TimerDone
		}
		return bridge.Microseconds(time.Millisecond)
	}, 0)
	l.Start()

	waitClosed(t, finished, "third firing")
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 3 {
		t.Errorf("expected 3 firings, got %d", count)
	}
	if l.Pending() != 0 {
		t.Errorf("expected no pending timers, got %d", l.Pending())
	}
}

func TestTimerEvent_HonoursDelay(t *testing.T) {
	l := New()
	defer l.Stop()

	start := time.Now()
	fired := make(chan time.Time, 1)
	l.TimerEvent(func() bridge.Delay {
		fired <- time.Now()
		return bridge.TimerDone
	}, bridge.Microseconds(20*time.Millisecond))
	l.Start()

	select {
	case at := <-fired:
		if elapsed := at.Sub(start); elapsed < 20*time.Millisecond {
			t.Errorf("expected at least 20ms, fired after %v", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for timer")
	}
}

func TestTimerEvent_SameDueFiresInRegistrationOrder(t *testing.T) {
	l := New()
	defer l.Stop()

	var order []int
	finished := make(chan struct{})
	for i := 0; i < 3; i++ {
		i := i
		l.TimerEvent(func() bridge.Delay {
			order = append(order, i)
			if i == 2 {
				close(finished)
			}
			return bridge.TimerDone
		}, 0)
	}
	l.Start()

	waitClosed(t, finished, "timers")
	if !reflect.DeepEqual(order, []int{0, 1, 2}) {
		t.Errorf("expected [0 1 2], got %v", order)
	}
}

func TestStart_Idempotent(t *testing.T) {
	l := New()
	l.Start()
	done := l.Done()
	l.Start()

	if l.Done() != done {
		t.Error("expected second Start to keep the running goroutine")
	}
	if !l.Running() {
		t.Error("expected running")
	}

	l.Stop()
	waitClosed(t, done, "loop exit")
	if l.Running() {
		t.Error("expected stopped")
	}
	l.Stop()
}

func TestStop_FromCallback(t *testing.T) {
	l := New()

	var mu sync.Mutex
	count := 0
	l.TimerEvent(func() bridge.Delay {
		mu.Lock()
		count++
		mu.Unlock()
		l.Stop()
		return 0
	}, 0)
	l.Start()

	waitClosed(t, l.Done(), "loop exit")

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Errorf("expected a single firing, got %d", count)
	}
	if l.Pending() != 0 {
		t.Errorf("expected timers discarded, got %d", l.Pending())
	}
}

func TestPost_RunsOnLoopInOrder(t *testing.T) {
	l := New()
	defer l.Stop()
	l.Start()

	var got []int
	finished := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() {
			got = append(got, i)
			if i == 4 {
				close(finished)
			}
		})
	}

	waitClosed(t, finished, "posted tasks")
	if !reflect.DeepEqual(got, []int{0, 1, 2, 3, 4}) {
		t.Errorf("expected [0 1 2 3 4], got %v", got)
	}
}

type postedSession struct {
	loop *Loop
	mu   sync.Mutex
	fns  []func(int)
}

func (s *postedSession) OnExit(fn func(int)) {
	s.mu.Lock()
	s.fns = append(s.fns, fn)
	s.mu.Unlock()
}

func (s *postedSession) exit(status int) {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, fn := range fns {
		fn := fn
		s.loop.Post(func() { fn(status) })
	}
}

func (s *postedSession) registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}

func TestLoop_DrivesBridgeScript(t *testing.T) {
	l := New()
	defer l.Stop()

	sess := &postedSession{loop: l}
	bc := bridge.New("loop-test", l)

	var mu sync.Mutex
	var log []string
	record := func(name string) bridge.Func {
		return func(*bridge.Commands) bool {
			mu.Lock()
			log = append(log, name)
			mu.Unlock()
			return true
		}
	}

	bc.AddExecute(record("reset"))
	bc.AddDelay(time.Millisecond)
	bc.AddRepeatStart(0, 2)
	bc.AddExecute(record("write"))
	if err := bc.AddRepeatEnd(); err != nil {
		t.Fatal(err)
	}
	bc.AddWaitExit(sess)
	bc.AddExecute(record("after-exit"))

	if err := bc.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for bc.State() != bridge.StateSuspended || sess.registered() == 0 {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for suspension, state %s", bc.State())
		case <-time.After(time.Millisecond):
		}
	}

	sess.exit(0)
	waitClosed(t, bc.Finished(), "script completion")

	mu.Lock()
	defer mu.Unlock()
	want := []string{"reset", "write", "write", "after-exit"}
	if !reflect.DeepEqual(log, want) {
		t.Errorf("expected %v, got %v", want, log)
	}
	if bc.State() != bridge.StateDone {
		t.Errorf("expected done, got %s", bc.State())
	}
}
