package session

import (
	"testing"
)

type recordingPoster struct {
	posted []func()
}

func (p *recordingPoster) Post(fn func()) {
	p.posted = append(p.posted, fn)
}

func (p *recordingPoster) drain() {
	posted := p.posted
	p.posted = nil
	for _, fn := range posted {
		fn()
	}
}

func TestLocal_ExitFiresCallbacksOnce(t *testing.T) {
	s := NewLocal("s1", nil)

	var got []int
	s.OnExit(func(status int) { got = append(got, status) })
	s.OnExit(func(status int) { got = append(got, status*10) })

	s.Exit(3)
	s.Exit(4)

	if len(got) != 2 || got[0] != 3 || got[1] != 30 {
		t.Errorf("expected [3 30], got %v", got)
	}
	if !s.Exited() || s.Status() != 3 {
		t.Errorf("expected exited with status 3, got exited=%v status=%d", s.Exited(), s.Status())
	}
}

func TestLocal_RegisterAfterExit(t *testing.T) {
	s := NewLocal("s1", nil)
	s.Exit(1)

	called := -1
	s.OnExit(func(status int) { called = status })
	if called != 1 {
		t.Errorf("expected immediate delivery with status 1, got %d", called)
	}
}

func TestLocal_DeliversThroughPoster(t *testing.T) {
	p := &recordingPoster{}
	s := NewLocal("s1", p)

	called := false
	s.OnExit(func(int) { called = true })
	s.Exit(0)

	if called {
		t.Fatal("expected delivery deferred to the poster")
	}
	if len(p.posted) != 1 {
		t.Fatalf("expected 1 posted task, got %d", len(p.posted))
	}
	p.drain()
	if !called {
		t.Error("expected callback after draining poster")
	}
}

func TestLocal_Reset(t *testing.T) {
	s := NewLocal("s1", nil)
	s.Exit(2)
	s.Reset()

	count := 0
	s.OnExit(func(int) { count++ })
	if count != 0 {
		t.Fatal("expected no delivery after reset")
	}
	s.Exit(0)
	if count != 1 {
		t.Errorf("expected 1 delivery, got %d", count)
	}
}
