package fiber

import (
	"reflect"
	"testing"
)

func TestInterleave(t *testing.T) {
	s := NewScheduler()
	defer s.Close()
	var order []string
	s.Spawn(func() {
		order = append(order, "a1")
		s.Yield()
		order = append(order, "a2")
	})
	s.Spawn(func() {
		order = append(order, "b1")
		s.Yield()
		order = append(order, "b2")
	})
	for s.Runnable() > 1 {
		order = append(order, "main")
		s.Yield()
	}
	expect := []string{"main", "a1", "b1", "main", "a2", "b2"}
	if !reflect.DeepEqual(order, expect) {
		t.Fatalf("bad order: %v, expected %v", order, expect)
	}
	if s.Current() != s.Main() {
		t.Fatal("baton not back on main fiber")
	}
}

func TestStopStart(t *testing.T) {
	s := NewScheduler()
	defer s.Close()
	steps := 0
	var f *Fiber
	f = s.Spawn(func() {
		steps++
		f.Stop()
		s.Yield()
		steps++
	})
	s.Yield()
	if steps != 1 {
		t.Fatalf("steps = %d after first yield", steps)
	}
	if f.Runnable() || !s.LastFiber() {
		t.Fatal("stopped fiber still runnable")
	}
	// nothing else can run, so this returns immediately
	s.Yield()
	if steps != 1 {
		t.Fatal("stopped fiber ran")
	}
	f.Start()
	s.Yield()
	if steps != 2 || !f.Done() {
		t.Fatalf("fiber did not finish after Start: steps=%d", steps)
	}
	f.Start()
	if f.Runnable() {
		t.Fatal("finished fiber became runnable")
	}
}

func TestClose(t *testing.T) {
	s := NewScheduler()
	reached := false
	var f *Fiber
	f = s.Spawn(func() {
		f.Stop()
		s.Yield()
		reached = true
	})
	g := s.Spawn(func() { reached = true })
	g.Stop()
	s.Yield()
	s.Close()
	if reached {
		t.Fatal("closed fiber resumed its function")
	}
	if !f.Done() || !g.Done() {
		t.Fatal("Close left fibers alive")
	}
	if s.Runnable() != 1 {
		t.Fatalf("Runnable() = %d after Close", s.Runnable())
	}
}

func TestPanicReachesMain(t *testing.T) {
	s := NewScheduler()
	defer s.Close()
	s.Spawn(func() { panic("boom") })
	defer func() {
		r := recover()
		p, ok := r.(*Panic)
		if !ok {
			t.Fatalf("expected *Panic, got %#v", r)
		}
		if p.Value != "boom" || len(p.Stack) == 0 {
			t.Fatalf("bad panic: %v", p)
		}
	}()
	s.Yield()
	t.Fatal("Yield returned after fiber panic")
}
