package main

import "time"

// Scheduler runs delayed and recurring callbacks on the simulation clock.
// It is owned by a single goroutine (the game loop) and is not safe for
// concurrent use. Callbacks run inside Advance.
type Scheduler struct {
	now    time.Duration
	nextID uint64
	timers map[uint64]*simTimer
}

type simTimer struct {
	id    uint64
	at    time.Duration
	every time.Duration
	fn    func()
}

// NewScheduler creates an empty scheduler at t=0
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[uint64]*simTimer)}
}

// Now returns the current simulation time
func (s *Scheduler) Now() time.Duration { return s.now }

// Pending returns the number of armed timers
func (s *Scheduler) Pending() int { return len(s.timers) }

// After runs fn once, d after the current time. The returned func cancels it.
func (s *Scheduler) After(d time.Duration, fn func()) (cancel func()) {
	return s.add(d, 0, fn)
}

// Every runs fn every d, first at now+d, until cancelled
func (s *Scheduler) Every(d time.Duration, fn func()) (cancel func()) {
	if d <= 0 {
		panic("scheduler: non-positive interval")
	}
	return s.add(d, d, fn)
}

func (s *Scheduler) add(d, every time.Duration, fn func()) func() {
	s.nextID++
	t := &simTimer{id: s.nextID, at: s.now + d, every: every, fn: fn}
	s.timers[t.id] = t
	return func() { delete(s.timers, t.id) }
}

// CancelAll drops every armed timer
func (s *Scheduler) CancelAll() {
	clear(s.timers)
}

// Advance moves the clock forward by d, firing due timers in deadline order
func (s *Scheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		t := s.earliestDue(target)
		if t == nil {
			break
		}
		s.now = t.at
		if t.every > 0 {
			t.at += t.every
		} else {
			delete(s.timers, t.id)
		}
		t.fn()
	}
	s.now = target
}

func (s *Scheduler) earliestDue(target time.Duration) *simTimer {
	var best *simTimer
	for _, t := range s.timers {
		if t.at > target {
			continue
		}
		if best == nil || t.at < best.at || (t.at == best.at && t.id < best.id) {
			best = t
		}
	}
	return best
}
