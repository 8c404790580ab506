package main

import "time"

// Banner is the "new goal" notification queue. Every Push gets its own
// dismissal timer, and the banner is visible while any entry is pending,
// so a goal scored during another goal's window is never dropped.
type Banner struct {
	sched    *Scheduler
	duration time.Duration
	pending  map[uint64]func()
	nextID   uint64
	shown    int
}

// NewBanner creates a banner whose entries expire after duration
func NewBanner(sched *Scheduler, duration time.Duration) *Banner {
	return &Banner{
		sched:    sched,
		duration: duration,
		pending:  make(map[uint64]func()),
	}
}

// Push queues a notification
func (b *Banner) Push() {
	b.nextID++
	id := b.nextID
	b.pending[id] = b.sched.After(b.duration, func() {
		delete(b.pending, id)
	})
	b.shown++
}

// Visible reports whether at least one notification is pending
func (b *Banner) Visible() bool { return len(b.pending) > 0 }

// Pending returns the number of notifications not yet dismissed
func (b *Banner) Pending() int { return len(b.pending) }

// Shown returns how many notifications were ever pushed
func (b *Banner) Shown() int { return b.shown }

// Clear dismisses every notification and cancels their timers
func (b *Banner) Clear() {
	for id, cancel := range b.pending {
		cancel()
		delete(b.pending, id)
	}
}
