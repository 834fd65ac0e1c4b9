package subscription

import (
	"sync"
	"time"
)

// Scheduler holds at most one pending expiry per user. Arming a user again
// replaces the pending timer so only the latest one fires.
type Scheduler struct {
	mu      sync.Mutex
	period  time.Duration
	fire    func(userID string)
	timers  map[string]*expiry
	seq     uint64
	stopped bool
	onCount func(n int)
}

type expiry struct {
	timer *time.Timer
	seq   uint64
}

// NewScheduler returns a scheduler that calls fire for a user period after each Arm.
// onCount, when non-nil, receives the number of pending timers after every change.
func NewScheduler(period time.Duration, fire func(userID string), onCount func(n int)) *Scheduler {
	return &Scheduler{
		period:  period,
		fire:    fire,
		timers:  make(map[string]*expiry),
		onCount: onCount,
	}
}

// Arm schedules the user's expiry one period from now, cancelling any
// pending one. It reports whether a pending timer was replaced.
func (s *Scheduler) Arm(userID string) bool {
	return s.ArmAfter(userID, s.period)
}

// ArmAfter is Arm with an explicit delay. A non-positive delay fires at once.
func (s *Scheduler) ArmAfter(userID string, d time.Duration) bool {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}

	replaced := false
	if prev, ok := s.timers[userID]; ok {
		prev.timer.Stop()
		replaced = true
	}
	s.seq++
	seq := s.seq
	s.timers[userID] = &expiry{
		seq:   seq,
		timer: time.AfterFunc(d, func() { s.run(userID, seq) }),
	}
	s.report()
	return replaced
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop cancels every pending timer and rejects later Arm calls.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
	s.report()
}

func (s *Scheduler) run(userID string, seq uint64) {
	s.mu.Lock()
	cur, ok := s.timers[userID]
	// A timer that lost the race with Arm or Stop must not fire.
	if !ok || cur.seq != seq {
		s.mu.Unlock()
		return
	}
	delete(s.timers, userID)
	s.report()
	s.mu.Unlock()

	s.fire(userID)
}

func (s *Scheduler) report() {
	if s.onCount != nil {
		s.onCount(len(s.timers))
	}
}
