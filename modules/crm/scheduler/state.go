package scheduler

import (
	"sync"
	"time"
)

// Status is a read-only snapshot of loop progress.
type Status struct {
	ReviewRuns     uint64
	ReviewPlanned  uint64
	ReviewErrors   uint64
	LastReviewAt   time.Time
	DispatchRuns   uint64
	TurnsSent      uint64
	TurnsBlocked   uint64
	TurnErrors     uint64
	LastDispatchAt time.Time
}

// State carries shared loop counters. It is injected into both loops
// explicitly so there is no ambient global, and exposed read-only through
// Status().
type State struct {
	mu     sync.Mutex
	status Status
}

func NewState() *State {
	return &State{}
}

func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *State) recordReview(planned int, at time.Time, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.ReviewRuns++
	s.status.ReviewPlanned += uint64(planned)
	s.status.LastReviewAt = at
	if failed {
		s.status.ReviewErrors++
	}
}

func (s *State) recordDispatch(sent, blocked, failed int, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.DispatchRuns++
	s.status.TurnsSent += uint64(sent)
	s.status.TurnsBlocked += uint64(blocked)
	s.status.TurnErrors += uint64(failed)
	s.status.LastDispatchAt = at
}
