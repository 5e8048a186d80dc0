package supervisor

import (
	"sync"
	"time"
)

const DefaultAssignmentTimeout = 120 * time.Second

// Supervisor owns the bounded wait for agent assignment. Each tracking cycle
// arms the timer with its generation; the owner compares the generation it
// receives from Expired with its own and ignores older ones.
type Supervisor struct {
	timeout time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	gen     int
	armedAt time.Time

	expired chan int
}

func New(timeout time.Duration) *Supervisor {
	if timeout <= 0 {
		timeout = DefaultAssignmentTimeout
	}
	return &Supervisor{
		timeout: timeout,
		expired: make(chan int, 4),
	}
}

func (s *Supervisor) Timeout() time.Duration { return s.timeout }

// Expired delivers the generation of every timer that ran out.
func (s *Supervisor) Expired() <-chan int { return s.expired }

// Start arms the timer for gen, replacing any timer that is still running.
func (s *Supervisor) Start(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen = gen
	s.armedAt = time.Now()
	s.timer = time.AfterFunc(s.timeout, func() { s.fire(gen) })
}

func (s *Supervisor) fire(gen int) {
	s.mu.Lock()
	if s.timer == nil || s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	select {
	case s.expired <- gen:
	default:
		// the owner is gone or far behind, nobody is waiting for this generation
	}
}

// Cancel stops the running timer. It reports whether a timer was active and
// is safe to call any number of times.
func (s *Supervisor) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	return true
}

func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Remaining returns how long the current timer still has to run.
func (s *Supervisor) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer == nil {
		return 0
	}
	left := s.timeout - time.Since(s.armedAt)
	if left < 0 {
		return 0
	}
	return left
}
