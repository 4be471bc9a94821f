package coordinator

import (
	"time"

	"github.com/SofiaNunes/distcoord/internal/syncutil"
)

// stopwatch is a wall-clock timer started once when a fragment instance's
// ExecPlanFragment RPC is accepted and stopped once it reports done
// (spec.md §3). It is safe to read concurrently with Stop/Start.
type stopwatch struct {
	mu      syncutil.Mutex
	start   time.Time
	elapsed time.Duration
	running bool
}

func (s *stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.start = time.Now()
}

func (s *stopwatch) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.elapsed += time.Since(s.start)
	s.running = false
}

func (s *stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.elapsed + time.Since(s.start)
	}
	return s.elapsed
}
