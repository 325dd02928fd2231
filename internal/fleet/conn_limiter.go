package fleet

import "sync"

// connLimiter is a simple counting semaphore bounding how many
// TestConnection SSH dials the fleet will have in flight at once (the
// Supervisors' own connects are not counted) — adapted from the
// acquire/release slot-tracking pattern used for local process concurrency
// elsewhere in this codebase, simplified here since callers don't need
// per-owner accounting, only a cap.
type connLimiter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	max    int
	inUse  int
}

func newConnLimiter(max int) *connLimiter {
	l := &connLimiter{max: max}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *connLimiter) acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.inUse >= l.max {
		l.cond.Wait()
	}
	l.inUse++
}

func (l *connLimiter) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inUse--
	l.cond.Signal()
}
