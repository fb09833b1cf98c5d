package agent

import "sync"

// threadLocks enforces the single-active-turn-per-thread invariant inside
// one process: a second turn against a held thread is rejected rather than
// queued, so message ordering can never interleave.
type threadLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newThreadLocks() *threadLocks {
	return &threadLocks{held: make(map[string]struct{})}
}

// acquire returns false if the thread already has an active turn.
func (l *threadLocks) acquire(threadID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[threadID]; busy {
		return false
	}
	l.held[threadID] = struct{}{}
	return true
}

func (l *threadLocks) release(threadID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, threadID)
}
