package container

import (
	"sync"
	"time"
)

// LockStats accumulates contention statistics for the container's
// exclusive lock, modeled on `osakka-entitydb/src/storage/binary/locks.go`'s
// LockStats: purely observational, never consulted for a decision.
type LockStats struct {
	mu           sync.Mutex
	acquisitions uint64
	totalWait    time.Duration
	maxWait      time.Duration
}

func (s *LockStats) record(wait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquisitions++
	s.totalWait += wait
	if wait > s.maxWait {
		s.maxWait = wait
	}
}

// Snapshot returns the current counters: number of acquisitions, total
// accumulated wait time, and the longest single wait observed.
func (s *LockStats) Snapshot() (acquisitions uint64, totalWait, maxWait time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquisitions, s.totalWait, s.maxWait
}
