package compiler

import "sync"

// DefTracker remembers the hash of the last compiled body of each
// top-level definition so unchanged definitions can be skipped.
type DefTracker struct {
	hashes map[string]string
	mu     sync.Mutex
}

// NewDefTracker creates an empty tracker.
func NewDefTracker() *DefTracker {
	return &DefTracker{hashes: make(map[string]string)}
}

// Changed reports whether qualified has never been recorded or was recorded
// with a different hash.
func (t *DefTracker) Changed(qualified, hash string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.hashes[qualified]
	return !ok || prev != hash
}

// Record stores hash as the current body of qualified.
func (t *DefTracker) Record(qualified, hash string) {
	t.mu.Lock()
	t.hashes[qualified] = hash
	t.mu.Unlock()
}

// Forget drops qualified so the next compile of it is never skipped.
func (t *DefTracker) Forget(qualified string) {
	t.mu.Lock()
	delete(t.hashes, qualified)
	t.mu.Unlock()
}
