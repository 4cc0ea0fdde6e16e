package assignment

import (
	"strings"
	"sync"
)

// rotation is the process-wide round-robin table. Positions are not
// durable: a restart rotates from index 0 for every key.
type rotation struct {
	mu   sync.Mutex
	next map[string]int
}

func newRotation() *rotation {
	return &rotation{next: make(map[string]int)}
}

// key builds the rotation key for a selection scope.
func rotationKey(teamID, role, workflowID string) string {
	return strings.Join([]string{teamID, role, workflowID}, "|")
}

// pick returns the next index in [0, n) for the key and advances it.
func (r *rotation) pick(key string, n int) int {
	if n <= 0 {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := r.next[key] % n
	r.next[key] = (idx + 1) % n
	return idx
}
