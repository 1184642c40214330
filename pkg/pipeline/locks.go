package pipeline

import "sync"

// namedLocks serializes installs per skill name. Two concurrent installs of
// the same skill must not interleave their backup and copy steps; installs
// of different skills proceed independently.
type namedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newNamedLocks() *namedLocks {
	return &namedLocks{
		locks: make(map[string]*sync.Mutex),
	}
}

// acquire locks the mutex for name and returns its unlock function
func (n *namedLocks) acquire(name string) func() {
	n.mu.Lock()
	l, ok := n.locks[name]
	if !ok {
		l = &sync.Mutex{}
		n.locks[name] = l
	}
	n.mu.Unlock()

	l.Lock()
	return l.Unlock
}
