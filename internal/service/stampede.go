package service

import "sync"

// stampedeTracker counts cache misses still waiting on the upstream, per
// query key. More than one at a time for a key is a stampede.
type stampedeTracker struct {
	mu      sync.Mutex
	waiting map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{waiting: make(map[string]int)}
}

// enter registers a miss for key. It returns how many misses for key are now
// waiting, this one included, and a func that must be called once the miss
// is resolved.
func (st *stampedeTracker) enter(key string) (int, func()) {
	st.mu.Lock()
	st.waiting[key]++
	n := st.waiting[key]
	st.mu.Unlock()

	var once sync.Once
	return n, func() {
		once.Do(func() { st.leave(key) })
	}
}

func (st *stampedeTracker) leave(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.waiting[key]--; st.waiting[key] <= 0 {
		delete(st.waiting, key)
	}
}

// waitingFor reports the misses currently waiting for key.
func (st *stampedeTracker) waitingFor(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.waiting[key]
}
