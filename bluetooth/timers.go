package bluetooth

import (
	"sync"
	"time"
)

// timerSet schedules cancelable deferred work keyed by the operation it
// guards. Scheduling a key that already has a pending timer replaces it:
// the prior timer can no longer fire. Fired work is handed to the
// dispatch queue, and a generation check drops it there if it was
// superseded between firing and running.
type timerSet struct {
	mu       sync.Mutex
	dispatch func(func())
	gens     map[string]uint64
	timers   map[string]*time.Timer
}

func newTimerSet(dispatch func(func())) *timerSet {
	return &timerSet{
		dispatch: dispatch,
		gens:     make(map[string]uint64),
		timers:   make(map[string]*time.Timer),
	}
}

func (t *timerSet) schedule(key string, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.timers[key]; ok {
		prev.Stop()
	}
	t.gens[key]++
	gen := t.gens[key]

	t.timers[key] = time.AfterFunc(d, func() {
		t.dispatch(func() {
			t.mu.Lock()
			live := t.gens[key] == gen
			if live {
				delete(t.timers, key)
			}
			t.mu.Unlock()
			if live {
				fn()
			}
		})
	})
}

func (t *timerSet) cancel(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[key]; ok {
		timer.Stop()
		delete(t.timers, key)
	}
	t.gens[key]++
}

func (t *timerSet) cancelAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key, timer := range t.timers {
		timer.Stop()
		delete(t.timers, key)
		t.gens[key]++
	}
}
