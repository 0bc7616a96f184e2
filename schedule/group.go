package schedule

import (
	"sync"
	"time"
)

// Group tracks the pending continuations of one owner. It is safe for
// concurrent use.
type Group struct {
	clock  Clock
	mu     sync.Mutex
	seq    uint64
	timers map[uint64]Timer
	keyed  map[string]uint64
	closed bool
}

// NewGroup creates an open group on clock.
func NewGroup(clock Clock) *Group {
	if clock == nil {
		clock = RealClock{}
	}
	return &Group{clock: clock, timers: map[uint64]Timer{}, keyed: map[string]uint64{}}
}

// After schedules fn after d. It reports false when the group is closed.
func (g *Group) After(d time.Duration, fn func()) bool {
	return g.schedule("", d, fn)
}

// Replace schedules fn after d under key, stopping any continuation already
// pending under the same key.
func (g *Group) Replace(key string, d time.Duration, fn func()) bool {
	return g.schedule(key, d, fn)
}

func (g *Group) schedule(key string, d time.Duration, fn func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	if key != "" {
		g.stopKeyLocked(key)
	}
	g.seq++
	id := g.seq
	g.timers[id] = g.clock.AfterFunc(d, func() { g.fire(id, key, fn) })
	if key != "" {
		g.keyed[key] = id
	}
	return true
}

func (g *Group) fire(id uint64, key string, fn func()) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	if _, ok := g.timers[id]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.timers, id)
	if key != "" && g.keyed[key] == id {
		delete(g.keyed, key)
	}
	g.mu.Unlock()
	fn()
}

// Cancel stops the continuation pending under key. It reports whether one
// was pending.
func (g *Group) Cancel(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopKeyLocked(key)
}

func (g *Group) stopKeyLocked(key string) bool {
	id, ok := g.keyed[key]
	if !ok {
		return false
	}
	delete(g.keyed, key)
	t, ok := g.timers[id]
	if !ok {
		return false
	}
	delete(g.timers, id)
	t.Stop()
	return true
}

// Close stops every pending continuation; later scheduling is refused.
// Close is idempotent.
func (g *Group) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	for id, t := range g.timers {
		t.Stop()
		delete(g.timers, id)
	}
	g.keyed = map[string]uint64{}
}

// Closed reports whether Close was called.
func (g *Group) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Pending returns the number of continuations waiting to fire.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.timers)
}

// Clock returns the group's clock.
func (g *Group) Clock() Clock { return g.clock }
