package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestManualClock_FiresInDeadlineOrder(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.AfterFunc(2*time.Second, func() {
		order = append(order, "b")
		c.AfterFunc(500*time.Millisecond, func() { order = append(order, "b2") })
	})

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, []string{"a"}, order)

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b", "b2", "c"}, order)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, time.Unix(0, 0).Add(3500*time.Millisecond), c.Now())
}

func TestManualClock_Stop(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestGroup_ReplaceKeepsOnlyLatest(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	g := NewGroup(c)
	var fired []int
	g.Replace("response", 5*time.Second, func() { fired = append(fired, 1) })
	c.Advance(3 * time.Second)
	g.Replace("response", 5*time.Second, func() { fired = append(fired, 2) })

	c.Advance(3 * time.Second)
	assert.Empty(t, fired)
	c.Advance(2 * time.Second)
	assert.Equal(t, []int{2}, fired)
	assert.Equal(t, 0, g.Pending())
}

func TestGroup_CloseCancelsEverything(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	g := NewGroup(c)
	var fired atomic.Int32
	g.After(time.Second, func() { fired.Add(1) })
	g.Replace("turn", 2*time.Second, func() { fired.Add(1) })
	assert.Equal(t, 2, g.Pending())

	g.Close()
	g.Close()
	assert.True(t, g.Closed())
	assert.False(t, g.After(time.Second, func() { fired.Add(1) }))

	c.Advance(time.Minute)
	assert.EqualValues(t, 0, fired.Load())
	assert.Equal(t, 0, c.Pending())
}

func TestGroup_Cancel(t *testing.T) {
	c := NewManualClock(time.Unix(0, 0))
	g := NewGroup(c)
	fired := false
	g.Replace("k", time.Second, func() { fired = true })
	assert.True(t, g.Cancel("k"))
	assert.False(t, g.Cancel("k"))
	c.Advance(time.Second)
	assert.False(t, fired)
}

func TestGroup_RealClock(t *testing.T) {
	defer goleak.VerifyNone(t)

	g := NewGroup(nil)
	done := make(chan struct{})
	g.After(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("continuation did not fire")
	}

	g.After(time.Hour, func() {})
	g.Close()
	assert.Equal(t, 0, g.Pending())
}
