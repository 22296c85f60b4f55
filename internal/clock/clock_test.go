package clock

import (
	"testing"
	"time"
)

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })

	c.Advance(2 * time.Second)
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order after 2s = %v", order)
	}
	c.Advance(time.Second)
	if len(order) != 3 || order[2] != "c" {
		t.Fatalf("order after 3s = %v", order)
	}
}

func TestFake_StopPreventsFire(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	if !tm.Stop() {
		t.Fatal("Stop on armed timer should report true")
	}
	if tm.Stop() {
		t.Fatal("second Stop should report false")
	}
	c.Advance(time.Minute)
	if fired {
		t.Fatal("stopped timer fired")
	}
}

func TestFake_CallbackSeesDeadlineAndCanRearm(t *testing.T) {
	start := time.Unix(100, 0)
	c := NewFake(start)
	var seen []time.Time
	var tick func()
	tick = func() {
		seen = append(seen, c.Now())
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3 * time.Second)
	if len(seen) != 3 {
		t.Fatalf("ticks = %d, want 3", len(seen))
	}
	if !seen[2].Equal(start.Add(3 * time.Second)) {
		t.Fatalf("third tick at %v", seen[2])
	}
	if c.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", c.Pending())
	}
}
