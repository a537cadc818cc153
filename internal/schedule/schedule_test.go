package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"mapbingo/server/internal/registry"
)

type counter struct {
	fired atomic.Int32
}

func TestOnceFiresWhileTargetAlive(t *testing.T) {
	dir := registry.NewDirectory[counter]()
	handle, err := dir.Register("c", &counter{})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	done := make(chan struct{})
	Once(handle.Weak(), 5*time.Millisecond, func(c *counter) {
		c.fired.Add(1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never fired")
	}
}

func TestOnceIsNoopAfterTargetRemoved(t *testing.T) {
	dir := registry.NewDirectory[counter]()
	value := &counter{}
	handle, err := dir.Register("c", value)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	Once(handle.Weak(), 10*time.Millisecond, func(c *counter) {
		c.fired.Add(1)
	})
	dir.Remove("c")

	time.Sleep(50 * time.Millisecond)
	if got := value.fired.Load(); got != 0 {
		t.Fatalf("task fired %d times after target removal", got)
	}
}

func TestEveryStopsWhenTargetDisappears(t *testing.T) {
	dir := registry.NewDirectory[counter]()
	value := &counter{}
	handle, err := dir.Register("c", value)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	Every(handle.Weak(), 5*time.Millisecond, func(c *counter) {
		c.fired.Add(1)
	})

	deadline := time.Now().Add(time.Second)
	for value.fired.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("repeating task never ran")
		}
		time.Sleep(time.Millisecond)
	}

	dir.Remove("c")
	time.Sleep(20 * time.Millisecond)
	after := value.fired.Load()
	time.Sleep(50 * time.Millisecond)
	if value.fired.Load() != after {
		t.Fatal("repeating task survived target removal")
	}
}
