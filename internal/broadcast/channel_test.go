package broadcast

import (
	"errors"
	"testing"

	"mapbingo/server/internal/events"
	"mapbingo/server/internal/logging"
)

type recordingSink struct {
	delivered int
	fail      bool
}

func (s *recordingSink) Deliver(payload []byte) error {
	if s.fail {
		return errors.New("sink closed")
	}
	s.delivered++
	return nil
}

func TestBroadcastPrunesDeadSinks(t *testing.T) {
	ch := NewChannel(logging.NewTestLogger())
	alive1 := &recordingSink{}
	alive2 := &recordingSink{}
	dead := &recordingSink{fail: true}
	ch.Subscribe("p1", alive1)
	ch.Subscribe("p2", alive2)
	ch.Subscribe("p3", dead)

	ch.Broadcast(events.ChatEvent{PlayerUID: "p1", Body: "hello"})

	if alive1.delivered != 1 || alive2.delivered != 1 {
		t.Fatalf("live sinks not delivered: %d, %d", alive1.delivered, alive2.delivered)
	}
	if ch.Len() != 2 {
		t.Fatalf("dead sink not pruned, %d subscribers remain", ch.Len())
	}

	ch.Broadcast(events.ChatEvent{PlayerUID: "p1", Body: "again"})
	if alive1.delivered != 2 || alive2.delivered != 2 {
		t.Fatalf("second broadcast incomplete: %d, %d", alive1.delivered, alive2.delivered)
	}
}

func TestSubscribeOverwritesExistingSink(t *testing.T) {
	ch := NewChannel(logging.NewTestLogger())
	first := &recordingSink{}
	second := &recordingSink{}
	ch.Subscribe("p1", first)
	ch.Subscribe("p1", second)

	ch.Broadcast(events.ChatEvent{Body: "x"})
	if first.delivered != 0 {
		t.Fatalf("replaced sink still receiving: %d", first.delivered)
	}
	if second.delivered != 1 {
		t.Fatalf("active sink missed broadcast: %d", second.delivered)
	}
}

func TestUnsubscribeAbsentIsNoop(t *testing.T) {
	ch := NewChannel(logging.NewTestLogger())
	ch.Unsubscribe("ghost")
	if ch.Len() != 0 {
		t.Fatalf("unexpected subscribers: %d", ch.Len())
	}
}

func TestCloneCarriesSubscribers(t *testing.T) {
	ch := NewChannel(logging.NewTestLogger())
	sink := &recordingSink{}
	ch.Subscribe("p1", sink)

	clone := ch.Clone()
	clone.Broadcast(events.ChatEvent{Body: "moved"})
	if sink.delivered != 1 {
		t.Fatalf("clone did not deliver: %d", sink.delivered)
	}

	// Clone is independent of the source channel afterwards.
	clone.Unsubscribe("p1")
	if ch.Len() != 1 {
		t.Fatalf("source channel mutated by clone: %d", ch.Len())
	}
}

func TestSendTargetsSingleSubscriber(t *testing.T) {
	ch := NewChannel(logging.NewTestLogger())
	a := &recordingSink{}
	b := &recordingSink{}
	ch.Subscribe("a", a)
	ch.Subscribe("b", b)

	if err := ch.Send("a", events.ErrorEvent{Code: "room_full", Message: "room is full"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if a.delivered != 1 || b.delivered != 0 {
		t.Fatalf("send leaked: a=%d b=%d", a.delivered, b.delivered)
	}
}
