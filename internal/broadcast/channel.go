// Package broadcast implements the per-room publish/subscribe fan-out used to
// push events to connected players.
package broadcast

import (
	"sync"

	"mapbingo/server/internal/events"
	"mapbingo/server/internal/logging"
)

// Sink receives serialized events for a single player. Deliver must not block;
// a sink whose buffer is full or whose connection is gone returns an error and
// is pruned on the next broadcast.
type Sink interface {
	Deliver(payload []byte) error
}

// Channel fans events out to every subscribed player, keyed by player id.
type Channel struct {
	mu    sync.Mutex
	sinks map[string]Sink
	log   *logging.Logger
}

// NewChannel constructs an empty channel.
func NewChannel(log *logging.Logger) *Channel {
	if log == nil {
		log = logging.L()
	}
	return &Channel{sinks: make(map[string]Sink), log: log}
}

// Subscribe registers or overwrites the sink for the given player id.
func (c *Channel) Subscribe(playerID string, sink Sink) {
	if playerID == "" || sink == nil {
		return
	}
	c.mu.Lock()
	c.sinks[playerID] = sink
	c.mu.Unlock()
}

// Unsubscribe removes the sink for the given player id, if present.
func (c *Channel) Unsubscribe(playerID string) {
	c.mu.Lock()
	delete(c.sinks, playerID)
	c.mu.Unlock()
}

// Len reports the current subscriber count.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sinks)
}

// Broadcast serializes the event once and attempts delivery to every
// subscriber. Failed sinks are removed; partial delivery is silent.
func (c *Channel) Broadcast(event events.Event) {
	payload, err := events.Marshal(event)
	if err != nil {
		c.log.Error("marshal broadcast event", logging.String("kind", string(event.EventKind())), logging.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var dead []string
	for id, sink := range c.sinks {
		if err := sink.Deliver(payload); err != nil {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		delete(c.sinks, id)
	}
	if len(dead) > 0 {
		c.log.Debug("pruned dead subscribers", logging.Int("count", len(dead)))
	}
}

// Send delivers the event to a single subscriber only.
func (c *Channel) Send(playerID string, event events.Event) error {
	payload, err := events.Marshal(event)
	if err != nil {
		return err
	}
	c.mu.Lock()
	sink, ok := c.sinks[playerID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return sink.Deliver(payload)
}

// Clone constructs a new channel carrying all current subscribers. Used when a
// room hands its audience to a starting match so nobody has to resubscribe.
func (c *Channel) Clone() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := &Channel{sinks: make(map[string]Sink, len(c.sinks)), log: c.log}
	for id, sink := range c.sinks {
		clone.sinks[id] = sink
	}
	return clone
}
