package session

import (
	"fmt"
	"testing"
	"time"

	"mapbingo/server/internal/broadcast"
	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/maps"
	"mapbingo/server/internal/match"
	"mapbingo/server/internal/registry"
	"mapbingo/server/internal/room"
)

func newTestRoom(t *testing.T) (*registry.Directory[room.Room], *registry.Handle[room.Room]) {
	t.Helper()
	rooms := registry.NewDirectory[room.Room]()
	r := room.New("424242", room.Config{Name: "lobby"}, match.Config{GridSize: 3, Mode: "race"},
		broadcast.NewChannel(logging.NewTestLogger()), logging.NewTestLogger())
	handle, err := rooms.Register("424242", r)
	if err != nil {
		t.Fatalf("register room: %v", err)
	}
	return rooms, handle
}

func join(t *testing.T, handle *registry.Handle[room.Room], uid string, operator bool) room.Profile {
	t.Helper()
	profile := room.Profile{PlayerUID: uid, AccountID: "acct-" + uid, Name: "Player " + uid}
	var joinErr error
	handle.Do(func(r *room.Room) {
		_, joinErr = r.AddPlayer(profile, operator)
	})
	if joinErr != nil {
		t.Fatalf("join %s: %v", uid, joinErr)
	}
	return profile
}

func TestLeaveDeregistersOperatorlessRoom(t *testing.T) {
	rooms, handle := newTestRoom(t)
	profile := join(t, handle, "p1", true)

	ctx := NewRoomContext(rooms, handle.Weak(), profile, logging.NewTestLogger())
	ctx.Leave()

	if rooms.Len() != 0 {
		t.Fatalf("room still registered after operator left: %d", rooms.Len())
	}
	if ctx.Alive() {
		t.Fatal("context still reports the room alive")
	}
	// A second Leave must be harmless.
	ctx.Leave()
}

func TestLeaveKeepsRoomWithRemainingOperator(t *testing.T) {
	rooms, handle := newTestRoom(t)
	join(t, handle, "host", true)
	guest := join(t, handle, "guest", false)

	ctx := NewRoomContext(rooms, handle.Weak(), guest, logging.NewTestLogger())
	ctx.Leave()

	if rooms.Len() != 1 {
		t.Fatalf("room deregistered although the host remains: %d", rooms.Len())
	}
	handle.Do(func(r *room.Room) {
		if _, ok := r.Member("guest"); ok {
			t.Fatal("guest still on the roster")
		}
	})
}

func newTestMatch(t *testing.T) (*registry.Directory[match.LiveMatch], registry.Weak[match.LiveMatch]) {
	t.Helper()
	pool := make([]maps.Map, 9)
	for i := range pool {
		pool[i] = maps.Map{UID: fmt.Sprintf("m%d", i)}
	}
	teams := []match.GameTeam{
		{ID: 1, Name: "Cherry", Players: []match.GamePlayer{{PlayerUID: "p1", Name: "One"}}},
		{ID: 2, Name: "Marine", Players: []match.GamePlayer{{PlayerUID: "p2", Name: "Two"}}},
	}
	m, err := match.New(match.Config{GridSize: 3, Mode: "race"}, teams, pool,
		broadcast.NewChannel(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("new match: %v", err)
	}
	matches := registry.NewDirectory[match.LiveMatch]()
	handle, err := matches.Register(m.UID(), m)
	if err != nil {
		t.Fatalf("register match: %v", err)
	}
	return matches, handle.Weak()
}

func TestGameContextResolvesTeam(t *testing.T) {
	_, weak := newTestMatch(t)

	gctx, err := NewGameContext(weak, "p2")
	if err != nil {
		t.Fatalf("game context: %v", err)
	}
	if gctx.Team().ID != 2 {
		t.Fatalf("wrong team resolved: %d", gctx.Team().ID)
	}

	if _, err := NewGameContext(weak, "stranger"); err != ErrNotInMatch {
		t.Fatalf("expected ErrNotInMatch, got %v", err)
	}
}

func TestGameContextFailsOnEndedMatch(t *testing.T) {
	matches, weak := newTestMatch(t)
	for _, h := range matches.Handles() {
		matches.Remove(h.Key())
	}
	if _, err := NewGameContext(weak, "p1"); err != ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestLingerResumeWithinWindow(t *testing.T) {
	rooms, handle := newTestRoom(t)
	profile := join(t, handle, "p1", true)
	ctx := NewRoomContext(rooms, handle.Weak(), profile, logging.NewTestLogger())

	store := NewLingerStore(time.Minute, logging.NewTestLogger())
	store.Put(&State{Room: ctx})

	handle.Do(func(r *room.Room) {
		m, _ := r.Member("p1")
		if !m.Disconnected {
			t.Fatal("lingering member not marked disconnected")
		}
	})

	state, ok := store.Take("p1")
	if !ok {
		t.Fatal("resume failed within the window")
	}
	if state.Room != ctx {
		t.Fatal("resumed a different context")
	}
	handle.Do(func(r *room.Room) {
		m, _ := r.Member("p1")
		if m.Disconnected {
			t.Fatal("resumed member still marked disconnected")
		}
	})
	if store.Len() != 0 {
		t.Fatalf("entry not cleared after resume: %d", store.Len())
	}
}

func TestLingerExpiryRemovesPlayer(t *testing.T) {
	rooms, handle := newTestRoom(t)
	profile := join(t, handle, "p1", true)
	ctx := NewRoomContext(rooms, handle.Weak(), profile, logging.NewTestLogger())

	store := NewLingerStore(20*time.Millisecond, logging.NewTestLogger())
	store.Put(&State{Room: ctx})

	deadline := time.After(time.Second)
	for rooms.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("expiry never removed the lone operator's room")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if _, ok := store.Take("p1"); ok {
		t.Fatal("expired session still resumable")
	}
}

func TestLingerTakeFailsWhenRoomGone(t *testing.T) {
	rooms, handle := newTestRoom(t)
	profile := join(t, handle, "p1", true)
	ctx := NewRoomContext(rooms, handle.Weak(), profile, logging.NewTestLogger())

	store := NewLingerStore(time.Minute, logging.NewTestLogger())
	store.Put(&State{Room: ctx})

	rooms.Remove("424242")
	if _, ok := store.Take("p1"); ok {
		t.Fatal("resumed a session whose room is gone")
	}
}
