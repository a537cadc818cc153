package session

import (
	"sync"
	"time"

	"mapbingo/server/internal/logging"
)

// State is everything a reconnecting client gets back: the room binding and,
// when a match was live at disconnect time, the game binding.
type State struct {
	Room *RoomContext
	Game *GameContext
}

type lingerEntry struct {
	state *State
	timer *time.Timer
}

// LingerStore parks session state for players whose connection dropped. A
// reconnect within the window resumes the parked state; once the window
// elapses the player is removed from their room for real.
type LingerStore struct {
	mu      sync.Mutex
	window  time.Duration
	entries map[string]*lingerEntry
	log     *logging.Logger
}

// NewLingerStore constructs a store with the given grace window.
func NewLingerStore(window time.Duration, log *logging.Logger) *LingerStore {
	if log == nil {
		log = logging.L()
	}
	return &LingerStore{
		window:  window,
		entries: make(map[string]*lingerEntry),
		log:     log,
	}
}

// Put parks the state for the player behind it. The room membership is marked
// disconnected so the lobby can render the player as away. A second Put for
// the same player replaces the first and rearms the window.
func (s *LingerStore) Put(state *State) {
	if state == nil || state.Room == nil {
		return
	}
	uid := state.Room.Profile().PlayerUID
	state.Room.SetDisconnected(true)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.entries[uid]; ok {
		old.timer.Stop()
	}
	entry := &lingerEntry{state: state}
	entry.timer = time.AfterFunc(s.window, func() { s.expire(uid, state) })
	s.entries[uid] = entry
	s.log.Info("session lingering",
		logging.String("player_uid", uid),
		logging.Duration("window", s.window))
}

// Take resumes a parked session. Returns false when no session lingers for the
// player or its room has since been deregistered.
func (s *LingerStore) Take(playerUID string) (*State, bool) {
	s.mu.Lock()
	entry, ok := s.entries[playerUID]
	if ok {
		entry.timer.Stop()
		delete(s.entries, playerUID)
	}
	s.mu.Unlock()

	if !ok {
		return nil, false
	}
	if !entry.state.Room.Alive() {
		return nil, false
	}
	entry.state.Room.SetDisconnected(false)
	//1.- A match that ended while the player was away is not resumed.
	if entry.state.Game != nil && !entry.state.Game.Alive() {
		entry.state.Game = nil
	}
	s.log.Info("session resumed", logging.String("player_uid", playerUID))
	return entry.state, true
}

// Len reports the number of lingering sessions.
func (s *LingerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *LingerStore) expire(playerUID string, state *State) {
	s.mu.Lock()
	entry, ok := s.entries[playerUID]
	// A replacing Put swapped the entry: this timer no longer owns it.
	if !ok || entry.state != state {
		s.mu.Unlock()
		return
	}
	delete(s.entries, playerUID)
	s.mu.Unlock()

	s.log.Info("session expired", logging.String("player_uid", playerUID))
	state.Room.Leave()
}
