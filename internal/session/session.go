// Package session ties a connection to the room and match it participates in.
// Contexts hold weak handles only, so a dropped connection can never keep a
// room or match alive past its deregistration.
package session

import (
	"errors"

	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/match"
	"mapbingo/server/internal/registry"
	"mapbingo/server/internal/room"
)

var (
	// ErrSessionExpired is returned when the underlying room or match is gone.
	ErrSessionExpired = errors.New("session target no longer exists")
	// ErrNotInMatch is returned when building a game context for a player who
	// is not on any frozen roster.
	ErrNotInMatch = errors.New("player is not part of the match")
)

// RoomContext binds a player to a room through its directory. It carries the
// directory so leaving can deregister the room once it closes.
type RoomContext struct {
	rooms   *registry.Directory[room.Room]
	target  registry.Weak[room.Room]
	profile room.Profile
	log     *logging.Logger
}

// NewRoomContext wraps the weak room handle for the given player.
func NewRoomContext(rooms *registry.Directory[room.Room], target registry.Weak[room.Room], profile room.Profile, log *logging.Logger) *RoomContext {
	if log == nil {
		log = logging.L()
	}
	return &RoomContext{rooms: rooms, target: target, profile: profile, log: log}
}

// Profile returns the player this context belongs to.
func (c *RoomContext) Profile() room.Profile { return c.profile }

// Alive reports whether the room is still registered.
func (c *RoomContext) Alive() bool { return c.target.Alive() }

// Weak exposes the underlying weak handle, for hooks that outlive the context.
func (c *RoomContext) Weak() registry.Weak[room.Room] { return c.target }

// Do runs fn under the room's entry lock. Returns false when the room is gone.
func (c *RoomContext) Do(fn func(*room.Room)) bool {
	handle, ok := c.target.Upgrade()
	if !ok {
		return false
	}
	handle.Do(fn)
	return true
}

// Leave removes the player from the room and deregisters the room if it
// closed as a result. Safe to call on an already-gone room.
func (c *RoomContext) Leave() {
	handle, ok := c.target.Upgrade()
	if !ok {
		return
	}
	closed := false
	handle.Do(func(r *room.Room) {
		r.RemovePlayer(c.profile.PlayerUID)
		closed = r.CheckClose()
	})
	if closed {
		c.rooms.RemoveByIdentity(handle)
		c.log.Info("room deregistered",
			logging.String("room", handle.Key()),
			logging.String("player_uid", c.profile.PlayerUID))
	}
}

// SetDisconnected flags the membership while a reconnect window is open.
func (c *RoomContext) SetDisconnected(disconnected bool) {
	c.Do(func(r *room.Room) {
		r.MarkDisconnected(c.profile.PlayerUID, disconnected)
	})
}

// GameContext binds a player to a live match with their team resolved once at
// construction time, mirroring the frozen roster.
type GameContext struct {
	target registry.Weak[match.LiveMatch]
	team   match.GameTeam
}

// NewGameContext resolves the player's team on the match roster. Fails when
// the match is gone or the player is not part of it.
func NewGameContext(target registry.Weak[match.LiveMatch], playerUID string) (*GameContext, error) {
	handle, ok := target.Upgrade()
	if !ok {
		return nil, ErrSessionExpired
	}
	var team match.GameTeam
	found := false
	handle.Do(func(m *match.LiveMatch) {
		team, found = m.TeamOf(playerUID)
	})
	if !found {
		return nil, ErrNotInMatch
	}
	return &GameContext{target: target, team: team}, nil
}

// Team returns the player's frozen team.
func (c *GameContext) Team() match.GameTeam { return c.team }

// Alive reports whether the match is still registered.
func (c *GameContext) Alive() bool { return c.target.Alive() }

// Do runs fn under the match's entry lock. Returns false when the match ended
// and was deregistered.
func (c *GameContext) Do(fn func(*match.LiveMatch)) bool {
	handle, ok := c.target.Upgrade()
	if !ok {
		return false
	}
	handle.Do(fn)
	return true
}
