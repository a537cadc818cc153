// Package room implements the pre-match lobby: membership, teams,
// configuration, and the transition into a live match.
package room

import (
	"errors"
	"math/rand"
	"time"

	"mapbingo/server/internal/broadcast"
	"mapbingo/server/internal/events"
	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/maps"
	"mapbingo/server/internal/match"
	"mapbingo/server/internal/registry"
)

var (
	// ErrRoomFull is returned when a join would exceed the configured size cap.
	ErrRoomFull = errors.New("room is at capacity")
	// ErrHasStarted is returned for joins and team changes while a match is live.
	ErrHasStarted = errors.New("room already has an active match")
	// ErrRoomClosed is returned for operations on a room that deregistered itself.
	ErrRoomClosed = errors.New("room is closed")
	// ErrNotMember is returned when the player is not part of the room.
	ErrNotMember = errors.New("player is not a member of this room")
	// ErrMapsNotReady is returned when starting a match before maps are loaded.
	ErrMapsNotReady = errors.New("maps are not loaded yet")
)

// Profile identifies a player across connections.
type Profile struct {
	PlayerUID string
	AccountID string
	Name      string
}

// Config is the host-tunable lobby configuration.
type Config struct {
	Name      string
	Public    bool
	Size      int
	Randomize bool
}

// Membership tracks one player's state inside a room.
type Membership struct {
	Profile
	TeamID       int
	Operator     bool
	Disconnected bool
}

// Room owns lobby state. All methods assume the caller holds the room's
// registry entry lock; Room performs no internal locking. Methods that
// broadcast do so through non-blocking sinks, so holding the lock is safe.
type Room struct {
	joinCode  string
	cfg       Config
	matchCfg  match.Config
	members   []*Membership
	teams     *teamSet
	createdAt time.Time

	mapPool       []maps.Map
	loadMarker    int
	appliedMarker int

	channel *broadcast.Channel
	listing *broadcast.Channel

	activeMatch *registry.Weak[match.LiveMatch]
	closed      bool

	now func() time.Time
	log *logging.Logger
}

// Option configures optional Room behaviour at construction time.
type Option func(*Room)

// WithClock injects a deterministic time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(r *Room) {
		if clock != nil {
			r.now = clock
		}
	}
}

// New constructs a room under the given join code with two palette teams.
func New(joinCode string, cfg Config, matchCfg match.Config, listing *broadcast.Channel, log *logging.Logger, opts ...Option) *Room {
	if log == nil {
		log = logging.L()
	}
	r := &Room{
		joinCode: joinCode,
		cfg:      cfg,
		matchCfg: matchCfg,
		teams:    newTeamSet(),
		channel:  broadcast.NewChannel(log),
		listing:  listing,
		now:      time.Now,
		log:      log.With(logging.String("room", joinCode)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.createdAt = r.now()
	// Rooms open with two teams so versus play works without any setup.
	_, _ = r.teams.Create()
	_, _ = r.teams.Create()
	return r
}

// JoinCode returns the immutable join code.
func (r *Room) JoinCode() string { return r.joinCode }

// Config returns the current lobby configuration.
func (r *Room) Config() Config { return r.cfg }

// MatchConfig returns the current match settings.
func (r *Room) MatchConfig() match.Config { return r.matchCfg }

// CreatedAt reports when the room was created.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// Channel exposes the room's broadcast channel for subscriber management.
func (r *Room) Channel() *broadcast.Channel { return r.channel }

// Closed reports whether the room has deregistered itself.
func (r *Room) Closed() bool { return r.closed }

// MatchActive reports whether a live match is currently attached.
func (r *Room) MatchActive() bool {
	return r.activeMatch != nil && r.activeMatch.Alive()
}

// ActiveMatch returns the weak handle to the live match, if any.
func (r *Room) ActiveMatch() (registry.Weak[match.LiveMatch], bool) {
	if r.activeMatch == nil {
		return registry.Weak[match.LiveMatch]{}, false
	}
	return *r.activeMatch, r.activeMatch.Alive()
}

// Member looks up a membership by player uid.
func (r *Room) Member(playerUID string) (*Membership, bool) {
	for _, m := range r.members {
		if m.PlayerUID == playerUID {
			return m, true
		}
	}
	return nil, false
}

// IsOperator reports whether the player may perform privileged operations.
func (r *Room) IsOperator(playerUID string) bool {
	m, ok := r.Member(playerUID)
	return ok && m.Operator
}

// MemberCount returns the current roster size.
func (r *Room) MemberCount() int { return len(r.members) }

// Members returns a copy of the roster.
func (r *Room) Members() []Membership {
	out := make([]Membership, len(r.members))
	for i, m := range r.members {
		out[i] = *m
	}
	return out
}

// Teams returns a copy of the team list.
func (r *Room) Teams() []Team { return r.teams.All() }

// AddPlayer admits a player, assigning them to the first existing team. Team
// sorting on join is a deliberate simplification, not automatic balancing.
func (r *Room) AddPlayer(profile Profile, operator bool) (*Membership, error) {
	if r.closed {
		return nil, ErrRoomClosed
	}
	// A returning member does not grow the roster, so the capacity and
	// match gates do not apply to them.
	if existing, ok := r.Member(profile.PlayerUID); ok {
		existing.Disconnected = false
		r.broadcastMembers()
		return existing, nil
	}
	if r.MatchActive() {
		return nil, ErrHasStarted
	}
	if r.cfg.Size != 0 && len(r.members) >= r.cfg.Size {
		return nil, ErrRoomFull
	}
	team, ok := r.teams.First()
	if !ok {
		return nil, ErrNoSuchTeam
	}
	member := &Membership{Profile: profile, TeamID: team.ID, Operator: operator}
	r.members = append(r.members, member)
	r.log.Info("player joined", logging.String("player_uid", profile.PlayerUID), logging.Int("players", len(r.members)))
	r.broadcastMembers()
	r.publishListing()
	return member, nil
}

// RemovePlayer drops a player from the roster. Always succeeds; removing an
// absent player is a no-op.
func (r *Room) RemovePlayer(playerUID string) bool {
	for i, m := range r.members {
		if m.PlayerUID == playerUID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			r.log.Info("player left", logging.String("player_uid", playerUID), logging.Int("players", len(r.members)))
			r.broadcastMembers()
			r.publishListing()
			return true
		}
	}
	return false
}

// MarkDisconnected flags a member as disconnected without removing them, used
// while their reconnection grace window is open.
func (r *Room) MarkDisconnected(playerUID string, disconnected bool) {
	if m, ok := r.Member(playerUID); ok {
		m.Disconnected = disconnected
		r.broadcastMembers()
	}
}

// ChangeTeam moves a player onto another team. Team membership is frozen while
// a match is live.
func (r *Room) ChangeTeam(playerUID string, teamID int) error {
	if r.MatchActive() {
		return ErrHasStarted
	}
	member, ok := r.Member(playerUID)
	if !ok {
		return ErrNotMember
	}
	if _, ok := r.teams.ByID(teamID); !ok {
		return ErrNoSuchTeam
	}
	member.TeamID = teamID
	r.broadcastMembers()
	return nil
}

// ShuffleTeams redistributes every member over the existing teams: repeated
// random removal from an unprocessed pool, cycling teams round-robin.
func (r *Room) ShuffleTeams() {
	teams := r.teams.All()
	if len(teams) == 0 || len(r.members) == 0 {
		return
	}
	pool := append([]*Membership(nil), r.members...)
	slot := 0
	for len(pool) > 0 {
		i := rand.Intn(len(pool))
		member := pool[i]
		pool[i] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
		member.TeamID = teams[slot%len(teams)].ID
		slot++
	}
	r.broadcastMembers()
}

// CreateTeam adds a team from the palette, bounded by the palette size.
func (r *Room) CreateTeam() (Team, error) {
	team, err := r.teams.Create()
	if err != nil {
		return Team{}, err
	}
	r.broadcastTeams()
	return team, nil
}

// RemoveTeam deletes a team and reassigns its members to the first remaining
// team. At least one team must remain.
func (r *Room) RemoveTeam(teamID int) error {
	if _, err := r.teams.Remove(teamID); err != nil {
		return err
	}
	fallback, _ := r.teams.First()
	moved := false
	for _, m := range r.members {
		if m.TeamID == teamID {
			m.TeamID = fallback.ID
			moved = true
		}
	}
	r.broadcastTeams()
	if moved {
		r.broadcastMembers()
	}
	return nil
}

// MarkWinner records the winning team after a finished match reports back.
func (r *Room) MarkWinner(teamID int) {
	r.teams.MarkWinner(teamID)
	r.broadcastTeams()
}

// SetConfig applies a new lobby configuration, updating the public listing
// when the visibility flag flipped.
func (r *Room) SetConfig(cfg Config) {
	wasPublic := r.cfg.Public
	r.cfg = cfg
	if wasPublic && !cfg.Public {
		r.listing.Broadcast(events.ListingRemoveEvent{Code: r.joinCode})
	}
	r.broadcastConfig()
	r.publishListing()
}

// SetMatchConfig applies new match settings.
func (r *Room) SetMatchConfig(cfg match.Config) {
	r.matchCfg = cfg
	r.broadcastConfig()
}

// NextLoadMarker reserves a marker for an in-flight map load. Results are only
// applied when their marker is newer than the last applied one, so a stale,
// slow load can never overwrite a fresher request's result.
func (r *Room) NextLoadMarker() int {
	r.loadMarker++
	return r.loadMarker
}

// ApplyMaps installs a load result if its marker is still current.
func (r *Room) ApplyMaps(marker int, pool []maps.Map) bool {
	if marker <= r.appliedMarker {
		return false
	}
	r.appliedMarker = marker
	r.mapPool = append([]maps.Map(nil), pool...)
	return true
}

// MapsReady reports whether enough maps are loaded for the configured grid.
func (r *Room) MapsReady() bool {
	need := r.matchCfg.GridSize * r.matchCfg.GridSize
	return len(r.mapPool) >= need
}

// MapQuery describes the load the room currently needs.
func (r *Room) MapQuery() maps.Query {
	return maps.Query{
		Mode:      r.matchCfg.Mode,
		Count:     r.matchCfg.GridSize * r.matchCfg.GridSize,
		MappackID: r.matchCfg.MappackID,
	}
}

// ReportMapsFailed surfaces an upstream load failure to the room without
// tearing it down; the host may retry.
func (r *Room) ReportMapsFailed(message string) {
	r.log.Warn("map load failed", logging.String("reason", message))
	r.channel.Broadcast(events.MapsFailedEvent{Code: r.joinCode, Message: message})
}

// PrepareMatch snapshots the current rosters into a LiveMatch. The room's
// subscribers are carried over onto the match channel, so nobody resubscribes.
// The caller registers the returned match and attaches it via AttachMatch.
func (r *Room) PrepareMatch(opts ...match.Option) (*match.LiveMatch, error) {
	if r.MatchActive() {
		return nil, ErrHasStarted
	}
	if !r.MapsReady() {
		return nil, ErrMapsNotReady
	}
	if r.cfg.Randomize {
		r.ShuffleTeams()
	}

	//1.- Freeze the rosters: team membership cannot change for the match's lifetime.
	gameTeams := make([]match.GameTeam, 0, r.teams.Len())
	for _, team := range r.teams.All() {
		gt := match.GameTeam{ID: team.ID, Name: team.Name, Color: team.Color}
		for _, m := range r.members {
			if m.TeamID == team.ID {
				gt.Players = append(gt.Players, match.GamePlayer{PlayerUID: m.PlayerUID, Name: m.Name})
			}
		}
		gameTeams = append(gameTeams, gt)
	}

	opts = append(opts, match.WithClock(r.now))
	return match.New(r.matchCfg, gameTeams, r.mapPool, r.channel.Clone(), opts...)
}

// AttachMatch stores the weak back-reference to the registered match and
// flags the room as in-game on the public listing. Exactly one match may be
// attached at a time: a second attach fails so concurrent start requests
// cannot leave an orphaned match behind.
func (r *Room) AttachMatch(w registry.Weak[match.LiveMatch]) error {
	if r.MatchActive() {
		return ErrHasStarted
	}
	r.activeMatch = &w
	r.publishListing()
	return nil
}

// ClearActiveMatch detaches the finished match so the room becomes a
// rejoinable lobby again.
func (r *Room) ClearActiveMatch() {
	r.activeMatch = nil
	r.publishListing()
}

// CheckClose closes the room when no operator remains. Returns true when the
// room closed; the caller is responsible for deregistering it.
func (r *Room) CheckClose() bool {
	if r.closed {
		return true
	}
	for _, m := range r.members {
		if m.Operator {
			return false
		}
	}
	r.Close("no operator left")
	return true
}

// Close broadcasts the shutdown and marks the room closed.
func (r *Room) Close(reason string) {
	if r.closed {
		return
	}
	r.closed = true
	r.channel.Broadcast(events.RoomClosedEvent{Code: r.joinCode, Reason: reason})
	if r.cfg.Public {
		r.listing.Broadcast(events.ListingRemoveEvent{Code: r.joinCode})
	}
	r.log.Info("room closed", logging.String("reason", reason))
}

// Chat relays a chat line to every subscriber.
func (r *Room) Chat(playerUID, body string) error {
	member, ok := r.Member(playerUID)
	if !ok {
		return ErrNotMember
	}
	r.channel.Broadcast(events.ChatEvent{
		RoomCode:  r.joinCode,
		PlayerUID: playerUID,
		Name:      member.Name,
		Body:      body,
		SentAt:    r.now(),
	})
	return nil
}

// ListingInfo is the room's public-listing payload.
func (r *Room) ListingInfo() events.ListingUpsertEvent {
	return events.ListingUpsertEvent{
		Code:    r.joinCode,
		Name:    r.cfg.Name,
		Players: len(r.members),
		Size:    r.cfg.Size,
		InGame:  r.MatchActive(),
	}
}

func (r *Room) publishListing() {
	if r.cfg.Public && !r.closed {
		r.listing.Broadcast(r.ListingInfo())
	}
}

func (r *Room) broadcastConfig() {
	r.channel.Broadcast(events.RoomConfigEvent{
		Code:        r.joinCode,
		Name:        r.cfg.Name,
		Public:      r.cfg.Public,
		Size:        r.cfg.Size,
		Randomize:   r.cfg.Randomize,
		MatchConfig: r.matchCfg.Info(),
	})
}

func (r *Room) broadcastMembers() {
	infos := make([]events.PlayerInfo, len(r.members))
	for i, m := range r.members {
		infos[i] = events.PlayerInfo{
			PlayerUID:    m.PlayerUID,
			Name:         m.Name,
			TeamID:       m.TeamID,
			Operator:     m.Operator,
			Disconnected: m.Disconnected,
		}
	}
	r.channel.Broadcast(events.RoomMembersEvent{Code: r.joinCode, Players: infos})
}

func (r *Room) broadcastTeams() {
	teams := r.teams.All()
	infos := make([]events.TeamInfo, len(teams))
	for i, t := range teams {
		infos[i] = events.TeamInfo{ID: t.ID, Name: t.Name, Color: t.Color, Winner: t.Winner}
	}
	r.channel.Broadcast(events.RoomTeamsEvent{Code: r.joinCode, Teams: infos})
}
