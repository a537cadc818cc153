// Package match implements the live match engine: grid cells, per-cell claim
// rankings, phase timers, and bingo detection.
package match

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mapbingo/server/internal/broadcast"
	"mapbingo/server/internal/events"
	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/maps"
	"mapbingo/server/internal/registry"
	"mapbingo/server/internal/schedule"
)

var (
	// ErrNotRunning is returned for claims submitted before the countdown elapsed.
	ErrNotRunning = errors.New("match has not started yet")
	// ErrMatchOver is returned for claims submitted after the match ended.
	ErrMatchOver = errors.New("match already ended")
	// ErrNotInMatch is returned when the claimant is not on any team roster.
	ErrNotInMatch = errors.New("player is not part of this match")
	// ErrBadCell is returned for cell indices outside the grid.
	ErrBadCell = errors.New("cell index out of range")
	// ErrGridTooLarge is returned when fewer maps are available than cells needed.
	ErrGridTooLarge = errors.New("not enough maps for the configured grid")
)

// Config captures the host-tunable match settings.
type Config struct {
	GridSize        int
	Mode            string
	MappackID       string
	Countdown       time.Duration
	NoBingoDuration time.Duration
	TimeLimit       time.Duration
}

// Info converts the config into its event payload shape.
func (c Config) Info() events.MatchConfigInfo {
	return events.MatchConfigInfo{
		GridSize:    c.GridSize,
		Mode:        c.Mode,
		MappackID:   c.MappackID,
		CountdownMs: c.Countdown.Milliseconds(),
		NoBingoMs:   c.NoBingoDuration.Milliseconds(),
		TimeLimitMs: c.TimeLimit.Milliseconds(),
	}
}

// Phase is the match lifecycle state. Transitions are monotonic except for the
// branch into Overtime on a tied bingo.
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseNoBingo
	PhaseRunning
	PhaseOvertime
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseNoBingo:
		return "no_bingo"
	case PhaseRunning:
		return "running"
	case PhaseOvertime:
		return "overtime"
	case PhaseEnded:
		return "ended"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// GamePlayer is a frozen roster entry.
type GamePlayer struct {
	PlayerUID string
	Name      string
}

// GameTeam is a snapshot of a room team taken at match start. Membership does
// not change for the duration of the match.
type GameTeam struct {
	ID      int
	Name    string
	Color   string
	Winner  bool
	Players []GamePlayer
}

// Claim is one submitted completion time for a cell.
type Claim struct {
	PlayerUID string
	Name      string
	TeamID    int
	Time      time.Duration
	Medal     string
}

// Cell is one grid square: a backing map plus its ranked claims, ascending by
// time, at most one per player. The head of the ranking leads the cell.
type Cell struct {
	Map    maps.Map
	Claims []Claim
}

// ClaimRecord is the persisted form of a submitted run.
type ClaimRecord struct {
	CellIndex int       `json:"cell_index"`
	PlayerUID string    `json:"player_uid"`
	TeamID    int       `json:"team_id"`
	TimeMs    int64     `json:"time_ms"`
	Medal     string    `json:"medal,omitempty"`
	At        time.Time `json:"at"`
}

// Summary is handed to the persistence collaborators when the match ends.
type Summary struct {
	MatchUID     string        `json:"match_uid"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
	Teams        []GameTeam    `json:"-"`
	WinnerTeamID int           `json:"winner_team_id"`
	Overtime     bool          `json:"overtime"`
	Claims       []ClaimRecord `json:"-"`
}

// LiveMatch owns the grid and phase state for one running match. All methods
// assume the caller holds the match's registry entry lock; LiveMatch performs
// no internal locking.
type LiveMatch struct {
	uid       string
	cfg       Config
	teams     []GameTeam
	cells     []Cell
	phase     Phase
	overtime  bool
	startedAt time.Time
	channel   *broadcast.Channel
	claimLog  []ClaimRecord
	now       func() time.Time
	log       *logging.Logger
	onEnd     func(Summary)
}

// Option configures optional LiveMatch behaviour at construction time.
type Option func(*LiveMatch)

// WithClock injects a deterministic time source, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *LiveMatch) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithUID overrides the generated match identifier.
func WithUID(uid string) Option {
	return func(m *LiveMatch) {
		if uid != "" {
			m.uid = uid
		}
	}
}

// New constructs a match over the given team snapshot and map pool. The first
// GridSize² maps become the grid cells in row-major order.
func New(cfg Config, teams []GameTeam, pool []maps.Map, channel *broadcast.Channel, opts ...Option) (*LiveMatch, error) {
	if cfg.GridSize < 1 {
		return nil, fmt.Errorf("grid size must be at least 1, got %d", cfg.GridSize)
	}
	total := cfg.GridSize * cfg.GridSize
	if len(pool) < total {
		return nil, fmt.Errorf("%w: have %d maps, need %d", ErrGridTooLarge, len(pool), total)
	}
	if len(teams) == 0 {
		return nil, errors.New("match requires at least one team")
	}

	m := &LiveMatch{
		uid:     uuid.NewString(),
		cfg:     cfg,
		teams:   cloneTeams(teams),
		cells:   make([]Cell, total),
		phase:   PhaseStarting,
		channel: channel,
		now:     time.Now,
		log:     logging.L(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.log = m.log.With(logging.String("match_uid", m.uid))
	for i := 0; i < total; i++ {
		m.cells[i] = Cell{Map: pool[i]}
	}
	return m, nil
}

// UID returns the random, unguessable match identifier.
func (m *LiveMatch) UID() string { return m.uid }

// Phase returns the current lifecycle state.
func (m *LiveMatch) Phase() Phase { return m.phase }

// Config returns the match settings.
func (m *LiveMatch) Config() Config { return m.cfg }

// Channel exposes the match's broadcast channel.
func (m *LiveMatch) Channel() *broadcast.Channel { return m.channel }

// Teams returns a copy of the frozen roster.
func (m *LiveMatch) Teams() []GameTeam { return cloneTeams(m.teams) }

// TeamOf resolves the team a player was frozen into at match start.
func (m *LiveMatch) TeamOf(playerUID string) (GameTeam, bool) {
	for _, team := range m.teams {
		for _, p := range team.Players {
			if p.PlayerUID == playerUID {
				return team, true
			}
		}
	}
	return GameTeam{}, false
}

// SetOnEnd registers the hook invoked asynchronously when the match ends. The
// hook runs on its own goroutine and must not call back into the match.
func (m *LiveMatch) SetOnEnd(fn func(Summary)) { m.onEnd = fn }

// ScheduleStart broadcasts the layout and arms the phase timers against the
// match's own weak handle, so a match nobody holds simply stops transitioning.
func (m *LiveMatch) ScheduleStart(self registry.Weak[LiveMatch], startAt time.Time) {
	m.startedAt = startAt
	m.channel.Broadcast(events.MatchStartedEvent{
		MatchUID: m.uid,
		StartsAt: startAt,
		GridSize: m.cfg.GridSize,
		Cells:    m.cellInfos(),
		Teams:    teamInfos(m.teams),
	})

	countdown := startAt.Sub(m.now())
	if countdown < 0 {
		countdown = 0
	}
	schedule.Once(self, countdown, func(lm *LiveMatch) { lm.beginPlay() })
	if m.cfg.NoBingoDuration > 0 {
		schedule.Once(self, countdown+m.cfg.NoBingoDuration, func(lm *LiveMatch) { lm.openBingo() })
	}
	if m.cfg.TimeLimit > 0 {
		total := countdown + m.cfg.NoBingoDuration + m.cfg.TimeLimit
		schedule.Once(self, total, func(lm *LiveMatch) { lm.enterOvertime() })
	}
	m.log.Info("match scheduled",
		logging.Duration("countdown", countdown),
		logging.Int("grid", m.cfg.GridSize),
		logging.Int("teams", len(m.teams)))
}

// StartedAt reports the scheduled gameplay start.
func (m *LiveMatch) StartedAt() time.Time { return m.startedAt }

// Snapshot rebuilds the layout broadcast, used to resync late or rejoining
// subscribers who missed the original announcement.
func (m *LiveMatch) Snapshot() events.MatchStartedEvent {
	return events.MatchStartedEvent{
		MatchUID: m.uid,
		StartsAt: m.startedAt,
		GridSize: m.cfg.GridSize,
		Cells:    m.cellInfos(),
		Teams:    teamInfos(m.teams),
	}
}

// beginPlay leaves Starting once the countdown elapsed.
func (m *LiveMatch) beginPlay() {
	if m.phase != PhaseStarting {
		return
	}
	if m.cfg.NoBingoDuration > 0 {
		m.setPhase(PhaseNoBingo)
	} else {
		m.setPhase(PhaseRunning)
	}
}

// openBingo leaves the no-bingo grace period.
func (m *LiveMatch) openBingo() {
	if m.phase != PhaseNoBingo {
		return
	}
	m.setPhase(PhaseRunning)
	// Claims made during the grace period may already complete a line.
	m.evaluateBoard()
}

// enterOvertime is triggered by the time limit or by a tied bingo.
func (m *LiveMatch) enterOvertime() {
	if m.phase != PhaseRunning {
		return
	}
	m.overtime = true
	m.setPhase(PhaseOvertime)
}

func (m *LiveMatch) setPhase(p Phase) {
	m.phase = p
	m.channel.Broadcast(events.PhaseChangeEvent{MatchUID: m.uid, Phase: p.String()})
	m.log.Info("phase change", logging.String("phase", p.String()))
}

// ForceEnd ends the match without a winner, e.g. on host abort.
func (m *LiveMatch) ForceEnd() {
	if m.phase == PhaseEnded {
		return
	}
	m.finish(0)
}

// finish transitions to Ended, broadcasts the result, and hands the summary to
// the end hook on a separate goroutine so persistence never blocks the engine.
func (m *LiveMatch) finish(winnerTeamID int) {
	m.phase = PhaseEnded
	m.channel.Broadcast(events.MatchEndedEvent{
		MatchUID:     m.uid,
		WinnerTeamID: winnerTeamID,
		Overtime:     m.overtime,
	})
	summary := Summary{
		MatchUID:     m.uid,
		StartedAt:    m.startedAt,
		EndedAt:      m.now(),
		Teams:        cloneTeams(m.teams),
		WinnerTeamID: winnerTeamID,
		Overtime:     m.overtime,
		Claims:       append([]ClaimRecord(nil), m.claimLog...),
	}
	m.log.Info("match ended", logging.Int("winner_team", winnerTeamID))
	if m.onEnd != nil {
		go m.onEnd(summary)
	}
}

func (m *LiveMatch) cellInfos() []events.CellInfo {
	infos := make([]events.CellInfo, len(m.cells))
	for i, cell := range m.cells {
		infos[i] = events.CellInfo{Index: i, MapUID: cell.Map.UID, MapName: cell.Map.Name}
	}
	return infos
}

func teamInfos(teams []GameTeam) []events.TeamInfo {
	infos := make([]events.TeamInfo, len(teams))
	for i, t := range teams {
		infos[i] = events.TeamInfo{ID: t.ID, Name: t.Name, Color: t.Color, Winner: t.Winner}
	}
	return infos
}

func cloneTeams(teams []GameTeam) []GameTeam {
	clones := make([]GameTeam, len(teams))
	for i, t := range teams {
		clone := t
		clone.Players = append([]GamePlayer(nil), t.Players...)
		clones[i] = clone
	}
	return clones
}
