package room

import (
	"errors"
	"math/rand"
)

var (
	// ErrPaletteExhausted is returned when every palette entry is already in use.
	ErrPaletteExhausted = errors.New("no unused team colors left")
	// ErrLastTeam is returned when removing the only remaining team.
	ErrLastTeam = errors.New("a room must keep at least one team")
	// ErrNoSuchTeam is returned when a team id does not exist in the room.
	ErrNoSuchTeam = errors.New("no such team")
)

// Team is one team inside a room. IDs are monotonic per room and never reused.
type Team struct {
	ID     int
	Name   string
	Color  string
	Winner bool
}

// paletteEntry pairs a team name with its display color. The palette bounds
// how many teams a room can hold.
type paletteEntry struct {
	name  string
	color string
}

var teamPalette = [...]paletteEntry{
	{"Cherry", "#e74c3c"},
	{"Marine", "#3498db"},
	{"Forest", "#27ae60"},
	{"Sunflower", "#f1c40f"},
	{"Violet", "#9b59b6"},
	{"Tangerine", "#e67e22"},
	{"Turquoise", "#1abc9c"},
	{"Slate", "#7f8c8d"},
}

// MaxTeams is the upper bound on concurrent teams per room.
const MaxTeams = len(teamPalette)

// teamSet assigns palette names/colors to a bounded set of teams, enforcing
// name uniqueness within the room.
type teamSet struct {
	teams  []Team
	nextID int
}

func newTeamSet() *teamSet {
	return &teamSet{nextID: 1}
}

// Create draws a random unused palette entry and adds a team for it.
func (ts *teamSet) Create() (Team, error) {
	used := make(map[string]bool, len(ts.teams))
	for _, t := range ts.teams {
		used[t.Name] = true
	}
	free := make([]paletteEntry, 0, len(teamPalette))
	for _, entry := range teamPalette {
		if !used[entry.name] {
			free = append(free, entry)
		}
	}
	if len(free) == 0 {
		return Team{}, ErrPaletteExhausted
	}
	pick := free[rand.Intn(len(free))]
	team := Team{ID: ts.nextID, Name: pick.name, Color: pick.color}
	ts.nextID++
	ts.teams = append(ts.teams, team)
	return team, nil
}

// Remove deletes the team with the given id. The last team cannot be removed.
func (ts *teamSet) Remove(id int) (Team, error) {
	if len(ts.teams) <= 1 {
		return Team{}, ErrLastTeam
	}
	for i, t := range ts.teams {
		if t.ID == id {
			ts.teams = append(ts.teams[:i], ts.teams[i+1:]...)
			return t, nil
		}
	}
	return Team{}, ErrNoSuchTeam
}

// ByID looks up a team.
func (ts *teamSet) ByID(id int) (Team, bool) {
	for _, t := range ts.teams {
		if t.ID == id {
			return t, true
		}
	}
	return Team{}, false
}

// First returns the fallback team members are assigned to by default.
func (ts *teamSet) First() (Team, bool) {
	if len(ts.teams) == 0 {
		return Team{}, false
	}
	return ts.teams[0], true
}

// All returns a copy of the current team list.
func (ts *teamSet) All() []Team {
	return append([]Team(nil), ts.teams...)
}

func (ts *teamSet) Len() int { return len(ts.teams) }

// MarkWinner flags the given team, used when a finished match reports back.
func (ts *teamSet) MarkWinner(id int) {
	for i := range ts.teams {
		if ts.teams[i].ID == id {
			ts.teams[i].Winner = true
			return
		}
	}
}
