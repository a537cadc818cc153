package match

import "mapbingo/server/internal/events"

// Direction identifies the orientation of a completed line.
type Direction int

const (
	Horizontal Direction = iota
	Vertical
	Diagonal
)

func (d Direction) String() string {
	switch d {
	case Horizontal:
		return "horizontal"
	case Vertical:
		return "vertical"
	case Diagonal:
		return "diagonal"
	default:
		return "unknown"
	}
}

// Line is one completed row, column, or diagonal and the team leading it.
type Line struct {
	Direction Direction
	Index     int
	TeamID    int
}

// CheckForBingos evaluates all 2N+2 lines of the grid. A line is won by a team
// iff every cell in it has a leading claim and all leading claims belong to
// that team. A cell with no claims never contributes to a line.
func (m *LiveMatch) CheckForBingos() []Line {
	n := m.cfg.GridSize
	var won []Line

	indices := make([]int, n)

	for row := 0; row < n; row++ {
		for i := 0; i < n; i++ {
			indices[i] = row*n + i
		}
		if team, ok := m.lineTeam(indices); ok {
			won = append(won, Line{Direction: Horizontal, Index: row, TeamID: team})
		}
	}

	for col := 0; col < n; col++ {
		for i := 0; i < n; i++ {
			indices[i] = i*n + col
		}
		if team, ok := m.lineTeam(indices); ok {
			won = append(won, Line{Direction: Vertical, Index: col, TeamID: team})
		}
	}

	for i := 0; i < n; i++ {
		indices[i] = i*n + i
	}
	if team, ok := m.lineTeam(indices); ok {
		won = append(won, Line{Direction: Diagonal, Index: 0, TeamID: team})
	}

	// Anti-diagonal cells sit at (N-1)*(i+1) in the row-major layout. Existing
	// clients depend on this exact indexing.
	for i := 0; i < n; i++ {
		indices[i] = (n - 1) * (i + 1)
	}
	if team, ok := m.lineTeam(indices); ok {
		won = append(won, Line{Direction: Diagonal, Index: 1, TeamID: team})
	}

	return won
}

// lineTeam reports the team leading every cell of the line, if any.
func (m *LiveMatch) lineTeam(indices []int) (int, bool) {
	team := 0
	for _, idx := range indices {
		claims := m.cells[idx].Claims
		if len(claims) == 0 {
			return 0, false
		}
		leader := claims[0].TeamID
		if team == 0 {
			team = leader
		} else if team != leader {
			return 0, false
		}
	}
	return team, team != 0
}

// evaluateBoard runs bingo detection and applies the outcome: a single-team
// result wins the match, a multi-team result is a tie and forces Overtime.
func (m *LiveMatch) evaluateBoard() {
	lines := m.CheckForBingos()
	if len(lines) == 0 {
		return
	}

	distinct := map[int]bool{}
	for _, line := range lines {
		distinct[line.TeamID] = true
	}

	if len(distinct) > 1 {
		//1.- Simultaneous bingos by different teams: nobody wins, play continues.
		m.overtime = true
		if m.phase == PhaseRunning {
			m.setPhase(PhaseOvertime)
		}
		return
	}

	winner := lines[0]
	for i := range m.teams {
		if m.teams[i].ID == winner.TeamID {
			m.teams[i].Winner = true
			m.channel.Broadcast(events.BingoEvent{
				MatchUID:  m.uid,
				Direction: winner.Direction.String(),
				Index:     winner.Index,
				TeamID:    winner.TeamID,
				TeamName:  m.teams[i].Name,
			})
			break
		}
	}
	m.finish(winner.TeamID)
}
