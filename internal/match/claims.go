package match

import (
	"sort"
	"time"

	"mapbingo/server/internal/events"
	"mapbingo/server/internal/logging"
)

// AddSubmittedRun records a completion time for a cell and returns the
// claimant's 1-based rank in the updated ordering. A player's earlier claim
// for the same cell is always superseded by the new submission, even when the
// new time is worse; the ranking itself stays ascending by time.
func (m *LiveMatch) AddSubmittedRun(cellIndex int, playerUID string, runTime time.Duration, medal string) (int, error) {
	switch m.phase {
	case PhaseStarting:
		return 0, ErrNotRunning
	case PhaseEnded:
		return 0, ErrMatchOver
	}
	if cellIndex < 0 || cellIndex >= len(m.cells) {
		return 0, ErrBadCell
	}
	team, ok := m.TeamOf(playerUID)
	if !ok {
		return 0, ErrNotInMatch
	}
	name := playerUID
	for _, p := range team.Players {
		if p.PlayerUID == playerUID {
			name = p.Name
			break
		}
	}

	cell := &m.cells[cellIndex]

	//1.- Drop any existing claim by this player; last submission wins its position.
	for i, existing := range cell.Claims {
		if existing.PlayerUID == playerUID {
			cell.Claims = append(cell.Claims[:i], cell.Claims[i+1:]...)
			break
		}
	}

	//2.- Insert at the position preserving ascending time order.
	claim := Claim{PlayerUID: playerUID, Name: name, TeamID: team.ID, Time: runTime, Medal: medal}
	idx := sort.Search(len(cell.Claims), func(i int) bool {
		return cell.Claims[i].Time > runTime
	})
	cell.Claims = append(cell.Claims, Claim{})
	copy(cell.Claims[idx+1:], cell.Claims[idx:])
	cell.Claims[idx] = claim
	rank := idx + 1

	m.claimLog = append(m.claimLog, ClaimRecord{
		CellIndex: cellIndex,
		PlayerUID: playerUID,
		TeamID:    team.ID,
		TimeMs:    runTime.Milliseconds(),
		Medal:     medal,
		At:        m.now(),
	})

	m.channel.Broadcast(events.CellClaimEvent{
		MatchUID:  m.uid,
		CellIndex: cellIndex,
		Rank:      rank,
		Claim:     claimInfo(claim),
		Ranking:   rankingInfos(cell.Claims),
	})
	m.log.Debug("run submitted",
		logging.Int("cell", cellIndex),
		logging.String("player_uid", playerUID),
		logging.Int("rank", rank))

	//3.- Wins are only decided once the no-bingo grace period is over.
	if m.phase == PhaseRunning || m.phase == PhaseOvertime {
		m.evaluateBoard()
	}
	return rank, nil
}

func claimInfo(c Claim) events.ClaimInfo {
	return events.ClaimInfo{
		PlayerUID: c.PlayerUID,
		Name:      c.Name,
		TeamID:    c.TeamID,
		TimeMs:    c.Time.Milliseconds(),
		Medal:     c.Medal,
	}
}

func rankingInfos(claims []Claim) []events.ClaimInfo {
	infos := make([]events.ClaimInfo, len(claims))
	for i, c := range claims {
		infos[i] = claimInfo(c)
	}
	return infos
}

// Ranking returns a copy of the cell's current claim ordering.
func (m *LiveMatch) Ranking(cellIndex int) []Claim {
	if cellIndex < 0 || cellIndex >= len(m.cells) {
		return nil
	}
	return append([]Claim(nil), m.cells[cellIndex].Claims...)
}
