// Package events defines the payloads the server pushes to connected players.
// The shapes here are the client-facing contract; wire framing belongs to the
// transport layer and is deliberately not part of this package.
package events

import (
	"encoding/json"
	"time"
)

// Kind enumerates the supported event payloads carried over player channels.
type Kind string

const (
	KindError   Kind = "error"
	KindWelcome Kind = "welcome"
	KindChat    Kind = "chat"

	KindRoomConfig  Kind = "room_config"
	KindRoomMembers Kind = "room_members"
	KindRoomTeams   Kind = "room_teams"
	KindRoomClosed  Kind = "room_closed"
	KindMapsFailed  Kind = "maps_failed"

	KindMatchStarted Kind = "match_started"
	KindPhaseChange  Kind = "phase_change"
	KindCellClaim    Kind = "cell_claim"
	KindBingo        Kind = "bingo"
	KindMatchEnded   Kind = "match_ended"

	KindListingUpsert Kind = "listing_upsert"
	KindListingRemove Kind = "listing_remove"
)

// Event is implemented by every payload that can be broadcast to players.
type Event interface {
	EventKind() Kind
}

type envelope struct {
	Type Kind `json:"type"`
	Data any  `json:"data"`
}

// Marshal wraps the payload in a typed envelope and serializes it once.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(envelope{Type: e.EventKind(), Data: e})
}

// ErrorEvent reports a request failure to the offending connection only.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorEvent) EventKind() Kind { return KindError }

// WelcomeEvent acknowledges a successful login, flagging whether a lingering
// session was resumed.
type WelcomeEvent struct {
	PlayerUID string `json:"player_uid"`
	Name      string `json:"name"`
	Resumed   bool   `json:"resumed"`
	RoomCode  string `json:"room_code,omitempty"`
}

func (WelcomeEvent) EventKind() Kind { return KindWelcome }

// ChatEvent relays a chat line scoped to a room or a live match.
type ChatEvent struct {
	RoomCode  string    `json:"room_code,omitempty"`
	MatchUID  string    `json:"match_uid,omitempty"`
	PlayerUID string    `json:"player_uid"`
	Name      string    `json:"name"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

func (ChatEvent) EventKind() Kind { return KindChat }

// MatchConfigInfo mirrors the host-tunable match settings.
type MatchConfigInfo struct {
	GridSize    int    `json:"grid_size"`
	Mode        string `json:"mode"`
	MappackID   string `json:"mappack_id,omitempty"`
	CountdownMs int64  `json:"countdown_ms"`
	NoBingoMs   int64  `json:"no_bingo_ms"`
	TimeLimitMs int64  `json:"time_limit_ms"`
}

// RoomConfigEvent announces the room's current configuration.
type RoomConfigEvent struct {
	Code        string          `json:"code"`
	Name        string          `json:"name"`
	Public      bool            `json:"public"`
	Size        int             `json:"size"`
	Randomize   bool            `json:"randomize"`
	MatchConfig MatchConfigInfo `json:"match_config"`
}

func (RoomConfigEvent) EventKind() Kind { return KindRoomConfig }

// PlayerInfo describes one room member.
type PlayerInfo struct {
	PlayerUID    string `json:"player_uid"`
	Name         string `json:"name"`
	TeamID       int    `json:"team_id"`
	Operator     bool   `json:"operator"`
	Disconnected bool   `json:"disconnected"`
}

// RoomMembersEvent carries the full roster after any membership change.
type RoomMembersEvent struct {
	Code    string       `json:"code"`
	Players []PlayerInfo `json:"players"`
}

func (RoomMembersEvent) EventKind() Kind { return KindRoomMembers }

// TeamInfo describes one team inside a room or match.
type TeamInfo struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Winner bool   `json:"winner,omitempty"`
}

// RoomTeamsEvent carries the team list after create/remove/shuffle.
type RoomTeamsEvent struct {
	Code  string     `json:"code"`
	Teams []TeamInfo `json:"teams"`
}

func (RoomTeamsEvent) EventKind() Kind { return KindRoomTeams }

// RoomClosedEvent tells remaining subscribers the room deregistered itself.
type RoomClosedEvent struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (RoomClosedEvent) EventKind() Kind { return KindRoomClosed }

// MapsFailedEvent reports an upstream map-source failure without tearing the room down.
type MapsFailedEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (MapsFailedEvent) EventKind() Kind { return KindMapsFailed }

// CellInfo describes one grid cell's backing map.
type CellInfo struct {
	Index   int    `json:"index"`
	MapUID  string `json:"map_uid"`
	MapName string `json:"map_name"`
}

// MatchStartedEvent broadcasts the initial layout when a match is scheduled.
type MatchStartedEvent struct {
	MatchUID string     `json:"match_uid"`
	StartsAt time.Time  `json:"starts_at"`
	GridSize int        `json:"grid_size"`
	Cells    []CellInfo `json:"cells"`
	Teams    []TeamInfo `json:"teams"`
}

func (MatchStartedEvent) EventKind() Kind { return KindMatchStarted }

// PhaseChangeEvent announces a match phase transition.
type PhaseChangeEvent struct {
	MatchUID string `json:"match_uid"`
	Phase    string `json:"phase"`
}

func (PhaseChangeEvent) EventKind() Kind { return KindPhaseChange }

// ClaimInfo describes one entry of a cell's ranking.
type ClaimInfo struct {
	PlayerUID string `json:"player_uid"`
	Name      string `json:"name"`
	TeamID    int    `json:"team_id"`
	TimeMs    int64  `json:"time_ms"`
	Medal     string `json:"medal,omitempty"`
}

// CellClaimEvent carries the updated ranking after a submitted run.
type CellClaimEvent struct {
	MatchUID  string      `json:"match_uid"`
	CellIndex int         `json:"cell_index"`
	Rank      int         `json:"rank"`
	Claim     ClaimInfo   `json:"claim"`
	Ranking   []ClaimInfo `json:"ranking"`
}

func (CellClaimEvent) EventKind() Kind { return KindCellClaim }

// BingoEvent announces a winning line.
type BingoEvent struct {
	MatchUID  string `json:"match_uid"`
	Direction string `json:"direction"`
	Index     int    `json:"index"`
	TeamID    int    `json:"team_id"`
	TeamName  string `json:"team_name"`
}

func (BingoEvent) EventKind() Kind { return KindBingo }

// MatchEndedEvent closes out a match for all subscribers.
type MatchEndedEvent struct {
	MatchUID     string `json:"match_uid"`
	WinnerTeamID int    `json:"winner_team_id,omitempty"`
	Overtime     bool   `json:"overtime,omitempty"`
}

func (MatchEndedEvent) EventKind() Kind { return KindMatchEnded }

// ListingUpsertEvent adds or refreshes a public room on the lobby listing.
type ListingUpsertEvent struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Players int    `json:"players"`
	Size    int    `json:"size"`
	InGame  bool   `json:"in_game"`
}

func (ListingUpsertEvent) EventKind() Kind { return KindListingUpsert }

// ListingRemoveEvent drops a room from the lobby listing.
type ListingRemoveEvent struct {
	Code string `json:"code"`
}

func (ListingRemoveEvent) EventKind() Kind { return KindListingRemove }
