package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"mapbingo/server/internal/events"
	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/maps"
	"mapbingo/server/internal/match"
	"mapbingo/server/internal/registry"
	"mapbingo/server/internal/room"
	"mapbingo/server/internal/session"
)

var (
	errNotAuthenticated = errors.New("authenticate first")
	errNotInRoom        = errors.New("not in a room")
	errAlreadyInRoom    = errors.New("already in a room")
	errNotOperator      = errors.New("operator privileges required")
	errNoMapSource      = errors.New("no map source configured")
	errNoActiveMatch    = errors.New("no active match")
)

// request is the tagged envelope clients send; it mirrors the event envelope
// going the other way.
type request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) dispatch(raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendError("bad_request", err)
		return
	}

	if req.Type == "hello" {
		c.handleHello(req.Data)
		return
	}
	if !c.authenticated {
		c.sendError("unauthorized", errNotAuthenticated)
		return
	}

	switch req.Type {
	case "create_room":
		c.handleCreateRoom(req.Data)
	case "join_room":
		c.handleJoinRoom(req.Data)
	case "leave_room":
		c.handleLeaveRoom()
	case "chat":
		c.handleChat(req.Data)
	case "set_config":
		c.handleSetConfig(req.Data)
	case "set_match_config":
		c.handleSetMatchConfig(req.Data)
	case "change_team":
		c.handleChangeTeam(req.Data)
	case "shuffle_teams":
		c.handleShuffleTeams()
	case "create_team":
		c.handleCreateTeam()
	case "remove_team":
		c.handleRemoveTeam(req.Data)
	case "load_maps":
		c.handleLoadMaps()
	case "start_match":
		c.handleStartMatch()
	case "abort_match":
		c.handleAbortMatch()
	case "submit_run":
		c.handleSubmitRun(req.Data)
	case "subscribe_listing":
		c.gateway.listing.Subscribe(c.listingKey(), c)
	case "unsubscribe_listing":
		c.gateway.listing.Unsubscribe(c.listingKey())
	default:
		c.sendError("bad_request", errors.New("unknown request type "+req.Type))
	}
}

func (c *Client) handleHello(data json.RawMessage) {
	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_request", err)
		return
	}
	id, err := c.gateway.validator.Validate(payload.Token)
	if err != nil {
		c.sendError("unauthorized", err)
		return
	}

	c.profile = room.Profile{PlayerUID: id.AccountID, AccountID: id.AccountID, Name: id.Name}
	c.authenticated = true
	c.log = c.log.With(logging.String("player_uid", c.profile.PlayerUID))

	if rec := c.gateway.recorder; rec != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := rec.GetOrCreatePlayer(ctx, id.AccountID, id.Name); err != nil {
				c.gateway.log.Warn("player upsert failed", logging.Error(err))
			}
		}()
	}

	//1.- A lingering session from a dropped connection resumes transparently.
	if state, ok := c.gateway.linger.Take(c.profile.PlayerUID); ok {
		c.rctx = state.Room
		c.gctx = state.Game
		c.resubscribe()
		roomCode := ""
		c.rctx.Do(func(r *room.Room) { roomCode = r.JoinCode() })
		c.sendEvent(events.WelcomeEvent{PlayerUID: c.profile.PlayerUID, Name: c.profile.Name, Resumed: true, RoomCode: roomCode})
		c.sendRoomState()
		if c.gctx != nil {
			var snapshot events.MatchStartedEvent
			if c.gctx.Do(func(m *match.LiveMatch) { snapshot = m.Snapshot() }) {
				c.sendEvent(snapshot)
			}
		}
		c.log.Info("session resumed", logging.String("room", roomCode))
		return
	}

	c.sendEvent(events.WelcomeEvent{PlayerUID: c.profile.PlayerUID, Name: c.profile.Name})
	c.log.Info("client authenticated")
}

func (c *Client) handleCreateRoom(data json.RawMessage) {
	if c.rctx != nil && c.rctx.Alive() {
		c.sendError("bad_request", errAlreadyInRoom)
		return
	}
	var payload struct {
		Name      string `json:"name"`
		Public    bool   `json:"public"`
		Size      int    `json:"size"`
		Randomize bool   `json:"randomize"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_request", err)
		return
	}

	g := c.gateway
	cfg := room.Config{Name: payload.Name, Public: payload.Public, Size: payload.Size, Randomize: payload.Randomize}
	handle, code, err := g.rooms.RegisterWithCode(g.cfg.JoinCodeLength, func(code string) *room.Room {
		return room.New(code, cfg, defaultMatchConfig(), g.listing, g.log)
	})
	if err != nil {
		c.sendError("create_failed", err)
		return
	}

	c.rctx = session.NewRoomContext(g.rooms, handle.Weak(), c.profile, g.log)
	var joinErr error
	handle.Do(func(r *room.Room) {
		r.Channel().Subscribe(c.profile.PlayerUID, c)
		_, joinErr = r.AddPlayer(c.profile, true)
	})
	if joinErr != nil {
		c.rctx = nil
		g.rooms.Remove(code)
		c.sendError("join_failed", joinErr)
		return
	}
	c.sendRoomState()
	c.startMapLoad()
	c.log.Info("room created", logging.String("room", code))
}

func (c *Client) handleJoinRoom(data json.RawMessage) {
	if c.rctx != nil && c.rctx.Alive() {
		c.sendError("bad_request", errAlreadyInRoom)
		return
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_request", err)
		return
	}

	g := c.gateway
	handle, ok := g.rooms.Find(payload.Code)
	if !ok {
		c.sendError("room_not_found", errors.New("no room with code "+payload.Code))
		return
	}

	var joinErr error
	handle.Do(func(r *room.Room) {
		if _, joinErr = r.AddPlayer(c.profile, false); joinErr == nil {
			r.Channel().Subscribe(c.profile.PlayerUID, c)
		}
	})
	if joinErr != nil {
		c.sendError("join_failed", joinErr)
		return
	}
	c.rctx = session.NewRoomContext(g.rooms, handle.Weak(), c.profile, g.log)
	c.sendRoomState()
	c.log.Info("joined room", logging.String("room", payload.Code))
}

func (c *Client) handleLeaveRoom() {
	if c.rctx == nil {
		c.sendError("bad_request", errNotInRoom)
		return
	}
	c.unsubscribe()
	c.rctx.Leave()
	c.rctx = nil
	c.gctx = nil
}

func (c *Client) handleChat(data json.RawMessage) {
	var payload struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_request", err)
		return
	}
	if payload.Body == "" {
		return
	}
	var chatErr error
	if !c.withRoom(func(r *room.Room) { chatErr = r.Chat(c.profile.PlayerUID, payload.Body) }) {
		return
	}
	if chatErr != nil {
		c.sendError("chat_failed", chatErr)
	}
}

func (c *Client) handleSetConfig(data json.RawMessage) {
	var payload struct {
		Name      string `json:"name"`
		Public    bool   `json:"public"`
		Size      int    `json:"size"`
		Randomize bool   `json:"randomize"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_request", err)
		return
	}
	c.withOperator(func(r *room.Room) {
		r.SetConfig(room.Config{Name: payload.Name, Public: payload.Public, Size: payload.Size, Randomize: payload.Randomize})
	})
}

func (c *Client) handleSetMatchConfig(data json.RawMessage) {
	var payload struct {
		GridSize    int    `json:"grid_size"`
		Mode        string `json:"mode"`
		MappackID   string `json:"mappack_id"`
		CountdownMs int64  `json:"countdown_ms"`
		NoBingoMs   int64  `json:"no_bingo_ms"`
		TimeLimitMs int64  `json:"time_limit_ms"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_request", err)
		return
	}
	if payload.GridSize < 1 || payload.GridSize > 10 {
		c.sendError("bad_request", errors.New("grid size must be between 1 and 10"))
		return
	}
	if c.withOperator(func(r *room.Room) {
		r.SetMatchConfig(match.Config{
			GridSize:        payload.GridSize,
			Mode:            payload.Mode,
			MappackID:       payload.MappackID,
			Countdown:       time.Duration(payload.CountdownMs) * time.Millisecond,
			NoBingoDuration: time.Duration(payload.NoBingoMs) * time.Millisecond,
			TimeLimit:       time.Duration(payload.TimeLimitMs) * time.Millisecond,
		})
	}) {
		// New settings usually change the number of maps needed.
		c.startMapLoad()
	}
}

func (c *Client) handleChangeTeam(data json.RawMessage) {
	var payload struct {
		TeamID int `json:"team_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_request", err)
		return
	}
	var changeErr error
	if !c.withRoom(func(r *room.Room) { changeErr = r.ChangeTeam(c.profile.PlayerUID, payload.TeamID) }) {
		return
	}
	if changeErr != nil {
		c.sendError("team_change_failed", changeErr)
	}
}

func (c *Client) handleShuffleTeams() {
	c.withOperator(func(r *room.Room) { r.ShuffleTeams() })
}

func (c *Client) handleCreateTeam() {
	var createErr error
	if !c.withOperator(func(r *room.Room) { _, createErr = r.CreateTeam() }) {
		return
	}
	if createErr != nil {
		c.sendError("team_create_failed", createErr)
	}
}

func (c *Client) handleRemoveTeam(data json.RawMessage) {
	var payload struct {
		TeamID int `json:"team_id"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_request", err)
		return
	}
	var removeErr error
	if !c.withOperator(func(r *room.Room) { removeErr = r.RemoveTeam(payload.TeamID) }) {
		return
	}
	if removeErr != nil {
		c.sendError("team_remove_failed", removeErr)
	}
}

func (c *Client) handleLoadMaps() {
	if !c.isOperator() {
		c.sendError("forbidden", errNotOperator)
		return
	}
	c.startMapLoad()
}

func (c *Client) handleStartMatch() {
	if c.rctx == nil {
		c.sendError("bad_request", errNotInRoom)
		return
	}
	if !c.isOperator() {
		c.sendError("forbidden", errNotOperator)
		return
	}

	g := c.gateway
	var m *match.LiveMatch
	var prepErr error
	if !c.rctx.Do(func(r *room.Room) { m, prepErr = r.PrepareMatch() }) {
		c.sendError("bad_request", errNotInRoom)
		return
	}
	if prepErr != nil {
		c.sendError("start_failed", prepErr)
		return
	}

	matchHandle, err := g.matches.Register(m.UID(), m)
	if err != nil {
		c.sendError("start_failed", err)
		return
	}
	matchWeak := matchHandle.Weak()
	roomWeak := c.rctx.Weak()

	//1.- The attach is the arbiter for racing start requests: the loser
	// deregisters its freshly prepared match instead of orphaning it.
	var attachErr error
	if !c.rctx.Do(func(r *room.Room) { attachErr = r.AttachMatch(matchWeak) }) {
		attachErr = errNotInRoom
	}
	if attachErr != nil {
		g.matches.Remove(m.UID())
		c.sendError("start_failed", attachErr)
		return
	}

	countdown := m.Config().Countdown
	if countdown <= 0 {
		countdown = 10 * time.Second
	}
	matchHandle.Do(func(lm *match.LiveMatch) {
		lm.SetOnEnd(g.matchEndHook(roomWeak, matchHandle))
		lm.ScheduleStart(matchWeak, time.Now().Add(countdown))
	})
	c.log.Info("match started", logging.String("match_uid", m.UID()))
}

func (c *Client) handleAbortMatch() {
	if !c.isOperator() {
		c.sendError("forbidden", errNotOperator)
		return
	}
	gctx, err := c.gameContext()
	if err != nil {
		c.sendError("match_error", err)
		return
	}
	gctx.Do(func(m *match.LiveMatch) { m.ForceEnd() })
}

func (c *Client) handleSubmitRun(data json.RawMessage) {
	var payload struct {
		CellIndex int    `json:"cell_index"`
		TimeMs    int64  `json:"time_ms"`
		Medal     string `json:"medal"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		c.sendError("bad_request", err)
		return
	}
	if payload.TimeMs <= 0 {
		c.sendError("bad_request", errors.New("run time must be positive"))
		return
	}

	gctx, err := c.gameContext()
	if err != nil {
		c.sendError("match_error", err)
		return
	}

	var submitErr error
	alive := gctx.Do(func(m *match.LiveMatch) {
		_, submitErr = m.AddSubmittedRun(payload.CellIndex, c.profile.PlayerUID,
			time.Duration(payload.TimeMs)*time.Millisecond, payload.Medal)
	})
	if !alive {
		c.sendError("match_error", errNoActiveMatch)
		return
	}
	if submitErr != nil {
		c.sendError("claim_rejected", submitErr)
	}
}

// gameContext lazily binds this client to the room's active match. The binding
// is cached until the match deregisters.
func (c *Client) gameContext() (*session.GameContext, error) {
	if c.gctx != nil && c.gctx.Alive() {
		return c.gctx, nil
	}
	c.gctx = nil
	if c.rctx == nil {
		return nil, errNotInRoom
	}
	var target registry.Weak[match.LiveMatch]
	var active bool
	if !c.rctx.Do(func(r *room.Room) { target, active = r.ActiveMatch() }) {
		return nil, errNotInRoom
	}
	if !active {
		return nil, errNoActiveMatch
	}
	gctx, err := session.NewGameContext(target, c.profile.PlayerUID)
	if err != nil {
		return nil, err
	}
	c.gctx = gctx
	return gctx, nil
}

// startMapLoad reserves a load marker under the room lock and fetches outside
// of it, so a slow upstream never stalls the room.
func (c *Client) startMapLoad() {
	if c.rctx == nil {
		return
	}
	if c.gateway.mapSource == nil {
		c.rctx.Do(func(r *room.Room) { r.ReportMapsFailed(errNoMapSource.Error()) })
		return
	}
	var marker int
	var query maps.Query
	if !c.rctx.Do(func(r *room.Room) {
		marker = r.NextLoadMarker()
		query = r.MapQuery()
	}) {
		return
	}
	go c.gateway.loadMaps(c.rctx.Weak(), marker, query)
}

// withRoom runs fn under the room lock, reporting the standard error when the
// client is not in a live room.
func (c *Client) withRoom(fn func(*room.Room)) bool {
	if c.rctx == nil || !c.rctx.Do(fn) {
		c.sendError("bad_request", errNotInRoom)
		return false
	}
	return true
}

// withOperator is withRoom plus the operator check.
func (c *Client) withOperator(fn func(*room.Room)) bool {
	if c.rctx == nil {
		c.sendError("bad_request", errNotInRoom)
		return false
	}
	allowed := false
	if !c.rctx.Do(func(r *room.Room) {
		if r.IsOperator(c.profile.PlayerUID) {
			allowed = true
			fn(r)
		}
	}) {
		c.sendError("bad_request", errNotInRoom)
		return false
	}
	if !allowed {
		c.sendError("forbidden", errNotOperator)
		return false
	}
	return true
}

func (c *Client) isOperator() bool {
	if c.rctx == nil {
		return false
	}
	op := false
	c.rctx.Do(func(r *room.Room) { op = r.IsOperator(c.profile.PlayerUID) })
	return op
}

// resubscribe reattaches this connection's sink after a resume; the previous
// connection's sink was pruned or unsubscribed when it dropped.
func (c *Client) resubscribe() {
	uid := c.profile.PlayerUID
	if c.rctx != nil {
		c.rctx.Do(func(r *room.Room) { r.Channel().Subscribe(uid, c) })
	}
	if c.gctx != nil {
		c.gctx.Do(func(m *match.LiveMatch) { m.Channel().Subscribe(uid, c) })
	}
}

// sendRoomState pushes the config, team, and roster snapshots to this
// connection only, bringing a fresh join up to date.
func (c *Client) sendRoomState() {
	if c.rctx == nil {
		return
	}
	var cfgEvent events.RoomConfigEvent
	var teamsEvent events.RoomTeamsEvent
	var membersEvent events.RoomMembersEvent
	if !c.rctx.Do(func(r *room.Room) {
		cfgEvent = events.RoomConfigEvent{
			Code:        r.JoinCode(),
			Name:        r.Config().Name,
			Public:      r.Config().Public,
			Size:        r.Config().Size,
			Randomize:   r.Config().Randomize,
			MatchConfig: r.MatchConfig().Info(),
		}
		teams := r.Teams()
		teamsEvent = events.RoomTeamsEvent{Code: r.JoinCode(), Teams: make([]events.TeamInfo, len(teams))}
		for i, t := range teams {
			teamsEvent.Teams[i] = events.TeamInfo{ID: t.ID, Name: t.Name, Color: t.Color, Winner: t.Winner}
		}
		members := r.Members()
		membersEvent = events.RoomMembersEvent{Code: r.JoinCode(), Players: make([]events.PlayerInfo, len(members))}
		for i, m := range members {
			membersEvent.Players[i] = events.PlayerInfo{
				PlayerUID:    m.PlayerUID,
				Name:         m.Name,
				TeamID:       m.TeamID,
				Operator:     m.Operator,
				Disconnected: m.Disconnected,
			}
		}
	}) {
		return
	}
	c.sendEvent(cfgEvent)
	c.sendEvent(teamsEvent)
	c.sendEvent(membersEvent)
}

// defaultMatchConfig is what a fresh room starts with before the host tunes it.
func defaultMatchConfig() match.Config {
	return match.Config{
		GridSize:        5,
		Mode:            "race",
		Countdown:       30 * time.Second,
		NoBingoDuration: 0,
		TimeLimit:       time.Hour,
	}
}
