package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"mapbingo/server/internal/broadcast"
	"mapbingo/server/internal/config"
	"mapbingo/server/internal/identity"
	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/maps"
	"mapbingo/server/internal/match"
	"mapbingo/server/internal/registry"
	"mapbingo/server/internal/room"
)

type fakeMapSource struct{}

func (fakeMapSource) Load(_ context.Context, query maps.Query) ([]maps.Map, error) {
	pool := make([]maps.Map, query.Count)
	for i := range pool {
		pool[i] = maps.Map{UID: fmt.Sprintf("m%d", i), Name: fmt.Sprintf("Map %d", i), Mode: query.Mode}
	}
	return pool, nil
}

type testEnv struct {
	server    *httptest.Server
	validator *identity.Validator
	rooms     *registry.Directory[room.Room]
	matches   *registry.Directory[match.LiveMatch]
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logging.NewTestLogger()
	validator, err := identity.NewValidator("test-secret", "mapbingo")
	if err != nil {
		t.Fatalf("validator: %v", err)
	}

	cfg := &config.Config{
		MaxPayloadBytes: config.DefaultMaxPayloadBytes,
		PingInterval:    config.DefaultPingInterval,
		JoinCodeLength:  6,
		LingerWindow:    time.Minute,
		MapFetchTimeout: time.Second,
	}
	rooms := registry.NewDirectory[room.Room]()
	matches := registry.NewDirectory[match.LiveMatch]()

	gateway := NewGateway(Options{
		Config:    cfg,
		Logger:    log,
		Validator: validator,
		Rooms:     rooms,
		Matches:   matches,
		Listing:   broadcast.NewChannel(log),
		MapSource: fakeMapSource{},
	})

	router := httprouter.New()
	router.GET("/ws", gateway.Handler())
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testEnv{server: server, validator: validator, rooms: rooms, matches: matches}
}

func (env *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, reqType string, data any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"type": reqType, "data": data})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write %s: %v", reqType, err)
	}
}

type received struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// waitFor reads events until one of the wanted kinds arrives.
func waitFor(t *testing.T, conn *websocket.Conn, kinds ...string) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %v: %v", kinds, err)
		}
		var event received
		if err := json.Unmarshal(raw, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		for _, kind := range kinds {
			if event.Type == kind {
				return event
			}
		}
	}
}

func (env *testEnv) login(t *testing.T, conn *websocket.Conn, account, name string) {
	t.Helper()
	token, err := env.validator.Issue(identity.Identity{AccountID: account, Name: name}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	send(t, conn, "hello", map[string]any{"token": token})
	event := waitFor(t, conn, "welcome", "error")
	if event.Type != "welcome" {
		t.Fatalf("login failed: %s", event.Data)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)

	send(t, conn, "create_room", map[string]any{"name": "nope"})
	event := waitFor(t, conn, "error")
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(event.Data, &body); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if body.Code != "unauthorized" {
		t.Fatalf("expected unauthorized, got %s", body.Code)
	}
}

func TestCreateRoomSendsState(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	env.login(t, conn, "acct-1", "Host")

	send(t, conn, "create_room", map[string]any{"name": "friday lobby", "public": true})
	event := waitFor(t, conn, "room_config")

	var cfg struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(event.Data, &cfg); err != nil {
		t.Fatalf("decode room config: %v", err)
	}
	if len(cfg.Code) != 6 || cfg.Name != "friday lobby" {
		t.Fatalf("unexpected room config: %+v", cfg)
	}
	waitFor(t, conn, "room_teams")
	waitFor(t, conn, "room_members")

	if env.rooms.Len() != 1 {
		t.Fatalf("room not registered: %d", env.rooms.Len())
	}
}

func TestJoinUnknownRoomFails(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t)
	env.login(t, conn, "acct-1", "Guest")

	send(t, conn, "join_room", map[string]any{"code": "000000"})
	event := waitFor(t, conn, "error")
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(event.Data, &body); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if body.Code != "room_not_found" {
		t.Fatalf("expected room_not_found, got %s", body.Code)
	}
}

func TestSecondPlayerJoinsAndChats(t *testing.T) {
	env := newTestEnv(t)
	host := env.dial(t)
	env.login(t, host, "acct-1", "Host")

	send(t, host, "create_room", map[string]any{"name": "chat room"})
	event := waitFor(t, host, "room_config")
	var cfg struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(event.Data, &cfg); err != nil {
		t.Fatalf("decode room config: %v", err)
	}

	guest := env.dial(t)
	env.login(t, guest, "acct-2", "Guest")
	send(t, guest, "join_room", map[string]any{"code": cfg.Code})
	waitFor(t, guest, "room_members")

	send(t, guest, "chat", map[string]any{"body": "hello there"})
	chat := waitFor(t, host, "chat")
	var body struct {
		Name string `json:"name"`
		Body string `json:"body"`
	}
	if err := json.Unmarshal(chat.Data, &body); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if body.Name != "Guest" || body.Body != "hello there" {
		t.Fatalf("unexpected chat event: %+v", body)
	}
}

func TestGuestCannotUseOperatorRequests(t *testing.T) {
	env := newTestEnv(t)
	host := env.dial(t)
	env.login(t, host, "acct-1", "Host")
	send(t, host, "create_room", map[string]any{"name": "locked"})
	event := waitFor(t, host, "room_config")
	var cfg struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(event.Data, &cfg); err != nil {
		t.Fatalf("decode room config: %v", err)
	}

	guest := env.dial(t)
	env.login(t, guest, "acct-2", "Guest")
	send(t, guest, "join_room", map[string]any{"code": cfg.Code})
	waitFor(t, guest, "room_members")

	send(t, guest, "shuffle_teams", map[string]any{})
	errEvent := waitFor(t, guest, "error")
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(errEvent.Data, &body); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	if body.Code != "forbidden" {
		t.Fatalf("expected forbidden, got %s", body.Code)
	}
}

func TestFullMatchOnTinyGrid(t *testing.T) {
	env := newTestEnv(t)
	host := env.dial(t)
	env.login(t, host, "acct-1", "Host")
	send(t, host, "create_room", map[string]any{"name": "speedrun"})
	waitFor(t, host, "room_config")

	// A 1×1 grid ends on the first claim: every line crosses the single cell.
	send(t, host, "set_match_config", map[string]any{
		"grid_size": 1, "mode": "race", "countdown_ms": 20,
	})
	waitFor(t, host, "room_config")

	//1.- The map load is asynchronous; retry until the room reports ready.
	started := false
	for attempt := 0; attempt < 50 && !started; attempt++ {
		send(t, host, "start_match", map[string]any{})
		event := waitFor(t, host, "match_started", "error")
		if event.Type == "match_started" {
			started = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if !started {
		t.Fatal("match never started")
	}

	// The countdown must elapse before claims are accepted.
	waitFor(t, host, "phase_change")

	send(t, host, "submit_run", map[string]any{"cell_index": 0, "time_ms": 31250, "medal": "gold"})
	claim := waitFor(t, host, "cell_claim")
	var claimBody struct {
		Rank int `json:"rank"`
	}
	if err := json.Unmarshal(claim.Data, &claimBody); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if claimBody.Rank != 1 {
		t.Fatalf("expected rank 1, got %d", claimBody.Rank)
	}

	waitFor(t, host, "bingo")
	ended := waitFor(t, host, "match_ended")
	var endBody struct {
		WinnerTeamID int `json:"winner_team_id"`
	}
	if err := json.Unmarshal(ended.Data, &endBody); err != nil {
		t.Fatalf("decode match end: %v", err)
	}
	if endBody.WinnerTeamID == 0 {
		t.Fatal("no winner reported")
	}

	// The end hook deregisters the match shortly after.
	deadline := time.After(2 * time.Second)
	for env.matches.Len() != 0 {
		select {
		case <-deadline:
			t.Fatal("match never deregistered")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
