package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/julienschmidt/httprouter"

	"mapbingo/server/internal/broadcast"
	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/match"
	"mapbingo/server/internal/registry"
	"mapbingo/server/internal/room"
)

func newTestServer(t *testing.T, adminToken string) (*httptest.Server, *registry.Directory[room.Room]) {
	t.Helper()
	rooms := registry.NewDirectory[room.Room]()
	matches := registry.NewDirectory[match.LiveMatch]()

	handlers := NewHandlerSet(Options{
		Logger:     logging.NewTestLogger(),
		Rooms:      rooms,
		Matches:    matches,
		AdminToken: adminToken,
		Clients:    func() int { return 3 },
	})
	router := httprouter.New()
	handlers.Register(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, rooms
}

func addRoom(t *testing.T, rooms *registry.Directory[room.Room], code string, public bool) {
	t.Helper()
	r := room.New(code, room.Config{Name: "room " + code, Public: public},
		match.Config{GridSize: 3, Mode: "race"},
		broadcast.NewChannel(logging.NewTestLogger()), logging.NewTestLogger())
	handle, err := rooms.Register(code, r)
	if err != nil {
		t.Fatalf("register room: %v", err)
	}
	handle.Do(func(rm *room.Room) {
		if _, err := rm.AddPlayer(room.Profile{PlayerUID: "host-" + code, Name: "Host"}, true); err != nil {
			t.Fatalf("seed host: %v", err)
		}
	})
}

func TestLivenessHandler(t *testing.T) {
	server, _ := newTestServer(t, "")
	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "alive" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRoomListOnlyShowsPublicRooms(t *testing.T) {
	server, rooms := newTestServer(t, "")
	addRoom(t, rooms, "111111", true)
	addRoom(t, rooms, "222222", false)

	resp, err := http.Get(server.URL + "/api/rooms")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var entries []roomEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 public room, got %d", len(entries))
	}
	if entries[0].Code != "111111" || entries[0].Players != 1 {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestQRHandlerReturnsPNG(t *testing.T) {
	server, rooms := newTestServer(t, "")
	addRoom(t, rooms, "333333", true)

	resp, err := http.Get(server.URL + "/api/rooms/333333/qr")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("unexpected content type: %s", ct)
	}

	missing, err := http.Get(server.URL + "/api/rooms/999999/qr")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown room, got %d", missing.StatusCode)
	}
}

func TestCloseRoomRequiresToken(t *testing.T) {
	server, rooms := newTestServer(t, "hunter2")
	addRoom(t, rooms, "444444", true)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/rooms/444444/close", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, server.URL+"/api/rooms/444444/close", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	if rooms.Len() != 0 {
		t.Fatalf("room still registered after admin close: %d", rooms.Len())
	}
}

func TestCloseRoomDisabledWithoutConfiguredToken(t *testing.T) {
	server, rooms := newTestServer(t, "")
	addRoom(t, rooms, "555555", true)

	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/rooms/555555/close", nil)
	req.Header.Set("Authorization", "Bearer anything")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 when admin auth is disabled, got %d", resp.StatusCode)
	}
	if rooms.Len() != 1 {
		t.Fatal("room was closed although admin auth is disabled")
	}
}

func TestStatusHandlerCounts(t *testing.T) {
	server, rooms := newTestServer(t, "")
	addRoom(t, rooms, "666666", true)

	resp, err := http.Get(server.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Rooms   int `json:"rooms"`
		Clients int `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Rooms != 1 || body.Clients != 3 {
		t.Fatalf("unexpected status body: %+v", body)
	}
}
