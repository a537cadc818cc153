// Package httpapi serves the operational HTTP surface next to the WebSocket
// endpoint: health probes, the public room listing, join-code QR images, and
// token-gated admin actions.
package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	qrcode "github.com/skip2/go-qrcode"

	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/match"
	"mapbingo/server/internal/registry"
	"mapbingo/server/internal/room"
)

// Options configures the HandlerSet.
type Options struct {
	Logger     *logging.Logger
	Rooms      *registry.Directory[room.Room]
	Matches    *registry.Directory[match.LiveMatch]
	AdminToken string
	Clients    func() int
	Limiter    *SlidingWindowLimiter
	TimeSource func() time.Time
}

// HandlerSet bundles the operational handlers.
type HandlerSet struct {
	logger     *logging.Logger
	rooms      *registry.Directory[room.Room]
	matches    *registry.Directory[match.LiveMatch]
	adminToken string
	clients    func() int
	limiter    *SlidingWindowLimiter
	now        func() time.Time
	startedAt  time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	return &HandlerSet{
		logger:     logger,
		rooms:      opts.Rooms,
		matches:    opts.Matches,
		adminToken: strings.TrimSpace(opts.AdminToken),
		clients:    opts.Clients,
		limiter:    opts.Limiter,
		now:        now,
		startedAt:  now(),
	}
}

// Register attaches all handlers to the provided router.
func (h *HandlerSet) Register(router *httprouter.Router) {
	if router == nil {
		return
	}
	router.GET("/healthz", h.LivenessHandler())
	router.GET("/readyz", h.ReadinessHandler())
	router.GET("/api/status", h.StatusHandler())
	router.GET("/api/rooms", h.RoomListHandler())
	router.GET("/api/rooms/:code/qr", h.QRHandler())
	router.POST("/api/rooms/:code/close", h.CloseRoomHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() httprouter.Handle {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports readiness and basic occupancy.
func (h *HandlerSet) ReadinessHandler() httprouter.Handle {
	type response struct {
		Status        string  `json:"status"`
		UptimeSeconds float64 `json:"uptime_seconds"`
		Rooms         int     `json:"rooms"`
		Matches       int     `json:"matches"`
	}
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		writeJSON(w, http.StatusOK, response{
			Status:        "ok",
			UptimeSeconds: h.now().Sub(h.startedAt).Seconds(),
			Rooms:         h.rooms.Len(),
			Matches:       h.matches.Len(),
		})
	}
}

// StatusHandler returns a snapshot for dashboards.
func (h *HandlerSet) StatusHandler() httprouter.Handle {
	type response struct {
		Rooms         int     `json:"rooms"`
		Matches       int     `json:"matches"`
		Clients       int     `json:"clients"`
		UptimeSeconds float64 `json:"uptime_seconds"`
	}
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		resp := response{
			Rooms:         h.rooms.Len(),
			Matches:       h.matches.Len(),
			UptimeSeconds: h.now().Sub(h.startedAt).Seconds(),
		}
		if h.clients != nil {
			resp.Clients = h.clients()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// roomEntry is one row of the public room listing.
type roomEntry struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Players int    `json:"players"`
	Size    int    `json:"size,omitempty"`
	InGame  bool   `json:"in_game"`
}

// RoomListHandler lists public, still-open rooms.
func (h *HandlerSet) RoomListHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		entries := make([]roomEntry, 0)
		for _, handle := range h.rooms.Handles() {
			handle.Do(func(rm *room.Room) {
				if !rm.Config().Public || rm.Closed() {
					return
				}
				info := rm.ListingInfo()
				entries = append(entries, roomEntry{
					Code:    info.Code,
					Name:    info.Name,
					Players: info.Players,
					Size:    info.Size,
					InGame:  info.InGame,
				})
			})
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// QRHandler renders a PNG QR code pointing at the room's join URL.
func (h *HandlerSet) QRHandler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if _, ok := h.rooms.Find(code); !ok {
			http.Error(w, "no such room", http.StatusNotFound)
			return
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		url := scheme + "://" + r.Host + "/join/" + code

		const qrSize = 320
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			h.logger.Error("qr generation failed", logging.Error(err))
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// CloseRoomHandler force-closes a room. Requires the admin token.
func (h *HandlerSet) CloseRoomHandler() httprouter.Handle {
	type response struct {
		Status string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		reqLogger := h.logger.With(
			logging.String("handler", "close_room"),
			logging.String("remote_addr", r.RemoteAddr),
		)
		if h.adminToken == "" {
			reqLogger.Warn("room close denied: admin auth disabled")
			http.Error(w, "admin authentication not configured", http.StatusForbidden)
			return
		}
		if h.limiter != nil && !h.limiter.Allow() {
			reqLogger.Warn("room close denied: rate limit exceeded")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if !h.authorise(r) {
			reqLogger.Warn("room close denied: unauthorized request")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		code := ps.ByName("code")
		handle, ok := h.rooms.Find(code)
		if !ok {
			http.Error(w, "no such room", http.StatusNotFound)
			return
		}
		handle.Do(func(rm *room.Room) {
			rm.Close("closed by administrator")
		})
		h.rooms.Remove(code)
		reqLogger.Info("room closed by admin", logging.String("room", code))
		writeJSON(w, http.StatusOK, response{Status: "closed"})
	}
}

func (h *HandlerSet) authorise(r *http.Request) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	var token string
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = strings.TrimSpace(header[7:])
	} else if header != "" {
		token = header
	}
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Admin-Token"))
	}
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
