// Package ws is the WebSocket gateway: it authenticates connections, parses
// client requests, and orchestrates rooms, matches, and session lifetimes.
package ws

import (
	"context"
	"net/http"
	"sync/atomic"
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
	"mapbingo/server/internal/session"
)

// Recorder persists finished matches and keeps the player table current.
type Recorder interface {
	RecordMatch(ctx context.Context, summary match.Summary) error
	GetOrCreatePlayer(ctx context.Context, accountID, name string) (int64, error)
}

// Archiver writes the compressed on-disk bundle for a finished match.
type Archiver interface {
	Write(summary match.Summary) (string, error)
}

// Options wires the gateway's collaborators.
type Options struct {
	Config    *config.Config
	Logger    *logging.Logger
	Validator *identity.Validator
	Rooms     *registry.Directory[room.Room]
	Matches   *registry.Directory[match.LiveMatch]
	Listing   *broadcast.Channel
	MapSource maps.Source
	Recorder  Recorder
	Archiver  Archiver
}

// Gateway owns every live WebSocket connection.
type Gateway struct {
	cfg       *config.Config
	log       *logging.Logger
	validator *identity.Validator
	rooms     *registry.Directory[room.Room]
	matches   *registry.Directory[match.LiveMatch]
	listing   *broadcast.Channel
	mapSource maps.Source
	recorder  Recorder
	archiver  Archiver
	linger    *session.LingerStore
	upgrader  websocket.Upgrader
	clients   atomic.Int64
}

// NewGateway constructs the gateway. Recorder and Archiver are optional; a nil
// collaborator simply disables that persistence path.
func NewGateway(opts Options) *Gateway {
	log := opts.Logger
	if log == nil {
		log = logging.L()
	}
	g := &Gateway{
		cfg:       opts.Config,
		log:       log,
		validator: opts.Validator,
		rooms:     opts.Rooms,
		matches:   opts.Matches,
		listing:   opts.Listing,
		mapSource: opts.MapSource,
		recorder:  opts.Recorder,
		archiver:  opts.Archiver,
		linger:    session.NewLingerStore(opts.Config.LingerWindow, log),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// ClientCount reports the number of live connections.
func (g *Gateway) ClientCount() int {
	return int(g.clients.Load())
}

// Handler upgrades the connection and runs the client pumps.
func (g *Gateway) Handler() httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if g.cfg.MaxClients > 0 && g.ClientCount() >= g.cfg.MaxClients {
			http.Error(w, "server full", http.StatusServiceUnavailable)
			return
		}
		conn, err := g.upgrader.Upgrade(w, r, nil)
		if err != nil {
			g.log.Warn("websocket upgrade failed", logging.Error(err))
			return
		}
		g.clients.Add(1)
		client := newClient(g, conn)
		go client.writePump()
		client.readPump()
	}
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range g.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// loadMaps fetches the room's map pool outside any entry lock and applies the
// result under it. A stale marker means a newer load already won.
func (g *Gateway) loadMaps(target registry.Weak[room.Room], marker int, query maps.Query) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.MapFetchTimeout)
	defer cancel()

	pool, err := g.mapSource.Load(ctx, query)

	handle, ok := target.Upgrade()
	if !ok {
		return
	}
	handle.Do(func(r *room.Room) {
		if err != nil {
			r.ReportMapsFailed(err.Error())
			return
		}
		if !r.ApplyMaps(marker, pool) {
			g.log.Debug("stale map load dropped", logging.Int("marker", marker))
		}
	})
}

// matchEndHook builds the callback a finishing match runs on its own
// goroutine: deregister the match, give the room its lobby state back, and
// hand the summary to the persistence collaborators.
func (g *Gateway) matchEndHook(roomTarget registry.Weak[room.Room], matchHandle *registry.Handle[match.LiveMatch]) func(match.Summary) {
	return func(summary match.Summary) {
		g.matches.RemoveByIdentity(matchHandle)

		if roomHandle, ok := roomTarget.Upgrade(); ok {
			roomHandle.Do(func(r *room.Room) {
				r.ClearActiveMatch()
				if summary.WinnerTeamID != 0 {
					r.MarkWinner(summary.WinnerTeamID)
				}
			})
		}

		if g.recorder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := g.recorder.RecordMatch(ctx, summary); err != nil {
				g.log.Error("record match", logging.String("match_uid", summary.MatchUID), logging.Error(err))
			}
			cancel()
		}
		if g.archiver != nil {
			if _, err := g.archiver.Write(summary); err != nil {
				g.log.Error("archive match", logging.String("match_uid", summary.MatchUID), logging.Error(err))
			}
		}
	}
}
