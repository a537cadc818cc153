package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mapbingo/server/internal/logging"
	"mapbingo/server/internal/match"
)

// Postgres records finished matches and keeps the player table in sync with
// the identities seen on connections.
type Postgres struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// Connect opens a pool against the given URL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, log *logging.Logger) (*Postgres, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database url must be provided")
	}
	if log == nil {
		log = logging.L()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool, log: log}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	if p != nil && p.pool != nil {
		p.pool.Close()
	}
}

// EnsureSchema creates the tables when they do not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS players (
	id         BIGSERIAL PRIMARY KEY,
	account_id TEXT UNIQUE NOT NULL,
	name       TEXT NOT NULL,
	last_seen  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS matches (
	id             BIGSERIAL PRIMARY KEY,
	match_uid      TEXT UNIQUE NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	ended_at       TIMESTAMPTZ NOT NULL,
	winner_team_id INT NOT NULL,
	winner_team    TEXT NOT NULL,
	overtime       BOOLEAN NOT NULL
);
CREATE TABLE IF NOT EXISTS match_claims (
	id         BIGSERIAL PRIMARY KEY,
	match_uid  TEXT NOT NULL REFERENCES matches(match_uid) ON DELETE CASCADE,
	cell_index INT NOT NULL,
	player_uid TEXT NOT NULL,
	team_id    INT NOT NULL,
	time_ms    BIGINT NOT NULL,
	medal      TEXT NOT NULL DEFAULT '',
	claimed_at TIMESTAMPTZ NOT NULL
);`)
	return err
}

// GetOrCreatePlayer upserts the account and returns its row id.
func (p *Postgres) GetOrCreatePlayer(ctx context.Context, accountID, name string) (int64, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO players(account_id, name, last_seen) VALUES ($1, $2, now())
		 ON CONFLICT (account_id) DO UPDATE SET name = EXCLUDED.name, last_seen = now()
		 RETURNING id`,
		accountID, name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert player: %w", err)
	}
	return id, nil
}

// RecordMatch stores the match row and its claim log in one transaction.
func (p *Postgres) RecordMatch(ctx context.Context, summary match.Summary) error {
	winnerName := ""
	for _, team := range summary.Teams {
		if team.ID == summary.WinnerTeamID {
			winnerName = team.Name
			break
		}
	}

	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO matches(match_uid, started_at, ended_at, winner_team_id, winner_team, overtime)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		summary.MatchUID, summary.StartedAt, summary.EndedAt,
		summary.WinnerTeamID, winnerName, summary.Overtime,
	)
	if err != nil {
		return fmt.Errorf("insert match: %w", err)
	}

	for _, claim := range summary.Claims {
		_, err = tx.Exec(ctx,
			`INSERT INTO match_claims(match_uid, cell_index, player_uid, team_id, time_ms, medal, claimed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			summary.MatchUID, claim.CellIndex, claim.PlayerUID,
			claim.TeamID, claim.TimeMs, claim.Medal, claim.At,
		)
		if err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.log.Info("match recorded",
		logging.String("match_uid", summary.MatchUID),
		logging.Int("claims", len(summary.Claims)))
	return nil
}
