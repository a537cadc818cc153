package store

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"mapbingo/server/internal/match"
)

func testSummary() match.Summary {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return match.Summary{
		MatchUID:     "1f2e3d4c",
		StartedAt:    started,
		EndedAt:      started.Add(18 * time.Minute),
		WinnerTeamID: 2,
		Overtime:     true,
		Teams: []match.GameTeam{
			{ID: 1, Name: "Cherry"},
			{ID: 2, Name: "Marine", Winner: true},
		},
		Claims: []match.ClaimRecord{
			{CellIndex: 0, PlayerUID: "a1", TeamID: 1, TimeMs: 31250, At: started.Add(time.Minute)},
			{CellIndex: 0, PlayerUID: "b1", TeamID: 2, TimeMs: 29800, Medal: "gold", At: started.Add(2 * time.Minute)},
			{CellIndex: 4, PlayerUID: "b2", TeamID: 2, TimeMs: 45000, At: started.Add(3 * time.Minute)},
		},
	}
}

func TestArchiveWritesReadableBundle(t *testing.T) {
	archive, err := NewArchive(t.TempDir(), func() time.Time {
		return time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}

	dir, err := archive.Write(testSummary())
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	manifestData, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest ArchiveManifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.Version != 1 || manifest.ClaimsPath != "claims.jsonl.sz" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}

	//1.- The claim log must decompress back into the exact records written.
	claimsFile, err := os.Open(filepath.Join(dir, manifest.ClaimsPath))
	if err != nil {
		t.Fatalf("open claims: %v", err)
	}
	defer claimsFile.Close()

	var claims []match.ClaimRecord
	scanner := bufio.NewScanner(snappy.NewReader(claimsFile))
	for scanner.Scan() {
		var record match.ClaimRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode claim line: %v", err)
		}
		claims = append(claims, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan claims: %v", err)
	}
	if len(claims) != 3 {
		t.Fatalf("expected 3 claims, got %d", len(claims))
	}
	if claims[1].PlayerUID != "b1" || claims[1].Medal != "gold" {
		t.Fatalf("claim corrupted: %+v", claims[1])
	}

	//2.- The summary document round-trips through zstd.
	summaryFile, err := os.Open(filepath.Join(dir, manifest.SummaryPath))
	if err != nil {
		t.Fatalf("open summary: %v", err)
	}
	defer summaryFile.Close()

	decoder, err := zstd.NewReader(summaryFile)
	if err != nil {
		t.Fatalf("zstd reader: %v", err)
	}
	defer decoder.Close()

	var got struct {
		MatchUID     string `json:"match_uid"`
		WinnerTeamID int    `json:"winner_team_id"`
		Overtime     bool   `json:"overtime"`
		Teams        []struct {
			Name   string
			Winner bool
		} `json:"teams"`
	}
	if err := json.NewDecoder(decoder).Decode(&got); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if got.MatchUID != "1f2e3d4c" || got.WinnerTeamID != 2 || !got.Overtime {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if len(got.Teams) != 2 || !got.Teams[1].Winner {
		t.Fatalf("team snapshot missing: %+v", got.Teams)
	}
}

func TestArchiveSanitisesMatchUID(t *testing.T) {
	archive, err := NewArchive(t.TempDir(), func() time.Time {
		return time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	})
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}

	summary := testSummary()
	summary.MatchUID = "../../etc/passwd"
	dir, err := archive.Write(summary)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if filepath.Base(dir) != "etcpasswd-20250601T123000Z" {
		t.Fatalf("uid not sanitised: %s", dir)
	}
}

func TestArchiveRequiresRoot(t *testing.T) {
	if _, err := NewArchive("", nil); err == nil {
		t.Fatal("expected error for empty root")
	}
}
