// Package store persists finished matches: a relational record for player
// stats and a compressed on-disk bundle with the full claim log.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"mapbingo/server/internal/match"
)

var archiveNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// ArchiveManifest describes the bundle layout so tooling can locate artefacts.
type ArchiveManifest struct {
	Version     int    `json:"version"`
	CreatedAt   string `json:"created_at"`
	ClaimsPath  string `json:"claims_path"`
	SummaryPath string `json:"summary_path"`
}

// Archive writes finished-match bundles under a root directory, one folder per
// match. The claim log is a snappy-framed JSONL stream; the summary is a
// zstd-compressed JSON document.
type Archive struct {
	root string
	now  func() time.Time
}

// NewArchive prepares the archive root.
func NewArchive(root string, clock func() time.Time) (*Archive, error) {
	if root == "" {
		return nil, fmt.Errorf("archive root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Archive{root: root, now: clock}, nil
}

// Write persists one finished match and returns the bundle directory.
func (a *Archive) Write(summary match.Summary) (string, error) {
	if a == nil {
		return "", fmt.Errorf("archive not initialised")
	}

	cleaned := archiveNameCleaner.ReplaceAllString(summary.MatchUID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := a.now().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(a.root, folder)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}

	if err := a.writeClaims(filepath.Join(path, "claims.jsonl.sz"), summary.Claims); err != nil {
		return "", err
	}
	if err := a.writeSummary(filepath.Join(path, "summary.json.zst"), summary); err != nil {
		return "", err
	}

	manifest := ArchiveManifest{
		Version:     1,
		CreatedAt:   created.Format(time.RFC3339Nano),
		ClaimsPath:  "claims.jsonl.sz",
		SummaryPath: "summary.json.zst",
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(path, "manifest.json"), data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (a *Archive) writeClaims(path string, claims []match.ClaimRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	stream := snappy.NewBufferedWriter(file)

	var firstErr error
	//1.- One JSON line per claim so downstream JSONL parsers can stream the log.
	for _, record := range claims {
		line, err := json.Marshal(record)
		if err != nil {
			firstErr = err
			break
		}
		if _, err := stream.Write(line); err != nil {
			firstErr = err
			break
		}
		if _, err := stream.Write([]byte("\n")); err != nil {
			firstErr = err
			break
		}
	}
	if err := stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *Archive) writeSummary(path string, summary match.Summary) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	stream, err := zstd.NewWriter(file)
	if err != nil {
		file.Close()
		return err
	}

	var firstErr error
	payload := archivedSummary{
		Summary: summary,
		Teams:   summary.Teams,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		firstErr = err
	} else if _, err := stream.Write(data); err != nil {
		firstErr = err
	}
	if err := stream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// archivedSummary re-attaches the team snapshot the wire form of Summary omits.
type archivedSummary struct {
	match.Summary
	Teams []match.GameTeam `json:"teams"`
}
