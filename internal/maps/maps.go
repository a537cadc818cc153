// Package maps models the external map source the server draws grid content
// from. The source is a collaborator behind a narrow interface; rooms apply
// its results through a monotonic load marker so stale responses lose.
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mapbingo/server/internal/logging"
)

// Map describes one playable map backing a grid cell.
type Map struct {
	UID         string `json:"uid"`
	Name        string `json:"name"`
	Author      string `json:"author"`
	Mode        string `json:"mode"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Query selects which maps to load for a room.
type Query struct {
	Mode      string
	Count     int
	MappackID string
}

// Source loads maps for a room. Implementations are expected to be slow and
// fallible; callers must never hold an entity lock across a Load call.
type Source interface {
	Load(ctx context.Context, q Query) ([]Map, error)
}

// HTTPSource fetches maps from a JSON endpoint.
type HTTPSource struct {
	base   string
	client *http.Client
	log    *logging.Logger
}

// NewHTTPSource constructs a source against the given base URL.
func NewHTTPSource(base string, timeout time.Duration, log *logging.Logger) *HTTPSource {
	if log == nil {
		log = logging.L()
	}
	return &HTTPSource{
		base:   base,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Load queries the map endpoint and decodes its JSON response.
func (s *HTTPSource) Load(ctx context.Context, q Query) ([]Map, error) {
	values := url.Values{}
	values.Set("mode", q.Mode)
	values.Set("count", strconv.Itoa(q.Count))
	if q.MappackID != "" {
		values.Set("mappack", q.MappackID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/maps?"+values.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("map source unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("map source returned status %d", resp.StatusCode)
	}

	var loaded []Map
	if err := json.NewDecoder(resp.Body).Decode(&loaded); err != nil {
		return nil, fmt.Errorf("decode map source response: %w", err)
	}
	if len(loaded) < q.Count {
		return nil, fmt.Errorf("map source returned %d maps, need %d", len(loaded), q.Count)
	}
	s.log.Debug("maps loaded", logging.Int("count", len(loaded)), logging.String("mode", q.Mode))
	return loaded[:q.Count], nil
}
