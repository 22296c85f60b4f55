// Package restapi implements the remote store against a hosted
// PostgREST-style backend (/rest/v1/<table> with eq. filters).
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

// APIError is a non-2xx response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("restapi: %s %s -> %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
}

var _ remote.Store = (*Client)(nil)

// NewClient limits reads to ratePerSec and writes to half of that.
func NewClient(baseURL, apiKey string, ratePerSec float64, timeout time.Duration) *Client {
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	writes := ratePerSec / 2
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		httpClient:   &http.Client{Timeout: timeout},
		readLimiter:  rate.NewLimiter(rate.Limit(ratePerSec), int(ratePerSec)+1),
		writeLimiter: rate.NewLimiter(rate.Limit(writes), int(writes)+1),
	}
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, table string, q url.Values, body any, prefer string, out any) error {
	lim := c.readLimiter
	if method != http.MethodGet {
		lim = c.writeLimiter
	}
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	path := "/rest/v1/" + table
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http do: %w", err)
	}
	defer resp.Body.Close()
	telemetry.Metrics.RemoteLatency.Since(start)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	telemetry.Debugf("restapi: %s %s -> %d (%s)", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 300 {
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s response: %w", table, err)
		}
	}
	return nil
}

func eq(v string) string { return "eq." + v }

// ── Fixtures ────────────────────────────────────────────────

func (c *Client) FetchFixture(ctx context.Context, fixtureID string) (remote.Fixture, error) {
	var rows []remote.Fixture
	q := url.Values{"id": {eq(fixtureID)}, "select": {"*"}}
	if err := c.do(ctx, http.MethodGet, "fixtures", q, nil, "", &rows); err != nil {
		return remote.Fixture{}, fmt.Errorf("fetch fixture %s: %w", fixtureID, err)
	}
	if len(rows) == 0 {
		return remote.Fixture{}, fmt.Errorf("fixture %s: %w", fixtureID, remote.ErrNotFound)
	}
	return rows[0], nil
}

func (c *Client) UpdateFixtureScore(ctx context.Context, fixtureID string, home, away int) error {
	var rows []remote.Fixture
	body := map[string]any{"home_score": home, "away_score": away, "updated_at": time.Now().UTC()}
	q := url.Values{"id": {eq(fixtureID)}}
	if err := c.do(ctx, http.MethodPatch, "fixtures", q, body, "return=representation", &rows); err != nil {
		return fmt.Errorf("update fixture score %s: %w", fixtureID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("fixture %s: %w", fixtureID, remote.ErrNotFound)
	}
	return nil
}

// ── Events ──────────────────────────────────────────────────

// eventRow lets the backend assign id and created_at.
type eventRow struct {
	ID         string     `json:"id,omitempty"`
	FixtureID  string     `json:"fixture_id"`
	EventType  string     `json:"event_type"`
	TeamID     string     `json:"team_id"`
	PlayerID   string     `json:"player_id,omitempty"`
	PlayerName string     `json:"player_name"`
	EventTime  int        `json:"event_time"`
	IsOwnGoal  bool       `json:"is_own_goal"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

const eventOrder = "created_at.asc,id.asc"

func (c *Client) ListEvents(ctx context.Context, fixtureID string, types ...remote.EventType) ([]remote.MatchEvent, error) {
	q := url.Values{"fixture_id": {eq(fixtureID)}, "order": {eventOrder}}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		q.Set("event_type", "in.("+strings.Join(names, ",")+")")
	}
	var rows []remote.MatchEvent
	if err := c.do(ctx, http.MethodGet, "match_events", q, nil, "", &rows); err != nil {
		return nil, fmt.Errorf("list events %s: %w", fixtureID, err)
	}
	return rows, nil
}

func (c *Client) FindEvents(ctx context.Context, key remote.EventKey) ([]remote.MatchEvent, error) {
	q := url.Values{
		"fixture_id":  {eq(key.FixtureID)},
		"event_type":  {eq(string(key.EventType))},
		"team_id":     {eq(key.TeamID)},
		"player_name": {eq(key.PlayerName)},
		"event_time":  {eq(strconv.Itoa(key.EventTime))},
		"order":       {eventOrder},
	}
	var rows []remote.MatchEvent
	if err := c.do(ctx, http.MethodGet, "match_events", q, nil, "", &rows); err != nil {
		return nil, fmt.Errorf("find events %s: %w", key.FixtureID, err)
	}
	return rows, nil
}

func (c *Client) InsertEvent(ctx context.Context, ev remote.MatchEvent) (remote.MatchEvent, error) {
	row := eventRow{
		ID:         ev.ID,
		FixtureID:  ev.FixtureID,
		EventType:  string(ev.EventType),
		TeamID:     ev.TeamID,
		PlayerID:   ev.PlayerID,
		PlayerName: ev.PlayerName,
		EventTime:  ev.EventTime,
		IsOwnGoal:  ev.IsOwnGoal,
	}
	if !ev.CreatedAt.IsZero() {
		ts := ev.CreatedAt.UTC()
		row.CreatedAt = &ts
	}
	var rows []remote.MatchEvent
	if err := c.do(ctx, http.MethodPost, "match_events", nil, row, "return=representation", &rows); err != nil {
		return remote.MatchEvent{}, fmt.Errorf("insert event %s: %w", ev.FixtureID, err)
	}
	if len(rows) == 0 {
		return remote.MatchEvent{}, fmt.Errorf("insert event %s: empty representation", ev.FixtureID)
	}
	return rows[0], nil
}

func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	var rows []remote.MatchEvent
	q := url.Values{"id": {eq(eventID)}}
	if err := c.do(ctx, http.MethodDelete, "match_events", q, nil, "return=representation", &rows); err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("event %s: %w", eventID, remote.ErrNotFound)
	}
	return nil
}

// ── Player time ─────────────────────────────────────────────

func (c *Client) UpsertPlayerTime(ctx context.Context, rec remote.PlayerTimeRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	if rec.Periods == nil {
		rec.Periods = []remote.PeriodRecord{}
	}
	q := url.Values{"on_conflict": {"fixture_id,player_id"}}
	if err := c.do(ctx, http.MethodPost, "player_times", q, rec, "resolution=merge-duplicates,return=minimal", nil); err != nil {
		return fmt.Errorf("upsert player time %s/%s: %w", rec.FixtureID, rec.PlayerID, err)
	}
	return nil
}
