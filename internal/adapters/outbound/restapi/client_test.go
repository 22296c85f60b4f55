package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/charleschow/matchday/internal/remote"
)

type recorded struct {
	method string
	path   string
	query  map[string]string
	prefer string
	apikey string
	body   map[string]any
}

// backend answers with canned JSON per "METHOD table" and records requests.
func backend(t *testing.T, replies map[string]string, status int) (*Client, *[]recorded) {
	t.Helper()
	var reqs []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  map[string]string{},
			prefer: r.Header.Get("Prefer"),
			apikey: r.Header.Get("apikey"),
		}
		for k, v := range r.URL.Query() {
			rec.query[k] = v[0]
		}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			json.Unmarshal(data, &rec.body)
		}
		reqs = append(reqs, rec)

		table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
		w.Header().Set("Content-Type", "application/json")
		if status != 0 {
			w.WriteHeader(status)
			w.Write([]byte(`{"message":"boom"}`))
			return
		}
		w.Write([]byte(replies[r.Method+" "+table]))
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "anon-key", 1000, 5*time.Second), &reqs
}

func TestFetchFixture(t *testing.T) {
	c, reqs := backend(t, map[string]string{
		"GET fixtures": `[{"id":"fx-1","home_team_id":"h","away_team_id":"a","home_score":2,"away_score":1}]`,
	}, 0)

	f, err := c.FetchFixture(context.Background(), "fx-1")
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, f.HomeScore, 2)
	assertEq(t, f.AwayTeamID, "a")

	r := (*reqs)[0]
	assertEq(t, r.path, "/rest/v1/fixtures")
	assertEq(t, r.query["id"], "eq.fx-1")
	assertEq(t, r.apikey, "anon-key")
}

func TestNotFoundFromEmptyRepresentation(t *testing.T) {
	c, _ := backend(t, map[string]string{
		"GET fixtures":        `[]`,
		"PATCH fixtures":      `[]`,
		"DELETE match_events": `[]`,
	}, 0)
	ctx := context.Background()

	if _, err := c.FetchFixture(ctx, "x"); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("fetch: %v", err)
	}
	if err := c.UpdateFixtureScore(ctx, "x", 1, 0); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("update: %v", err)
	}
	if err := c.DeleteEvent(ctx, "x"); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("delete: %v", err)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	c, _ := backend(t, nil, http.StatusServiceUnavailable)
	_, err := c.ListEvents(context.Background(), "fx-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	assertEq(t, apiErr.Status, http.StatusServiceUnavailable)
}

func TestListEventsFilters(t *testing.T) {
	c, reqs := backend(t, map[string]string{
		"GET match_events": `[{"id":"e1","fixture_id":"fx-1","event_type":"goal","team_id":"h","player_name":"Ana","event_time":12,"is_own_goal":true,"created_at":"2026-05-01T15:00:00Z"}]`,
	}, 0)

	evs, err := c.ListEvents(context.Background(), "fx-1", remote.EventGoal, remote.EventAssist)
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, len(evs), 1)
	assertEq(t, evs[0].IsOwnGoal, true)
	assertEq(t, evs[0].EventType, remote.EventGoal)

	r := (*reqs)[0]
	assertEq(t, r.query["event_type"], "in.(goal,assist)")
	assertEq(t, r.query["order"], "created_at.asc,id.asc")
}

func TestFindEventsUsesFullKey(t *testing.T) {
	c, reqs := backend(t, map[string]string{"GET match_events": `[]`}, 0)
	_, err := c.FindEvents(context.Background(), remote.EventKey{
		FixtureID: "fx-1", EventType: remote.EventRedCard, TeamID: "a", PlayerName: "Bo", EventTime: 77,
	})
	if err != nil {
		t.Fatal(err)
	}
	q := (*reqs)[0].query
	assertEq(t, q["event_type"], "eq.red_card")
	assertEq(t, q["player_name"], "eq.Bo")
	assertEq(t, q["event_time"], "eq.77")
}

func TestInsertEventLetsBackendAssignID(t *testing.T) {
	c, reqs := backend(t, map[string]string{
		"POST match_events": `[{"id":"gen-1","fixture_id":"fx-1","event_type":"goal","team_id":"h","event_time":3}]`,
	}, 0)

	saved, err := c.InsertEvent(context.Background(), remote.MatchEvent{
		FixtureID: "fx-1", EventType: remote.EventGoal, TeamID: "h", EventTime: 3, IsOwnGoal: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	assertEq(t, saved.ID, "gen-1")

	r := (*reqs)[0]
	assertEq(t, r.prefer, "return=representation")
	if _, ok := r.body["id"]; ok {
		t.Fatal("empty id must be omitted")
	}
	if _, ok := r.body["created_at"]; ok {
		t.Fatal("zero created_at must be omitted")
	}
	assertEq(t, r.body["is_own_goal"], any(true))
}

func TestUpsertPlayerTime(t *testing.T) {
	c, reqs := backend(t, nil, 0)
	err := c.UpsertPlayerTime(context.Background(), remote.PlayerTimeRecord{
		FixtureID: "fx-1", PlayerID: "p1", TotalMinutes: 2.25,
	})
	if err != nil {
		t.Fatal(err)
	}
	r := (*reqs)[0]
	assertEq(t, r.method, http.MethodPost)
	assertEq(t, r.query["on_conflict"], "fixture_id,player_id")
	assertEq(t, r.prefer, "resolution=merge-duplicates,return=minimal")
	assertEq(t, r.body["total_minutes"], any(2.25))
}

func assertEq[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Fatalf("got %v want %v", got, want)
	}
}
