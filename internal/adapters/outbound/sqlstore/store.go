// Package sqlstore implements the remote store on database/sql. SQLite
// (modernc, pure Go) serves development and tests; Postgres serves a
// self-hosted backend.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// SQLite columns hold timestamps as fixed-width UTC text so they sort.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ remote.Store = (*Store)(nil)

// OpenSQLite opens (creating if needed) the database file at path and
// migrates it.
func OpenSQLite(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return open(db, SQLite)
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return open(db, Postgres)
}

func open(db *sql.DB, d Dialect) (*Store, error) {
	if err := Migrate(db, d); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $n for Postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) ts(t time.Time) any {
	t = t.UTC()
	if s.dialect == SQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

// scanTime accepts both the SQLite text form and native timestamps.
type scanTime struct{ t *time.Time }

func (st scanTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*st.t = v.UTC()
	case string:
		return st.parse(v)
	case []byte:
		return st.parse(string(v))
	case nil:
		*st.t = time.Time{}
	default:
		return fmt.Errorf("sqlstore: cannot scan %T into time", src)
	}
	return nil
}

func (st scanTime) parse(v string) error {
	t, err := time.Parse(sqliteTimeLayout, v)
	if err != nil {
		if t, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return fmt.Errorf("sqlstore: parse time %q: %w", v, err)
		}
	}
	*st.t = t.UTC()
	return nil
}

var _ sql.Scanner = scanTime{}

func observe(start time.Time) { telemetry.Metrics.RemoteLatency.Since(start) }

// ── Fixtures ────────────────────────────────────────────────

// UpsertFixture creates or replaces a fixture row. Used for seeding and by
// the ops tooling; officiating only reads fixtures.
func (s *Store) UpsertFixture(ctx context.Context, f remote.Fixture) error {
	defer observe(time.Now())
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO fixtures (id, home_team_id, home_team_name, away_team_id, away_team_name, home_score, away_score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			home_team_id = excluded.home_team_id,
			home_team_name = excluded.home_team_name,
			away_team_id = excluded.away_team_id,
			away_team_name = excluded.away_team_name,
			home_score = excluded.home_score,
			away_score = excluded.away_score,
			updated_at = excluded.updated_at`),
		f.ID, f.HomeTeamID, f.HomeTeamName, f.AwayTeamID, f.AwayTeamName, f.HomeScore, f.AwayScore, s.ts(s.now()))
	if err != nil {
		return fmt.Errorf("upsert fixture %s: %w", f.ID, err)
	}
	return nil
}

func (s *Store) FetchFixture(ctx context.Context, fixtureID string) (remote.Fixture, error) {
	defer observe(time.Now())
	var f remote.Fixture
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, home_team_id, home_team_name, away_team_id, away_team_name, home_score, away_score, updated_at
		FROM fixtures WHERE id = ?`), fixtureID).
		Scan(&f.ID, &f.HomeTeamID, &f.HomeTeamName, &f.AwayTeamID, &f.AwayTeamName, &f.HomeScore, &f.AwayScore, scanTime{&f.UpdatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Fixture{}, fmt.Errorf("fixture %s: %w", fixtureID, remote.ErrNotFound)
	}
	if err != nil {
		return remote.Fixture{}, fmt.Errorf("fetch fixture %s: %w", fixtureID, err)
	}
	return f, nil
}

func (s *Store) UpdateFixtureScore(ctx context.Context, fixtureID string, home, away int) error {
	defer observe(time.Now())
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE fixtures SET home_score = ?, away_score = ?, updated_at = ? WHERE id = ?`),
		home, away, s.ts(s.now()), fixtureID)
	if err != nil {
		return fmt.Errorf("update fixture score %s: %w", fixtureID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("fixture %s: %w", fixtureID, remote.ErrNotFound)
	}
	return nil
}

// ── Events ──────────────────────────────────────────────────

const eventColumns = `id, fixture_id, event_type, team_id, player_id, player_name, event_time, is_own_goal, created_at`

func (s *Store) ListEvents(ctx context.Context, fixtureID string, types ...remote.EventType) ([]remote.MatchEvent, error) {
	defer observe(time.Now())
	q := `SELECT ` + eventColumns + ` FROM match_events WHERE fixture_id = ?`
	args := []any{fixtureID}
	if len(types) > 0 {
		q += ` AND event_type IN (?` + strings.Repeat(`, ?`, len(types)-1) + `)`
		for _, t := range types {
			args = append(args, string(t))
		}
	}
	q += ` ORDER BY created_at, id`
	evs, err := s.queryEvents(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", fixtureID, err)
	}
	return evs, nil
}

func (s *Store) FindEvents(ctx context.Context, key remote.EventKey) ([]remote.MatchEvent, error) {
	defer observe(time.Now())
	evs, err := s.queryEvents(ctx, `SELECT `+eventColumns+` FROM match_events
		WHERE fixture_id = ? AND event_type = ? AND team_id = ? AND player_name = ? AND event_time = ?
		ORDER BY created_at, id`,
		key.FixtureID, string(key.EventType), key.TeamID, key.PlayerName, key.EventTime)
	if err != nil {
		return nil, fmt.Errorf("find events %s: %w", key.FixtureID, err)
	}
	return evs, nil
}

func (s *Store) queryEvents(ctx context.Context, q string, args ...any) ([]remote.MatchEvent, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []remote.MatchEvent
	for rows.Next() {
		var (
			ev  remote.MatchEvent
			typ string
		)
		if err := rows.Scan(&ev.ID, &ev.FixtureID, &typ, &ev.TeamID, &ev.PlayerID, &ev.PlayerName,
			&ev.EventTime, &ev.IsOwnGoal, scanTime{&ev.CreatedAt}); err != nil {
			return nil, err
		}
		ev.EventType = remote.EventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// InsertEvent assigns an id and creation time when the caller left them
// empty and returns the stored row.
func (s *Store) InsertEvent(ctx context.Context, ev remote.MatchEvent) (remote.MatchEvent, error) {
	defer observe(time.Now())
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	ev.CreatedAt = ev.CreatedAt.UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO match_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.ID, ev.FixtureID, string(ev.EventType), ev.TeamID, ev.PlayerID, ev.PlayerName,
		ev.EventTime, ev.IsOwnGoal, s.ts(ev.CreatedAt))
	if err != nil {
		return remote.MatchEvent{}, fmt.Errorf("insert event %s: %w", ev.FixtureID, err)
	}
	return ev, nil
}

func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	defer observe(time.Now())
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM match_events WHERE id = ?`), eventID)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s: %w", eventID, remote.ErrNotFound)
	}
	return nil
}

// ── Player time ─────────────────────────────────────────────

func (s *Store) UpsertPlayerTime(ctx context.Context, rec remote.PlayerTimeRecord) error {
	defer observe(time.Now())
	periods := rec.Periods
	if periods == nil {
		periods = []remote.PeriodRecord{}
	}
	raw, err := json.Marshal(periods)
	if err != nil {
		return fmt.Errorf("encode periods %s/%s: %w", rec.FixtureID, rec.PlayerID, err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO player_times (fixture_id, player_id, player_name, team_id, total_minutes, periods, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (fixture_id, player_id) DO UPDATE SET
			player_name = excluded.player_name,
			team_id = excluded.team_id,
			total_minutes = excluded.total_minutes,
			periods = excluded.periods,
			updated_at = excluded.updated_at`),
		rec.FixtureID, rec.PlayerID, rec.PlayerName, rec.TeamID, rec.TotalMinutes, string(raw), s.ts(s.now()))
	if err != nil {
		return fmt.Errorf("upsert player time %s/%s: %w", rec.FixtureID, rec.PlayerID, err)
	}
	return nil
}

// PlayerTime reads back one record.
func (s *Store) PlayerTime(ctx context.Context, fixtureID, playerID string) (remote.PlayerTimeRecord, error) {
	defer observe(time.Now())
	var (
		rec remote.PlayerTimeRecord
		raw []byte
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT fixture_id, player_id, player_name, team_id, total_minutes, periods, updated_at
		FROM player_times WHERE fixture_id = ? AND player_id = ?`), fixtureID, playerID).
		Scan(&rec.FixtureID, &rec.PlayerID, &rec.PlayerName, &rec.TeamID, &rec.TotalMinutes, &raw, scanTime{&rec.UpdatedAt})
	if errors.Is(err, sql.ErrNoRows) {
		return remote.PlayerTimeRecord{}, fmt.Errorf("player time %s/%s: %w", fixtureID, playerID, remote.ErrNotFound)
	}
	if err != nil {
		return remote.PlayerTimeRecord{}, fmt.Errorf("read player time %s/%s: %w", fixtureID, playerID, err)
	}
	if err := json.Unmarshal(raw, &rec.Periods); err != nil {
		return remote.PlayerTimeRecord{}, fmt.Errorf("decode periods %s/%s: %w", fixtureID, playerID, err)
	}
	return rec, nil
}
