// Package refapi is the referee-facing JSON API. Each fixture has at most
// one open session; every route below /fixtures/{fixtureID} except open
// needs that session.
package refapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/charleschow/matchday/internal/core/batchsave"
	"github.com/charleschow/matchday/internal/core/consistency"
	"github.com/charleschow/matchday/internal/core/dedup"
	"github.com/charleschow/matchday/internal/core/match"
	"github.com/charleschow/matchday/internal/core/session"
	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

type Deps struct {
	Sessions *session.Registry
	Fixtures remote.FixtureStore
	// SessionOptions is the template for every session opened here.
	SessionOptions session.Options
	Scores         *consistency.Service
	Dedup          *dedup.Service
	Saver          *batchsave.Manager
	// RemoteTimeout bounds remote work started by a request.
	RemoteTimeout time.Duration
}

type Handler struct {
	Deps
}

func NewHandler(d Deps) *Handler {
	if d.RemoteTimeout <= 0 {
		d.RemoteTimeout = 10 * time.Second
	}
	return &Handler{Deps: d}
}

func (h *Handler) remoteCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.RemoteTimeout)
}

func fixtureID(r *http.Request) string { return chi.URLParam(r, "fixtureID") }

// session resolves the fixture's open session or answers 404.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := fixtureID(r)
	s, ok := h.Sessions.Get(id)
	if !ok {
		respondError(w, fmt.Errorf("fixture %s: %w", id, errNoSession))
		return nil, false
	}
	return s, true
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": h.Sessions.Count(),
		"time":     time.Now().UTC(),
	})
}

func (h *Handler) metrics(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, telemetry.Snapshot())
}

// ── Session lifecycle ───────────────────────────────────────

type teamsRequest struct {
	Home *match.Team `json:"home,omitempty"`
	Away *match.Team `json:"away,omitempty"`
}

type openResponse struct {
	Created bool        `json:"created"`
	State   match.State `json:"state"`
}

// openSession is idempotent: a second open returns the live session.
func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	id := fixtureID(r)
	if s, ok := h.Sessions.Get(id); ok {
		h.respondOpen(w, s, false)
		return
	}

	var req teamsRequest
	if err := decode(r, &req, true); err != nil {
		respondError(w, err)
		return
	}
	home, away, err := h.hydrateTeams(r, id, req)
	if err != nil {
		respondError(w, err)
		return
	}

	opened := session.Open(id, home, away, h.SessionOptions)
	s, created := h.Sessions.Add(opened)
	if !created {
		opened.Close()
	}
	h.respondOpen(w, s, created)
}

func (h *Handler) respondOpen(w http.ResponseWriter, s *session.Session, created bool) {
	st, err := s.Snapshot()
	if err != nil {
		respondError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, openResponse{Created: created, State: st})
}

// hydrateTeams prefers teams from the request and falls back to the
// fixture row. A fixture the remote store does not know is only accepted
// when the request names both teams.
func (h *Handler) hydrateTeams(r *http.Request, id string, req teamsRequest) (match.Team, match.Team, error) {
	if req.Home != nil && req.Away != nil && req.Home.Known() && req.Away.Known() {
		return *req.Home, *req.Away, nil
	}
	if h.Fixtures == nil {
		return match.Team{}, match.Team{}, fmt.Errorf("fixture %s: %w", id, match.ErrMissingTeam)
	}
	ctx, cancel := h.remoteCtx(r)
	defer cancel()
	f, err := h.Fixtures.FetchFixture(ctx, id)
	if err != nil {
		return match.Team{}, match.Team{}, err
	}
	home := match.Team{ID: f.HomeTeamID, Name: f.HomeTeamName}
	away := match.Team{ID: f.AwayTeamID, Name: f.AwayTeamName}
	if req.Home != nil && req.Home.Known() {
		home = *req.Home
	}
	if req.Away != nil && req.Away.Known() {
		away = *req.Away
	}
	return home, away, nil
}

type closeResponse struct {
	Closed bool             `json:"closed"`
	Save   batchsave.Result `json:"save"`
}

// endSession writes everything out, then closes. The session stays open
// when anything could not be written.
func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.remoteCtx(r)
	defer cancel()

	if err := s.ForceSync(ctx); err != nil {
		respondError(w, fmt.Errorf("final sync: %w", err))
		return
	}
	res, err := h.Saver.SaveAll(ctx, s)
	if errors.Is(err, batchsave.ErrIncomplete) {
		respondJSON(w, http.StatusBadGateway, closeResponse{Closed: false, Save: res})
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	h.Sessions.Remove(s.FixtureID())
	respondJSON(w, http.StatusOK, closeResponse{Closed: true, Save: res})
}

// resetSession starts the sheet over. Omitted teams keep their identity.
func (h *Handler) resetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req teamsRequest
	if err := decode(r, &req, true); err != nil {
		respondError(w, err)
		return
	}
	cur, err := s.Snapshot()
	if err != nil {
		respondError(w, err)
		return
	}
	home, away := cur.Home, cur.Away
	if req.Home != nil {
		home = *req.Home
	}
	if req.Away != nil {
		away = *req.Away
	}
	if err := s.Reset(home, away); err != nil {
		respondError(w, err)
		return
	}
	h.state(w, r)
}

func (h *Handler) state(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	st, err := s.Snapshot()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *Handler) unsaved(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	c, err := s.Unsaved()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *Handler) visible(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Visible(); err != nil {
		respondError(w, err)
		return
	}
	h.state(w, r)
}
