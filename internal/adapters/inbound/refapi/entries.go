package refapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/charleschow/matchday/internal/core/match"
)

// ── Goals ───────────────────────────────────────────────────

type goalRequest struct {
	PlayerID   string         `json:"player_id"`
	PlayerName string         `json:"player_name"`
	Team       match.Side     `json:"team"`
	Type       match.GoalType `json:"type"`
	Time       int            `json:"time"`
	IsOwnGoal  bool           `json:"is_own_goal"`
}

func (h *Handler) addGoal(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req goalRequest
	if err := decode(r, &req, false); err != nil {
		respondError(w, err)
		return
	}
	g, err := s.AddGoal(match.GoalInput{
		PlayerID:   req.PlayerID,
		PlayerName: req.PlayerName,
		Team:       req.Team,
		Type:       req.Type,
		Time:       req.Time,
		IsOwnGoal:  req.IsOwnGoal,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

type quickGoalRequest struct {
	// Team is "home", "away", a team id or a team name.
	Team string `json:"team"`
	Time int    `json:"time"`
}

func (h *Handler) quickGoal(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req quickGoalRequest
	if err := decode(r, &req, false); err != nil {
		respondError(w, err)
		return
	}
	g, err := s.QuickGoal(req.Team, req.Time)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, g)
}

type goalPatchRequest struct {
	PlayerID   *string `json:"player_id"`
	PlayerName *string `json:"player_name"`
	IsOwnGoal  *bool   `json:"is_own_goal"`
}

func (h *Handler) updateGoal(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req goalPatchRequest
	if err := decode(r, &req, false); err != nil {
		respondError(w, err)
		return
	}
	g, err := s.UpdateGoal(chi.URLParam(r, "goalID"), match.GoalPatch{
		PlayerID:   req.PlayerID,
		PlayerName: req.PlayerName,
		IsOwnGoal:  req.IsOwnGoal,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, g)
}

func (h *Handler) removeGoal(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.RemoveGoal(chi.URLParam(r, "goalID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Cards ───────────────────────────────────────────────────

type cardRequest struct {
	PlayerID   string         `json:"player_id"`
	PlayerName string         `json:"player_name"`
	Team       match.Side     `json:"team"`
	Type       match.CardType `json:"type"`
	Time       int            `json:"time"`
}

// addCard answers with every card created; a second yellow yields two.
func (h *Handler) addCard(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req cardRequest
	if err := decode(r, &req, false); err != nil {
		respondError(w, err)
		return
	}
	cards, err := s.AddCard(match.CardInput{
		PlayerID:   req.PlayerID,
		PlayerName: req.PlayerName,
		Team:       req.Team,
		Type:       req.Type,
		Time:       req.Time,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, cards)
}

func (h *Handler) removeCard(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := s.RemoveCard(chi.URLParam(r, "cardID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Players ─────────────────────────────────────────────────

type playerRequest struct {
	PlayerID   string     `json:"player_id"`
	PlayerName string     `json:"player_name"`
	Team       match.Side `json:"team"`
}

func (h *Handler) addPlayer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req playerRequest
	if err := decode(r, &req, false); err != nil {
		respondError(w, err)
		return
	}
	p, err := s.AddPlayer(match.PlayerInput{PlayerID: req.PlayerID, PlayerName: req.PlayerName, Team: req.Team})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

type playerPatchRequest struct {
	PlayerName *string     `json:"player_name"`
	Team       *match.Side `json:"team"`
}

func (h *Handler) updatePlayer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req playerPatchRequest
	if err := decode(r, &req, false); err != nil {
		respondError(w, err)
		return
	}
	p, err := s.UpdatePlayer(chi.URLParam(r, "playerID"), match.PlayerPatch{PlayerName: req.PlayerName, Team: req.Team})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) togglePlayer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	p, err := s.TogglePlayer(chi.URLParam(r, "playerID"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

type resumeRequest struct {
	Elapsed int `json:"elapsed"` // seconds already played in the open period
}

func (h *Handler) resumePlayer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req resumeRequest
	if err := decode(r, &req, false); err != nil {
		respondError(w, err)
		return
	}
	p, err := s.ResumePlayer(chi.URLParam(r, "playerID"), req.Elapsed)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (h *Handler) removePlayer(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.RemovePlayer(chi.URLParam(r, "playerID")); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── Audit events ────────────────────────────────────────────

type eventRequest struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Time        int    `json:"time"`
}

func (h *Handler) addEvent(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req eventRequest
	if err := decode(r, &req, false); err != nil {
		respondError(w, err)
		return
	}
	e, err := s.AddEvent(req.Type, req.Description, req.Time)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, e)
}
