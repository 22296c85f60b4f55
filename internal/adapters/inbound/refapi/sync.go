package refapi

import (
	"errors"
	"net/http"

	"github.com/charleschow/matchday/internal/core/batchsave"
	"github.com/charleschow/matchday/internal/core/syncpolicy"
)

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	st, err := s.SyncStatus()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (h *Handler) setSyncMode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req syncpolicy.Settings
	if err := decode(r, &req, false); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.SetSyncMode(req))
}

// forceSync flushes queued player times and answers with the new status.
func (h *Handler) forceSync(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.remoteCtx(r)
	defer cancel()
	if err := s.ForceSync(ctx); err != nil {
		respondError(w, err)
		return
	}
	h.syncStatus(w, r)
}

// save writes every unsaved item. A partial save answers 502 with the
// per-item result so the device knows what is still outstanding.
func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	ctx, cancel := h.remoteCtx(r)
	defer cancel()
	res, err := h.Saver.SaveAll(ctx, s)
	switch {
	case errors.Is(err, batchsave.ErrIncomplete):
		respondJSON(w, http.StatusBadGateway, res)
	case err != nil:
		respondError(w, err)
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

// ── Remote score ────────────────────────────────────────────
// These work on the stored fixture and need no open session.

func (h *Handler) verifyScore(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.remoteCtx(r)
	defer cancel()
	v, err := h.Scores.VerifyScoreSync(ctx, fixtureID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, v)
}

func (h *Handler) fixScore(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.remoteCtx(r)
	defer cancel()
	score, err := h.Scores.UpdateFixtureScoreRealTime(ctx, fixtureID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, score)
}

func (h *Handler) dedupeEvents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.remoteCtx(r)
	defer cancel()
	res, err := h.Dedup.CleanupDuplicateGoalEvents(ctx, fixtureID(r))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
