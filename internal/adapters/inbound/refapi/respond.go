package refapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/charleschow/matchday/internal/core/batchsave"
	"github.com/charleschow/matchday/internal/core/dedup"
	"github.com/charleschow/matchday/internal/core/match"
	"github.com/charleschow/matchday/internal/core/session"
	"github.com/charleschow/matchday/internal/core/syncmgr"
	"github.com/charleschow/matchday/internal/remote"
	"github.com/charleschow/matchday/internal/telemetry"
)

var (
	errNoSession  = errors.New("refapi: no open session for fixture")
	errBadRequest = errors.New("refapi: malformed request body")
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		telemetry.Warnf("refapi: encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		telemetry.Errorf("refapi: %v", err)
	}
	respondJSON(w, status, errorResponse{
		Error:   http.StatusText(status),
		Message: err.Error(),
		Code:    status,
	})
}

// statusFor maps domain errors onto HTTP. Anything unrecognised came from
// the remote store.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, match.ErrMissingTeam),
		errors.Is(err, match.ErrInvalidTeam),
		errors.Is(err, match.ErrMissingPlayer),
		errors.Is(err, match.ErrInvalidGoalType),
		errors.Is(err, match.ErrInvalidCardType),
		errors.Is(err, match.ErrInvalidTime),
		errors.Is(err, batchsave.ErrMissingTeams),
		errors.Is(err, session.ErrUnknownTeam),
		errors.Is(err, session.ErrAmbiguousTeam):
		return http.StatusBadRequest
	case errors.Is(err, dedup.ErrDuplicateEvent),
		errors.Is(err, syncmgr.ErrSyncInProgress),
		errors.Is(err, batchsave.ErrSaveInProgress):
		return http.StatusConflict
	case errors.Is(err, errNoSession),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, remote.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone
	default:
		return http.StatusBadGateway
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func decode(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && optional {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}
