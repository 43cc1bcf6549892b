// internal/handlers/matches.go
package handlers

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/engine"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/rating"
	"github.com/jason-s-yu/ladder/internal/verify"
)

type scoreRequest struct {
	WinsA int `json:"wins_a"`
	WinsB int `json:"wins_b"`
}

type verificationResponse struct {
	Request verify.Request `json:"request"`
}

// withMatch parses the match id of r and runs fn with it.
func (a *API) withMatch(fn func(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := matchID(r)
		if err != nil {
			a.badRequest(w, "invalid match id")
			return
		}
		fn(w, r, chi.URLParam(r, "guild"), id)
	}
}

// createChallenge starts an explicit match. Non-staff callers must be on
// one of the sides and play at the configured ladder K.
func (a *API) createChallenge(w http.ResponseWriter, r *http.Request) {
	var req engine.ChallengeRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, "invalid challenge payload")
		return
	}
	c := caller(r)
	if !c.Admin && !slices.Contains(req.SideA, c.ID) && !slices.Contains(req.SideB, c.ID) {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "you can only challenge for a side you are on"})
		return
	}
	if !c.Admin && (req.K != 0 || req.Mode != "") {
		a.writeError(w, r, match.NewError(match.Forbidden, "only league staff can set the mode or K of a challenge"))
		return
	}
	m, err := a.Engine.Challenge(r.Context(), chi.URLParam(r, "guild"), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (a *API) listMatches(w http.ResponseWriter, r *http.Request) {
	ms, err := a.Engine.ActiveMatches(r.Context(), chi.URLParam(r, "guild"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if ms == nil {
		ms = []*match.Match{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (a *API) getMatch(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID) {
	m, err := a.Engine.Match(r.Context(), guild, id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) pick(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID) {
	var req struct {
		Player string `json:"player"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Player == "" {
		a.badRequest(w, "a player to pick is required")
		return
	}
	m, err := a.Engine.Pick(r.Context(), guild, id, caller(r).ID, req.Player)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) chooseSide(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID) {
	var req struct {
		Side match.Side `json:"side"`
	}
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, "invalid side payload")
		return
	}
	m, err := a.Engine.ChooseSide(r.Context(), guild, id, caller(r).ID, req.Side)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (a *API) start(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID) {
	m, err := a.Engine.Start(r.Context(), guild, id, caller(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// proposeStart answers 202: the start is pending the opposing side.
func (a *API) proposeStart(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID) {
	req, err := a.Engine.ProposeStart(r.Context(), guild, id, caller(r).ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, verificationResponse{Request: req})
}

func (a *API) report(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID) {
	var score scoreRequest
	if err := decodeJSON(r, &score); err != nil {
		a.badRequest(w, "invalid result payload")
		return
	}
	req, err := a.Engine.ReportResult(r.Context(), guild, id, caller(r).ID, score.WinsA, score.WinsB)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, verificationResponse{Request: req})
}

func (a *API) respond(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID) {
	var req struct {
		Approve *bool `json:"approve"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Approve == nil {
		a.badRequest(w, "approve must be true or false")
		return
	}
	outcome, err := a.Engine.Respond(r.Context(), guild, id, caller(r), *req.Approve)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if outcome == verify.Pending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, map[string]string{"outcome": outcome.String()})
}

func (a *API) forceResult(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID) {
	var score scoreRequest
	if err := decodeJSON(r, &score); err != nil {
		a.badRequest(w, "invalid result payload")
		return
	}
	m, changes, err := a.Engine.ForceResult(r.Context(), guild, id, caller(r), score.WinsA, score.WinsB)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Match   *match.Match    `json:"match"`
		Changes []rating.Change `json:"changes"`
	}{m, changes})
}

// cancel answers 200 with the cancelled match for staff, or 202 with the
// pending confirmation for participants.
func (a *API) cancel(w http.ResponseWriter, r *http.Request, guild string, id uuid.UUID) {
	m, req, err := a.Engine.Cancel(r.Context(), guild, id, caller(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if req != nil {
		writeJSON(w, http.StatusAccepted, verificationResponse{Request: *req})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// history serves GET /history?participant=&limit=.
func (a *API) history(w http.ResponseWriter, r *http.Request) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil && r.URL.Query().Get("limit") != "" {
		a.badRequest(w, "limit must be a number")
		return
	}
	h, err := a.Engine.History(r.Context(), chi.URLParam(r, "guild"), r.URL.Query().Get("participant"), limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
