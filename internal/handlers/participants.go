// internal/handlers/participants.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/ladder/internal/leaderboard"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/models"
)

// participantView adds the id, which the stored document keys by.
type participantView struct {
	ID string `json:"id"`
	models.Participant
}

type registerRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tier string `json:"tier"`
}

// registerParticipant registers the caller, or for staff any participant.
// Only staff assign tiers.
func (a *API) registerParticipant(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		a.badRequest(w, "invalid registration payload")
		return
	}
	c := caller(r)
	if req.ID == "" {
		req.ID = c.ID
	}
	if req.ID != c.ID && !c.Admin {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "you can only register yourself"})
		return
	}
	if req.Tier != "" && !c.Admin {
		a.writeError(w, r, match.NewError(match.Forbidden, "only league staff can set a tier"))
		return
	}
	p, err := a.Engine.Register(r.Context(), chi.URLParam(r, "guild"), req.ID, req.Name, req.Tier)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participantView{ID: p.ID, Participant: p})
}

func (a *API) getParticipant(w http.ResponseWriter, r *http.Request) {
	p, err := a.Engine.Participant(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, participantView{ID: p.ID, Participant: p})
}

// leaderboard serves GET /leaderboard?n=&tier=&min=&max=&games=.
func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n, err := intParam(q.Get("n"))
	if err != nil {
		a.badRequest(w, "n must be a number")
		return
	}
	var filter leaderboard.Filter
	filter.Tier = q.Get("tier")
	if filter.MinRating, err = intParam(q.Get("min")); err != nil {
		a.badRequest(w, "min must be a number")
		return
	}
	if filter.MaxRating, err = intParam(q.Get("max")); err != nil {
		a.badRequest(w, "max must be a number")
		return
	}
	if filter.MinGames, err = intParam(q.Get("games")); err != nil {
		a.badRequest(w, "games must be a number")
		return
	}

	entries, err := a.Engine.Leaderboard(r.Context(), chi.URLParam(r, "guild"), n, filter)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
