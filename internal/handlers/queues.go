// internal/handlers/queues.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *API) queueStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.Engine.QueueStatus(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "queue"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// joinQueue answers 201 with the formed match when the join filled the queue.
func (a *API) joinQueue(w http.ResponseWriter, r *http.Request) {
	participant, ok := actingFor(r)
	if !ok {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "only league staff can queue other players"})
		return
	}
	res, err := a.Engine.Enqueue(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "queue"), participant)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Match != nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (a *API) leaveQueue(w http.ResponseWriter, r *http.Request) {
	participant, ok := actingFor(r)
	if !ok {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Message: "only league staff can remove other players"})
		return
	}
	st, err := a.Engine.Dequeue(r.Context(), chi.URLParam(r, "guild"), chi.URLParam(r, "queue"), participant)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
