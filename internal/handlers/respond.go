// internal/handlers/respond.go
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/ladder/internal/engine"
	"github.com/jason-s-yu/ladder/internal/match"
	"github.com/jason-s-yu/ladder/internal/middleware"
	"github.com/sirupsen/logrus"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads the request body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func statusOf(code match.Code) int {
	switch code {
	case match.InvalidRosterSize, match.InvalidResult:
		return http.StatusBadRequest
	case match.NotAMember, match.Forbidden:
		return http.StatusForbidden
	case match.NotFound:
		return http.StatusNotFound
	case match.TooEarly:
		return http.StatusTooEarly
	default:
		return http.StatusConflict
	}
}

// writeError maps taxonomy errors to client errors. Anything else is logged
// and reported as a 500.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, ok := match.CodeOf(err)
	if !ok {
		a.Logger.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: match.UserMessage(err)})
		return
	}
	var me *match.Error
	if errors.As(err, &me) && me.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(me.RetryAfter.Seconds()))))
	}
	writeJSON(w, statusOf(code), errorBody{Error: code.String(), Message: match.UserMessage(err)})
}

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request", Message: msg})
}

// caller returns the authenticated caller of r.
func caller(r *http.Request) engine.Caller {
	id, _ := middleware.IdentityFrom(r.Context())
	return engine.Caller{ID: id.Subject, Admin: id.Admin}
}

// actingFor returns the participant a request acts for: the caller, or for
// staff the participant named by the query string.
func actingFor(r *http.Request) (string, bool) {
	c := caller(r)
	if p := r.URL.Query().Get("participant"); p != "" && p != c.ID {
		return p, c.Admin
	}
	return c.ID, true
}

func matchID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "match"))
}
