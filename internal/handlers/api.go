// internal/handlers/api.go
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jason-s-yu/ladder/internal/engine"
	"github.com/jason-s-yu/ladder/internal/middleware"
	"github.com/sirupsen/logrus"
)

// API serves the engine over HTTP.
type API struct {
	Engine  *engine.Engine
	Hub     *Hub
	Metrics http.Handler
	Logger  *logrus.Logger
}

// NewRouter builds the HTTP routes. Everything under /guilds requires a
// bearer token.
func NewRouter(a *API) http.Handler {
	if a.Logger == nil {
		a.Logger = logrus.StandardLogger()
	}
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.LogMiddleware(a.Logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	})
	if a.Metrics != nil {
		r.Handle("/metrics", a.Metrics)
	}

	r.Route("/guilds/{guild}", func(r chi.Router) {
		r.Use(middleware.RequireToken)

		r.Post("/participants", a.registerParticipant)
		r.Get("/participants/{id}", a.getParticipant)

		r.Get("/queues/{queue}", a.queueStatus)
		r.Post("/queues/{queue}/join", a.joinQueue)
		r.Post("/queues/{queue}/leave", a.leaveQueue)

		r.Post("/challenges", a.createChallenge)

		r.Get("/matches", a.listMatches)
		r.Route("/matches/{match}", func(r chi.Router) {
			r.Get("/", a.withMatch(a.getMatch))
			r.Post("/pick", a.withMatch(a.pick))
			r.Post("/side", a.withMatch(a.chooseSide))
			r.Post("/start", a.withMatch(a.start))
			r.Post("/propose-start", a.withMatch(a.proposeStart))
			r.Post("/report", a.withMatch(a.report))
			r.Post("/respond", a.withMatch(a.respond))
			r.Post("/force", a.withMatch(a.forceResult))
			r.Post("/cancel", a.withMatch(a.cancel))
		})

		r.Get("/history", a.history)
		r.Get("/leaderboard", a.leaderboard)

		if a.Hub != nil {
			r.Get("/events", a.Hub.ServeGuild)
		}
	})
	return r
}
