package refapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/charleschow/matchday/internal/telemetry"
)

type RouterOptions struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
	// WS serves scoreboard watchers on /ws when set.
	WS http.HandlerFunc
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)
	r.Get("/metrics", h.metrics)
	if opts.WS != nil {
		// Upgraded connections outlive any request timeout.
		r.Get("/ws", opts.WS)
	}

	r.Group(func(r chi.Router) {
		if opts.RequestTimeout > 0 {
			r.Use(middleware.Timeout(opts.RequestTimeout))
		}
		r.Route("/fixtures/{fixtureID}", func(r chi.Router) {
			r.Post("/session", h.openSession)
			r.Delete("/session", h.endSession)
			r.Post("/session/reset", h.resetSession)

			r.Get("/state", h.state)
			r.Get("/unsaved", h.unsaved)
			r.Post("/visible", h.visible)

			r.Post("/goals", h.addGoal)
			r.Post("/quick-goal", h.quickGoal)
			r.Patch("/goals/{goalID}", h.updateGoal)
			r.Delete("/goals/{goalID}", h.removeGoal)

			r.Post("/cards", h.addCard)
			r.Delete("/cards/{cardID}", h.removeCard)

			r.Post("/players", h.addPlayer)
			r.Patch("/players/{playerID}", h.updatePlayer)
			r.Post("/players/{playerID}/toggle", h.togglePlayer)
			r.Post("/players/{playerID}/resume", h.resumePlayer)
			r.Delete("/players/{playerID}", h.removePlayer)

			r.Post("/events", h.addEvent)
			r.Post("/events/dedupe", h.dedupeEvents)

			r.Get("/sync", h.syncStatus)
			r.Put("/sync/mode", h.setSyncMode)
			r.Post("/sync", h.forceSync)
			r.Post("/save", h.save)

			r.Get("/score/verify", h.verifyScore)
			r.Post("/score/fix", h.fixScore)
		})
	})
	return r
}

func requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		telemetry.Debugf("refapi: %s %s -> %d (%s) req=%s",
			r.Method, r.URL.Path, ww.Status(), time.Since(start), middleware.GetReqID(r.Context()))
	})
}
