package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/face-retrieval/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	rpcHandler := handlers.NewRPCHandler(s.dispatcher)
	sessionsHandler := handlers.NewSessionsHandler(s.dispatcher)
	healthHandler := handlers.NewHealthHandler(s.dispatcher, s.sessions)

	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/api/v1/health", healthHandler.Get)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Same envelope as the TCP transport
		r.Post("/rpc", rpcHandler.Call)

		// Sessions
		r.Post("/sessions", sessionsHandler.Create)
		r.Post("/sessions/{id}/images", sessionsHandler.AddImage)
		r.Post("/sessions/{id}/train", sessionsHandler.Train)
		r.Post("/sessions/{id}/rank", sessionsHandler.Rank)
		r.Get("/sessions/{id}/ranking", sessionsHandler.GetRanking)
		r.Post("/sessions/{id}/annotations", sessionsHandler.SaveAnnotations)
		r.Delete("/sessions/{id}", sessionsHandler.Release)

		// Annotation sets
		r.Get("/annotations", sessionsHandler.GetAnnotations)
	})
}
