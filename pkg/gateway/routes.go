package gateway

import "github.com/go-chi/chi/v5"

// setupRoutes wires the HTTP surface from spec §6.1 and the chat
// socket from §6.2, grounded on telnet2-opencode's setupRoutes shape.
func (g *Gateway) setupRoutes() {
	r := g.router

	r.Route("/session", func(r chi.Router) {
		r.Post("/", g.createSession)
		r.Get("/", g.listSessions)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", g.getSession)
			r.Delete("/", g.terminateSession)
			r.Get("/logs", g.getSessionLogs)
			r.Get("/chat", g.handleChat)
		})
	})

	r.Get("/download/{sessionID}", g.downloadSession)
	r.Get("/health", g.health)
	r.Get("/health/metrics", g.healthMetrics)
}
