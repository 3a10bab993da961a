package http

import (
	"net/http"

	wsDelivery "loventia/internal/delivery/websocket"

	"github.com/go-chi/chi/v5"
)

func MapHttpRoutes(r *chi.Mux, httpHandler *HttpHandler, websocketHandler *wsDelivery.WebsocketHandler, authMiddleware *AuthMiddleware, metricsHandler http.Handler) {
	r.Get("/healthz", httpHandler.Health)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	// The gateway authenticates during the handshake itself.
	r.Get("/ws", websocketHandler.HandleWebSocket)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Route("/messages", func(r chi.Router) {
			r.Get("/overview", httpHandler.GetOverview)
			r.Get("/{peerId}", httpHandler.GetHistory)
			r.Post("/{peerId}", httpHandler.SendMessage)
			r.Post("/{peerId}/read", httpHandler.MarkRead)
		})
	})
}
