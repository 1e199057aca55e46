package httpserver

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware block
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Compress(5))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.HandleHealth)

		// Public auth routes (no auth required)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", s.HandleSignup)
			r.Post("/signin", s.HandleSignin)
			r.Post("/refresh", s.HandleRefreshToken)
		})

		// Protected routes (auth required)
		r.Group(func(r chi.Router) {
			r.Use(s.AuthMiddleware)

			r.Post("/auth/signout", s.HandleSignout)

			r.Route("/users", func(r chi.Router) {
				r.Get("/{id}", s.HandleGetUser)
				r.Get("/{id}/presence", s.HandleGetPresence)
			})

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", s.HandleListConversations)
				r.Post("/", s.HandleCreateConversation)
				r.Get("/{id}/messages", s.HandleListMessages)
				r.Post("/{id}/messages", s.HandleSendMessage)
				r.Post("/{id}/read", s.HandleMarkRead)
			})

			r.Route("/messages", func(r chi.Router) {
				r.Post("/{id}/resend", s.HandleResendMessage)
			})

			r.Route("/attachments", func(r chi.Router) {
				r.Post("/", s.HandleUploadAttachment)
				r.Get("/url", s.HandleGetAttachmentURL)
			})

			r.Route("/calls", func(r chi.Router) {
				r.Get("/history", s.HandleListCallHistory)
				r.Delete("/history/{id}", s.HandleDeleteCallRecord)
			})
		})
	})

	return r
}
