package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling
	r.Use(h.SessionMiddleware)

	// Public routes
	r.Get("/", h.HomeHandler)
	r.Post("/signup", h.SignupHandler)
	r.Post("/login", h.LoginHandler)
	r.Get("/login/google", h.GoogleLoginHandler)
	r.Get("/login/google/callback", h.GoogleCallbackHandler)

	// /ask checks the session itself: anonymous callers get a fixed reply,
	// not a 401.
	r.Post("/ask", h.AskHandler)

	// Session-required routes
	r.Group(func(r chi.Router) {
		r.Use(h.RequireAuth)

		r.Get("/logout", h.LogoutHandler)
		r.Post("/profile/change_password", h.ChangePasswordHandler)
		r.Post("/profile/delete_account", h.DeleteAccountHandler)

		r.Post("/create_chat", h.CreateChatHandler)
		r.Get("/get_chats", h.GetChatsHandler)
		r.Post("/chat/{chatID}/add_message", h.AddMessageHandler)
		r.Post("/chat/{chatID}/edit_message", h.EditMessageHandler)
		r.Post("/chat/{chatID}/delete_message", h.DeleteMessageHandler)
	})

	return r
}
