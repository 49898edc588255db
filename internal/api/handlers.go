package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/okchat/okchat/internal/assets"
	"github.com/okchat/okchat/internal/auth"
	"github.com/okchat/okchat/internal/core"
	"github.com/okchat/okchat/internal/store"
)

type ctxKey string

const userIDKey ctxKey = "userID"

const oauthStateCookie = "oauthstate"

type APIHandler struct {
	accounts  *core.AccountService
	chats     *core.ChatService
	assistant *core.AssistantService
	sessions  *auth.SessionManager
	identity  auth.IdentityProvider // nil when Google login is not configured
	logger    *zap.Logger
}

func NewAPIHandler(
	accounts *core.AccountService,
	chats *core.ChatService,
	assistant *core.AssistantService,
	sessions *auth.SessionManager,
	identity auth.IdentityProvider,
	logger *zap.Logger,
) *APIHandler {
	return &APIHandler{
		accounts:  accounts,
		chats:     chats,
		assistant: assistant,
		sessions:  sessions,
		identity:  identity,
		logger:    logger,
	}
}

// SessionMiddleware resolves the session cookie to a user id when present.
// Requests without a valid session pass through anonymous.
func (h *APIHandler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID, err := h.sessions.CurrentUser(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects anonymous requests. /ask deliberately does not use
// it: unauthenticated callers there get a fixed reply instead.
func (h *APIHandler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if currentUserID(r) == 0 {
			respondError(w, http.StatusUnauthorized, "Not logged in")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// currentUserID returns the authenticated user id, or 0 for anonymous.
func currentUserID(r *http.Request) int64 {
	if userID, ok := r.Context().Value(userIDKey).(int64); ok {
		return userID
	}
	return 0
}

func (h *APIHandler) HomeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := assets.IndexTemplate().Execute(w, map[string]interface{}{
		"LoggedIn": currentUserID(r) != 0,
	})
	if err != nil {
		h.logger.Error("failed to render landing page", zap.Error(err))
	}
}

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Password == "" || (req.Username == "" && req.Email == "") {
		respondError(w, http.StatusBadRequest, "Username or email, and password are required")
		return
	}

	user, err := h.accounts.Signup(optional(req.Username), optional(req.Email), req.Password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateIdentity) {
			respondError(w, http.StatusConflict, "Username or email already exists")
			return
		}
		h.logger.Error("signup failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create account")
		return
	}

	if err := h.sessions.Login(w, user.ID); err != nil {
		h.logger.Error("failed to establish session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to establish session")
		return
	}
	respondSuccess(w)
}

type LoginRequest struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	// The original client sent either username or email as the identifier.
	identifier := req.Identifier
	if identifier == "" {
		identifier = req.Username
	}
	if identifier == "" {
		identifier = req.Email
	}
	if identifier == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "Identifier and password are required")
		return
	}

	user, err := h.accounts.Login(identifier, req.Password)
	if err != nil {
		if errors.Is(err, core.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	if err := h.sessions.Login(w, user.ID); err != nil {
		h.logger.Error("failed to establish session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to establish session")
		return
	}
	respondSuccess(w)
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(w)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *APIHandler) GoogleLoginHandler(w http.ResponseWriter, r *http.Request) {
	if h.identity == nil {
		respondError(w, http.StatusServiceUnavailable, "Google login is not configured")
		return
	}

	state, err := auth.NewOAuthState()
	if err != nil {
		h.logger.Error("failed to generate oauth state", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to start Google login")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int((10 * time.Minute).Seconds()),
	})
	http.Redirect(w, r, h.identity.AuthURL(state), http.StatusFound)
}

// GoogleCallbackHandler finishes the authorization-code round trip. A
// missing code or a state mismatch is fatal to the request, not retried.
func (h *APIHandler) GoogleCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if h.identity == nil {
		respondError(w, http.StatusServiceUnavailable, "Google login is not configured")
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		respondError(w, http.StatusBadRequest, "Invalid OAuth state")
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, "Missing authorization code")
		return
	}

	identity, err := h.identity.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("oauth code exchange failed", zap.Error(err))
		respondError(w, http.StatusBadGateway, "Google login failed")
		return
	}

	user, err := h.accounts.LoginOAuth(identity)
	if err != nil {
		h.logger.Error("oauth login failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}
	if err := h.sessions.Login(w, user.ID); err != nil {
		h.logger.Error("failed to establish session", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to establish session")
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *APIHandler) ChangePasswordHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "New password is required")
		return
	}

	err := h.accounts.ChangePassword(userID, req.OldPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, core.ErrWrongOldPassword) {
			respondError(w, http.StatusForbidden, "Old password is incorrect")
			return
		}
		h.logger.Error("password change failed", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to change password")
		return
	}
	respondSuccessMessage(w, "Password updated")
}

func (h *APIHandler) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)

	if err := h.accounts.DeleteAccount(userID); err != nil {
		h.logger.Error("account deletion failed", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to delete account")
		return
	}
	h.sessions.Logout(w)
	respondSuccessMessage(w, "Account deleted")
}

type chatJSON struct {
	ID       string          `json:"id"`
	Title    *string         `json:"title"`
	Messages []store.Message `json:"messages"`
}

func toChatJSON(chat *store.Chat) chatJSON {
	return chatJSON{ID: chat.ID, Title: chat.Title, Messages: chat.Messages}
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)

	chat, err := h.chats.CreateChat(userID)
	if err != nil {
		h.logger.Error("chat creation failed", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to create chat")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"chat":    toChatJSON(chat),
	})
}

func (h *APIHandler) GetChatsHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)

	chats, err := h.chats.ListChats(userID)
	if err != nil {
		h.logger.Error("chat listing failed", zap.Int64("user_id", userID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to list chats")
		return
	}

	out := make([]chatJSON, 0, len(chats))
	for i := range chats {
		out = append(out, toChatJSON(&chats[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

type AddMessageRequest struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

func (h *APIHandler) AddMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)
	chatID := chi.URLParam(r, "chatID")

	var req AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	_, err := h.chats.AppendMessage(chatID, userID, req.Sender, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "Chat not found")
		case errors.Is(err, core.ErrInvalidSender):
			respondError(w, http.StatusBadRequest, "Invalid sender")
		default:
			h.logger.Error("message append failed", zap.String("chat_id", chatID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to add message")
		}
		return
	}
	respondSuccess(w)
}

type EditMessageRequest struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func (h *APIHandler) EditMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)
	chatID := chi.URLParam(r, "chatID")

	var req EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.chats.EditMessage(chatID, userID, req.Index, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "Chat not found")
		case errors.Is(err, store.ErrIndexOutOfRange):
			respondError(w, http.StatusBadRequest, "Message index out of range")
		default:
			h.logger.Error("message edit failed", zap.String("chat_id", chatID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to edit message")
		}
		return
	}
	respondSuccess(w)
}

type DeleteMessageRequest struct {
	Index int `json:"index"`
}

func (h *APIHandler) DeleteMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUserID(r)
	chatID := chi.URLParam(r, "chatID")

	var req DeleteMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.chats.DeleteMessage(chatID, userID, req.Index)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			respondError(w, http.StatusNotFound, "Chat not found")
		case errors.Is(err, store.ErrIndexOutOfRange):
			respondError(w, http.StatusBadRequest, "Message index out of range")
		default:
			h.logger.Error("message delete failed", zap.String("chat_id", chatID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "Failed to delete message")
		}
		return
	}
	respondSuccess(w)
}

type AskRequest struct {
	Message string `json:"message"`
}

// AskHandler always answers 200 with {"reply": ...}: the login prompt for
// anonymous callers, the upstream error text when the completion service
// fails, the generated reply otherwise.
func (h *APIHandler) AskHandler(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	reply := h.assistant.Ask(r.Context(), currentUserID(r), req.Message)
	respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
