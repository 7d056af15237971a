package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/model"
	"github.com/sakif/storefront/internal/service"
	"github.com/sakif/storefront/internal/session"
)

// AuthHandler manages sign-up, login and the login cookie.
//
// HANDLER RESPONSIBILITIES:
//   - HandleRegister → create a customer or vendor account, set the cookie
//   - HandleLogin    → check credentials, set the cookie
//   - HandleLogout   → clear the cookie and flush the session
//   - HandleMe       → return the signed-in user's profile
//
// The JWT lives in an HttpOnly cookie, so browser JavaScript never sees it.
// Register and login also bind the session to the user and give it a fresh
// ID (see session.BindUser).
type AuthHandler struct {
	accounts *service.AccountService
	tokenTTL time.Duration
	secure   bool
	logger   *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secure marks cookies HTTPS-only.
func NewAuthHandler(accounts *service.AccountService, tokens *auth.TokenService, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		tokenTTL: tokens.TTL(),
		secure:   secure,
		logger:   logger,
	}
}

type registerRequest struct {
	Username  string     `json:"username" validate:"required,min=3,max=150"`
	Email     string     `json:"email" validate:"omitempty,email"`
	Password  string     `json:"password" validate:"required"`
	Role      model.Role `json:"role" validate:"omitempty,oneof=customer vendor"`
	StoreName string     `json:"store_name" validate:"max=100"`
	Bio       string     `json:"bio" validate:"max=2000"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	User  *model.User  `json:"user"`
	Store *model.Store `json:"store,omitempty"`
}

// HandleRegister creates an account and signs the visitor in.
//
// HTTP: POST /auth/register
// REQUEST BODY: {"username","email","password","role","store_name","bio"}
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.accounts.Register(r.Context(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		Role:      req.Role,
		StoreName: req.StoreName,
		Bio:       req.Bio,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := session.BindUser(currentSession(r), res.User.ID); err != nil {
		writeError(w, err)
		return
	}

	auth.SetTokenCookie(w, res.Token, h.tokenTTL, h.secure)
	writeJSON(w, http.StatusCreated, authResponse{User: res.User, Store: res.Store})
}

// HandleLogin checks the credentials and sets the login cookie.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := session.BindUser(currentSession(r), res.User.ID); err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("user logged in", slog.String("userID", res.User.ID))
	auth.SetTokenCookie(w, res.Token, h.tokenTTL, h.secure)
	writeJSON(w, http.StatusOK, authResponse{User: res.User})
}

// HandleLogout clears the login cookie and flushes the session.
//
// HTTP: POST /auth/logout
//
// The JWT stays technically valid until it expires; without the cookie the
// browser simply stops sending it. The basket and any pending OAuth state go
// with the session, so the next person on this browser starts clean.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	currentSession(r).Flush()
	auth.ClearTokenCookie(w, h.secure)
	writeJSON(w, http.StatusOK, map[string]string{"message": "logged out"})
}

// HandleMe returns the currently authenticated user's profile.
//
// HTTP: GET /auth/me
// Auth: Required (RequireAuth middleware sets userID in context)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())

	user, err := h.accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
