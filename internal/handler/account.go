package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/reset"
	"github.com/sakif/storefront/internal/service"
	"github.com/sakif/storefront/internal/session"
)

// Neutral answers: the same text whether or not an account matched, so the
// endpoints cannot be used to discover who is registered.
const (
	msgUsernameSent = "If an account uses that address, its username has been sent."
	msgResetSent    = "If that account exists, a reset link has been sent."
	msgResetDone    = "Your password has been reset. Please log in."
)

// AccountHandler serves the "forgot username" and password-reset endpoints.
//
// DEPENDENCIES:
//   - accounts *service.AccountService → username reminders
//   - resets   *reset.Service          → token issue, lookup and redemption
//   - baseURL  string                  → absolute links in reset mails
type AccountHandler struct {
	accounts *service.AccountService
	resets   *reset.Service
	baseURL  string
	logger   *slog.Logger
}

func NewAccountHandler(accounts *service.AccountService, resets *reset.Service, baseURL string, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		accounts: accounts,
		resets:   resets,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   logger,
	}
}

type forgotUsernameRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type resetRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

type setPasswordRequest struct {
	Password string `json:"password" validate:"required"`
}

// HandleForgotUsername mails the usernames registered with an address.
//
// HTTP: POST /account/forgot-username
func (h *AccountHandler) HandleForgotUsername(w http.ResponseWriter, r *http.Request) {
	var req forgotUsernameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.accounts.ForgotUsername(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msgUsernameSent})
}

// HandleRequestReset starts a password reset.
//
// HTTP: POST /account/reset
//
// Always a 303 to /login with the same flash, whatever happened: mail and
// storage failures are logged by the reset service, never shown.
func (h *AccountHandler) HandleRequestReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.resets.RequestReset(r.Context(), req.Username, req.Email, h.baseURL+"/account/reset"); err != nil {
		writeError(w, err)
		return
	}
	flashRedirect(w, r, session.LevelSuccess, msgResetSent, "/login")
}

// HandleCheckReset tells the reset page whether to show the form. It never
// consumes the token.
//
// HTTP: GET /account/reset/{token}
func (h *AccountHandler) HandleCheckReset(w http.ResponseWriter, r *http.Request) {
	_, _, err := h.resets.Lookup(r.Context(), chi.URLParam(r, "token"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
	case errors.Is(err, apperror.ErrNotFound):
		writeJSON(w, http.StatusOK, map[string]bool{"valid": false})
	default:
		writeError(w, err)
	}
}

// HandleReset sets a new password and consumes the token.
//
// HTTP: POST /account/reset/{token}
// REQUEST BODY: {"password": "..."}
func (h *AccountHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := h.resets.Reset(r.Context(), chi.URLParam(r, "token"), req.Password)
	if errors.Is(err, apperror.ErrNotFound) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_link",
			Message: userMessage(err),
		})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	flashRedirect(w, r, session.LevelSuccess, msgResetDone, "/login")
}
