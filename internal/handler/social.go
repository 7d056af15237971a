package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/auth"
	"github.com/sakif/storefront/internal/service"
	"github.com/sakif/storefront/internal/session"
	"github.com/sakif/storefront/internal/social"
)

// pendingKey holds the social.Pending between connect and callback.
const pendingKey = "social_oauth"

// SocialConnector is the part of *social.Client the connect flow needs.
type SocialConnector interface {
	Begin() (social.Pending, string, error)
	Finish(ctx context.Context, callbackURL string, pending social.Pending) error
	Status(ctx context.Context) (social.Connection, error)
	Disconnect(ctx context.Context) error
}

// SocialHandler links the shop's social account for announcements.
//
// FLOW:
//  1. GET /social/connect    → Begin; the Pending (state, PKCE verifier,
//     next) goes into the session; 302 to the provider.
//  2. the vendor approves on the provider's site.
//  3. GET /social/callback   → the Pending is popped whatever happens, then
//     Finish checks state, exchanges the code and stores the token.
//
// The token is shared by the whole shop, not per vendor.
type SocialHandler struct {
	client   SocialConnector
	accounts *service.AccountService
	logger   *slog.Logger
}

func NewSocialHandler(client SocialConnector, accounts *service.AccountService, logger *slog.Logger) *SocialHandler {
	return &SocialHandler{client: client, accounts: accounts, logger: logger}
}

// requireVendor writes 403 and returns false unless the caller is a vendor.
func (h *SocialHandler) requireVendor(w http.ResponseWriter, r *http.Request) bool {
	userID, _ := auth.UserIDFromContext(r.Context())
	user, err := h.accounts.GetUserByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return false
	}
	if !user.IsVendor() {
		writeError(w, apperror.Forbidden("only vendors can manage the social account"))
		return false
	}
	return true
}

// HandleConnect redirects the vendor to the provider's consent page.
//
// HTTP: GET /social/connect?next=/vendor/stores
func (h *SocialHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if !h.requireVendor(w, r) {
		return
	}

	pending, authURL, err := h.client.Begin()
	if err != nil {
		writeError(w, err)
		return
	}
	pending.Next = safeNext(r.URL.Query().Get("next"))

	if err := currentSession(r).Set(pendingKey, pending); err != nil {
		writeError(w, err)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleCallback completes the authorization.
//
// HTTP: GET /social/callback?state=...&code=...
func (h *SocialHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	var pending social.Pending
	found, err := currentSession(r).Pop(pendingKey, &pending)
	if err != nil || !found {
		flashRedirect(w, r, session.LevelError, "That authorization has expired. Please connect again.", "/")
		return
	}
	next := safeNext(pending.Next)

	err = h.client.Finish(r.Context(), r.URL.String(), pending)
	h.logger.Info("social authorization finished", slog.String("state", social.Outcome(err).String()))
	if err != nil {
		h.logger.Warn("social callback failed", slog.String("error", err.Error()))
		flashRedirect(w, r, session.LevelError, callbackMessage(err), next)
		return
	}
	flashRedirect(w, r, session.LevelSuccess, "Social account connected. New stores and products will be announced.", next)
}

func callbackMessage(err error) string {
	var perr *social.ProviderError
	switch {
	case errors.Is(err, social.ErrStateMismatch):
		return "Authorization could not be verified. Please connect again."
	case errors.As(err, &perr) && perr.Code == "access_denied":
		return "Authorization was denied."
	case errors.As(err, &perr):
		return "The provider rejected the authorization. Please connect again."
	}
	return "Could not reach the provider. Please try again later."
}

// HandleStatus reports whether an account is connected.
//
// HTTP: GET /social/status
func (h *SocialHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.requireVendor(w, r) {
		return
	}
	conn, err := h.client.Status(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// HandleDisconnect forgets the stored token.
//
// HTTP: POST /social/disconnect
func (h *SocialHandler) HandleDisconnect(w http.ResponseWriter, r *http.Request) {
	if !h.requireVendor(w, r) {
		return
	}
	if err := h.client.Disconnect(r.Context()); err != nil && !errors.Is(err, apperror.ErrNotFound) {
		writeError(w, err)
		return
	}
	flashRedirect(w, r, session.LevelSuccess, "Social account disconnected.", "/vendor/stores")
}
