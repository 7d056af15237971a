package handler

// RESPONSE HELPERS:
// These functions standardise how we send JSON responses and errors.
//
// CONSISTENT ERROR FORMAT:
// Every error response from our API has the same shape:
//   {"error": "not_found", "message": "product not found with id 42"}
//
// Validation failures add the offending field (or all of them when the
// request DTO failed several tags):
//   {"error": "validation_error", "message": "...", "field": "price"}
//
// FORM-STYLE ENDPOINTS:
// A few endpoints (basket, checkout, password reset, social connect) behave
// like classic HTML form posts: they queue a flash message in the session
// and answer 303 See Other. flashRedirect does both.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/storefront/internal/apperror"
	"github.com/sakif/storefront/internal/repository"
	"github.com/sakif/storefront/internal/session"
	"github.com/sakif/storefront/internal/validator"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string            `json:"error"`             // Machine-readable error type (e.g., "not_found")
	Message string            `json:"message"`           // Human-readable description
	Field   string            `json:"field,omitempty"`   // First invalid field, for validation errors
	Fields  map[string]string `json:"fields,omitempty"`  // Every invalid field, for DTO validation
}

// writeJSON sends a JSON response with the given status code.
//
// HEADER ORDER MATTERS:
// Headers and status go out before the body; anything set after the first
// Write is silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error onto an HTTP status and error type.
//
// errors.Is() walks the whole chain, so a service error such as
//
//	fmt.Errorf("service/checkout: sending invoice: %w", apperror.Forbidden(...))
//
// still maps to 403.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation), errors.Is(err, apperror.ErrIntegrity):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to the appropriate HTTP status code and sends it.
//
// Unknown errors become a generic 500. The raw message might contain SQL or
// file paths, so it goes to the log and never to the client.
func writeError(w http.ResponseWriter, err error) {
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_error",
			Message: verr.Error(),
			Field:   verr.FirstField(),
			Fields:  verr.Fields(),
		})
		return
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		status, errorType := errorStatus(err)
		if status != http.StatusInternalServerError {
			writeJSON(w, status, ErrorResponse{
				Error:   errorType,
				Message: appErr.Message,
				Field:   appErr.Field,
			})
			return
		}
	}

	slog.Error("unhandled error", slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
	})
}

// decodeJSON reads and validates a request DTO. A body that is not JSON is
// reported as a 400 without echoing the decoder's message.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	return decodeJSONLimit(w, r, dst, 0)
}

// decodeJSONLimit is decodeJSON with a larger body cap; limit 0 keeps the
// default.
func decodeJSONLimit(w http.ResponseWriter, r *http.Request, dst any, limit int64) bool {
	var err error
	if limit > 0 {
		err = validator.DecodeAndValidateLimit(r, dst, limit)
	} else {
		err = validator.DecodeAndValidate(r, dst)
	}
	if err == nil {
		return true
	}
	var verr *validator.ValidationError
	if errors.As(err, &verr) {
		writeError(w, err)
		return false
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:   "invalid_request",
		Message: "Request body must be valid JSON",
	})
	return false
}

// userMessage is the text shown in a flash for err: the AppError message
// for domain errors, a generic apology otherwise.
func userMessage(err error) string {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		if status, _ := errorStatus(err); status != http.StatusInternalServerError {
			return appErr.Message
		}
	}
	return "Something went wrong. Please try again."
}

// flash queues a message when the request carries a session.
func flash(r *http.Request, level session.Level, text string) {
	if sess := session.FromContext(r.Context()); sess != nil {
		session.AddFlash(sess, level, text)
	}
}

// flashRedirect queues a message and answers 303 See Other.
func flashRedirect(w http.ResponseWriter, r *http.Request, level session.Level, text, to string) {
	flash(r, level, text)
	http.Redirect(w, r, to, http.StatusSeeOther)
}

// currentSession returns the request's session. Handlers mounted outside
// the session middleware get a throwaway one so they never nil-panic.
func currentSession(r *http.Request) *session.Session {
	if sess := session.FromContext(r.Context()); sess != nil {
		return sess
	}
	return session.New("")
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		return 0, apperror.ValidationFailed(name, name+" must be a positive integer")
	}
	return id, nil
}

// queryInt parses an optional integer query parameter; absent means 0.
func queryInt(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperror.ValidationFailed(name, name+" must be an integer")
	}
	return n, nil
}

// queryBool accepts the usual checkbox spellings.
func queryBool(r *http.Request, name string) bool {
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name))) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

// listOptions reads page and page_size; ListOptions.Normalize clamps them.
func listOptions(r *http.Request) (repository.ListOptions, error) {
	page, err := queryInt(r, "page")
	if err != nil {
		return repository.ListOptions{}, err
	}
	size, err := queryInt(r, "page_size")
	if err != nil {
		return repository.ListOptions{}, err
	}
	return repository.ListOptions{Page: int(page), PageSize: int(size)}.Normalize(), nil
}

// safeNext keeps post-login style redirects on this site: only absolute
// paths, never scheme-relative "//host" URLs.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}
