package handler

import (
	"net/http"

	"github.com/sakif/storefront/internal/session"
)

// HandleMessages pops the visitor's flash messages, oldest first.
//
// HTTP: GET /api/messages
//
// Reading empties the queue, so each message is shown once.
func HandleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"messages": session.Flashes(currentSession(r))})
}
