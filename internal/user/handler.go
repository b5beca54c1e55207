// Package user exposes the read-only user lookup endpoint.
package user

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"fileshare/internal/apperr"
	"fileshare/internal/auth"
)

// Directory is the lookup slice of the credential store.
// *auth.Repository implements it.
type Directory interface {
	GetByID(ctx context.Context, id string) (auth.User, error)
}

type Handler struct {
	users Directory
}

func NewHandler(users Directory) *Handler {
	return &Handler{users: users}
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	found, err := h.users.GetByID(r.Context(), r.PathValue("user_id"))
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to load user")
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		ID:        found.ID,
		Username:  found.Username,
		CreatedAt: found.CreatedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
