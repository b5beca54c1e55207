package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"

	"fileshare/internal/apperr"
	"fileshare/internal/auth"
	"fileshare/internal/observability"
)

const maxFileNameLength = 255

// StreamingStore is the byte-stream side of the file surface.
// *blob.Store implements it.
type StreamingStore interface {
	Put(ctx context.Context, fileID string, reader io.Reader) (int64, error)
	Get(ctx context.Context, fileID string) (io.ReadCloser, error)
	Path(fileID string) string
}

type Handler struct {
	service *Service
	store   StreamingStore
	logger  *observability.Logger
}

func NewHandler(service *Service, store StreamingStore, logger *observability.Logger) *Handler {
	return &Handler{service: service, store: store, logger: logger}
}

// Upload accepts a multipart form with a "file" field; the filename
// travels in the part header.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer part.Close()

	h.ingest(w, r, header.Filename, part)
}

// UploadStream accepts the raw request body as the file content; the
// filename travels in the file_name query parameter. The body is
// written through as it arrives, never buffered whole.
func (h *Handler) UploadStream(w http.ResponseWriter, r *http.Request) {
	name, ok := fileNameParam(w, r)
	if !ok {
		return
	}

	h.ingest(w, r, name, r.Body)
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, name string, content io.Reader) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}
	if !validFileName(name) {
		writeError(w, http.StatusBadRequest, "file name is invalid")
		return
	}

	created, err := h.service.Create(r.Context(), identity.UserID, name)
	if err != nil {
		writeServiceError(w, err, "failed to create file")
		return
	}

	size, err := h.store.Put(r.Context(), created.ID, content)
	if err != nil {
		// The ledger rows exist but the bytes never landed; undo the
		// create so no phantom file remains. Cleanup must survive a
		// client disconnect.
		cleanupCtx := context.WithoutCancel(r.Context())
		if _, cleanupErr := h.service.Delete(cleanupCtx, identity.UserID, created.ID); cleanupErr != nil {
			h.logger.Error("upload_cleanup_failed", map[string]any{
				"file_id": created.ID,
				"error":   cleanupErr.Error(),
			})
		}
		writeServiceError(w, err, "failed to store file content")
		return
	}

	f, err := h.service.FinishUpload(r.Context(), created.ID, name, size, h.store.Path(created.ID))
	if err != nil {
		writeServiceError(w, err, "failed to record file content")
		return
	}

	h.logger.Info("file_uploaded", map[string]any{"file_id": f.ID, "size": f.Size})
	writeJSON(w, http.StatusCreated, f)
}

// Replace overwrites content via a multipart form, keeping the file id.
func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer part.Close()

	h.replace(w, r, header.Filename, part)
}

// ReplaceStream overwrites content from the raw request body.
func (h *Handler) ReplaceStream(w http.ResponseWriter, r *http.Request) {
	name, ok := fileNameParam(w, r)
	if !ok {
		return
	}

	h.replace(w, r, name, r.Body)
}

func (h *Handler) replace(w http.ResponseWriter, r *http.Request, name string, content io.Reader) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}
	fileID := r.PathValue("file_id")
	if !validFileName(name) {
		writeError(w, http.StatusBadRequest, "file name is invalid")
		return
	}

	if _, err := h.service.AuthorizeWrite(r.Context(), identity.UserID, fileID); err != nil {
		writeServiceError(w, err, "failed to replace file")
		return
	}

	// Put writes to a temp object and renames on success, so a failed
	// replace leaves the previous content untouched.
	size, err := h.store.Put(r.Context(), fileID, content)
	if err != nil {
		writeServiceError(w, err, "failed to store file content")
		return
	}

	f, err := h.service.FinishUpload(r.Context(), fileID, name, size, h.store.Path(fileID))
	if err != nil {
		writeServiceError(w, err, "failed to record file content")
		return
	}

	h.logger.Info("file_replaced", map[string]any{"file_id": f.ID, "size": f.Size})
	writeJSON(w, http.StatusOK, f)
}

// Download streams the decompressed content in chunks. The filename is
// carried in Content-Disposition, RFC 5987 encoded when non-ASCII.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}
	fileID := r.PathValue("file_id")

	f, err := h.service.AuthorizeRead(r.Context(), identity.UserID, fileID)
	if err != nil {
		writeServiceError(w, err, "failed to open file")
		return
	}

	content, err := h.store.Get(r.Context(), fileID)
	if err != nil {
		// Metadata exists but the bytes are gone.
		if apperr.IsKind(err, apperr.KindNotFound) {
			h.logger.Error("file_bytes_missing", map[string]any{"file_id": fileID})
			writeError(w, http.StatusNotFound, "file content not found")
			return
		}
		writeServiceError(w, err, "failed to open file")
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", contentDisposition(f.Name))
	if _, err := io.Copy(w, content); err != nil {
		// Headers are already out; nothing to send, just record it.
		h.logger.Error("download_interrupted", map[string]any{
			"file_id": fileID,
			"error":   err.Error(),
		})
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	files, err := h.service.ListForUser(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err, "failed to list files")
		return
	}

	writeJSON(w, http.StatusOK, files)
}

func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}
	name, ok := fileNameParam(w, r)
	if !ok {
		return
	}

	f, err := h.service.Rename(r.Context(), identity.UserID, r.PathValue("file_id"), name)
	if err != nil {
		writeServiceError(w, err, "failed to rename file")
		return
	}

	writeJSON(w, http.StatusOK, f)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	f, err := h.service.Delete(r.Context(), identity.UserID, r.PathValue("file_id"))
	if err != nil {
		writeServiceError(w, err, "failed to delete file")
		return
	}

	writeJSON(w, http.StatusOK, f)
}

type accessResponse struct {
	File   File        `json:"file"`
	Grants []UserGrant `json:"users"`
}

func (h *Handler) AccessInfo(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	f, grants, err := h.service.GrantInfo(r.Context(), identity.UserID, r.PathValue("file_id"))
	if err != nil {
		writeServiceError(w, err, "failed to read file access")
		return
	}

	writeJSON(w, http.StatusOK, accessResponse{File: f, Grants: grants})
}

func (h *Handler) ChangeAccess(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	targetID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	tier, err := ParseTier(strings.TrimSpace(r.URL.Query().Get("access_type")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "access_type must be owner, edit or read")
		return
	}

	grant, err := h.service.GrantOrChange(r.Context(), identity.UserID, targetID, r.PathValue("file_id"), tier)
	if err != nil {
		writeServiceError(w, err, "failed to change file access")
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

func (h *Handler) RemoveAccess(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing access token")
		return
	}

	targetID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if targetID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	grant, err := h.service.RevokeGrant(r.Context(), identity.UserID, targetID, r.PathValue("file_id"))
	if err != nil {
		writeServiceError(w, err, "failed to remove file access")
		return
	}

	writeJSON(w, http.StatusOK, grant)
}

func fileNameParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := strings.TrimSpace(r.URL.Query().Get("file_name"))
	if !validFileName(name) {
		writeError(w, http.StatusBadRequest, "file_name is invalid")
		return "", false
	}
	return name, true
}

func validFileName(name string) bool {
	return name != "" && len(name) <= maxFileNameLength &&
		!strings.ContainsAny(name, "/\\\x00")
}

// contentDisposition encodes the filename per RFC 5987 when it is not
// plain ASCII.
func contentDisposition(name string) string {
	encoded := url.PathEscape(name)
	if encoded == name {
		return fmt.Sprintf(`attachment; filename=%q`, name)
	}
	return fmt.Sprintf(`attachment; filename*=utf-8''%s`, encoded)
}

func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch apperr.KindOf(err) {
	case apperr.KindUnauthenticated:
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case apperr.KindUnauthorized:
		writeError(w, http.StatusForbidden, "insufficient permission")
	case apperr.KindForbidden:
		writeError(w, http.StatusForbidden, "operation not allowed")
	case apperr.KindNotFound:
		writeError(w, http.StatusNotFound, "not found")
	case apperr.KindStorageIO:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, fallback)
	case apperr.KindTransient:
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry")
	default:
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
