// Package maintenance exposes the out-of-band reconciliation endpoint
// that removes orphaned byte objects: a delete-file cascade commits
// metadata first and only logs a bytes-removal failure, so storage can
// accumulate objects with no file record.
package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"fileshare/internal/blob"
	"fileshare/internal/observability"
)

// FileIndex answers whether a file record still exists for an object.
type FileIndex interface {
	Exists(ctx context.Context, fileID string) (bool, error)
}

// ObjectStore is the blob-store slice the sweep needs.
type ObjectStore interface {
	List() ([]blob.ObjectInfo, error)
	Delete(fileID string) error
}

type SweepResult struct {
	ScannedObjects  int `json:"scanned_objects"`
	DeletedOrphans  int `json:"deleted_orphans"`
	SkippedRecent   int `json:"skipped_recent"`
	FailedDeletions int `json:"failed_deletions"`
}

type SweepHandler struct {
	files      FileIndex
	objects    ObjectStore
	logger     *observability.Logger
	cronSecret string
	// minAge protects objects whose upload may still be in flight:
	// the file row is created before the bytes land.
	minAge time.Duration
}

func NewSweepHandler(files FileIndex, objects ObjectStore, logger *observability.Logger, cronSecret string, minAge time.Duration) *SweepHandler {
	if minAge <= 0 {
		minAge = time.Hour
	}
	return &SweepHandler{
		files:      files,
		objects:    objects,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		minAge:     minAge,
	}
}

func (h *SweepHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.sweep(r.Context())
	if err != nil {
		h.logger.Error("orphan_sweep_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sweep failed"})
		return
	}

	h.logger.Info("orphan_sweep_completed", map[string]any{
		"scanned_objects": result.ScannedObjects,
		"deleted_orphans": result.DeletedOrphans,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *SweepHandler) sweep(ctx context.Context) (SweepResult, error) {
	objects, err := h.objects.List()
	if err != nil {
		return SweepResult{}, err
	}

	cutoff := time.Now().UTC().Add(-h.minAge)
	result := SweepResult{ScannedObjects: len(objects)}

	for _, object := range objects {
		if object.ModTime.After(cutoff) {
			result.SkippedRecent++
			continue
		}

		exists, err := h.files.Exists(ctx, object.FileID)
		if err != nil {
			return result, err
		}
		if exists {
			continue
		}

		if err := h.objects.Delete(object.FileID); err != nil {
			result.FailedDeletions++
			h.logger.Error("orphan_delete_failed", map[string]any{
				"file_id": object.FileID,
				"error":   err.Error(),
			})
			continue
		}
		result.DeletedOrphans++
	}

	return result, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
