package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fileshare/internal/blob"
	"fileshare/internal/observability"
)

type fakeIndex struct {
	known map[string]bool
}

func (f *fakeIndex) Exists(_ context.Context, fileID string) (bool, error) {
	return f.known[fileID], nil
}

type fakeObjects struct {
	objects []blob.ObjectInfo
	deleted []string
	delErr  map[string]error
}

func (f *fakeObjects) List() ([]blob.ObjectInfo, error) {
	return f.objects, nil
}

func (f *fakeObjects) Delete(fileID string) error {
	if err := f.delErr[fileID]; err != nil {
		return err
	}
	f.deleted = append(f.deleted, fileID)
	return nil
}

func sweepRequest(secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/sweep", nil)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	return req
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) SweepResult {
	t.Helper()
	var body struct {
		Status string      `json:"status"`
		Result SweepResult `json:"result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "ok", body.Status)
	return body.Result
}

func TestSweepDeletesOldOrphansOnly(t *testing.T) {
	now := time.Now().UTC()
	objects := &fakeObjects{
		objects: []blob.ObjectInfo{
			{FileID: "live-old", ModTime: now.Add(-2 * time.Hour)},
			{FileID: "orphan-old", ModTime: now.Add(-2 * time.Hour)},
			{FileID: "orphan-fresh", ModTime: now.Add(-time.Minute)},
		},
	}
	index := &fakeIndex{known: map[string]bool{"live-old": true}}
	handler := NewSweepHandler(index, objects, observability.NewLogger(), "cron-secret", time.Hour)

	rec := httptest.NewRecorder()
	handler.Handle(rec, sweepRequest("cron-secret"))

	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeResult(t, rec)
	assert.Equal(t, SweepResult{
		ScannedObjects: 3,
		DeletedOrphans: 1,
		SkippedRecent:  1,
	}, result)
	assert.Equal(t, []string{"orphan-old"}, objects.deleted)
}

func TestSweepCountsFailedDeletions(t *testing.T) {
	now := time.Now().UTC()
	objects := &fakeObjects{
		objects: []blob.ObjectInfo{
			{FileID: "orphan-a", ModTime: now.Add(-2 * time.Hour)},
			{FileID: "orphan-b", ModTime: now.Add(-2 * time.Hour)},
		},
		delErr: map[string]error{"orphan-a": errors.New("permission denied")},
	}
	handler := NewSweepHandler(&fakeIndex{}, objects, observability.NewLogger(), "cron-secret", time.Hour)

	rec := httptest.NewRecorder()
	handler.Handle(rec, sweepRequest("cron-secret"))

	require.Equal(t, http.StatusOK, rec.Code)
	result := decodeResult(t, rec)
	assert.Equal(t, 1, result.FailedDeletions)
	assert.Equal(t, 1, result.DeletedOrphans)
	assert.Equal(t, []string{"orphan-b"}, objects.deleted)
}

func TestSweepAuth(t *testing.T) {
	handler := NewSweepHandler(&fakeIndex{}, &fakeObjects{}, observability.NewLogger(), "cron-secret", time.Hour)

	t.Run("missing header", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Handle(rec, sweepRequest(""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.Handle(rec, sweepRequest("wrong"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("disabled without configured secret", func(t *testing.T) {
		disabled := NewSweepHandler(&fakeIndex{}, &fakeObjects{}, observability.NewLogger(), "", time.Hour)
		rec := httptest.NewRecorder()
		disabled.Handle(rec, sweepRequest("anything"))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
