package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/models"
)

func TestPathParts(t *testing.T) {
	assert.Nil(t, PathParts("/api/jobs/", "/api/jobs/"))
	assert.Equal(t, []string{"123"}, PathParts("/api/jobs/123", "/api/jobs/"))
	assert.Equal(t, []string{"123", "cancel"}, PathParts("/api/jobs/123/cancel", "/api/jobs/"))
	assert.Equal(t, []string{"123", "cancel"}, PathParts("/api/jobs/123/cancel/", "/api/jobs/"))
}

func TestGetLimitOffset(t *testing.T) {
	cases := map[string]struct {
		query  string
		limit  int
		offset int
	}{
		"defaults":     {"", 50, 0},
		"explicit":     {"?limit=10&offset=20", 10, 20},
		"over cap":     {"?limit=500", 50, 0},
		"negative":     {"?limit=-1&offset=-5", 50, 0},
		"not numbers":  {"?limit=abc&offset=xyz", 50, 0},
		"offset only":  {"?offset=5", 50, 5},
		"limit at cap": {"?limit=200", 200, 0},
	}
	for name, tc := range cases {
		r := httptest.NewRequest("GET", "/api/jobs"+tc.query, nil)
		limit, offset := GetLimitOffset(r)
		assert.Equal(t, tc.limit, limit, name)
		assert.Equal(t, tc.offset, offset, name)
	}
}

func TestWriteErr_KindStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{common.NewError(common.KindValidation, "bad input"), http.StatusBadRequest},
		{common.NewError(common.KindAuth, "no token"), http.StatusUnauthorized},
		{common.NewError(common.KindNotFound, "missing"), http.StatusNotFound},
		{common.NewError(common.KindConflict, "frozen"), http.StatusConflict},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		require.NoError(t, WriteErr(w, tc.err))
		assert.Equal(t, tc.status, w.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "error", body["status"])
	}
}

func TestWriteErr_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteErr(w, errors.New("badger txn aborted at /var/lib/data")))

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "internal error", body["error"])
}

func TestCanAccessJob(t *testing.T) {
	owner := &Identity{UserID: "user-1"}
	teammate := &Identity{UserID: "user-2", OrgID: "org-1"}
	outsider := &Identity{UserID: "user-3", OrgID: "org-2"}

	orgJob := &models.Job{OwnerID: "user-1", OrgID: "org-1"}
	assert.True(t, canAccessJob(owner, orgJob))
	assert.True(t, canAccessJob(teammate, orgJob))
	assert.False(t, canAccessJob(outsider, orgJob))

	// Personal jobs are visible to the owner only.
	personal := &models.Job{OwnerID: "user-1"}
	assert.True(t, canAccessJob(owner, personal))
	assert.False(t, canAccessJob(teammate, personal))
}
