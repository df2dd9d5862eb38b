package system

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/chirino/chat-memory/internal/migration"
	registryroute "github.com/chirino/chat-memory/internal/registry/route"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	for _, loader := range registryroute.ManagementRouteLoaders() {
		require.NoError(t, loader(r))
	}
	app := r.Group("/", MaintenanceMiddleware())
	app.GET("/chats", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	t.Cleanup(func() {
		started.Store(false)
		TrackMigration(nil)
	})
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReadiness_FollowsMigration(t *testing.T) {
	r := newRouter(t)
	state := migration.StateMigrating
	TrackMigration(func() migration.Status { return migration.Status{State: state} })

	assert.Equal(t, http.StatusOK, get(r, "/health").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/ready").Code)

	MarkReady()
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/ready").Code)

	state = migration.StateCompleted
	assert.Equal(t, http.StatusOK, get(r, "/ready").Code)

	state = migration.StateSkipped
	assert.Equal(t, http.StatusOK, get(r, "/ready").Code)
}

func TestReadiness_WithoutMigration(t *testing.T) {
	r := newRouter(t)
	MarkReady()
	assert.Equal(t, http.StatusOK, get(r, "/ready").Code)
	assert.Equal(t, http.StatusNoContent, get(r, "/chats").Code)
}

func TestMaintenanceGate(t *testing.T) {
	r := newRouter(t)
	st := migration.Status{State: migration.StateMigrating, RecordsCopied: 5}
	TrackMigration(func() migration.Status { return st })

	rec := get(r, "/chats")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var result MaintenanceResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "Migrating Chat Memory", result.Title)

	rec = get(r, "/maintenanceStatus")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		InMaintenance bool             `json:"inMaintenance"`
		Migration     migration.Status `json:"migration"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.InMaintenance)
	assert.Equal(t, 5, body.Migration.RecordsCopied)

	st = migration.Status{State: migration.StateFailed, PartiallyMigrated: true}
	assert.Equal(t, http.StatusServiceUnavailable, get(r, "/chats").Code)

	st = migration.Status{State: migration.StateFailed}
	assert.Equal(t, http.StatusNoContent, get(r, "/chats").Code)

	st = migration.Status{State: migration.StateCompleted}
	assert.Equal(t, http.StatusNoContent, get(r, "/chats").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	r := newRouter(t)
	assert.Equal(t, http.StatusOK, get(r, "/metrics").Code)
}
