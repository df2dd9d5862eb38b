package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chirino/chat-memory/internal/app"
	"github.com/chirino/chat-memory/internal/config"
	"github.com/chirino/chat-memory/internal/migration"
	"github.com/chirino/chat-memory/internal/model"
	routesystem "github.com/chirino/chat-memory/internal/plugin/route/system"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.EmbedType = "none"
	cfg.ClaimGraceWindow = 0
	cfg.ManagementListener.Port = 0
	return cfg
}

func loadApp(t *testing.T, cfg *config.Config) (context.Context, *app.App) {
	t.Helper()
	ctx := config.WithContext(context.Background(), cfg)
	a, err := app.Load(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(ctx) })
	return ctx, a
}

func serveRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter_MaintenanceGatesMemoryRoutesOnly(t *testing.T) {
	cfg := testConfig()
	_, a := loadApp(t, &cfg)
	router, err := newRouter(&cfg, a)
	require.NoError(t, err)

	routesystem.TrackMigration(func() migration.Status {
		return migration.Status{State: migration.StateMigrating, PartiallyMigrated: true}
	})
	t.Cleanup(func() { routesystem.TrackMigration(nil) })

	rec := serveRequest(router, http.MethodGet, "/chats/chat-1/memories", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = serveRequest(router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serveRequest(router, http.MethodGet, "/maintenanceStatus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		InMaintenance bool `json:"inMaintenance"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.InMaintenance)

	routesystem.TrackMigration(func() migration.Status {
		return migration.Status{State: migration.StateCompleted}
	})
	rec = serveRequest(router, http.MethodPut, "/chats/chat-1/memories/LongTermMemory/r1", `{"text":"likes tea"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = serveRequest(router, http.MethodGet, "/chats/chat-1/memories", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "likes tea")
}

func TestRouter_BodySizeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodySize = 16
	_, a := loadApp(t, &cfg)
	router, err := newRouter(&cfg, a)
	require.NoError(t, err)
	routesystem.TrackMigration(nil)

	rec := serveRequest(router, http.MethodPut, "/chats/chat-1/memories/LongTermMemory/r1",
		`{"text":"`+strings.Repeat("x", 64)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartServer_MigratesAndBecomesReady(t *testing.T) {
	cfg := testConfig()
	cfg.StoreType = "volatile"
	ctx, cancel := context.WithCancel(config.WithContext(context.Background(), &cfg))
	defer cancel()

	srv, err := StartServer(ctx, &cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		drain, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		assert.NoError(t, srv.Shutdown(drain))
		routesystem.TrackMigration(nil)
	})
	require.NotZero(t, srv.Listener.Port)

	base := fmt.Sprintf("http://127.0.0.1:%d", srv.Listener.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/ready")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	sentinel, err := srv.App.Coordinator.ReadSentinel(ctx)
	require.NoError(t, err)
	assert.True(t, sentinel.Completed())
	assert.Equal(t, migration.StateCompleted, srv.App.Coordinator.Status().State)

	chats, err := srv.App.Chats.ListChats(ctx)
	require.NoError(t, err)
	assert.Empty(t, chats)
	require.NoError(t, srv.App.Chats.CreateChat(ctx, model.Chat{ID: "late"}))
}
