package memories

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chirino/chat-memory/internal/memoryclient"
	"github.com/chirino/chat-memory/internal/memorytypes"
	"github.com/chirino/chat-memory/internal/plugin/memory/volatile"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	MountRoutes(r, memoryclient.New(volatile.New(nil)), memorytypes.Default(), "chatmemory")
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	return rec
}

func TestPutAndListMemories(t *testing.T) {
	r := newRouter()

	rec := do(r, http.MethodPut, "/chats/c1/memories/LongTermMemory/r1", `{"text":"likes go"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(r, http.MethodPut, "/chats/c1/memories/WorkingMemory/r2", `{"text":"writing tests"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(r, http.MethodPut, "/chats/c2/memories/WorkingMemory/r3", `{"text":"other chat"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodGet, "/chats/c1/memories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data []memoryclient.Memory `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 2)
	assert.Equal(t, "likes go", body.Data[0].Text)

	rec = do(r, http.MethodGet, "/chats/c1/memories?type=WorkingMemory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "r2", body.Data[0].RecordID)

	rec = do(r, http.MethodGet, "/chats/none/memories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}

func TestValidation(t *testing.T) {
	r := newRouter()
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/chats/c1/memories?type=Nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/chats/c1/memories?limit=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/chats/c1/memories?minScore=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/chats/c1/memories/Nope/r1", `{"text":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/chats/c1/memories/LongTermMemory/r1", `{}`).Code)
}
