// Package memories serves the chat memories held in the consolidated index.
package memories

import (
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-memory/internal/memoryclient"
	"github.com/chirino/chat-memory/internal/memorytypes"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	"github.com/gin-gonic/gin"
)

const defaultLimit = 100

// MountRoutes mounts the memory endpoints on r. index is the consolidated
// index name.
func MountRoutes(r gin.IRouter, client *memoryclient.Client, types *memorytypes.Registry, index string) {
	g := r.Group("/chats/:chatId/memories")
	g.GET("", func(c *gin.Context) { listMemories(c, client, types, index) })
	g.PUT("/:type/:recordId", func(c *gin.Context) { putMemory(c, client, types, index) })
}

func listMemories(c *gin.Context, client *memoryclient.Client, types *memorytypes.Registry, index string) {
	memoryType := c.Query("type")
	if memoryType != "" {
		if _, ok := types.Get(memoryType); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown memory type", "valid": types.Labels()})
			return
		}
	}
	limit := defaultLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	minScore := registrymemory.AnyRelevance
	if v := c.Query("minScore"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "minScore must be a number"})
			return
		}
		minScore = f
	}
	query := c.DefaultQuery("query", registrymemory.Wildcard)

	items := []memoryclient.Memory{}
	for m, err := range client.SearchMemories(c.Request.Context(), index, c.Param("chatId"), memoryType, query, limit, minScore) {
		if err != nil {
			handleError(c, err)
			return
		}
		items = append(items, m)
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

type putMemoryRequest struct {
	Text string `json:"text" binding:"required"`
}

func putMemory(c *gin.Context, client *memoryclient.Client, types *memorytypes.Registry, index string) {
	memoryType := c.Param("type")
	if _, ok := types.Get(memoryType); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown memory type", "valid": types.Labels()})
		return
	}
	var req putMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chatID, recordID := c.Param("chatId"), c.Param("recordId")
	if _, err := memoryclient.MemoryKey(chatID, memoryType, recordID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := client.StoreMemory(c.Request.Context(), index, chatID, memoryType, recordID, req.Text); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, memoryclient.Memory{ChatID: chatID, MemoryType: memoryType, RecordID: recordID, Text: req.Text, Relevance: 1})
}

func handleError(c *gin.Context, err error) {
	log.Error("memories route error", "path", c.FullPath(), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
