// Package memoryclient reads and writes chat memories in the consolidated
// index, where every record is keyed by chat, memory type and record id.
package memoryclient

import (
	"context"
	"fmt"
	"iter"
	"strings"

	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
)

const keySeparator = "/"

// MemoryKey builds the consolidated-index key chatID/memoryType/recordID.
func MemoryKey(chatID, memoryType, recordID string) (string, error) {
	switch {
	case chatID == "" || strings.Contains(chatID, keySeparator):
		return "", fmt.Errorf("memory key: invalid chat id %q", chatID)
	case memoryType == "" || strings.Contains(memoryType, keySeparator):
		return "", fmt.Errorf("memory key: invalid memory type %q", memoryType)
	case recordID == "":
		return "", fmt.Errorf("memory key: empty record id")
	}
	return chatID + keySeparator + memoryType + keySeparator + recordID, nil
}

// ParseMemoryKey splits a key produced by MemoryKey.
func ParseMemoryKey(key string) (chatID, memoryType, recordID string, err error) {
	parts := strings.SplitN(key, keySeparator, 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("memory key: malformed key %q", key)
	}
	return parts[0], parts[1], parts[2], nil
}

// Memory is a consolidated-index record with its key decoded.
type Memory struct {
	ChatID     string  `json:"chatId"`
	MemoryType string  `json:"memoryType"`
	RecordID   string  `json:"recordId"`
	Text       string  `json:"text"`
	Relevance  float64 `json:"relevance"`
}

// Client wraps the memory store holding the consolidated index.
type Client struct {
	store registrymemory.MemoryStore
}

// New returns a Client writing through store.
func New(store registrymemory.MemoryStore) *Client {
	return &Client{store: store}
}

// StoreMemory upserts text under (chatID, memoryType, recordID) in indexName.
// Storing the same triple again overwrites the previous text.
func (c *Client) StoreMemory(ctx context.Context, indexName, chatID, memoryType, recordID, text string) error {
	key, err := MemoryKey(chatID, memoryType, recordID)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, indexName, key, text); err != nil {
		return fmt.Errorf("store memory %s: %w", key, err)
	}
	return nil
}

// SearchMemories yields the memories of one chat in indexName matching query.
// An empty memoryType matches every type. limit <= 0 means no limit; it
// counts matches of this chat, not records scanned.
func (c *Client) SearchMemories(ctx context.Context, indexName, chatID, memoryType, query string, limit int, minScore float64) iter.Seq2[Memory, error] {
	return func(yield func(Memory, error) bool) {
		emitted := 0
		for rec, err := range c.store.Search(ctx, indexName, query, registrymemory.Unbounded, minScore) {
			if err != nil {
				yield(Memory{}, err)
				return
			}
			chat, mt, id, perr := ParseMemoryKey(rec.Key)
			if perr != nil || chat != chatID || (memoryType != "" && mt != memoryType) {
				continue
			}
			if !yield(Memory{ChatID: chat, MemoryType: mt, RecordID: id, Text: rec.Text, Relevance: rec.Relevance}, nil) {
				return
			}
			emitted++
			if limit > 0 && emitted >= limit {
				return
			}
		}
	}
}
