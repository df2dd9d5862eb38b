// Package memorytypes holds the ordered set of semantic memory types a chat
// can have. Legacy indices are named chatID+label for each label.
package memorytypes

import (
	"fmt"
	"strings"

	"github.com/chirino/chat-memory/internal/config"
)

const (
	LongTermMemory = "LongTermMemory"
	WorkingMemory  = "WorkingMemory"
)

var descriptions = map[string]string{
	LongTermMemory: "Durable facts and preferences extracted from the chat",
	WorkingMemory:  "Short-lived context for the task currently discussed",
}

// MemoryType is one entry of the registry.
type MemoryType struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Registry is an immutable, ordered label to MemoryType mapping.
type Registry struct {
	types   []MemoryType
	byLabel map[string]int
}

// New builds a Registry preserving the order of types. Blank labels,
// labels containing '/' and duplicates are rejected.
func New(types ...MemoryType) (*Registry, error) {
	r := &Registry{byLabel: make(map[string]int, len(types))}
	for _, t := range types {
		label := strings.TrimSpace(t.Label)
		switch {
		case label == "":
			return nil, fmt.Errorf("memory types: blank label")
		case strings.Contains(label, "/"):
			return nil, fmt.Errorf("memory types: label %q must not contain '/'", label)
		}
		if _, dup := r.byLabel[label]; dup {
			return nil, fmt.Errorf("memory types: duplicate label %q", label)
		}
		t.Label = label
		if t.Description == "" {
			t.Description = descriptions[label]
		}
		r.byLabel[label] = len(r.types)
		r.types = append(r.types, t)
	}
	return r, nil
}

// Default returns the LongTermMemory, WorkingMemory registry.
func Default() *Registry {
	r, _ := New(MemoryType{Label: LongTermMemory}, MemoryType{Label: WorkingMemory})
	return r
}

// FromConfig builds the registry from cfg.MemoryTypes. An empty list yields
// the default registry.
func FromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return Default(), nil
	}
	if strings.TrimSpace(cfg.MemoryTypes) == "" {
		return Default(), nil
	}
	var types []MemoryType
	for _, label := range strings.Split(cfg.MemoryTypes, ",") {
		types = append(types, MemoryType{Label: label})
	}
	return New(types...)
}

// Labels returns the labels in registry order.
func (r *Registry) Labels() []string {
	labels := make([]string, len(r.types))
	for i, t := range r.types {
		labels[i] = t.Label
	}
	return labels
}

// Get returns the memory type registered under label.
func (r *Registry) Get(label string) (MemoryType, bool) {
	i, ok := r.byLabel[label]
	if !ok {
		return MemoryType{}, false
	}
	return r.types[i], true
}

// Len returns the number of memory types.
func (r *Registry) Len() int { return len(r.types) }

// LegacyIndex names the per-chat index that held memories of one type
// before consolidation.
func LegacyIndex(chatID, label string) string {
	return chatID + label
}
