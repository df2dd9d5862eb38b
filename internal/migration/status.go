package migration

import (
	"fmt"
	"time"
)

// State is the coarse progress of the coordinator.
type State int

const (
	StateIdle State = iota
	StateClaiming
	// StateMigrating means tracking records may already be gone while the
	// copy is not finalized: the store is partially migrated.
	StateMigrating
	StateCompleted
	StateSkipped
	StateFailed
)

var stateNames = [...]string{"idle", "claiming", "migrating", "completed", "skipped", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown migration state %q", text)
}

// Finished reports whether the migration no longer blocks readiness.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateSkipped
}

// Status is a snapshot of the coordinator.
type Status struct {
	State State `json:"state"`
	// PartiallyMigrated is set once tracking records were deleted and
	// cleared when the completion token is written.
	PartiallyMigrated bool      `json:"partiallyMigrated"`
	ChatsMigrated     int       `json:"chatsMigrated"`
	RecordsCopied     int       `json:"recordsCopied"`
	SourcesDeleted    int       `json:"sourcesDeleted"`
	LastError         string    `json:"lastError,omitempty"`
	StartedAt         time.Time `json:"startedAt,omitzero"`
	FinishedAt        time.Time `json:"finishedAt,omitzero"`
}

// InProgress reports whether a run is between claim and finalize.
func (s Status) InProgress() bool {
	return s.State == StateClaiming || s.State == StateMigrating
}
