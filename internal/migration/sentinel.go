package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CompletionToken is the sentinel value written once the migration finished.
const CompletionToken = "DONE"

// ErrAlreadyCompleted is returned by ResetClaim when the sentinel holds the
// completion token.
var ErrAlreadyCompleted = errors.New("migration already completed")

// Sentinel describes the sentinel record as last read.
type Sentinel struct {
	Index   string `json:"index"`
	Key     string `json:"key"`
	Present bool   `json:"present"`
	Token   string `json:"token,omitempty"`
}

// Completed reports whether the sentinel holds the completion token.
func (s Sentinel) Completed() bool {
	return isCompletion(s.Token)
}

// Claimed reports whether some instance wrote a claim token.
func (s Sentinel) Claimed() bool {
	return s.Present && s.Token != "" && !s.Completed()
}

// Describe is a one-line operator summary.
func (s Sentinel) Describe() string {
	switch {
	case s.Completed():
		return "completed"
	case s.Claimed():
		return fmt.Sprintf("claimed by token %s (in progress, or stale after a crash)", s.Token)
	default:
		return "not started"
	}
}

func isCompletion(token string) bool {
	return strings.EqualFold(strings.TrimSpace(token), CompletionToken)
}

// ReadSentinel reads the sentinel. An empty value reads as not present.
func ReadSentinel(ctx context.Context, store SentinelStore, index, key string) (Sentinel, error) {
	s := Sentinel{Index: index, Key: key}
	rec, err := store.Get(ctx, index, key)
	if err != nil {
		return s, fmt.Errorf("read sentinel %s/%s: %w", index, key, err)
	}
	if rec == nil {
		return s, nil
	}
	s.Token = strings.TrimSpace(rec.Text)
	s.Present = s.Token != ""
	return s, nil
}

// ResetClaim clears a claim token so the next run claims afresh. It returns
// the token it cleared, or "" when there was none. A completed sentinel is
// left untouched and ErrAlreadyCompleted is returned.
func ResetClaim(ctx context.Context, store SentinelStore, index, key string) (string, error) {
	s, err := ReadSentinel(ctx, store, index, key)
	if err != nil {
		return "", err
	}
	if s.Completed() {
		return "", ErrAlreadyCompleted
	}
	if !s.Claimed() {
		return "", nil
	}
	if err := store.Put(ctx, index, key, ""); err != nil {
		return "", fmt.Errorf("reset sentinel %s/%s: %w", index, key, err)
	}
	return s.Token, nil
}
