package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	"github.com/google/uuid"
)

// Sleeper waits for d, returning early with ctx.Err() when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a real timer.
var TimerSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// LeaderClaim elects, on a best-effort basis, the one instance allowed to
// run the migration.
type LeaderClaim interface {
	// TryClaim reports whether this instance won. token is the value it
	// wrote, returned even when the claim was lost.
	TryClaim(ctx context.Context) (won bool, token string, err error)
}

// SentinelStore is the part of a memory store the sentinel needs.
type SentinelStore interface {
	Put(ctx context.Context, index, key, text string) error
	Get(ctx context.Context, index, key string) (*registrymemory.Record, error)
}

// TokenClaim implements LeaderClaim with write, wait, re-read on a store that
// has no compare-and-swap. Whoever's token is visible after the grace window
// wins. This is not linearizable: two instances reading different replicas
// can each see their own token.
type TokenClaim struct {
	Store       SentinelStore
	Index       string
	Key         string
	GraceWindow time.Duration
	Sleeper     Sleeper
	NewToken    func() string
}

func (c *TokenClaim) TryClaim(ctx context.Context) (bool, string, error) {
	newToken := c.NewToken
	if newToken == nil {
		newToken = uuid.NewString
	}
	sleeper := c.Sleeper
	if sleeper == nil {
		sleeper = TimerSleeper
	}

	token := newToken()
	if err := c.Store.Put(ctx, c.Index, c.Key, token); err != nil {
		return false, token, fmt.Errorf("claim: write token: %w", err)
	}
	if err := sleeper.Sleep(ctx, c.GraceWindow); err != nil {
		return false, token, err
	}
	if err := ctx.Err(); err != nil {
		return false, token, err
	}
	rec, err := c.Store.Get(ctx, c.Index, c.Key)
	if err != nil {
		return false, token, fmt.Errorf("claim: re-read token: %w", err)
	}
	if rec == nil {
		return false, token, nil
	}
	return strings.EqualFold(strings.TrimSpace(rec.Text), token), token, nil
}

var _ LeaderClaim = (*TokenClaim)(nil)
