// Package migration copies chat memories from the legacy per-chat, per-type
// indices into the consolidated index exactly once per deployment, gated by
// a sentinel record in the memory store.
package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-memory/internal/memoryclient"
	"github.com/chirino/chat-memory/internal/memorytypes"
	"github.com/chirino/chat-memory/internal/metrics"
	registrymemory "github.com/chirino/chat-memory/internal/registry/memory"
	registrystore "github.com/chirino/chat-memory/internal/registry/store"
)

// releaseTimeout bounds clearing an abandoned claim after ctx was cancelled.
const releaseTimeout = 5 * time.Second

// Options configures a Coordinator.
type Options struct {
	SentinelIndex     string
	SentinelKey       string
	ConsolidatedIndex string
	GraceWindow       time.Duration
	// Sleeper waits out the grace window. Defaults to TimerSleeper.
	Sleeper Sleeper
	// NewToken generates claim tokens. Defaults to random UUIDs.
	NewToken func() string
	// Claim overrides the default TokenClaim on the legacy store.
	Claim LeaderClaim
}

// Coordinator runs the claim, copy, finalize sequence.
type Coordinator struct {
	legacy  registrymemory.MemoryStore
	target  *memoryclient.Client
	chats   registrystore.ChatDirectory
	sources registrystore.MemorySourceStore
	labels  []string
	opts    Options
	claim   LeaderClaim

	runMu    sync.Mutex
	ownToken string

	statusMu sync.Mutex
	status   Status
}

// New creates a Coordinator. legacy holds the sentinel and the legacy
// indices; target receives the consolidated index and may be the same store.
func New(legacy, target registrymemory.MemoryStore, chats registrystore.ChatDirectory, sources registrystore.MemorySourceStore, types *memorytypes.Registry, opts Options) *Coordinator {
	c := &Coordinator{
		legacy:  legacy,
		target:  memoryclient.New(target),
		chats:   chats,
		sources: sources,
		labels:  types.Labels(),
		opts:    opts,
		claim:   opts.Claim,
	}
	if c.claim == nil {
		c.claim = &TokenClaim{
			Store:       legacy,
			Index:       opts.SentinelIndex,
			Key:         opts.SentinelKey,
			GraceWindow: opts.GraceWindow,
			Sleeper:     opts.Sleeper,
			NewToken:    opts.NewToken,
		}
	}
	return c
}

// Status returns a snapshot of the last or current run.
func (c *Coordinator) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

func (c *Coordinator) update(fn func(*Status)) {
	c.statusMu.Lock()
	fn(&c.status)
	state := c.status.State
	c.statusMu.Unlock()
	metrics.SetMigrationState(int(state))
}

func (c *Coordinator) setState(s State) {
	c.update(func(st *Status) { st.State = s })
}

// ReadSentinel reads the sentinel record from the legacy store.
func (c *Coordinator) ReadSentinel(ctx context.Context) (Sentinel, error) {
	return ReadSentinel(ctx, c.legacy, c.opts.SentinelIndex, c.opts.SentinelKey)
}

// ResetClaim clears a stale claim token. See the package-level ResetClaim.
func (c *Coordinator) ResetClaim(ctx context.Context) (string, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return ResetClaim(ctx, c.legacy, c.opts.SentinelIndex, c.opts.SentinelKey)
}

// Run performs one migration attempt. It returns nil when the migration is
// complete, was completed earlier, or is owned by another instance. Store
// failures outside the claim window return an error and leave the sentinel
// unfinalized so a later Run can retry; cancellation returns ctx.Err().
func (c *Coordinator) Run(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	c.update(func(st *Status) {
		st.StartedAt = time.Now()
		st.FinishedAt = time.Time{}
		st.LastError = ""
	})

	sentinel, err := c.ReadSentinel(ctx)
	if err != nil {
		return c.fail(ctx, fmt.Errorf("memory migration: read sentinel: %w", err))
	}

	switch {
	case sentinel.Completed():
		log.Debug("Memory migration: already completed", "index", c.opts.SentinelIndex)
		c.finish(StateCompleted, "already_completed")
		return nil

	case sentinel.Claimed() && c.ownToken != "" && strings.EqualFold(sentinel.Token, c.ownToken):
		log.Info("Memory migration: resuming own claim", "token", c.ownToken)

	case sentinel.Claimed():
		log.Info("Memory migration: claimed by another instance, skipping", "token", sentinel.Token)
		c.finish(StateSkipped, "claimed_elsewhere")
		return nil

	default:
		c.setState(StateClaiming)
		won, token, err := c.claim.TryClaim(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.abandonClaim(ctx, token)
			return c.cancelled(ctxErr)
		}
		if err != nil {
			log.Warn("Memory migration: claim failed, treating as lost race", "err", err)
		}
		if !won {
			log.Info("Memory migration: lost claim race, skipping", "token", token)
			c.finish(StateSkipped, "lost_race")
			return nil
		}
		c.ownToken = token
		log.Info("Memory migration: claim won", "token", token)
	}

	if err := ctx.Err(); err != nil {
		if !c.Status().PartiallyMigrated {
			c.abandonClaim(ctx, c.ownToken)
		}
		return c.cancelled(err)
	}
	c.setState(StateMigrating)

	if err := c.deleteSources(ctx); err != nil {
		return c.fail(ctx, err)
	}
	if err := c.copyMemories(ctx); err != nil {
		return c.fail(ctx, err)
	}

	if err := ctx.Err(); err != nil {
		return c.cancelled(err)
	}
	if err := c.legacy.Put(ctx, c.opts.SentinelIndex, c.opts.SentinelKey, CompletionToken); err != nil {
		return c.fail(ctx, fmt.Errorf("memory migration: finalize: %w", err))
	}
	c.ownToken = ""
	c.update(func(st *Status) { st.PartiallyMigrated = false })
	st := c.Status()
	log.Info("Memory migration: completed", "chats", st.ChatsMigrated, "records", st.RecordsCopied, "sourcesDeleted", st.SourcesDeleted)
	c.finish(StateCompleted, "completed")
	return nil
}

// deleteSources removes every document-source tracking record. It runs
// before the first consolidated write and is not undone on failure.
func (c *Coordinator) deleteSources(ctx context.Context) error {
	sources, err := c.sources.ListMemorySources(ctx)
	if err != nil {
		return fmt.Errorf("memory migration: list memory sources: %w", err)
	}
	c.update(func(st *Status) { st.PartiallyMigrated = true })
	deleted := 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.sources.DeleteMemorySource(ctx, src)
		var notFound *registrystore.NotFoundError
		if errors.As(err, &notFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("memory migration: delete memory source %s: %w", src.ID, err)
		}
		deleted++
	}
	c.update(func(st *Status) { st.SourcesDeleted += deleted })
	metrics.AddSourcesDeleted(deleted)
	log.Info("Memory migration: removed memory source tracking", "count", deleted)
	return nil
}

func (c *Coordinator) copyMemories(ctx context.Context) error {
	chats, err := c.chats.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("memory migration: list chats: %w", err)
	}
	c.update(func(st *Status) {
		st.ChatsMigrated = 0
		st.RecordsCopied = 0
	})
	for _, chat := range chats {
		copied := 0
		for _, label := range c.labels {
			n, err := c.copyIndex(ctx, chat.ID, label)
			copied += n
			if err != nil {
				return err
			}
		}
		c.update(func(st *Status) { st.ChatsMigrated++ })
		log.Debug("Memory migration: copied chat", "chatId", chat.ID, "records", copied)
	}
	return nil
}

func (c *Coordinator) copyIndex(ctx context.Context, chatID, label string) (int, error) {
	index := memorytypes.LegacyIndex(chatID, label)
	copied := 0
	records := c.legacy.Search(ctx, index, registrymemory.Wildcard, registrymemory.Unbounded, registrymemory.AnyRelevance)
	for rec, err := range records {
		if err != nil {
			return copied, fmt.Errorf("memory migration: read %s: %w", index, err)
		}
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		if err := c.target.StoreMemory(ctx, c.opts.ConsolidatedIndex, chatID, label, rec.Key, rec.Text); err != nil {
			return copied, fmt.Errorf("memory migration: %w", err)
		}
		copied++
		c.update(func(st *Status) { st.RecordsCopied++ })
		metrics.AddRecordsCopied(1)
	}
	return copied, nil
}

func (c *Coordinator) finish(state State, outcome string) {
	c.update(func(st *Status) {
		st.State = state
		st.FinishedAt = time.Now()
	})
	metrics.ObserveMigrationRun(outcome)
}

// abandonClaim clears the sentinel when it still holds token, so the next
// instance to start can claim the migration. It runs only before the
// destructive step. If the sentinel cannot be cleared, the token is kept as
// this coordinator's own so a later Run in this process resumes it.
func (c *Coordinator) abandonClaim(ctx context.Context, token string) {
	if token == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	c.ownToken = token
	s, err := ReadSentinel(ctx, c.legacy, c.opts.SentinelIndex, c.opts.SentinelKey)
	if err != nil {
		log.Warn("Memory migration: could not release claim", "token", token, "err", err)
		return
	}
	if !s.Claimed() || !strings.EqualFold(s.Token, token) {
		// Never written, or another instance overwrote it.
		c.ownToken = ""
		return
	}
	if err := c.legacy.Put(ctx, c.opts.SentinelIndex, c.opts.SentinelKey, ""); err != nil {
		log.Warn("Memory migration: could not release claim", "token", token, "err", err)
		return
	}
	c.ownToken = ""
	log.Info("Memory migration: released claim", "token", token)
}

// cancelled records an abandoned run. Before the destructive step nothing
// changed, so the coordinator returns to idle.
func (c *Coordinator) cancelled(err error) error {
	c.update(func(st *Status) {
		st.LastError = err.Error()
		if !st.PartiallyMigrated {
			st.State = StateIdle
		} else {
			st.State = StateFailed
		}
	})
	metrics.ObserveMigrationRun("cancelled")
	log.Info("Memory migration: cancelled", "partiallyMigrated", c.Status().PartiallyMigrated)
	return err
}

func (c *Coordinator) fail(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return c.cancelled(ctxErr)
	}
	c.update(func(st *Status) {
		st.State = StateFailed
		st.LastError = err.Error()
		st.FinishedAt = time.Now()
	})
	metrics.ObserveMigrationRun("failed")
	log.Error("Memory migration: failed", "err", err, "partiallyMigrated", c.Status().PartiallyMigrated)
	return err
}
