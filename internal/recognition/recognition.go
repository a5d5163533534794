// Package recognition builds a "welcome back" snapshot for a returning
// user from their stored memories, cached for an hour and invalidated
// whenever new memories land.
package recognition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/keys"
	"github.com/toolgate/toolgate/internal/memory"
	"github.com/toolgate/toolgate/internal/reqctx"
)

// CacheTTL bounds snapshot staleness when no writes invalidate it.
const CacheTTL = time.Hour

const maxRecentInteractions = 10

// ContextSummary is the structured digest of what the gateway knows
// about the user.
type ContextSummary struct {
	RecentInteractions []string       `json:"recent_interactions"`
	Preferences        map[string]any `json:"preferences"`
	MemoryCount        int            `json:"memory_count"`
	HasSessionContext  bool           `json:"has_session_context"`
}

// Snapshot is the recognition result returned to the agent.
// ResponseTimeMs is measured per call, never served from cache.
type Snapshot struct {
	Recognized     bool            `json:"recognized"`
	Greeting       string          `json:"greeting"`
	Summary        *ContextSummary `json:"context_summary,omitempty"`
	MemoryCount    int             `json:"memory_count"`
	CacheHit       bool            `json:"cache_hit"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	GeneratedAt    time.Time       `json:"generated_at"`
}

// Service produces and caches recognition snapshots.
type Service struct {
	rdb *redis.Client
	mem *memory.Coordinator
	ttl time.Duration
}

func NewService(rdb *redis.Client, mem *memory.Coordinator) *Service {
	return &Service{rdb: rdb, mem: mem, ttl: CacheTTL}
}

// BindMemory attaches the coordinator after construction. The service
// and the coordinator reference each other (the coordinator calls
// Invalidate after writes), so one side binds late.
func (s *Service) BindMemory(mem *memory.Coordinator) { s.mem = mem }

// Recognize returns the snapshot for the ambient user, serving from
// cache when a fresh one exists.
func (s *Service) Recognize(ctx context.Context, targetUser uuid.UUID) (*Snapshot, error) {
	start := time.Now()
	tenantID := reqctx.TenantID(ctx)
	key := keys.Recognition(tenantID, targetUser)
	if err := keys.Validate(ctx, key); err != nil {
		return nil, err
	}

	if raw, err := s.rdb.Get(ctx, key).Result(); err == nil {
		var snap Snapshot
		if json.Unmarshal([]byte(raw), &snap) == nil {
			snap.CacheHit = true
			snap.ResponseTimeMs = time.Since(start).Milliseconds()
			return &snap, nil
		}
		// Unreadable cache entry: fall through and rebuild.
		s.rdb.Del(ctx, key)
	}

	snap, err := s.build(ctx, tenantID, targetUser)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(snap); err == nil {
		if err := s.rdb.Set(ctx, key, payload, s.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("failed to cache recognition snapshot")
		}
	}
	snap.ResponseTimeMs = time.Since(start).Milliseconds()
	return snap, nil
}

// build assembles a snapshot from the user's most relevant memories and
// any live session context.
func (s *Service) build(ctx context.Context, tenantID, targetUser uuid.UUID) (*Snapshot, error) {
	records, _, err := s.mem.Search(ctx, targetUser, "user preferences context", maxRecentInteractions, nil)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		MemoryCount: len(records),
		GeneratedAt: time.Now().UTC(),
	}
	if len(records) == 0 {
		snap.Greeting = "Hello! It looks like we haven't talked before."
		return snap, nil
	}

	snap.Recognized = true
	snap.Greeting = fmt.Sprintf("Welcome back! I remember %d things from our previous conversations.", len(records))
	snap.Summary = &ContextSummary{
		RecentInteractions: interactionsOf(records),
		Preferences:        preferencesOf(records),
		MemoryCount:        len(records),
		HasSessionContext:  s.hasSessionContext(ctx, tenantID, targetUser),
	}
	return snap, nil
}

// interactionsOf lists the top memory texts, newest-relevance first.
func interactionsOf(records []memory.Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		if len(out) == maxRecentInteractions {
			break
		}
		text := strings.TrimSpace(r.Memory)
		if text == "" {
			continue
		}
		out = append(out, text)
	}
	return out
}

// preferencesOf merges preference maps found in memory metadata.
func preferencesOf(records []memory.Record) map[string]any {
	prefs := map[string]any{}
	for _, r := range records {
		if m, ok := r.Metadata["preferences"].(map[string]any); ok {
			for k, v := range m {
				prefs[k] = v
			}
		}
	}
	return prefs
}

// hasSessionContext reports whether the user owns at least one stored
// session. Scan failures degrade to false rather than failing the call.
func (s *Service) hasSessionContext(ctx context.Context, tenantID, userID uuid.UUID) bool {
	iter := s.rdb.Scan(ctx, 0, keys.UserSessionPattern(tenantID, userID), 1).Iterator()
	if iter.Next(ctx) {
		return true
	}
	if err := iter.Err(); err != nil {
		log.Debug().Err(err).Msg("session scan during recognition failed")
	}
	return false
}

// Invalidate drops the cached snapshot. Wired as the memory
// coordinator's post-write hook so new memories appear promptly.
func (s *Service) Invalidate(ctx context.Context, tenantID, userID uuid.UUID) {
	key := keys.Recognition(tenantID, userID)
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to invalidate recognition cache")
	}
}
