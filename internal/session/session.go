// Package session persists per-conversation working state in the
// key-value store so an agent can pick up where it left off: plain
// store/get/update plus interruption capture and resumption.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/keys"
	"github.com/toolgate/toolgate/internal/reqctx"
)

// DefaultTTL bounds how long an untouched session survives.
const DefaultTTL = 24 * time.Hour

// Envelope is the stored session record. Interruption and resumption
// markers live inside ConversationState; the queries cut short live in
// InterruptedQueries, deduplicated.
type Envelope struct {
	SessionID          string           `json:"session_id"`
	TenantID           uuid.UUID        `json:"tenant_id"`
	UserID             uuid.UUID        `json:"user_id"`
	ConversationState  map[string]any   `json:"conversation_state"`
	InterruptedQueries []string         `json:"interrupted_queries,omitempty"`
	RecentInteractions []map[string]any `json:"recent_interactions,omitempty"`
	UserPreferences    map[string]any   `json:"user_preferences,omitempty"`
	StoredAt           time.Time        `json:"stored_at"`
	LastUpdated        time.Time        `json:"last_updated"`
}

// CanResume reports whether the session holds work cut short that an
// agent could pick back up.
func (e *Envelope) CanResume() bool {
	return len(e.InterruptedQueries) > 0
}

// Fields carries one write's worth of session data. Zero-valued fields
// are left alone on update.
type Fields struct {
	ConversationState  map[string]any
	UserPreferences    map[string]any
	InterruptedQueries []string
	RecentInteractions []map[string]any
}

// Store is the Redis-backed session continuity store.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Save writes a fresh envelope for the session, replacing any prior
// state wholesale.
func (s *Store) Save(ctx context.Context, sessionID string, f Fields) (*Envelope, error) {
	if sessionID == "" {
		return nil, apperr.Validation("session_id is required")
	}
	id := reqctx.From(ctx)
	now := time.Now().UTC()
	env := &Envelope{
		SessionID:          sessionID,
		TenantID:           id.TenantID,
		UserID:             id.UserID,
		ConversationState:  f.ConversationState,
		UserPreferences:    f.UserPreferences,
		InterruptedQueries: dedup(nil, f.InterruptedQueries...),
		RecentInteractions: f.RecentInteractions,
		StoredAt:           now,
		LastUpdated:        now,
	}
	if env.ConversationState == nil {
		env.ConversationState = map[string]any{}
	}
	if err := s.put(ctx, sessionID, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Get loads the session envelope, or a not-found error.
func (s *Store) Get(ctx context.Context, sessionID string) (*Envelope, error) {
	key := keys.Session(reqctx.TenantID(ctx), reqctx.UserID(ctx), sessionID)
	if err := keys.Validate(ctx, key); err != nil {
		return nil, err
	}

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, apperr.NotFound("session not found: " + sessionID)
	}
	if err != nil {
		return nil, apperr.Unavailable("session store read failed")
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, apperr.Internal(uuid.Nil)
	}
	if env.ConversationState == nil {
		env.ConversationState = map[string]any{}
	}
	return &env, nil
}

// Update merges fields into the stored envelope: conversation state and
// preferences shallow-merge with new keys winning, interrupted queries
// and recent interactions concatenate in arrival order. stored_at
// survives; last_updated moves to now. With no prior envelope the
// update degenerates to a plain save.
func (s *Store) Update(ctx context.Context, sessionID string, f Fields) (*Envelope, error) {
	env, err := s.Get(ctx, sessionID)
	if err != nil {
		if apperr.IsCode(err, apperr.CodeNotFound) {
			return s.Save(ctx, sessionID, f)
		}
		return nil, err
	}

	env.ConversationState = mergeMaps(env.ConversationState, f.ConversationState)
	env.UserPreferences = mergeMaps(env.UserPreferences, f.UserPreferences)
	env.InterruptedQueries = append(env.InterruptedQueries, f.InterruptedQueries...)
	env.RecentInteractions = append(env.RecentInteractions, f.RecentInteractions...)
	env.LastUpdated = time.Now().UTC()

	if err := s.put(ctx, sessionID, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Interrupt records a query cut short mid-flight: the query joins
// interrupted_queries exactly once, and the conversation state is
// marked interrupted. An interrupt for a session never stored creates
// the envelope rather than losing the capture.
func (s *Store) Interrupt(ctx context.Context, sessionID, currentQuery string) (*Envelope, error) {
	env, err := s.Get(ctx, sessionID)
	if err != nil {
		if !apperr.IsCode(err, apperr.CodeNotFound) {
			return nil, err
		}
		env, err = s.Save(ctx, sessionID, Fields{})
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	env.InterruptedQueries = dedup(env.InterruptedQueries, currentQuery)
	env.ConversationState["interrupted"] = true
	env.ConversationState["interrupted_at"] = now.Format(time.RFC3339Nano)
	env.LastUpdated = now

	if err := s.put(ctx, sessionID, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Resume returns the session for continuation, marking the conversation
// state resumed. Missing sessions are a not-found error so the agent
// knows to start fresh.
func (s *Store) Resume(ctx context.Context, sessionID string) (*Envelope, error) {
	env, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	env.ConversationState["resumed"] = true
	env.ConversationState["resumed_at"] = now.Format(time.RFC3339Nano)
	env.LastUpdated = now

	if err := s.put(ctx, sessionID, env); err != nil {
		return nil, err
	}
	return env, nil
}

// Cleanup deletes the tenant's sessions whose last update is older than
// the threshold. Unparsable entries are deleted too: they can never be
// resumed and would otherwise live until their TTL. Returns the number
// of sessions removed.
func (s *Store) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	tenantID := reqctx.TenantID(ctx)
	cutoff := time.Now().UTC().Add(-olderThan)
	removed := 0

	iter := s.rdb.Scan(ctx, 0, keys.SessionPattern(tenantID), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := keys.Validate(ctx, key); err != nil {
			return removed, err
		}

		raw, err := s.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			log.Warn().Str("key", key).Msg("deleting unparsable session entry")
			s.rdb.Del(ctx, key)
			removed++
			continue
		}
		if env.LastUpdated.Before(cutoff) {
			s.rdb.Del(ctx, key)
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, apperr.Unavailable("session store scan failed")
	}
	return removed, nil
}

// mergeMaps shallow-merges update into base, new keys winning. A nil
// update leaves base untouched.
func mergeMaps(base, update map[string]any) map[string]any {
	if len(update) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(update))
	}
	for k, v := range update {
		base[k] = v
	}
	return base
}

// dedup appends queries that are not already present, preserving order.
func dedup(existing []string, queries ...string) []string {
	for _, q := range queries {
		if q == "" {
			continue
		}
		seen := false
		for _, have := range existing {
			if have == q {
				seen = true
				break
			}
		}
		if !seen {
			existing = append(existing, q)
		}
	}
	return existing
}

func (s *Store) put(ctx context.Context, sessionID string, env *Envelope) error {
	key := keys.Session(reqctx.TenantID(ctx), reqctx.UserID(ctx), sessionID)
	if err := keys.Validate(ctx, key); err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return apperr.Unavailable("session store write failed")
	}
	return nil
}
