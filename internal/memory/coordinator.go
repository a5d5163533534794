// Package memory coordinates the primary remote memory service with
// the Redis fallback: health tracking, degraded-mode writes with a
// per-tenant write queue, keyword-overlap fallback search, and FIFO
// drain on recovery.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/keys"
	"github.com/toolgate/toolgate/internal/reqctx"
)

const (
	SourcePrimary  = "primary"
	SourceFallback = "fallback"
)

// health states of the primary backend.
type health int32

const (
	healthy health = iota
	degraded
)

// WriteResult reports where a write landed.
type WriteResult struct {
	Success  bool   `json:"success"`
	Source   string `json:"source"`
	MemoryID string `json:"memory_id,omitempty"`
	Created  bool   `json:"created"`
}

// SearchFilters restricts fallback search results.
type SearchFilters struct {
	MemoryKey string         `json:"memory_key,omitempty"`
	Since     *time.Time     `json:"since,omitempty"`
	Until     *time.Time     `json:"until,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// queueEntry is one deferred primary write awaiting drain.
type queueEntry struct {
	Operation  string         `json:"operation"`
	TenantID   uuid.UUID      `json:"tenant_id"`
	UserID     uuid.UUID      `json:"user_id"`
	Messages   []Message      `json:"messages"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// fallbackRecord is the value stored under the user-memory key while
// the primary is unavailable.
type fallbackRecord struct {
	Messages  []Message      `json:"messages"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	MemoryKey string         `json:"memory_key,omitempty"`
	StoredAt  time.Time      `json:"stored_at"`
	Source    string         `json:"source"`
}

// InvalidateFunc is the cache-invalidation hook fired after any
// successful add (user recognition reads through it).
type InvalidateFunc func(ctx context.Context, tenantID, userID uuid.UUID)

// Coordinator fronts the primary memory service with the Redis
// fallback.
type Coordinator struct {
	primary       *Client
	rdb           *redis.Client
	fallbackOn    bool
	fallbackTTL   time.Duration
	probeInterval time.Duration
	retryBase     time.Duration
	invalidate    InvalidateFunc

	mu      sync.Mutex
	state   health
	pending map[uuid.UUID]struct{} // tenants with queued writes
	probing bool

	drainGroup singleflight.Group
}

// NewCoordinator wires the coordinator. primary may be nil
// (fallback-only), invalidate may be nil.
func NewCoordinator(primary *Client, rdb *redis.Client, cfg config.MemoryConfig, invalidate InvalidateFunc) *Coordinator {
	c := &Coordinator{
		primary:       primary,
		rdb:           rdb,
		fallbackOn:    cfg.FallbackToRedis,
		fallbackTTL:   cfg.FallbackTTL,
		probeInterval: cfg.ProbeInterval,
		retryBase:     500 * time.Millisecond,
		invalidate:    invalidate,
		pending:       make(map[uuid.UUID]struct{}),
	}
	if primary == nil {
		c.state = degraded
	}
	return c
}

// Healthy reports whether the primary is currently considered up.
func (c *Coordinator) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == healthy
}

// checkAccess enforces user-level isolation inside the tenant: only the
// owner, a tenant admin, or an uber admin may touch a user's memory.
func checkAccess(ctx context.Context, targetUser uuid.UUID) error {
	id := reqctx.From(ctx)
	if id.Role == reqctx.RoleUberAdmin || id.Role == reqctx.RoleTenantAdmin {
		return nil
	}
	if id.UserID != targetUser {
		return apperr.MemoryAccess("memory belongs to a different user")
	}
	return nil
}

// Add writes messages to the target user's memory, falling back to
// Redis plus the write queue when the primary is down.
func (c *Coordinator) Add(ctx context.Context, targetUser uuid.UUID, messages []Message, metadata map[string]any) (*WriteResult, error) {
	start := time.Now()
	defer warnOverBudget("memory add", start)

	if err := checkAccess(ctx, targetUser); err != nil {
		return nil, err
	}
	tenantID := reqctx.TenantID(ctx)

	if c.Healthy() && c.primary != nil {
		err := c.writePrimary(ctx, targetUser, messages, metadata)
		if err == nil {
			c.fireInvalidate(ctx, tenantID, targetUser)
			// Opportunistic drain: a working primary is the recovery
			// signal for anything queued earlier.
			go c.DrainPending(context.WithoutCancel(ctx))
			return &WriteResult{Success: true, Source: SourcePrimary, Created: true}, nil
		}
		if !IsDegradation(err) {
			return nil, err
		}
		c.markDegraded(err)
	}

	if !c.fallbackOn {
		return nil, apperr.Unavailable("primary memory service unavailable and fallback disabled")
	}

	memID, err := c.writeFallback(ctx, tenantID, targetUser, messages, metadata)
	if err != nil {
		return nil, err
	}
	c.fireInvalidate(ctx, tenantID, targetUser)
	return &WriteResult{Success: true, Source: SourceFallback, MemoryID: memID, Created: true}, nil
}

// writePrimary attempts the primary write with exponential backoff
// (0.5s, 1s, 2s, 4s). Degradation errors are retried; anything else
// aborts immediately.
func (c *Coordinator) writePrimary(ctx context.Context, userID uuid.UUID, messages []Message, metadata map[string]any) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBase
	bo.Multiplier = 2
	bo.MaxInterval = 4 * time.Second
	bo.RandomizationFactor = 0

	return backoff.Retry(func() error {
		err := c.primary.Add(ctx, userID, messages, metadata)
		if err != nil && !IsDegradation(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
}

// writeFallback stores the record under the tenant/user memory key with
// the configured TTL and enqueues the deferred primary write.
func (c *Coordinator) writeFallback(ctx context.Context, tenantID, userID uuid.UUID, messages []Message, metadata map[string]any) (string, error) {
	memID := uuid.New().String()
	key := keys.UserMemory(tenantID, userID, memID)

	rec := fallbackRecord{
		Messages: messages,
		Metadata: metadata,
		StoredAt: time.Now().UTC(),
		Source:   SourceFallback,
	}
	if mk, ok := metadata["memory_key"].(string); ok {
		rec.MemoryKey = mk
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	if err := c.rdb.Set(ctx, key, payload, c.fallbackTTL).Err(); err != nil {
		return "", apperr.Unavailable("fallback store write failed")
	}

	entry := queueEntry{
		Operation:  "add",
		TenantID:   tenantID,
		UserID:     userID,
		Messages:   messages,
		Metadata:   metadata,
		EnqueuedAt: time.Now().UTC(),
	}
	entryJSON, _ := json.Marshal(entry)
	if err := c.rdb.LPush(ctx, keys.WriteQueue(tenantID), entryJSON).Err(); err != nil {
		log.Error().Err(err).Msg("failed to enqueue deferred memory write")
	}

	c.mu.Lock()
	c.pending[tenantID] = struct{}{}
	c.mu.Unlock()

	return memID, nil
}

// Search queries the primary when healthy, otherwise scans the
// fallback keys and scores them by keyword overlap.
func (c *Coordinator) Search(ctx context.Context, targetUser uuid.UUID, query string, limit int, filters *SearchFilters) ([]Record, string, error) {
	start := time.Now()
	defer warnOverBudget("memory search", start)

	if err := checkAccess(ctx, targetUser); err != nil {
		return nil, "", err
	}
	if limit <= 0 {
		limit = 10
	}
	tenantID := reqctx.TenantID(ctx)

	if c.Healthy() && c.primary != nil {
		var extra map[string]any
		if filters != nil {
			extra = filters.Extra
		}
		results, err := c.primary.Search(ctx, targetUser, query, limit, extra)
		if err == nil {
			return results, SourcePrimary, nil
		}
		if !IsDegradation(err) {
			return nil, "", err
		}
		c.markDegraded(err)
	}

	if !c.fallbackOn {
		return nil, "", apperr.Unavailable("primary memory service unavailable and fallback disabled")
	}

	results, err := c.searchFallback(ctx, tenantID, targetUser, query, limit, filters)
	if err != nil {
		return nil, "", err
	}
	return results, SourceFallback, nil
}

// searchFallback scans tenant:{tid}:user:{uid}:memory:* and ranks
// records by keyword overlap: matches / max(1, |query tokens|).
func (c *Coordinator) searchFallback(ctx context.Context, tenantID, userID uuid.UUID, query string, limit int, filters *SearchFilters) ([]Record, error) {
	pattern := keys.UserMemoryPattern(tenantID, userID)
	tokens := tokenize(query)

	var out []Record
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := keys.Validate(ctx, key); err != nil {
			return nil, err
		}

		raw, err := c.rdb.Get(ctx, key).Result()
		if err != nil {
			continue // expired between scan and get
		}

		var rec fallbackRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		if !matchFilters(rec, filters) {
			continue
		}

		text := recordText(rec)
		out = append(out, Record{
			ID:             memoryIDFromKey(key),
			Memory:         text,
			Metadata:       rec.Metadata,
			RelevanceScore: overlapScore(tokens, text),
			Source:         SourceFallback,
			CreatedAt:      rec.StoredAt,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, apperr.Unavailable("fallback store scan failed")
	}

	sortByScore(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List returns every memory stored for the target user, from the
// primary when healthy and from the fallback otherwise.
func (c *Coordinator) List(ctx context.Context, targetUser uuid.UUID) ([]Record, string, error) {
	if err := checkAccess(ctx, targetUser); err != nil {
		return nil, "", err
	}
	tenantID := reqctx.TenantID(ctx)

	if c.Healthy() && c.primary != nil {
		records, err := c.primary.List(ctx, targetUser)
		if err == nil {
			return records, SourcePrimary, nil
		}
		if !IsDegradation(err) {
			return nil, "", err
		}
		c.markDegraded(err)
	}

	if !c.fallbackOn {
		return nil, "", apperr.Unavailable("primary memory service unavailable and fallback disabled")
	}
	records, err := c.searchFallback(ctx, tenantID, targetUser, "", 1000, nil)
	if err != nil {
		return nil, "", err
	}
	return records, SourceFallback, nil
}

// Update rewrites the text of one memory. Degraded mode can only touch
// records that were written to the fallback.
func (c *Coordinator) Update(ctx context.Context, targetUser uuid.UUID, memoryID, text string) (string, error) {
	if err := checkAccess(ctx, targetUser); err != nil {
		return "", err
	}
	tenantID := reqctx.TenantID(ctx)

	if c.Healthy() && c.primary != nil {
		err := c.primary.Update(ctx, memoryID, text)
		if err == nil {
			c.fireInvalidate(ctx, tenantID, targetUser)
			return SourcePrimary, nil
		}
		if !IsDegradation(err) {
			return "", err
		}
		c.markDegraded(err)
	}

	key := keys.UserMemory(tenantID, targetUser, memoryID)
	raw, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", apperr.NotFound("memory not found: " + memoryID)
	}
	if err != nil {
		return "", apperr.Unavailable("fallback store read failed")
	}

	var rec fallbackRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return "", apperr.NotFound("memory not found: " + memoryID)
	}
	rec.Messages = []Message{{Role: "user", Content: text}}
	payload, _ := json.Marshal(rec)
	if err := c.rdb.Set(ctx, key, payload, c.fallbackTTL).Err(); err != nil {
		return "", apperr.Unavailable("fallback store write failed")
	}
	c.fireInvalidate(ctx, tenantID, targetUser)
	return SourceFallback, nil
}

// Delete removes one memory.
func (c *Coordinator) Delete(ctx context.Context, targetUser uuid.UUID, memoryID string) (string, error) {
	if err := checkAccess(ctx, targetUser); err != nil {
		return "", err
	}
	tenantID := reqctx.TenantID(ctx)

	if c.Healthy() && c.primary != nil {
		err := c.primary.Delete(ctx, memoryID)
		if err == nil {
			c.fireInvalidate(ctx, tenantID, targetUser)
			return SourcePrimary, nil
		}
		if !IsDegradation(err) {
			return "", err
		}
		c.markDegraded(err)
	}

	key := keys.UserMemory(tenantID, targetUser, memoryID)
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		return "", apperr.Unavailable("fallback store delete failed")
	}
	if n == 0 {
		return "", apperr.NotFound("memory not found: " + memoryID)
	}
	c.fireInvalidate(ctx, tenantID, targetUser)
	return SourceFallback, nil
}

// DrainPending drains the write queue of every tenant that queued
// writes in this process. Called opportunistically after a successful
// primary write and by the recovery probe.
func (c *Coordinator) DrainPending(ctx context.Context) {
	c.mu.Lock()
	tenants := make([]uuid.UUID, 0, len(c.pending))
	for t := range c.pending {
		tenants = append(tenants, t)
	}
	c.mu.Unlock()

	for _, t := range tenants {
		if err := c.Drain(ctx, t); err != nil {
			log.Warn().Err(err).Str("tenant_id", t.String()).Msg("write queue drain stopped")
			return
		}
	}
}

// Drain re-applies queued writes for one tenant to the primary in FIFO
// order, removing each entry on success and stopping at the first
// failure. A single drainer runs at a time per tenant.
func (c *Coordinator) Drain(ctx context.Context, tenantID uuid.UUID) error {
	if c.primary == nil {
		return nil
	}
	_, err, _ := c.drainGroup.Do(tenantID.String(), func() (any, error) {
		queueKey := keys.WriteQueue(tenantID)
		for {
			// Oldest entry sits at the tail (writes LPush onto the head).
			vals, err := c.rdb.LRange(ctx, queueKey, -1, -1).Result()
			if err != nil {
				return nil, err
			}
			if len(vals) == 0 {
				c.mu.Lock()
				delete(c.pending, tenantID)
				c.mu.Unlock()
				return nil, nil
			}

			var entry queueEntry
			if err := json.Unmarshal([]byte(vals[0]), &entry); err != nil {
				// Poisoned entry: drop it rather than wedging the queue.
				log.Error().Err(err).Msg("dropping unparsable write queue entry")
				c.rdb.LRem(ctx, queueKey, -1, vals[0])
				continue
			}

			if err := c.primary.Add(ctx, entry.UserID, entry.Messages, entry.Metadata); err != nil {
				if IsDegradation(err) {
					c.markDegraded(err)
				}
				return nil, err
			}
			if err := c.rdb.LRem(ctx, queueKey, -1, vals[0]).Err(); err != nil {
				return nil, err
			}
			log.Debug().Str("tenant_id", tenantID.String()).Msg("drained one queued memory write")
		}
	})
	return err
}

// markDegraded flips the state and starts the recovery probe loop.
func (c *Coordinator) markDegraded(cause error) {
	c.mu.Lock()
	alreadyDegraded := c.state == degraded
	c.state = degraded
	startProbe := !c.probing && c.primary != nil
	if startProbe {
		c.probing = true
	}
	c.mu.Unlock()

	if !alreadyDegraded {
		log.Warn().Err(cause).Msg("primary memory service degraded, using fallback")
	}
	if startProbe {
		go c.probeLoop()
	}
}

// probeLoop polls the primary's health endpoint until it recovers,
// then flips the state back and drains queued writes.
func (c *Coordinator) probeLoop() {
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := c.primary.Probe(ctx)
		cancel()
		if err != nil {
			continue
		}

		c.mu.Lock()
		c.state = healthy
		c.probing = false
		c.mu.Unlock()

		log.Info().Msg("primary memory service recovered")
		c.DrainPending(context.Background())
		return
	}
}

func (c *Coordinator) fireInvalidate(ctx context.Context, tenantID, userID uuid.UUID) {
	if c.invalidate != nil {
		c.invalidate(ctx, tenantID, userID)
	}
}

func warnOverBudget(op string, start time.Time) {
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		log.Warn().Dur("elapsed", elapsed).Str("op", op).Msg("memory operation exceeded budget")
	}
}

// --- fallback scoring helpers ---

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func recordText(rec fallbackRecord) string {
	var b strings.Builder
	for _, m := range rec.Messages {
		b.WriteString(m.Content)
		b.WriteString(" ")
	}
	if rec.MemoryKey != "" {
		b.WriteString(rec.MemoryKey)
	}
	return strings.TrimSpace(b.String())
}

// overlapScore counts query tokens present in the text, normalized by
// the query length.
func overlapScore(queryTokens []string, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, tok := range queryTokens {
		if strings.Contains(lower, tok) {
			matches++
		}
	}
	return float64(matches) / float64(max(1, len(queryTokens)))
}

func matchFilters(rec fallbackRecord, f *SearchFilters) bool {
	if f == nil {
		return true
	}
	if f.MemoryKey != "" && rec.MemoryKey != f.MemoryKey {
		return false
	}
	if f.Since != nil && rec.StoredAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && rec.StoredAt.After(*f.Until) {
		return false
	}
	return true
}

func memoryIDFromKey(key string) string {
	parts := strings.Split(key, ":")
	return parts[len(parts)-1]
}

func sortByScore(recs []Record) {
	for i := 1; i < len(recs); i++ {
		for j := i; j > 0 && recs[j].RelevanceScore > recs[j-1].RelevanceScore; j-- {
			recs[j], recs[j-1] = recs[j-1], recs[j]
		}
	}
}
