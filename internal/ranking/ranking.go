// Package ranking re-orders search results using what the gateway
// already knows about the caller: recent memories, the active session,
// and stored preferences. Boosts are additive and capped, and the
// ranker degrades to a no-op when personalization is off or no context
// is available.
package ranking

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Boost weights. Additive, final score capped at 1.0. Tag and type
// preferences stack: an item matching both earns both boosts.
const (
	memoryBoost  = 0.15
	sessionBoost = 0.10
	tagBoost     = 0.10
	typeBoost    = 0.10
)

// Item is one rankable search result.
type Item struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Type     string         `json:"type,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Context is the personalization signal gathered before ranking. A nil
// or empty context leaves results untouched.
type Context struct {
	MemoryKeywords []string // terms from the caller's recent memories
	SessionTopics  []string // terms from the active session context
	PreferredTags  []string
	PreferredTypes []string
}

func (c *Context) empty() bool {
	if c == nil {
		return true
	}
	return len(c.MemoryKeywords) == 0 && len(c.SessionTopics) == 0 &&
		len(c.PreferredTags) == 0 && len(c.PreferredTypes) == 0
}

// Ranker applies context boosts and re-sorts.
type Ranker struct {
	enabled bool
}

func New(enabled bool) *Ranker {
	return &Ranker{enabled: enabled}
}

// Rank returns the items re-scored and sorted by descending score.
// Base scores are never lowered; ties keep their original order.
func (r *Ranker) Rank(items []Item, rctx *Context) []Item {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			log.Warn().Dur("elapsed", elapsed).Int("items", len(items)).Msg("ranking exceeded budget")
		}
	}()

	if !r.enabled || rctx.empty() || len(items) == 0 {
		return items
	}

	out := make([]Item, len(items))
	copy(out, items)
	for i := range out {
		out[i].Score = boost(out[i], rctx)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

func boost(it Item, rctx *Context) float64 {
	score := it.Score
	text := strings.ToLower(it.Text)

	if matchesAny(text, rctx.MemoryKeywords) {
		score += memoryBoost
	}
	if matchesAny(text, rctx.SessionTopics) {
		score += sessionBoost
	}
	if hasPreferredTag(it, rctx) {
		score += tagBoost
	}
	if hasPreferredType(it, rctx) {
		score += typeBoost
	}

	if score > 1.0 {
		return 1.0
	}
	return score
}

func matchesAny(text string, terms []string) bool {
	for _, t := range terms {
		if t == "" {
			continue
		}
		if strings.Contains(text, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func hasPreferredType(it Item, rctx *Context) bool {
	for _, want := range rctx.PreferredTypes {
		if strings.EqualFold(it.Type, want) && want != "" {
			return true
		}
	}
	return false
}

func hasPreferredTag(it Item, rctx *Context) bool {
	for _, tag := range it.Tags {
		for _, want := range rctx.PreferredTags {
			if strings.EqualFold(tag, want) && want != "" {
				return true
			}
		}
	}
	return false
}
