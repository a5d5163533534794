// Package docs is a small tenant-scoped document index over the
// key-value store: enough to ingest documents and serve keyword search
// for the ranking layer to personalize.
package docs

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/keys"
	"github.com/toolgate/toolgate/internal/ranking"
	"github.com/toolgate/toolgate/internal/reqctx"
)

// Document is one indexed entry.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Type      string    `json:"type,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Index stores and searches documents per tenant.
type Index struct {
	rdb *redis.Client
}

func NewIndex(rdb *redis.Client) *Index {
	return &Index{rdb: rdb}
}

// Put indexes one document under the tenant's document cache keys,
// assigning an id when the caller supplies none.
func (ix *Index) Put(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	doc.IndexedAt = time.Now().UTC()

	key := keys.Cache(reqctx.TenantID(ctx), "document", doc.ID)
	if err := keys.Validate(ctx, key); err != nil {
		return err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := ix.rdb.Set(ctx, key, payload, 0).Err(); err != nil {
		return apperr.Unavailable("document index write failed")
	}
	return nil
}

// Search scans the tenant's documents and scores them by keyword
// overlap against the query.
func (ix *Index) Search(ctx context.Context, query string, limit int) ([]ranking.Item, error) {
	tenantID := reqctx.TenantID(ctx)
	pattern := keys.Cache(tenantID, "document", "*")
	terms := strings.Fields(strings.ToLower(query))

	var out []ranking.Item
	iter := ix.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := keys.Validate(ctx, key); err != nil {
			return nil, err
		}
		raw, err := ix.rdb.Get(ctx, key).Result()
		if err != nil {
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}

		text := doc.Title + " " + doc.Body
		score := overlap(terms, text)
		if score == 0 {
			continue
		}
		out = append(out, ranking.Item{
			ID:    doc.ID,
			Text:  text,
			Type:  doc.Type,
			Tags:  doc.Tags,
			Score: score,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, apperr.Unavailable("document index scan failed")
	}

	sortItems(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func overlap(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for _, t := range terms {
		if strings.Contains(lower, t) {
			matches++
		}
	}
	return float64(matches) / float64(len(terms))
}

func sortItems(items []ranking.Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].Score > items[j-1].Score; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}
