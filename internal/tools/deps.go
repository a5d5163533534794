package tools

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/docs"
	"github.com/toolgate/toolgate/internal/ranking"
	"github.com/toolgate/toolgate/internal/recognition"
	"github.com/toolgate/toolgate/internal/session"
)

// SessionStore is the session continuity surface the handlers need.
type SessionStore interface {
	Save(ctx context.Context, sessionID string, f session.Fields) (*session.Envelope, error)
	Get(ctx context.Context, sessionID string) (*session.Envelope, error)
	Update(ctx context.Context, sessionID string, f session.Fields) (*session.Envelope, error)
	Interrupt(ctx context.Context, sessionID, currentQuery string) (*session.Envelope, error)
	Resume(ctx context.Context, sessionID string) (*session.Envelope, error)
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

// Ranker re-orders search results with personalization context.
type Ranker interface {
	Rank(items []ranking.Item, rctx *ranking.Context) []ranking.Item
}

// Recognizer builds returning-user snapshots.
type Recognizer interface {
	Recognize(ctx context.Context, targetUser uuid.UUID) (*recognition.Snapshot, error)
}

// DocSource is the backing document index the search tools use.
type DocSource interface {
	Put(ctx context.Context, doc *docs.Document) error
	Search(ctx context.Context, query string, limit int) ([]ranking.Item, error)
}

// FeatureSource exposes per-tenant feature switches.
type FeatureSource interface {
	PersonalizationEnabled(ctx context.Context, tenantID uuid.UUID) (bool, error)
}
