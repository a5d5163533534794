// Package audit records an immutable event for every significant
// action: authentication attempts, tool invocations (pre and post),
// rate-limit and permission denials. Writes are best-effort and never
// block or fail the originating request.
package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Event is one append-only audit record. Success is nil for pre-events
// emitted before dispatch.
type Event struct {
	EventID      uuid.UUID      `json:"event_id"`
	RequestID    uuid.UUID      `json:"request_id"`
	TenantID     uuid.UUID      `json:"tenant_id,omitempty"`
	UserID       uuid.UUID      `json:"user_id,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Sink persists events asynchronously through a bounded queue. A full
// queue drops the event with an ERROR log rather than blocking the
// request path.
type Sink struct {
	pool    *pgxpool.Pool
	queue   chan Event
	done    chan struct{}
	enabled bool
}

// NewSink starts the background writer. pool may be nil in tests, in
// which case events are consumed and dropped.
func NewSink(pool *pgxpool.Pool, enabled bool) *Sink {
	s := &Sink{
		pool:    pool,
		queue:   make(chan Event, 1024),
		done:    make(chan struct{}),
		enabled: enabled,
	}
	go s.run()
	return s
}

// Emit enqueues one event. Never blocks.
func (s *Sink) Emit(ev Event) {
	if !s.enabled {
		return
	}
	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.ResourceType == "" {
		ev.ResourceType = ResourceTypeFor(ev.Action)
	}

	select {
	case s.queue <- ev:
	default:
		log.Error().Str("action", ev.Action).Msg("audit queue full, event dropped")
	}
}

// Close stops the writer after draining queued events.
func (s *Sink) Close() {
	close(s.queue)
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.queue {
		if s.pool == nil {
			continue
		}
		if err := s.persist(ev); err != nil {
			log.Error().Err(err).Str("action", ev.Action).Msg("failed to persist audit event")
		}
	}
}

func (s *Sink) persist(ev Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	details, _ := json.Marshal(ev.Details)
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log
		   (event_id, request_id, tenant_id, user_id, action, resource_type, resource_id, details, success, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.EventID, ev.RequestID, nilIfZero(ev.TenantID), nilIfZero(ev.UserID),
		ev.Action, ev.ResourceType, ev.ResourceID, details, ev.Success, ev.Timestamp)
	return err
}

func nilIfZero(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}

// ResourceTypeFor infers the resource type from a tool-name prefix.
// Ambiguous names map to the generic "tool".
func ResourceTypeFor(action string) string {
	switch {
	case strings.HasPrefix(action, "mem0_"):
		return "memory"
	case strings.HasPrefix(action, "rag_"):
		return "session"
	case strings.HasPrefix(action, "doc_"):
		return "document"
	case strings.HasPrefix(action, "auth"):
		return "auth"
	case action == "rate_limit_exceeded":
		return "rate_limit"
	default:
		return "tool"
	}
}

// Bool is a convenience for the Success pointer field.
func Bool(b bool) *bool { return &b }
