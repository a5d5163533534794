package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/memory"
	"github.com/toolgate/toolgate/internal/reqctx"
)

// targetUser resolves the optional user_id parameter, defaulting to
// the caller. User-level access is enforced downstream by the memory
// coordinator.
func targetUser(ctx context.Context, raw string) (uuid.UUID, error) {
	if raw == "" {
		return reqctx.UserID(ctx), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user_id: %w", err)
	}
	return id, nil
}

type AddMemoryParams struct {
	UserID   string           `json:"user_id,omitempty"`
	Messages []memory.Message `json:"messages"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

func (p *AddMemoryParams) Validate() error {
	if len(p.Messages) == 0 {
		return fmt.Errorf("messages must not be empty")
	}
	for i, m := range p.Messages {
		if m.Content == "" {
			return fmt.Errorf("messages[%d].content must not be empty", i)
		}
	}
	return nil
}

type SearchMemoryParams struct {
	UserID    string `json:"user_id,omitempty"`
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
	MemoryKey string `json:"memory_key,omitempty"`
}

func (p *SearchMemoryParams) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("query must not be empty")
	}
	if p.Limit < 0 || p.Limit > 100 {
		return fmt.Errorf("limit must be between 0 and 100")
	}
	return nil
}

type GetUserMemoryParams struct {
	UserID string `json:"user_id,omitempty"`
}

func (p *GetUserMemoryParams) Validate() error { return nil }

type UpdateMemoryParams struct {
	UserID   string `json:"user_id,omitempty"`
	MemoryID string `json:"memory_id"`
	Text     string `json:"text"`
}

func (p *UpdateMemoryParams) Validate() error {
	if p.MemoryID == "" {
		return fmt.Errorf("memory_id must not be empty")
	}
	if p.Text == "" {
		return fmt.Errorf("text must not be empty")
	}
	return nil
}

type DeleteMemoryParams struct {
	UserID   string `json:"user_id,omitempty"`
	MemoryID string `json:"memory_id"`
}

func (p *DeleteMemoryParams) Validate() error {
	if p.MemoryID == "" {
		return fmt.Errorf("memory_id must not be empty")
	}
	return nil
}

type StoreSessionParams struct {
	SessionID       string         `json:"session_id"`
	Context         map[string]any `json:"context"`
	UserPreferences map[string]any `json:"user_preferences,omitempty"`
}

func (p *StoreSessionParams) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("session_id must not be empty")
	}
	return nil
}

type GetSessionParams struct {
	SessionID string `json:"session_id"`
}

func (p *GetSessionParams) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("session_id must not be empty")
	}
	return nil
}

type UpdateSessionParams struct {
	SessionID          string           `json:"session_id"`
	Updates            map[string]any   `json:"updates"`
	UserPreferences    map[string]any   `json:"user_preferences,omitempty"`
	RecentInteractions []map[string]any `json:"recent_interactions,omitempty"`
}

func (p *UpdateSessionParams) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("session_id must not be empty")
	}
	if len(p.Updates) == 0 && len(p.UserPreferences) == 0 && len(p.RecentInteractions) == 0 {
		return fmt.Errorf("updates must not be empty")
	}
	return nil
}

type InterruptSessionParams struct {
	SessionID    string `json:"session_id"`
	CurrentQuery string `json:"current_query"`
}

func (p *InterruptSessionParams) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("session_id must not be empty")
	}
	if p.CurrentQuery == "" {
		return fmt.Errorf("current_query must not be empty")
	}
	return nil
}

type ResumeSessionParams struct {
	SessionID string `json:"session_id"`
}

func (p *ResumeSessionParams) Validate() error {
	if p.SessionID == "" {
		return fmt.Errorf("session_id must not be empty")
	}
	return nil
}

type CleanupSessionsParams struct {
	OlderThanHours int `json:"older_than_hours,omitempty"`
}

func (p *CleanupSessionsParams) Validate() error {
	if p.OlderThanHours < 0 {
		return fmt.Errorf("older_than_hours must not be negative")
	}
	return nil
}

type RecognizeUserParams struct {
	UserID string `json:"user_id,omitempty"`
}

func (p *RecognizeUserParams) Validate() error { return nil }

type DocSearchParams struct {
	Query     string `json:"query"`
	Limit     int    `json:"limit,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (p *DocSearchParams) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("query must not be empty")
	}
	if p.Limit < 0 || p.Limit > 100 {
		return fmt.Errorf("limit must be between 0 and 100")
	}
	return nil
}

type DocIndexParams struct {
	ID    string   `json:"id,omitempty"`
	Title string   `json:"title"`
	Body  string   `json:"body"`
	Type  string   `json:"type,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

func (p *DocIndexParams) Validate() error {
	if p.Title == "" {
		return fmt.Errorf("title must not be empty")
	}
	if p.Body == "" {
		return fmt.Errorf("body must not be empty")
	}
	return nil
}
