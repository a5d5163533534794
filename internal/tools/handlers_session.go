package tools

import (
	"context"
	"encoding/json"
	"time"

	"github.com/toolgate/toolgate/internal/session"
)

// Session cleanup default: anything untouched for two days.
const defaultCleanupAge = 48 * time.Hour

func (s *Set) HandleStoreSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var params StoreSessionParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}

	env, err := s.Sessions.Save(ctx, params.SessionID, session.Fields{
		ConversationState: params.Context,
		UserPreferences:   params.UserPreferences,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":    true,
		"session_id": env.SessionID,
		"stored_at":  env.StoredAt,
	}, nil
}

func (s *Set) HandleGetSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var params GetSessionParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	return s.Sessions.Get(ctx, params.SessionID)
}

func (s *Set) HandleUpdateSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var params UpdateSessionParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}

	env, err := s.Sessions.Update(ctx, params.SessionID, session.Fields{
		ConversationState:  params.Updates,
		UserPreferences:    params.UserPreferences,
		RecentInteractions: params.RecentInteractions,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":            true,
		"session_id":         env.SessionID,
		"last_updated":       env.LastUpdated,
		"conversation_state": env.ConversationState,
	}, nil
}

func (s *Set) HandleInterruptSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var params InterruptSessionParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}

	env, err := s.Sessions.Interrupt(ctx, params.SessionID, params.CurrentQuery)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":             true,
		"session_id":          env.SessionID,
		"interrupted":         true,
		"interrupted_queries": env.InterruptedQueries,
	}, nil
}

func (s *Set) HandleResumeSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var params ResumeSessionParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}

	env, err := s.Sessions.Resume(ctx, params.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":             true,
		"session_id":          env.SessionID,
		"can_resume":          env.CanResume(),
		"interrupted_queries": env.InterruptedQueries,
		"restored_context":    env,
	}, nil
}

func (s *Set) HandleCleanupSessions(ctx context.Context, raw json.RawMessage) (any, error) {
	var params CleanupSessionsParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}

	age := defaultCleanupAge
	if params.OlderThanHours > 0 {
		age = time.Duration(params.OlderThanHours) * time.Hour
	}
	removed, err := s.Sessions.Cleanup(ctx, age)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":          true,
		"sessions_removed": removed,
	}, nil
}
