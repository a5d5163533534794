package tools

import (
	"context"
	"encoding/json"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/memory"
)

// Set binds the tool handlers to their backing services.
type Set struct {
	Memory   *memory.Coordinator
	Sessions SessionStore
	Ranker   Ranker
	Recog    Recognizer
	Docs     DocSource
	Features FeatureSource
}

func decode[P interface{ Validate() error }](raw json.RawMessage, params P) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, params); err != nil {
			return apperr.Validation("invalid parameters: " + err.Error())
		}
	}
	if err := params.Validate(); err != nil {
		return apperr.Validation(err.Error())
	}
	return nil
}

func (s *Set) HandleAddMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	var params AddMemoryParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	user, err := targetUser(ctx, params.UserID)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	res, err := s.Memory.Add(ctx, user, params.Messages, params.Metadata)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Set) HandleSearchMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	var params SearchMemoryParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	user, err := targetUser(ctx, params.UserID)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	var filters *memory.SearchFilters
	if params.MemoryKey != "" {
		filters = &memory.SearchFilters{MemoryKey: params.MemoryKey}
	}
	records, source, err := s.Memory.Search(ctx, user, params.Query, params.Limit, filters)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"results": records,
		"source":  source,
		"count":   len(records),
	}, nil
}

func (s *Set) HandleGetUserMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	var params GetUserMemoryParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	user, err := targetUser(ctx, params.UserID)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	records, source, err := s.Memory.List(ctx, user)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"memories": records,
		"source":   source,
		"count":    len(records),
	}, nil
}

func (s *Set) HandleUpdateMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	var params UpdateMemoryParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	user, err := targetUser(ctx, params.UserID)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	source, err := s.Memory.Update(ctx, user, params.MemoryID, params.Text)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":   true,
		"memory_id": params.MemoryID,
		"source":    source,
	}, nil
}

func (s *Set) HandleDeleteMemory(ctx context.Context, raw json.RawMessage) (any, error) {
	var params DeleteMemoryParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	user, err := targetUser(ctx, params.UserID)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}

	source, err := s.Memory.Delete(ctx, user, params.MemoryID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":   true,
		"memory_id": params.MemoryID,
		"source":    source,
	}, nil
}
