package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/toolgate/toolgate/internal/apperr"
	"github.com/toolgate/toolgate/internal/docs"
	"github.com/toolgate/toolgate/internal/ranking"
	"github.com/toolgate/toolgate/internal/reqctx"
)

func (s *Set) HandleRecognizeUser(ctx context.Context, raw json.RawMessage) (any, error) {
	var params RecognizeUserParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	user, err := targetUser(ctx, params.UserID)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	return s.Recog.Recognize(ctx, user)
}

// HandleIndexDocument ingests one document into the tenant's index.
func (s *Set) HandleIndexDocument(ctx context.Context, raw json.RawMessage) (any, error) {
	var params DocIndexParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}

	doc := docs.Document{
		ID:    params.ID,
		Title: params.Title,
		Body:  params.Body,
		Type:  params.Type,
		Tags:  params.Tags,
	}
	if err := s.Docs.Put(ctx, &doc); err != nil {
		return nil, err
	}
	return map[string]any{
		"success": true,
		"doc_id":  doc.ID,
	}, nil
}

// HandleDocSearch runs the backing document search and, when the tenant
// has personalization switched on, re-ranks the results with whatever
// context is cheaply available: the caller's recent memories and, when
// a session id is supplied, the active session.
func (s *Set) HandleDocSearch(ctx context.Context, raw json.RawMessage) (any, error) {
	var params DocSearchParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	items, err := s.Docs.Search(ctx, params.Query, limit)
	if err != nil {
		return nil, err
	}

	personalized := false
	if s.personalizationOn(ctx) {
		rctx := s.gatherContext(ctx, params.SessionID, params.Query)
		items = s.Ranker.Rank(items, rctx)
		personalized = !contextEmpty(rctx)
	}

	return map[string]any{
		"results":      items,
		"count":        len(items),
		"personalized": personalized,
	}, nil
}

// personalizationOn reads the tenant's feature switch; any failure
// means no personalization rather than a failed search.
func (s *Set) personalizationOn(ctx context.Context) bool {
	if s.Features == nil {
		return false
	}
	enabled, err := s.Features.PersonalizationEnabled(ctx, reqctx.TenantID(ctx))
	if err != nil {
		log.Debug().Err(err).Msg("personalization flag lookup failed, ranking skipped")
		return false
	}
	return enabled
}

// gatherContext is best-effort: any failure collecting signal leaves
// the corresponding field empty rather than failing the search.
func (s *Set) gatherContext(ctx context.Context, sessionID, query string) *ranking.Context {
	rctx := &ranking.Context{}

	if records, _, err := s.Memory.Search(ctx, reqctx.UserID(ctx), query, 5, nil); err == nil {
		for _, r := range records {
			rctx.MemoryKeywords = append(rctx.MemoryKeywords, significantTerms(r.Memory)...)
		}
	}

	if sessionID != "" {
		if env, err := s.Sessions.Get(ctx, sessionID); err == nil {
			for k, v := range env.UserPreferences {
				switch k {
				case "preferred_tags":
					rctx.PreferredTags = append(rctx.PreferredTags, stringList(v)...)
				case "preferred_types":
					rctx.PreferredTypes = append(rctx.PreferredTypes, stringList(v)...)
				}
			}
			for _, v := range env.ConversationState {
				if s, ok := v.(string); ok {
					rctx.SessionTopics = append(rctx.SessionTopics, significantTerms(s)...)
				}
			}
		}
	}
	return rctx
}

func contextEmpty(rctx *ranking.Context) bool {
	return len(rctx.MemoryKeywords) == 0 && len(rctx.SessionTopics) == 0 &&
		len(rctx.PreferredTags) == 0 && len(rctx.PreferredTypes) == 0
}

// significantTerms keeps words long enough to carry meaning.
func significantTerms(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		if len(w) >= 4 {
			out = append(out, w)
		}
	}
	return out
}

func stringList(v any) []string {
	var out []string
	switch vv := v.(type) {
	case []string:
		out = vv
	case []any:
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = []string{vv}
	}
	return out
}
