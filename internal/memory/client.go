package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/toolgate/toolgate/internal/config"
)

// errDegraded wraps failures that should flip the primary to DEGRADED:
// connection refused/reset, request timeout, or a 5xx reply. Validation
// failures (4xx) surface as-is and never trigger a fallback.
type errDegraded struct{ cause error }

func (e *errDegraded) Error() string { return "primary memory degraded: " + e.cause.Error() }
func (e *errDegraded) Unwrap() error { return e.cause }

// IsDegradation reports whether err is a degradation trigger.
func IsDegradation(err error) bool {
	var d *errDegraded
	return errors.As(err, &d)
}

// Message is one conversational message stored in long-term memory.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Record is a stored memory as returned by search.
type Record struct {
	ID             string         `json:"id"`
	Memory         string         `json:"memory"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
	Source         string         `json:"source"`
	CreatedAt      time.Time      `json:"created_at,omitempty"`
}

// Client speaks to the primary remote memory service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds the primary client, or returns nil when no URL is
// configured (fallback-only deployments).
func NewClient(cfg config.MemoryConfig) *Client {
	if cfg.URL == "" {
		return nil
	}
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		// The transport timeout doubles as the degradation trigger:
		// anything slower than the budget is treated as an outage.
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Add writes messages to the user's long-term memory.
func (c *Client) Add(ctx context.Context, userID uuid.UUID, messages []Message, metadata map[string]any) error {
	body := map[string]any{
		"messages": messages,
		"user_id":  userID.String(),
		"metadata": metadata,
	}
	return c.post(ctx, "/v1/memories", body, nil)
}

// Search runs the primary's semantic search.
func (c *Client) Search(ctx context.Context, userID uuid.UUID, query string, limit int, filters map[string]any) ([]Record, error) {
	body := map[string]any{
		"query":   query,
		"user_id": userID.String(),
		"limit":   limit,
	}
	if len(filters) > 0 {
		body["filters"] = filters
	}

	var reply struct {
		Results []struct {
			ID       string         `json:"id"`
			Memory   string         `json:"memory"`
			Metadata map[string]any `json:"metadata"`
			Score    *float64       `json:"score"`
		} `json:"results"`
	}
	if err := c.post(ctx, "/v1/memories/search", body, &reply); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(reply.Results))
	for rank, r := range reply.Results {
		score := positionDecay(rank)
		if r.Score != nil {
			score = clamp01(*r.Score)
		}
		out = append(out, Record{
			ID:             r.ID,
			Memory:         r.Memory,
			Metadata:       r.Metadata,
			RelevanceScore: score,
			Source:         SourcePrimary,
		})
	}
	return out, nil
}

// List returns every memory stored for the user.
func (c *Client) List(ctx context.Context, userID uuid.UUID) ([]Record, error) {
	var reply struct {
		Results []struct {
			ID        string         `json:"id"`
			Memory    string         `json:"memory"`
			Metadata  map[string]any `json:"metadata"`
			CreatedAt time.Time      `json:"created_at"`
		} `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/memories?user_id="+userID.String(), nil, &reply); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(reply.Results))
	for _, r := range reply.Results {
		out = append(out, Record{
			ID:        r.ID,
			Memory:    r.Memory,
			Metadata:  r.Metadata,
			Source:    SourcePrimary,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

// Update replaces the text of one memory.
func (c *Client) Update(ctx context.Context, memoryID, text string) error {
	return c.do(ctx, http.MethodPut, "/v1/memories/"+memoryID, map[string]any{"text": text}, nil)
}

// Delete removes one memory.
func (c *Client) Delete(ctx context.Context, memoryID string) error {
	return c.do(ctx, http.MethodDelete, "/v1/memories/"+memoryID, nil, nil)
}

// Probe is the lightweight health check used to detect recovery.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &errDegraded{cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &errDegraded{cause: fmt.Errorf("health returned status %d", resp.StatusCode)}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failures (refused, reset, client timeout) all degrade.
		return &errDegraded{cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return &errDegraded{cause: fmt.Errorf("%s returned status %d", path, resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return nil
}

// positionDecay scores results that arrive unscored: 1 - 0.1*rank,
// clamped at zero.
func positionDecay(rank int) float64 {
	s := 1.0 - 0.1*float64(rank)
	if s < 0 {
		return 0
	}
	return s
}

func clamp01(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
