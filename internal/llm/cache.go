package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"sophia/internal/logging"
)

// cachingClient memoizes whole completions keyed by a hash of the request.
// Deterministic agent prompts (temperature 0 planner/critic calls) repeat
// across rounds, so short-TTL caching saves real provider spend.
type cachingClient struct {
	underlying Client
	cache      *expirable.LRU[string, *CompletionResponse]
	logger     logging.Logger
	hits       atomic.Int64
	misses     atomic.Int64
}

// NewCachingClient wraps client with an LRU+TTL completion cache. A size of
// zero disables caching and returns the client unchanged.
func NewCachingClient(client Client, size int, ttl time.Duration) Client {
	if size <= 0 {
		return client
	}
	return &cachingClient{
		underlying: client,
		cache:      expirable.NewLRU[string, *CompletionResponse](size, nil, ttl),
		logger:     logging.NewComponentLogger("llm-cache"),
	}
}

func (c *cachingClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	key := cacheKey(c.underlying.Model(), req)

	if cached, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		c.logger.Debug("cache hit for model %s", c.underlying.Model())
		copied := *cached
		return &copied, nil
	}
	c.misses.Add(1)

	resp, err := c.underlying.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	stored := *resp
	c.cache.Add(key, &stored)
	return resp, nil
}

func (c *cachingClient) Model() string { return c.underlying.Model() }

// Stats returns cache hit/miss counters.
func (c *cachingClient) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func cacheKey(model string, req CompletionRequest) string {
	// Metadata participates in the key: callers use it to force distinct
	// completions for otherwise identical prompts (competing generators).
	hashable := struct {
		Model       string         `json:"model"`
		Messages    []Message      `json:"messages"`
		Temperature float64        `json:"temperature"`
		MaxTokens   int            `json:"max_tokens"`
		TopP        float64        `json:"top_p"`
		Stop        []string       `json:"stop"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{model, req.Messages, req.Temperature, req.MaxTokens, req.TopP, req.Stop, req.Metadata}

	raw, err := json.Marshal(hashable)
	if err != nil {
		return model // degenerate key; still correct, just no dedup
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
