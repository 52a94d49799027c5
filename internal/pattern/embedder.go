// Package pattern persists successful task-execution strategies and retrieves
// them by task type and similarity to bias future planning.
package pattern

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder generates text embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// EmbedderConfig holds embedding configuration.
type EmbedderConfig struct {
	Provider  string // "openai" or "local"
	Model     string
	APIKey    string
	BaseURL   string
	CacheSize int
}

// NewEmbedder builds the configured embedder. The local provider needs no
// network and is the default for offline runs and tests.
func NewEmbedder(cfg EmbedderConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "local":
		return NewLocalEmbedder(), nil
	case "openai":
		return newOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embed provider %q", cfg.Provider)
	}
}

const localEmbedderDims = 256

// localEmbedder hashes word features into a fixed-size normalized vector.
// It is deterministic and dependency-free; similarity quality is far below a
// learned model but sufficient for task-type-scoped retrieval.
type localEmbedder struct{}

// NewLocalEmbedder returns the offline feature-hashing embedder.
func NewLocalEmbedder() Embedder {
	return localEmbedder{}
}

func (localEmbedder) Dimensions() int { return localEmbedderDims }

func (localEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, localEmbedderDims)
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return vec, nil
	}

	for i, word := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%localEmbedderDims]++

		// Bigrams contribute a little word-order signal.
		if i+1 < len(words) {
			h.Reset()
			_, _ = h.Write([]byte(word + " " + words[i+1]))
			vec[h.Sum32()%localEmbedderDims] += 0.5
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

// openaiEmbedder calls an OpenAI-compatible embeddings endpoint with an LRU
// cache in front.
type openaiEmbedder struct {
	config     EmbedderConfig
	httpClient *http.Client
	cache      *lru.Cache[string, []float32]
}

func newOpenAIEmbedder(cfg EmbedderConfig) (Embedder, error) {
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 4096
	}

	cache, err := lru.New[string, []float32](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &openaiEmbedder{
		config:     cfg,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		cache:      cache,
	}, nil
}

func (e *openaiEmbedder) Dimensions() int { return 1536 }

func (e *openaiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		return cached, nil
	}

	payload := map[string]any{"model": e.config.Model, "input": []string{text}}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(e.config.BaseURL, "/")+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	e.cache.Add(text, parsed.Data[0].Embedding)
	return parsed.Data[0].Embedding, nil
}
