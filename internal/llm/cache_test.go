package llm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachingClientDeduplicatesIdenticalRequests(t *testing.T) {
	mock := NewMockClient("answer")
	client := NewCachingClient(mock, 16, time.Minute)

	req := CompletionRequest{
		Messages:    []Message{{Role: "user", Content: "same question"}},
		Temperature: 0,
	}

	first, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	second, err := client.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Content, second.Content)
	assert.Equal(t, 1, mock.CallCount(), "second call should be served from cache")

	caching, ok := client.(*cachingClient)
	require.True(t, ok)
	hits, misses := caching.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCachingClientDistinguishesRequests(t *testing.T) {
	mock := NewMockClient("a", "b")
	client := NewCachingClient(mock, 16, time.Minute)

	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "one"}},
	})
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "two"}},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, mock.CallCount())
}

func TestCachingClientMetadataDifferentiatesKeys(t *testing.T) {
	mock := NewMockClient("answer")
	client := NewCachingClient(mock, 16, time.Minute)

	base := CompletionRequest{Messages: []Message{{Role: "user", Content: "q"}}}
	withMeta := base
	withMeta.Metadata = map[string]any{"generator_id": "gen-2"}

	// Same prompt, different metadata: both calls must reach the provider
	// so competing generators never share one sampled completion.
	_, err := client.Complete(context.Background(), base)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), withMeta)
	require.NoError(t, err)
	assert.Equal(t, 2, mock.CallCount())

	// Repeating either exact request is served from cache.
	_, err = client.Complete(context.Background(), withMeta)
	require.NoError(t, err)
	assert.Equal(t, 2, mock.CallCount())
}

func TestNewCachingClientDisabled(t *testing.T) {
	mock := NewMockClient("x")
	assert.Equal(t, Client(mock), NewCachingClient(mock, 0, time.Minute))
}
