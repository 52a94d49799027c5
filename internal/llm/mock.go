package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scriptable Client for tests and offline runs. Responses
// are matched by a routing function when set, otherwise consumed in order.
type MockClient struct {
	mu        sync.Mutex
	model     string
	responses []string
	errs      []error
	index     int

	// RouteFunc, when set, picks the response for a request instead of the
	// scripted queue. It receives the last message content.
	RouteFunc func(req CompletionRequest) (string, error)

	// Requests records every request received, in order.
	Requests []CompletionRequest
}

// NewMockClient creates a mock that replays the given responses in order.
// When the queue is exhausted it repeats the last entry.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{model: "mock", responses: responses}
}

// FailWith appends an error to be returned for the next call, interleaved
// with scripted responses: errors are consumed before responses.
func (m *MockClient) FailWith(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	return m
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}

	var content string
	var err error
	switch {
	case m.RouteFunc != nil:
		content, err = m.RouteFunc(req)
		if err != nil {
			return nil, err
		}
	case len(m.responses) == 0:
		return nil, fmt.Errorf("mock client has no scripted responses")
	default:
		if m.index >= len(m.responses) {
			content = m.responses[len(m.responses)-1]
		} else {
			content = m.responses[m.index]
			m.index++
		}
	}

	promptTokens := 0
	for _, msg := range req.Messages {
		promptTokens += len(msg.Content) / 4
	}
	return &CompletionResponse{
		Content:    content,
		StopReason: "stop",
		Usage: TokenUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: len(content) / 4,
			TotalTokens:      promptTokens + len(content)/4,
		},
	}, nil
}

func (m *MockClient) Model() string { return m.model }

// CallCount returns how many completion calls the mock has served.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
