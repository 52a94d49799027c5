package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sophiaerrors "sophia/internal/errors"
	"sophia/internal/llm"
	"sophia/internal/pattern"
	"sophia/internal/swarm"
)

var proposalIDRe = regexp.MustCompile(`r\d+-gen-\d+`)

func routeByRole(req llm.CompletionRequest) (string, error) {
	system := req.Messages[0].Content
	user := req.Messages[len(req.Messages)-1].Content
	switch {
	case strings.Contains(system, "lead planner"):
		return `{"task_type": "bugfix", "approach": "smallest safe change", "steps": [{"title": "fix"}]}`, nil
	case strings.Contains(system, "competing solution generators"):
		return `{"content": "candidate", "rationale": "r", "test_plan": "t"}`, nil
	case strings.Contains(system, "You are the critic"):
		ids := proposalIDRe.FindAllString(user, -1)
		var reviews []string
		seen := map[string]bool{}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			reviews = append(reviews, fmt.Sprintf(`{"proposal_id": %q, "findings": [
				{"dimension": "security", "score": 8}, {"dimension": "correctness", "score": 8},
				{"dimension": "performance", "score": 8}, {"dimension": "usability", "score": 8},
				{"dimension": "maintainability", "score": 8}]}`, id))
		}
		return `{"proposals": [` + strings.Join(reviews, ",") + `]}`, nil
	case strings.Contains(system, "You are the judge"):
		ids := proposalIDRe.FindAllString(user, -1)
		return fmt.Sprintf(`{"verdict": "accept", "selected_proposal_id": %q, "quality_score": 0.9}`, ids[0]), nil
	}
	return "", fmt.Errorf("unrecognized prompt")
}

func newTestServer(t *testing.T) (*Server, *swarm.Service, pattern.Store) {
	t.Helper()
	mock := llm.NewMockClient()
	mock.RouteFunc = routeByRole

	embedder, err := pattern.NewEmbedder(pattern.EmbedderConfig{Provider: "local"})
	require.NoError(t, err)
	breakers := sophiaerrors.NewBreakerSet(nil)
	store, err := pattern.NewStore(pattern.StoreConfig{PersistDir: t.TempDir()}, embedder, breakers)
	require.NoError(t, err)

	cfg := swarm.Config{MaxRounds: 3, Timeout: 30 * time.Second, Generators: 2}
	broadcaster := swarm.NewBroadcaster()
	pipeline := swarm.NewPipeline(cfg, mock, swarm.Options{Store: store, Broadcaster: broadcaster})
	service, err := swarm.NewService(pipeline, broadcaster, breakers, "", nil)
	require.NoError(t, err)

	return New(service, store, breakers, DefaultConfig(), nil), service, store
}

func TestSubmitAndGetTask(t *testing.T) {
	srv, service, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]any{"goal": "fix the bug", "type": "bugfix"})
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/tasks", bytes.NewReader(body)))
	require.Equal(t, http.StatusAccepted, w.Code)

	var submitResp struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitResp))
	require.NotEmpty(t, submitResp.TaskID)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, service.Wait(ctx))

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/"+submitResp.TaskID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var record swarm.TaskRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, swarm.StateDone, record.State)
}

func TestSubmitTaskValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryPatterns(t *testing.T) {
	srv, _, store := newTestServer(t)

	require.NoError(t, store.Save(context.Background(), pattern.Pattern{
		TaskType:     "bugfix",
		Goal:         "fix nil deref",
		Approach:     "add guard",
		QualityScore: 0.9,
	}))

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/patterns?q=nil+pointer&type=bugfix", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Patterns []pattern.Match `json:"patterns"`
		Count    int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	require.Len(t, resp.Patterns, 1)
	assert.Equal(t, "add guard", resp.Patterns[0].Pattern.Approach)
}

func TestQueryPatternsRequiresQuery(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/patterns", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBreakersEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/breakers", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "breakers")
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTaskEventsWebsocket(t *testing.T) {
	srv, service, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	task, err := service.Submit(swarm.Task{Goal: "streamed task"})
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/tasks/" + task.ID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	deadline := time.Now().Add(10 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var ev swarm.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("websocket closed before a terminal event: %v", err)
		}
		assert.Equal(t, task.ID, ev.TaskID)
		if ev.Type == swarm.EventDone || ev.Type == swarm.EventAborted {
			return
		}
	}
}
