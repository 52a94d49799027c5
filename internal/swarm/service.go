package swarm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	sophiaerrors "sophia/internal/errors"
	"sophia/internal/logging"
)

// TaskRecord is the persisted view of one submitted task.
type TaskRecord struct {
	Task        Task      `json:"task"`
	State       State     `json:"state"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Service runs tasks asynchronously and keeps their records, in memory
// and as JSON files under a records directory. Record writes go through
// the db-class circuit breaker.
type Service struct {
	pipeline    *Pipeline
	broadcaster *Broadcaster
	dbBreaker   *sophiaerrors.CircuitBreaker
	recordsDir  string
	logger      logging.Logger

	mu      sync.RWMutex
	records map[string]*TaskRecord
	wg      sync.WaitGroup
}

// NewService creates a Service. recordsDir may be empty for in-memory
// records only; existing records under it are loaded.
func NewService(pipeline *Pipeline, broadcaster *Broadcaster, breakers *sophiaerrors.BreakerSet, recordsDir string, logger logging.Logger) (*Service, error) {
	s := &Service{
		pipeline:    pipeline,
		broadcaster: broadcaster,
		recordsDir:  recordsDir,
		logger:      logging.OrNop(logger),
		records:     make(map[string]*TaskRecord),
	}
	if breakers != nil {
		s.dbBreaker = breakers.For(sophiaerrors.ClassDB)
	} else {
		s.dbBreaker = sophiaerrors.NewCircuitBreaker(string(sophiaerrors.ClassDB), sophiaerrors.CircuitBreakerConfig{})
	}
	if recordsDir != "" {
		if err := os.MkdirAll(recordsDir, 0o755); err != nil {
			return nil, fmt.Errorf("create records dir: %w", err)
		}
		s.loadRecords()
	}
	return s, nil
}

// Submit registers a task and starts it in the background. The returned
// task carries the assigned ID.
func (s *Service) Submit(task Task) (Task, error) {
	if strings.TrimSpace(task.Goal) == "" {
		return Task{}, fmt.Errorf("task has no goal")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	record := &TaskRecord{
		Task:        task,
		State:       StatePlanning,
		SubmittedAt: time.Now(),
		UpdatedAt:   time.Now(),
	}
	s.mu.Lock()
	if _, exists := s.records[task.ID]; exists {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("task %s already exists", task.ID)
	}
	s.records[task.ID] = record
	s.mu.Unlock()
	s.persist(record)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// The pipeline applies its own wall-clock deadline.
		outcome, err := s.pipeline.Run(context.Background(), task)
		if err != nil {
			outcome = &Outcome{TaskID: task.ID, State: StateAborted, AbortReason: err.Error()}
		}
		s.mu.Lock()
		record.Outcome = outcome
		record.State = outcome.State
		record.UpdatedAt = time.Now()
		s.mu.Unlock()
		s.persist(record)

		// Re-announce the terminal state after the record update so late
		// subscribers that saw a non-terminal record still get an event.
		if s.broadcaster != nil {
			ev := Event{TaskID: task.ID, Type: EventDone, State: outcome.State, Round: outcome.Rounds}
			if outcome.State == StateAborted {
				ev.Type = EventAborted
				ev.Message = outcome.AbortReason
			}
			s.broadcaster.Publish(ev)
		}
	}()
	return task, nil
}

// RunSync runs a task to completion on the caller's goroutine.
func (s *Service) RunSync(ctx context.Context, task Task) (*Outcome, error) {
	return s.pipeline.Run(ctx, task)
}

// Get returns a copy of a task record.
func (s *Service) Get(id string) (TaskRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return TaskRecord{}, false
	}
	return *record, true
}

// List returns all records, newest first.
func (s *Service) List() []TaskRecord {
	s.mu.RLock()
	out := make([]TaskRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

// Subscribe exposes the pipeline event stream.
func (s *Service) Subscribe() (<-chan Event, func()) {
	if s.broadcaster == nil {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	return s.broadcaster.Subscribe()
}

// Wait blocks until in-flight tasks finish or the context expires.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) persist(record *TaskRecord) {
	if s.recordsDir == "" {
		return
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(record, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		s.logger.Error("marshal task record %s: %v", record.Task.ID, err)
		return
	}

	path := filepath.Join(s.recordsDir, record.Task.ID+".json")
	err = s.dbBreaker.Execute(context.Background(), func(context.Context) error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	})
	if err != nil {
		s.logger.Warn("persist task record %s: %v", record.Task.ID, err)
	}
}

func (s *Service) loadRecords() {
	entries, err := os.ReadDir(s.recordsDir)
	if err != nil {
		s.logger.Warn("read records dir: %v", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.recordsDir, entry.Name()))
		if err != nil {
			continue
		}
		var record TaskRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.logger.Warn("skip corrupt task record %s: %v", entry.Name(), err)
			continue
		}
		// A record mid-flight when the process died is aborted on load.
		if !record.State.Terminal() {
			record.State = StateAborted
			if record.Outcome == nil {
				record.Outcome = &Outcome{TaskID: record.Task.ID, State: StateAborted, AbortReason: "process restarted mid-run"}
			}
		}
		s.records[record.Task.ID] = &record
	}
	if len(s.records) > 0 {
		s.logger.Info("loaded %d task record(s)", len(s.records))
	}
}
