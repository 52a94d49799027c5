package pattern

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"github.com/google/uuid"

	sophiaerrors "sophia/internal/errors"
	"sophia/internal/logging"
)

// Pattern is a persisted record of a past successful task-execution
// strategy. Records are append-only: never mutated, only added and queried.
type Pattern struct {
	ID           string    `json:"id"`
	TaskType     string    `json:"task_type"`
	Goal         string    `json:"goal"`
	Approach     string    `json:"approach"`
	Roles        []string  `json:"roles"`
	Rounds       int       `json:"rounds"`
	QualityScore float64   `json:"quality_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// Match is a retrieved pattern with its similarity to the query.
type Match struct {
	Pattern    Pattern `json:"pattern"`
	Similarity float32 `json:"similarity"`
}

// Store persists and retrieves patterns.
type Store interface {
	// Save persists a pattern. Records whose quality does not exceed the
	// configured storage gate are rejected with ErrBelowQualityGate.
	Save(ctx context.Context, p Pattern) error

	// Retrieve returns up to topK patterns similar to the query, optionally
	// restricted to one task type.
	Retrieve(ctx context.Context, query, taskType string, topK int) ([]Match, error)

	// Count returns the number of stored patterns.
	Count() int
}

// ErrBelowQualityGate signals a Save call under the storage threshold.
type ErrBelowQualityGate struct {
	Score float64
	Gate  float64
}

func (e *ErrBelowQualityGate) Error() string {
	return fmt.Sprintf("quality score %.2f does not exceed storage gate %.2f", e.Score, e.Gate)
}

// StoreConfig configures the chromem-backed store.
type StoreConfig struct {
	PersistDir    string  // empty means in-memory only
	Collection    string  // defaults to "patterns"
	MinQuality    float64 // storage gate, default 0.75
	MinSimilarity float32 // retrieval floor
}

type chromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     StoreConfig
	breaker    *sophiaerrors.CircuitBreaker
	logger     logging.Logger
}

// NewStore creates a pattern store backed by chromem-go with persistence
// under cfg.PersistDir. Vector operations run behind the vector-class
// circuit breaker.
func NewStore(cfg StoreConfig, embedder Embedder, breakers *sophiaerrors.BreakerSet) (Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = "patterns"
	}
	if cfg.MinQuality == 0 {
		cfg.MinQuality = 0.75
	}

	var db *chromem.DB
	var err error
	if cfg.PersistDir != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(cfg.PersistDir, "patterns.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("create persistent pattern DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("create pattern collection: %w", err)
	}

	var breaker *sophiaerrors.CircuitBreaker
	if breakers != nil {
		breaker = breakers.For(sophiaerrors.ClassVector)
	} else {
		breaker = sophiaerrors.NewCircuitBreaker(string(sophiaerrors.ClassVector), sophiaerrors.CircuitBreakerConfig{})
	}

	return &chromemStore{
		db:         db,
		collection: collection,
		config:     cfg,
		breaker:    breaker,
		logger:     logging.NewComponentLogger("pattern-store"),
	}, nil
}

func (s *chromemStore) Save(ctx context.Context, p Pattern) error {
	if p.QualityScore <= s.config.MinQuality {
		return &ErrBelowQualityGate{Score: p.QualityScore, Gate: s.config.MinQuality}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	doc := chromem.Document{
		ID:      p.ID,
		Content: p.Goal + "\n" + p.Approach,
		Metadata: map[string]string{
			"task_type":  p.TaskType,
			"goal":       p.Goal,
			"approach":   p.Approach,
			"roles":      strings.Join(p.Roles, ","),
			"rounds":     strconv.Itoa(p.Rounds),
			"quality":    strconv.FormatFloat(p.QualityScore, 'f', 4, 64),
			"created_at": p.CreatedAt.UTC().Format(time.RFC3339),
		},
	}

	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		return s.collection.AddDocument(ctx, doc)
	})
	if err != nil {
		return fmt.Errorf("persist pattern %s: %w", p.ID, err)
	}
	s.logger.Info("stored pattern %s (type=%s quality=%.2f)", p.ID, p.TaskType, p.QualityScore)
	return nil
}

func (s *chromemStore) Retrieve(ctx context.Context, query, taskType string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 3
	}
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	var where map[string]string
	if taskType != "" {
		where = map[string]string{"task_type": taskType}
	}

	results, err := sophiaerrors.ExecuteFunc(s.breaker, ctx, func(ctx context.Context) ([]chromem.Result, error) {
		return s.collection.Query(ctx, query, topK, where, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		if r.Similarity < s.config.MinSimilarity {
			continue
		}
		matches = append(matches, Match{Pattern: patternFromMetadata(r.ID, r.Metadata), Similarity: r.Similarity})
	}
	return matches, nil
}

func (s *chromemStore) Count() int {
	return s.collection.Count()
}

func splitRoles(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func patternFromMetadata(id string, meta map[string]string) Pattern {
	quality, _ := strconv.ParseFloat(meta["quality"], 64)
	rounds, _ := strconv.Atoi(meta["rounds"])
	createdAt, _ := time.Parse(time.RFC3339, meta["created_at"])
	return Pattern{
		ID:           id,
		TaskType:     meta["task_type"],
		Goal:         meta["goal"],
		Approach:     meta["approach"],
		Roles:        splitRoles(meta["roles"]),
		Rounds:       rounds,
		QualityScore: quality,
		CreatedAt:    createdAt,
	}
}
