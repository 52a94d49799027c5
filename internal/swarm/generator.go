package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sophia/internal/llm"
	"sophia/internal/logging"
)

// GeneratorPool fans a plan out to N competing generators and collects
// their proposals.
type GeneratorPool struct {
	client  llm.Client
	count   int
	timeout time.Duration
	logger  logging.Logger
}

func NewGeneratorPool(client llm.Client, count int, timeout time.Duration, logger logging.Logger) *GeneratorPool {
	if count < 2 {
		count = 2
	}
	if count > 4 {
		count = 4
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeneratorPool{client: client, count: count, timeout: timeout, logger: logging.OrNop(logger)}
}

// Generate runs all generators concurrently. A failed generator is logged
// and skipped; the round proceeds as long as at least one proposal comes
// back. Zero proposals is an error.
func (gp *GeneratorPool) Generate(ctx context.Context, task Task, plan Plan, round int, feedback string) ([]Proposal, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(gp.count)

	var mu sync.Mutex
	proposals := make([]Proposal, 0, gp.count)
	failures := 0

	for i := 0; i < gp.count; i++ {
		generatorID := fmt.Sprintf("gen-%d", i+1)
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, gp.timeout)
			defer cancel()

			proposal, err := gp.generateOne(callCtx, generatorID, task, plan, round, feedback)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One generator failing must not cancel its siblings.
				failures++
				gp.logger.Warn("generator %s failed in round %d: %v", generatorID, round, err)
				return nil
			}
			proposals = append(proposals, *proposal)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(proposals) == 0 {
		return nil, fmt.Errorf("all %d generators failed", gp.count)
	}
	if failures > 0 {
		gp.logger.Info("round %d proceeding with %d/%d proposals", round, len(proposals), gp.count)
	}
	return proposals, nil
}

func (gp *GeneratorPool) generateOne(ctx context.Context, generatorID string, task Task, plan Plan, round int, feedback string) (*Proposal, error) {
	resp, err := gp.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: generatorSystem},
			{Role: "user", Content: generatorPrompt(task, plan, feedback)},
		},
		Temperature: 0.8,
		Metadata:    map[string]any{"generator_id": generatorID, "round": round},
	})
	if err != nil {
		return nil, err
	}

	var proposal Proposal
	if err := DecodeLoose(resp.Content, &proposal); err != nil {
		return nil, fmt.Errorf("generator output: %w", err)
	}
	if proposal.Content == "" {
		return nil, fmt.Errorf("generator returned an empty proposal")
	}
	proposal.ID = fmt.Sprintf("r%d-%s", round, generatorID)
	proposal.GeneratorID = generatorID
	proposal.Round = round
	return &proposal, nil
}
