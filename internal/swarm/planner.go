package swarm

import (
	"context"
	"fmt"

	"sophia/internal/llm"
	"sophia/internal/logging"
	"sophia/internal/pattern"
)

// Planner decomposes a task into a plan, biased by patterns from past
// successful runs.
type Planner struct {
	client llm.Client
	store  pattern.Store
	logger logging.Logger
}

func NewPlanner(client llm.Client, store pattern.Store, logger logging.Logger) *Planner {
	return &Planner{client: client, store: store, logger: logging.OrNop(logger)}
}

func (p *Planner) Plan(ctx context.Context, task Task) (*Plan, error) {
	var matches []pattern.Match
	if p.store != nil {
		var err error
		matches, err = p.store.Retrieve(ctx, task.Goal, task.Type, 3)
		if err != nil {
			// Pattern memory is advisory; plan without it.
			p.logger.Warn("pattern retrieval failed, planning without memory: %v", err)
			matches = nil
		}
	}

	resp, err := p.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: plannerSystem},
			{Role: "user", Content: plannerPrompt(task, matches)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("planner completion: %w", err)
	}

	var plan Plan
	if err := DecodeLoose(resp.Content, &plan); err != nil {
		return nil, fmt.Errorf("planner output: %w", err)
	}
	if plan.TaskType == "" {
		plan.TaskType = task.Type
	}
	if plan.TaskType == "" {
		plan.TaskType = "general"
	}
	if plan.Approach == "" && len(plan.Steps) == 0 {
		return nil, fmt.Errorf("planner returned an empty plan")
	}
	p.logger.Info("plan ready: type=%s steps=%d", plan.TaskType, len(plan.Steps))
	return &plan, nil
}
