package swarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"sophia/internal/llm"
	"sophia/internal/logging"
	"sophia/internal/pattern"
	"sophia/internal/runner"
)

// Config bounds a pipeline run.
type Config struct {
	MaxRounds         int
	Timeout           time.Duration
	Generators        int
	GeneratorTimeout  time.Duration
	AccuracyThreshold float64
	MinQualityToStore float64
}

func (c Config) withDefaults() Config {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 300 * time.Second
	}
	if c.Generators <= 0 {
		c.Generators = 3
	}
	if c.GeneratorTimeout <= 0 {
		c.GeneratorTimeout = 60 * time.Second
	}
	if c.AccuracyThreshold <= 0 {
		c.AccuracyThreshold = 7.0
	}
	if c.MinQualityToStore <= 0 {
		c.MinQualityToStore = 0.75
	}
	return c
}

// Options carries the pipeline's collaborators. Store, Runner, Metrics and
// Broadcaster are optional.
type Options struct {
	Store       pattern.Store
	Runner      *runner.Runner
	Metrics     *Metrics
	Broadcaster *Broadcaster
	Logger      logging.Logger
}

// Pipeline runs one task through the debate loop:
// plan, generate in parallel, review, decide, then execute or revise.
type Pipeline struct {
	cfg         Config
	planner     *Planner
	generators  *GeneratorPool
	critic      *Critic
	judge       *Judge
	store       pattern.Store
	runner      *runner.Runner
	metrics     *Metrics
	broadcaster *Broadcaster
	logger      logging.Logger
	tracer      trace.Tracer
}

func NewPipeline(cfg Config, client llm.Client, opts Options) *Pipeline {
	cfg = cfg.withDefaults()
	logger := logging.OrNop(opts.Logger)
	return &Pipeline{
		cfg:         cfg,
		planner:     NewPlanner(client, opts.Store, logger),
		generators:  NewGeneratorPool(client, cfg.Generators, cfg.GeneratorTimeout, logger),
		critic:      NewCritic(client, logger),
		judge:       NewJudge(client, cfg.AccuracyThreshold, logger),
		store:       opts.Store,
		runner:      opts.Runner,
		metrics:     opts.Metrics,
		broadcaster: opts.Broadcaster,
		logger:      logger,
		tracer:      otel.Tracer("sophia/swarm"),
	}
}

// Run executes the task to a terminal state. It always returns an Outcome
// whose State is Done or Aborted; the error is non-nil only for invalid
// input.
func (p *Pipeline) Run(ctx context.Context, task Task) (*Outcome, error) {
	if task.Goal == "" {
		return nil, fmt.Errorf("task has no goal")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("task.type", task.Type),
	))
	defer span.End()

	if p.metrics != nil {
		p.metrics.IncActiveTasks()
		defer p.metrics.DecActiveTasks()
	}

	outcome := &Outcome{TaskID: task.ID, StartedAt: time.Now()}
	defer func() {
		outcome.FinishedAt = time.Now()
		if p.metrics != nil {
			p.metrics.ObserveRounds(outcome.Rounds)
		}
		span.SetAttributes(
			attribute.String("outcome.state", string(outcome.State)),
			attribute.Int("outcome.rounds", outcome.Rounds),
		)
	}()

	p.logger.Info("task %s started: %s", task.ID, task.Goal)

	// Planning
	var plan *Plan
	err := p.stage(ctx, task.ID, StatePlanning, 0, func(ctx context.Context) error {
		var err error
		plan, err = p.planner.Plan(ctx, task)
		return err
	})
	if err != nil {
		return p.abort(outcome, task, abortReason(ctx, "planning failed: %v", err)), nil
	}
	outcome.Plan = plan

	feedback := ""
	for round := 1; round <= p.cfg.MaxRounds; round++ {
		outcome.Rounds = round
		finalRound := round == p.cfg.MaxRounds

		// Generating
		var proposals []Proposal
		err := p.stage(ctx, task.ID, StateGenerating, round, func(ctx context.Context) error {
			var err error
			proposals, err = p.generators.Generate(ctx, task, *plan, round, feedback)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return p.abort(outcome, task, "wall-clock timeout during generation"), nil
			}
			// A round with zero proposals is consumed, not fatal.
			p.logger.Warn("task %s round %d produced no proposals: %v", task.ID, round, err)
			if finalRound {
				return p.abort(outcome, task, "round budget exhausted without a usable proposal"), nil
			}
			continue
		}
		p.publish(Event{TaskID: task.ID, Type: EventProposals, State: StateGenerating, Round: round,
			Message: fmt.Sprintf("%d proposal(s)", len(proposals))})

		// Reviewing
		var review Review
		err = p.stage(ctx, task.ID, StateReviewing, round, func(ctx context.Context) error {
			var err error
			review, err = p.critic.Review(ctx, task, proposals, round)
			return err
		})
		if err != nil {
			return p.abort(outcome, task, abortReason(ctx, "review failed: %v", err)), nil
		}
		p.publish(Event{TaskID: task.ID, Type: EventReview, State: StateReviewing, Round: round})

		// Deciding
		var decision *Decision
		err = p.stage(ctx, task.ID, StateDeciding, round, func(ctx context.Context) error {
			var err error
			decision, err = p.judge.Decide(ctx, task, proposals, review, finalRound)
			return err
		})
		if err != nil {
			return p.abort(outcome, task, abortReason(ctx, "decision failed: %v", err)), nil
		}
		outcome.Decision = decision
		if p.metrics != nil {
			p.metrics.IncDecision(decision.Verdict)
		}
		p.publish(Event{TaskID: task.ID, Type: EventDecision, State: StateDeciding, Round: round,
			Message: fmt.Sprintf("verdict=%s quality=%.2f", decision.Verdict, decision.QualityScore)})

		switch decision.Verdict {
		case VerdictReject:
			// reject is terminal. It never reaches execution.
			return p.abort(outcome, task, "rejected: "+decision.Rationale), nil

		case VerdictRevise:
			if finalRound {
				return p.abort(outcome, task, "revision still required after final round"), nil
			}
			p.publish(Event{TaskID: task.ID, Type: EventStateChange, State: StateRevising, Round: round})
			feedback = revisionFeedback(decision, review)
			continue

		case VerdictAccept, VerdictMerge:
			return p.finish(ctx, outcome, task, plan, decision)
		}
	}

	return p.abort(outcome, task, "round budget exhausted"), nil
}

func (p *Pipeline) finish(ctx context.Context, outcome *Outcome, task Task, plan *Plan, decision *Decision) (*Outcome, error) {
	if len(decision.RunnerInstructions) > 0 && task.Constraints.WritesAllowed && p.runner != nil {
		var results []runner.Result
		err := p.stage(ctx, task.ID, StateExecuting, outcome.Rounds, func(ctx context.Context) error {
			var err error
			results, err = p.runner.Apply(ctx, decision.RunnerInstructions)
			return err
		})
		outcome.RunnerResults = results
		if err != nil {
			return p.abort(outcome, task, abortReason(ctx, "runner failed: %v", err)), nil
		}
	} else if len(decision.RunnerInstructions) > 0 {
		p.logger.Info("task %s: decision carries %d instructions but writes are not allowed, returning them as the artifact",
			task.ID, len(decision.RunnerInstructions))
	}

	p.persistPattern(ctx, task, plan, decision, outcome.Rounds)

	outcome.State = StateDone
	p.publish(Event{TaskID: task.ID, Type: EventDone, State: StateDone, Round: outcome.Rounds})
	p.logger.Info("task %s done after %d round(s), verdict=%s", task.ID, outcome.Rounds, decision.Verdict)
	return outcome, nil
}

func (p *Pipeline) persistPattern(ctx context.Context, task Task, plan *Plan, decision *Decision, rounds int) {
	if p.store == nil || decision.QualityScore <= p.cfg.MinQualityToStore {
		return
	}
	// Pattern writes outlive the task deadline by a small grace window so a
	// run that finishes at the wire still records its strategy.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := p.store.Save(saveCtx, pattern.Pattern{
		TaskType:     plan.TaskType,
		Goal:         task.Goal,
		Approach:     plan.Approach,
		Roles:        []string{"planner", "generator", "critic", "judge"},
		Rounds:       rounds,
		QualityScore: decision.QualityScore,
	})
	if err != nil {
		var gateErr *pattern.ErrBelowQualityGate
		if !errors.As(err, &gateErr) {
			p.logger.Warn("pattern persistence failed for task %s: %v", task.ID, err)
		}
		return
	}
	if p.metrics != nil {
		p.metrics.IncPatternsSaved()
	}
}

func (p *Pipeline) stage(ctx context.Context, taskID string, state State, round int, fn func(context.Context) error) error {
	p.publish(Event{TaskID: taskID, Type: EventStateChange, State: state, Round: round})

	ctx, span := p.tracer.Start(ctx, "pipeline."+string(state), trace.WithAttributes(
		attribute.Int("round", round),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
	}
	if p.metrics != nil {
		p.metrics.ObserveStage(state, status, time.Since(start))
	}
	return err
}

func (p *Pipeline) abort(outcome *Outcome, task Task, reason string) *Outcome {
	outcome.State = StateAborted
	outcome.AbortReason = reason
	p.publish(Event{TaskID: task.ID, Type: EventAborted, State: StateAborted, Round: outcome.Rounds, Message: reason})
	p.logger.Warn("task %s aborted: %s", task.ID, reason)
	return outcome
}

func (p *Pipeline) publish(ev Event) {
	if p.broadcaster != nil {
		p.broadcaster.Publish(ev)
	}
}

func abortReason(ctx context.Context, format string, args ...any) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "wall-clock timeout"
	}
	return fmt.Sprintf(format, args...)
}

func revisionFeedback(decision *Decision, review Review) string {
	feedback := decision.RevisionGuidance
	if feedback == "" {
		feedback = decision.Rationale
	}
	for _, pr := range review.Proposals {
		if pr.Summary != "" {
			feedback += "\nCritic on " + pr.ProposalID + ": " + pr.Summary
		}
	}
	return feedback
}
