package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	sophiaerrors "sophia/internal/errors"
	"sophia/internal/logging"
	"sophia/internal/pattern"
	"sophia/internal/swarm"
)

// RunTaskTool handles the run_task MCP tool.
type RunTaskTool struct {
	service *swarm.Service
	breaker *sophiaerrors.CircuitBreaker
	logger  logging.Logger
}

func NewRunTaskTool(service *swarm.Service, breakers *sophiaerrors.BreakerSet, logger logging.Logger) *RunTaskTool {
	return &RunTaskTool{
		service: service,
		breaker: breakerFor(breakers),
		logger:  logging.OrNop(logger),
	}
}

// Definition returns the MCP tool definition for run_task.
func (t *RunTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("run_task",
		mcp.WithDescription(
			"Run an engineering task through the debate pipeline and return the judge's decision. "+
				"Blocks until the task finishes or its wall-clock budget expires.",
		),
		mcp.WithString("goal",
			mcp.Required(),
			mcp.Description("The task goal, in natural language"),
		),
		mcp.WithString("type",
			mcp.Description("Task category, e.g. bugfix, refactor, feature"),
		),
		mcp.WithString("risk_tolerance",
			mcp.Description("low, medium, or high (default: low)"),
		),
	)
}

// Handle processes the run_task tool call. Writes are never allowed over
// MCP; the decision's instructions are returned as text instead.
func (t *RunTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	goal := req.GetString("goal", "")
	if strings.TrimSpace(goal) == "" {
		return mcp.NewToolResultError("'goal' is required"), nil
	}
	risk := swarm.RiskTolerance(req.GetString("risk_tolerance", string(swarm.RiskLow)))

	outcome, err := sophiaerrors.ExecuteFunc(t.breaker, ctx, func(ctx context.Context) (*swarm.Outcome, error) {
		return t.service.RunSync(ctx, swarm.Task{
			Goal: goal,
			Type: req.GetString("type", ""),
			Constraints: swarm.Constraints{
				RiskTolerance: risk,
				WritesAllowed: false,
			},
		})
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pipeline run failed: %v", err)), nil
	}
	return mcp.NewToolResultText(renderOutcome(outcome)), nil
}

// QueryPatternsTool handles the query_patterns MCP tool.
type QueryPatternsTool struct {
	store   pattern.Store
	breaker *sophiaerrors.CircuitBreaker
	logger  logging.Logger
}

func NewQueryPatternsTool(store pattern.Store, breakers *sophiaerrors.BreakerSet, logger logging.Logger) *QueryPatternsTool {
	return &QueryPatternsTool{
		store:   store,
		breaker: breakerFor(breakers),
		logger:  logging.OrNop(logger),
	}
}

// Definition returns the MCP tool definition for query_patterns.
func (t *QueryPatternsTool) Definition() mcp.Tool {
	return mcp.NewTool("query_patterns",
		mcp.WithDescription(
			"Search the pattern memory for strategies that worked on similar past tasks.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language description of the task at hand"),
		),
		mcp.WithString("type",
			mcp.Description("Restrict results to one task type"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Max results (default: 5)"),
		),
	)
}

// Handle processes the query_patterns tool call.
func (t *QueryPatternsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.store == nil {
		return mcp.NewToolResultError("pattern memory is not configured"), nil
	}
	query := req.GetString("query", "")
	if strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	limit := int(req.GetFloat("limit", 5))
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	matches, err := sophiaerrors.ExecuteFunc(t.breaker, ctx, func(ctx context.Context) ([]pattern.Match, error) {
		return t.store.Retrieve(ctx, query, req.GetString("type", ""), limit)
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("pattern query failed: %v", err)), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText("No stored patterns match this query."), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d pattern(s):\n\n", len(matches))
	for i, m := range matches {
		fmt.Fprintf(&b, "[%d] %s (quality %.2f, similarity %.2f, %d round(s))\n    %s\n\n",
			i+1, m.Pattern.TaskType, m.Pattern.QualityScore, m.Similarity, m.Pattern.Rounds, m.Pattern.Approach)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func breakerFor(breakers *sophiaerrors.BreakerSet) *sophiaerrors.CircuitBreaker {
	if breakers != nil {
		return breakers.For(sophiaerrors.ClassMCP)
	}
	return sophiaerrors.NewCircuitBreaker(string(sophiaerrors.ClassMCP), sophiaerrors.CircuitBreakerConfig{})
}

func renderOutcome(outcome *swarm.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s finished in state %q after %d round(s).\n", outcome.TaskID, outcome.State, outcome.Rounds)
	if outcome.AbortReason != "" {
		fmt.Fprintf(&b, "Abort reason: %s\n", outcome.AbortReason)
	}
	if d := outcome.Decision; d != nil {
		fmt.Fprintf(&b, "Verdict: %s (quality %.2f)\n", d.Verdict, d.QualityScore)
		if d.Rationale != "" {
			fmt.Fprintf(&b, "Rationale: %s\n", d.Rationale)
		}
		if d.Content != "" {
			fmt.Fprintf(&b, "\n%s\n", d.Content)
		}
		if len(d.RunnerInstructions) > 0 {
			fmt.Fprintf(&b, "\nProposed file changes (not applied):\n")
			for _, inst := range d.RunnerInstructions {
				fmt.Fprintf(&b, "- %s %s\n", inst.Op, inst.Path)
			}
		}
	}
	return b.String()
}
