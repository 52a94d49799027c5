package swarm

import (
	"encoding/json"
	"fmt"
	"strings"

	"sophia/internal/pattern"
	"sophia/internal/token"
)

// Prompt budgets, in tokens. Oversized sections are truncated rather than
// failing the call.
const (
	goalBudget     = 2000
	patternBudget  = 1500
	planBudget     = 2000
	proposalBudget = 6000
	feedbackBudget = 1500
)

const plannerSystem = `You are the lead planner of a multi-agent engineering team.
Decompose the task into an ordered plan. Respond with ONLY a JSON object:
{"task_type": "<short kebab-case category>", "approach": "<one-paragraph strategy>", "steps": [{"title": "...", "detail": "..."}]}
No prose outside the JSON.`

const generatorSystem = `You are one of several competing solution generators.
Produce your best complete candidate solution for the plan. Respond with ONLY a JSON object:
{"content": "<the full candidate solution>", "rationale": "<why this approach>", "test_plan": "<how to verify it>", "diff": "<optional unified diff>"}
No prose outside the JSON.`

const criticSystem = `You are the critic. Review every proposal along exactly these dimensions:
security, correctness, performance, usability, maintainability. Score each 0-10
(0 catastrophic, 10 flawless). Respond with ONLY a JSON object:
{"proposals": [{"proposal_id": "...", "summary": "...", "findings": [{"dimension": "security", "score": 7, "notes": "..."}]}]}
Include all five dimensions for every proposal. No prose outside the JSON.`

const judgeSystem = `You are the judge. Given the proposals and the critic's review, rule on the round.
Respond with ONLY a JSON object:
{"verdict": "accept|merge|reject|revise", "selected_proposal_id": "...", "content": "<final content when merging>", "quality_score": 0.0, "rationale": "...", "revision_guidance": "<required when verdict is revise>", "runner_instructions": [{"op": "write|patch|delete", "path": "...", "content": "...", "diff": "..."}]}
quality_score is your overall confidence in [0,1]. Emit runner_instructions only for accept or merge, and only when the solution is a concrete file change. No prose outside the JSON.`

func plannerPrompt(task Task, matches []pattern.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", token.Truncate(task.Goal, goalBudget))
	if task.Type != "" {
		fmt.Fprintf(&b, "Caller-supplied task type: %s\n", task.Type)
	}
	if len(task.Constraints.AllowedTools) > 0 {
		fmt.Fprintf(&b, "Allowed tools: %s\n", strings.Join(task.Constraints.AllowedTools, ", "))
	}
	if task.Constraints.RiskTolerance != "" {
		fmt.Fprintf(&b, "Risk tolerance: %s\n", task.Constraints.RiskTolerance)
	}
	if len(matches) > 0 {
		b.WriteString("\nStrategies that worked for similar past tasks:\n")
		var past strings.Builder
		for _, m := range matches {
			fmt.Fprintf(&past, "- [%s, quality %.2f] %s\n", m.Pattern.TaskType, m.Pattern.QualityScore, m.Pattern.Approach)
		}
		b.WriteString(token.Truncate(past.String(), patternBudget))
	}
	return b.String()
}

func generatorPrompt(task Task, plan Plan, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n", token.Truncate(task.Goal, goalBudget))
	fmt.Fprintf(&b, "Plan (%s):\nApproach: %s\n", plan.TaskType, plan.Approach)
	var steps strings.Builder
	for i, s := range plan.Steps {
		fmt.Fprintf(&steps, "%d. %s", i+1, s.Title)
		if s.Detail != "" {
			fmt.Fprintf(&steps, " - %s", s.Detail)
		}
		steps.WriteByte('\n')
	}
	b.WriteString(token.Truncate(steps.String(), planBudget))
	if feedback != "" {
		b.WriteString("\nYour previous round was not accepted. Address this feedback:\n")
		b.WriteString(token.Truncate(feedback, feedbackBudget))
		b.WriteByte('\n')
	}
	return b.String()
}

func criticPrompt(task Task, proposals []Proposal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\nProposals under review:\n", token.Truncate(task.Goal, goalBudget))
	b.WriteString(token.Truncate(renderProposals(proposals), proposalBudget))
	return b.String()
}

func judgePrompt(task Task, proposals []Proposal, review Review, accuracyThreshold float64, finalRound bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", token.Truncate(task.Goal, goalBudget))
	fmt.Fprintf(&b, "Acceptance bar: mean review score >= %.1f.\n", accuracyThreshold)
	if finalRound {
		b.WriteString("This is the FINAL round: revise is not available, rule accept, merge, or reject.\n")
	}
	b.WriteString("\nProposals:\n")
	b.WriteString(token.Truncate(renderProposals(proposals), proposalBudget))
	b.WriteString("\nCritic review:\n")
	if encoded, err := json.MarshalIndent(review, "", "  "); err == nil {
		b.WriteString(token.Truncate(string(encoded), proposalBudget))
	}
	return b.String()
}

func renderProposals(proposals []Proposal) string {
	var b strings.Builder
	for _, p := range proposals {
		fmt.Fprintf(&b, "--- proposal %s (generator %s) ---\n%s\n", p.ID, p.GeneratorID, p.Content)
		if p.Rationale != "" {
			fmt.Fprintf(&b, "Rationale: %s\n", p.Rationale)
		}
		if p.TestPlan != "" {
			fmt.Fprintf(&b, "Test plan: %s\n", p.TestPlan)
		}
		if p.Diff != "" {
			fmt.Fprintf(&b, "Diff:\n%s\n", p.Diff)
		}
	}
	return b.String()
}
