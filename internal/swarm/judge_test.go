package swarm

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sophia/internal/llm"
)

func reviewWith(proposalID string, security, others float64) Review {
	pr := ProposalReview{ProposalID: proposalID}
	for _, d := range Dimensions {
		score := others
		if d == DimSecurity {
			score = security
		}
		pr.Findings = append(pr.Findings, Finding{Dimension: d, Score: score})
	}
	return Review{Round: 1, Proposals: []ProposalReview{pr}}
}

func decisionJSON(verdict, selected string, quality float64) string {
	return fmt.Sprintf(`{"verdict": %q, "selected_proposal_id": %q, "quality_score": %g, "rationale": "because"}`, verdict, selected, quality)
}

func TestJudgeAcceptPassesGates(t *testing.T) {
	mock := llm.NewMockClient(decisionJSON("accept", "r1-gen-1", 0.9))
	judge := NewJudge(mock, 7.0, nil)

	proposals := []Proposal{{ID: "r1-gen-1", Content: "solution"}}
	decision, err := judge.Decide(context.Background(), Task{Goal: "g"}, proposals, reviewWith("r1-gen-1", 8, 8), false)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccept, decision.Verdict)
	assert.Equal(t, "solution", decision.Content)
	assert.InDelta(t, 0.9, decision.QualityScore, 0.001)
}

func TestJudgeSecurityGateForcesReject(t *testing.T) {
	mock := llm.NewMockClient(decisionJSON("accept", "r1-gen-1", 0.9))
	judge := NewJudge(mock, 7.0, nil)

	proposals := []Proposal{{ID: "r1-gen-1", Content: "rm -rf /"}}
	decision, err := judge.Decide(context.Background(), Task{Goal: "g"}, proposals, reviewWith("r1-gen-1", 2, 9), false)
	require.NoError(t, err)
	assert.Equal(t, VerdictReject, decision.Verdict)
	assert.Empty(t, decision.RunnerInstructions)
}

func TestJudgeAccuracyGateForcesRevise(t *testing.T) {
	mock := llm.NewMockClient(decisionJSON("accept", "r1-gen-1", 0.8))
	judge := NewJudge(mock, 7.0, nil)

	proposals := []Proposal{{ID: "r1-gen-1", Content: "meh"}}
	decision, err := judge.Decide(context.Background(), Task{Goal: "g"}, proposals, reviewWith("r1-gen-1", 6, 6), false)
	require.NoError(t, err)
	assert.Equal(t, VerdictRevise, decision.Verdict)
	assert.NotEmpty(t, decision.RevisionGuidance)
}

func TestJudgeClampsQualityScore(t *testing.T) {
	mock := llm.NewMockClient(decisionJSON("accept", "r1-gen-1", 42))
	judge := NewJudge(mock, 7.0, nil)

	decision, err := judge.Decide(context.Background(), Task{Goal: "g"},
		[]Proposal{{ID: "r1-gen-1", Content: "x"}}, reviewWith("r1-gen-1", 9, 9), false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, decision.QualityScore)
}

func TestJudgeUnknownVerdictBecomesRevise(t *testing.T) {
	mock := llm.NewMockClient(`{"verdict": "maybe", "quality_score": 0.5}`)
	judge := NewJudge(mock, 7.0, nil)

	decision, err := judge.Decide(context.Background(), Task{Goal: "g"},
		[]Proposal{{ID: "r1-gen-1", Content: "x"}}, reviewWith("r1-gen-1", 9, 9), false)
	require.NoError(t, err)
	assert.Equal(t, VerdictRevise, decision.Verdict)
}

func TestJudgeAcceptUnknownProposalFallsBack(t *testing.T) {
	mock := llm.NewMockClient(decisionJSON("accept", "nonexistent", 0.9))
	judge := NewJudge(mock, 7.0, nil)

	// Single proposal: the acceptance is unambiguous despite the bad ID.
	decision, err := judge.Decide(context.Background(), Task{Goal: "g"},
		[]Proposal{{ID: "r1-gen-1", Content: "only"}}, reviewWith("r1-gen-1", 9, 9), false)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccept, decision.Verdict)
	assert.Equal(t, "r1-gen-1", decision.SelectedProposalID)

	// Multiple proposals: ambiguous, downgrade to revise.
	mock = llm.NewMockClient(decisionJSON("accept", "nonexistent", 0.9))
	judge = NewJudge(mock, 7.0, nil)
	decision, err = judge.Decide(context.Background(), Task{Goal: "g"},
		[]Proposal{{ID: "r1-gen-1", Content: "a"}, {ID: "r1-gen-2", Content: "b"}},
		Review{}, false)
	require.NoError(t, err)
	assert.Equal(t, VerdictRevise, decision.Verdict)
}

func TestJudgeStripsInstructionsOnNonTerminalVerdicts(t *testing.T) {
	mock := llm.NewMockClient(`{"verdict": "revise", "quality_score": 0.3, "runner_instructions": [{"op": "write", "path": "x", "content": "y"}]}`)
	judge := NewJudge(mock, 7.0, nil)

	decision, err := judge.Decide(context.Background(), Task{Goal: "g"},
		[]Proposal{{ID: "r1-gen-1", Content: "x"}}, reviewWith("r1-gen-1", 9, 9), false)
	require.NoError(t, err)
	assert.Empty(t, decision.RunnerInstructions)
}
