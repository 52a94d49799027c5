package swarm

import (
	"time"

	"sophia/internal/runner"
)

// RiskTolerance bounds how aggressive accepted changes may be.
type RiskTolerance string

const (
	RiskLow    RiskTolerance = "low"
	RiskMedium RiskTolerance = "medium"
	RiskHigh   RiskTolerance = "high"
)

// Constraints restrict what the pipeline may do for a task.
type Constraints struct {
	AllowedTools  []string      `json:"allowed_tools,omitempty"`
	RiskTolerance RiskTolerance `json:"risk_tolerance,omitempty"`
	WritesAllowed bool          `json:"writes_allowed"`
}

// Task is the unit of work submitted to the pipeline.
type Task struct {
	ID          string      `json:"id"`
	Goal        string      `json:"goal"`
	Type        string      `json:"type,omitempty"`
	Constraints Constraints `json:"constraints"`
	CreatedAt   time.Time   `json:"created_at"`
}

// PlanStep is one step of the Planner's decomposition.
type PlanStep struct {
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

// Plan is the Planner's decomposition of a task.
type Plan struct {
	TaskType string     `json:"task_type"`
	Approach string     `json:"approach"`
	Steps    []PlanStep `json:"steps"`
}

// Proposal is one Generator's candidate solution. Proposals belong to the
// round that produced them and are discarded after the Decision unless
// selected.
type Proposal struct {
	ID          string `json:"id"`
	GeneratorID string `json:"generator_id"`
	Round       int    `json:"round"`
	Content     string `json:"content"`
	Rationale   string `json:"rationale,omitempty"`
	TestPlan    string `json:"test_plan,omitempty"`
	Diff        string `json:"diff,omitempty"`
}

// Dimension is one of the fixed review axes.
type Dimension string

const (
	DimSecurity        Dimension = "security"
	DimCorrectness     Dimension = "correctness"
	DimPerformance     Dimension = "performance"
	DimUsability       Dimension = "usability"
	DimMaintainability Dimension = "maintainability"
)

// Dimensions lists the review axes in their canonical order.
var Dimensions = []Dimension{DimSecurity, DimCorrectness, DimPerformance, DimUsability, DimMaintainability}

// Finding is one dimension's score for one proposal, on a 0..10 scale.
type Finding struct {
	Dimension Dimension `json:"dimension"`
	Score     float64   `json:"score"`
	Notes     string    `json:"notes,omitempty"`
}

// ProposalReview is the Critic's findings for a single proposal.
// Immutable once produced.
type ProposalReview struct {
	ProposalID string    `json:"proposal_id"`
	Findings   []Finding `json:"findings"`
	Summary    string    `json:"summary,omitempty"`
}

// MeanScore averages the findings. Missing dimensions count as neutral.
func (r ProposalReview) MeanScore() float64 {
	if len(r.Findings) == 0 {
		return 5.0
	}
	total := 0.0
	for _, f := range r.Findings {
		total += f.Score
	}
	return total / float64(len(r.Findings))
}

// SecurityFloor returns the lowest security score in the review, or 10
// when no security finding exists.
func (r ProposalReview) SecurityFloor() float64 {
	floor := 10.0
	for _, f := range r.Findings {
		if f.Dimension == DimSecurity && f.Score < floor {
			floor = f.Score
		}
	}
	return floor
}

// Review is the Critic's output for one round.
type Review struct {
	Round     int              `json:"round"`
	Proposals []ProposalReview `json:"proposals"`
}

// ForProposal returns the review for a proposal ID, if present.
func (r Review) ForProposal(id string) (ProposalReview, bool) {
	for _, pr := range r.Proposals {
		if pr.ProposalID == id {
			return pr, true
		}
	}
	return ProposalReview{}, false
}

// Verdict is the Judge's ruling on a round.
type Verdict string

const (
	VerdictAccept Verdict = "accept"
	VerdictMerge  Verdict = "merge"
	VerdictReject Verdict = "reject"
	VerdictRevise Verdict = "revise"
)

// Decision is the Judge's terminal artifact for a round.
type Decision struct {
	Verdict            Verdict              `json:"verdict"`
	SelectedProposalID string               `json:"selected_proposal_id,omitempty"`
	Content            string               `json:"content,omitempty"`
	QualityScore       float64              `json:"quality_score"`
	Rationale          string               `json:"rationale,omitempty"`
	RunnerInstructions []runner.Instruction `json:"runner_instructions,omitempty"`
	RevisionGuidance   string               `json:"revision_guidance,omitempty"`
}

// State is a pipeline lifecycle stage.
type State string

const (
	StatePlanning   State = "planning"
	StateGenerating State = "generating"
	StateReviewing  State = "reviewing"
	StateDeciding   State = "deciding"
	StateRevising   State = "revising"
	StateExecuting  State = "executing"
	StateDone       State = "done"
	StateAborted    State = "aborted"
)

// Terminal reports whether the state ends the pipeline.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Outcome is the final result of running a task through the pipeline.
type Outcome struct {
	TaskID        string          `json:"task_id"`
	State         State           `json:"state"`
	Rounds        int             `json:"rounds"`
	Plan          *Plan           `json:"plan,omitempty"`
	Decision      *Decision       `json:"decision,omitempty"`
	RunnerResults []runner.Result `json:"runner_results,omitempty"`
	AbortReason   string          `json:"abort_reason,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}
