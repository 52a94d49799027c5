package swarm

import (
	"context"
	"fmt"

	"sophia/internal/llm"
	"sophia/internal/logging"
)

// securityRejectFloor: any proposal with a security finding at or below
// this score cannot be accepted, whatever the model says.
const securityRejectFloor = 2.0

// Judge rules on a round. The model proposes a verdict; the gates here
// have the last word.
type Judge struct {
	client            llm.Client
	accuracyThreshold float64
	logger            logging.Logger
}

func NewJudge(client llm.Client, accuracyThreshold float64, logger logging.Logger) *Judge {
	if accuracyThreshold <= 0 {
		accuracyThreshold = 7.0
	}
	return &Judge{client: client, accuracyThreshold: accuracyThreshold, logger: logging.OrNop(logger)}
}

// Decide produces the round's Decision. finalRound tells the model revise
// is no longer on the table; if it still returns revise the pipeline aborts
// the task rather than shipping an unreviewed proposal.
func (j *Judge) Decide(ctx context.Context, task Task, proposals []Proposal, review Review, finalRound bool) (*Decision, error) {
	resp, err := j.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: judgeSystem},
			{Role: "user", Content: judgePrompt(task, proposals, review, j.accuracyThreshold, finalRound)},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("judge completion: %w", err)
	}

	var decision Decision
	if err := DecodeLoose(resp.Content, &decision); err != nil {
		return nil, fmt.Errorf("judge output: %w", err)
	}
	j.normalize(&decision, proposals)
	j.applyGates(&decision, proposals, review)
	return &decision, nil
}

func (j *Judge) normalize(d *Decision, proposals []Proposal) {
	switch d.Verdict {
	case VerdictAccept, VerdictMerge, VerdictReject, VerdictRevise:
	default:
		j.logger.Warn("judge returned unknown verdict %q, treating as revise", d.Verdict)
		d.Verdict = VerdictRevise
	}

	if d.QualityScore < 0 {
		d.QualityScore = 0
	}
	if d.QualityScore > 1 {
		d.QualityScore = 1
	}

	if d.Verdict == VerdictAccept {
		if _, ok := findProposal(proposals, d.SelectedProposalID); !ok {
			// Accepting nothing in particular: fall back to the only
			// proposal, otherwise force a revise.
			if len(proposals) == 1 {
				d.SelectedProposalID = proposals[0].ID
			} else {
				j.logger.Warn("judge accepted unknown proposal %q, treating as revise", d.SelectedProposalID)
				d.Verdict = VerdictRevise
			}
		}
	}
	if d.Verdict == VerdictAccept && d.Content == "" {
		if p, ok := findProposal(proposals, d.SelectedProposalID); ok {
			d.Content = p.Content
		}
	}
	if d.Verdict != VerdictAccept && d.Verdict != VerdictMerge {
		d.RunnerInstructions = nil
	}
}

// applyGates enforces the hard quality gates over the model's ruling.
func (j *Judge) applyGates(d *Decision, proposals []Proposal, review Review) {
	if d.Verdict != VerdictAccept && d.Verdict != VerdictMerge {
		return
	}

	considered := proposals
	if d.Verdict == VerdictAccept {
		if p, ok := findProposal(proposals, d.SelectedProposalID); ok {
			considered = []Proposal{p}
		}
	}

	for _, p := range considered {
		pr, ok := review.ForProposal(p.ID)
		if !ok {
			continue
		}
		if pr.SecurityFloor() <= securityRejectFloor {
			j.logger.Warn("security gate: proposal %s scored %.1f on security, forcing reject", p.ID, pr.SecurityFloor())
			d.Verdict = VerdictReject
			d.RunnerInstructions = nil
			d.Rationale = fmt.Sprintf("security gate: proposal %s has a security finding at or below %.0f. %s", p.ID, securityRejectFloor, d.Rationale)
			return
		}
		if pr.MeanScore() < j.accuracyThreshold {
			j.logger.Info("accuracy gate: proposal %s mean %.2f below threshold %.2f, forcing revise", p.ID, pr.MeanScore(), j.accuracyThreshold)
			d.Verdict = VerdictRevise
			d.RunnerInstructions = nil
			if d.RevisionGuidance == "" {
				d.RevisionGuidance = fmt.Sprintf("mean review score %.2f is below the acceptance bar %.2f; address the critic's findings", pr.MeanScore(), j.accuracyThreshold)
			}
			return
		}
	}
}

func findProposal(proposals []Proposal, id string) (Proposal, bool) {
	for _, p := range proposals {
		if p.ID == id {
			return p, true
		}
	}
	return Proposal{}, false
}
