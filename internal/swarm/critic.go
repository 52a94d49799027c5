package swarm

import (
	"context"

	"sophia/internal/llm"
	"sophia/internal/logging"
)

// Critic reviews a round's proposals along the five fixed dimensions.
type Critic struct {
	client llm.Client
	logger logging.Logger
}

func NewCritic(client llm.Client, logger logging.Logger) *Critic {
	return &Critic{client: client, logger: logging.OrNop(logger)}
}

// Review scores every proposal. A failed or unparseable critic call falls
// back to a neutral review (5 on every dimension) so the Judge still runs;
// the round must never die on critic formatting.
func (c *Critic) Review(ctx context.Context, task Task, proposals []Proposal, round int) (Review, error) {
	if err := ctx.Err(); err != nil {
		return Review{}, err
	}

	resp, err := c.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: criticSystem},
			{Role: "user", Content: criticPrompt(task, proposals)},
		},
		Temperature: 0.1,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Review{}, ctx.Err()
		}
		c.logger.Warn("critic call failed in round %d, using neutral review: %v", round, err)
		return neutralReview(proposals, round), nil
	}

	var review Review
	if err := DecodeLoose(resp.Content, &review); err != nil {
		c.logger.Warn("critic output unparseable in round %d, using neutral review: %v", round, err)
		return neutralReview(proposals, round), nil
	}
	review.Round = round

	// Proposals the critic skipped still need a score.
	for _, p := range proposals {
		if _, ok := review.ForProposal(p.ID); !ok {
			review.Proposals = append(review.Proposals, neutralProposalReview(p.ID))
		}
	}
	clampFindings(&review)
	return review, nil
}

func neutralReview(proposals []Proposal, round int) Review {
	review := Review{Round: round}
	for _, p := range proposals {
		review.Proposals = append(review.Proposals, neutralProposalReview(p.ID))
	}
	return review
}

func neutralProposalReview(proposalID string) ProposalReview {
	pr := ProposalReview{
		ProposalID: proposalID,
		Summary:    "no structured review available; neutral scores assigned",
	}
	for _, d := range Dimensions {
		pr.Findings = append(pr.Findings, Finding{Dimension: d, Score: 5})
	}
	return pr
}

func clampFindings(review *Review) {
	for i := range review.Proposals {
		for j := range review.Proposals[i].Findings {
			f := &review.Proposals[i].Findings[j]
			if f.Score < 0 {
				f.Score = 0
			}
			if f.Score > 10 {
				f.Score = 10
			}
		}
	}
}
