package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
	"github.com/openprocure/be-marketplace/internal/logger"
)

// ScoringService produces the read-side scoring projection: per-proposal
// component scores, weighted totals, and competition ranks. It never writes;
// scores are persisted by the workflow services as they are entered.
type ScoringService struct {
	store Store
	log   *logger.Logger
}

// NewScoringService creates a new ScoringService.
func NewScoringService(store Store, log *logger.Logger) *ScoringService {
	return &ScoringService{store: store, log: log}
}

// ComputeScoring returns the scoring table for an opportunity, ranked by
// weighted total. Proposals outside the rankable status set carry no rank;
// proposals missing a required component carry no total.
func (s *ScoringService) ComputeScoring(ctx context.Context, opportunityID uuid.UUID) ([]domain.ProposalScoring, error) {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	cfg := domain.ConfigFor(opp.Type)

	proposals, err := s.store.ListProposals(ctx, opportunityID)
	if err != nil {
		return nil, err
	}

	scorings := make([]domain.ProposalScoring, 0, len(proposals))
	for _, p := range proposals {
		scorings = append(scorings, domain.ProposalScoring{
			ProposalID:     p.ID,
			OrganizationID: p.OrganizationID,
			Status:         p.Status,
			Scores:         p.Scores,
			TotalScore:     domain.TotalScore(p.Scores, opp.Version.Weights, cfg),
		})
	}
	return domain.Rank(scorings, cfg), nil
}

// ProposalScore returns the scoring row for a single proposal, computed in
// the context of its competitors so the rank is meaningful.
func (s *ScoringService) ProposalScore(ctx context.Context, proposalID uuid.UUID) (*domain.ProposalScoring, error) {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	scorings, err := s.ComputeScoring(ctx, p.OpportunityID)
	if err != nil {
		return nil, err
	}
	for i := range scorings {
		if scorings[i].ProposalID == proposalID {
			return &scorings[i], nil
		}
	}
	return nil, errors.NotFound("proposal scoring", proposalID.String())
}
