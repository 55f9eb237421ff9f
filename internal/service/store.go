package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/openprocure/be-marketplace/internal/domain"
)

// Store is the persistence collaborator the workflow engine consumes. The
// Postgres implementation lives in internal/repository; tests use an
// in-memory fake.
//
// Every state-mutating operation runs inside InTransaction: the callback
// receives a Store scoped to the transaction, and a returned error rolls the
// whole operation back.
type Store interface {
	InTransaction(ctx context.Context, fn func(tx Store) error) error

	// Ledger. AppendHistory assigns a monotonic sequence number; History
	// returns records newest-first.
	AppendHistory(ctx context.Context, rec *domain.HistoryRecord) error
	AppendHistoryBatch(ctx context.Context, recs []*domain.HistoryRecord) error
	History(ctx context.Context, kind domain.EntityKind, entityID uuid.UUID) ([]domain.HistoryRecord, error)

	// Opportunities. Reads hydrate the latest version and the derived status.
	CreateOpportunity(ctx context.Context, opp *domain.Opportunity) error
	AddOpportunityVersion(ctx context.Context, v *domain.OpportunityVersion) error
	GetOpportunity(ctx context.Context, id uuid.UUID) (*domain.Opportunity, error)
	ListOpportunities(ctx context.Context) ([]*domain.Opportunity, error)
	DeleteDraftOpportunity(ctx context.Context, id uuid.UUID) error

	// Proposals. Reads hydrate the derived status and stored score inputs.
	CreateProposal(ctx context.Context, p *domain.Proposal) error
	GetProposal(ctx context.Context, id uuid.UUID) (*domain.Proposal, error)
	ListProposals(ctx context.Context, opportunityID uuid.UUID) ([]*domain.Proposal, error)
	ProposalIDsByStatus(ctx context.Context, opportunityID uuid.UUID, statuses []domain.ProposalStatus) ([]uuid.UUID, error)
	OrganizationHasProposal(ctx context.Context, opportunityID, organizationID uuid.UUID) (bool, error)
	SetProposalScores(ctx context.Context, proposalID uuid.UUID, scores domain.ScoreSet) error
	DeleteDraftProposal(ctx context.Context, id uuid.UUID) error

	// Organizations.
	OrganizationQualified(ctx context.Context, organizationID uuid.UUID, t domain.OpportunityType) (bool, error)

	// Evaluations. Status is derived from the ledger like every other entity.
	UpsertEvaluation(ctx context.Context, e *domain.Evaluation) error
	GetEvaluation(ctx context.Context, proposalID, evaluatorID uuid.UUID, stage domain.EvaluationStage) (*domain.Evaluation, error)
	ListEvaluations(ctx context.Context, opportunityID uuid.UUID, stage domain.EvaluationStage) ([]*domain.Evaluation, error)
}

// Notifier publishes status-change events after the enclosing transaction has
// committed. Implementations must swallow failures; a lost notification never
// rolls back a state transition.
type Notifier interface {
	Publish(ctx context.Context, eventType string, resourceID, actorID uuid.UUID, payload map[string]any)
}

// Notification event types.
const (
	EventOpportunityPublished   = "opportunity_published"
	EventOpportunityUnderReview = "opportunity_submitted_for_review"
	EventOpportunityCancelled   = "opportunity_cancelled"
	EventProposalAwarded        = "proposal_awarded"
	EventConsensusSubmitted     = "consensus_submitted"
)
