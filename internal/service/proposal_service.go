package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
	"github.com/openprocure/be-marketplace/internal/logger"
	"github.com/openprocure/be-marketplace/internal/metrics"
)

// ProposalService owns the proposal lifecycle: drafts, submission, vendor
// withdrawal, evaluator-entered stage scores, disqualification and the award
// cascade.
type ProposalService struct {
	store    Store
	notifier Notifier
	log      *logger.Logger
}

// NewProposalService creates a new ProposalService.
func NewProposalService(store Store, notifier Notifier, log *logger.Logger) *ProposalService {
	return &ProposalService{store: store, notifier: notifier, log: log}
}

// CreateProposalRequest carries a new draft proposal.
type CreateProposalRequest struct {
	OpportunityID  uuid.UUID
	OrganizationID uuid.UUID
	Bid            float64
	Actor          uuid.UUID
}

// Create inserts a Draft proposal. One proposal per organization per
// opportunity is enforced here and re-checked by the unique constraint.
func (s *ProposalService) Create(ctx context.Context, req *CreateProposalRequest) (*domain.Proposal, error) {
	if req.Bid <= 0 {
		return nil, errors.InvalidInput("bid", "proposed cost must be positive")
	}

	var p *domain.Proposal
	err := s.store.InTransaction(ctx, func(tx Store) error {
		opp, err := tx.GetOpportunity(ctx, req.OpportunityID)
		if err != nil {
			return err
		}
		if opp.Status != domain.OppPublished {
			return errors.Newf(errors.CodeConflict, "opportunity is not accepting proposals (status %s)", opp.Status)
		}
		dup, err := tx.OrganizationHasProposal(ctx, req.OpportunityID, req.OrganizationID)
		if err != nil {
			return err
		}
		if dup {
			return errors.New(errors.CodeConflict, "organization already has a proposal for this opportunity")
		}
		qualified, err := tx.OrganizationQualified(ctx, req.OrganizationID, opp.Type)
		if err != nil {
			return err
		}
		if !qualified {
			return errors.Newf(errors.CodeConflict, "organization is not %s-qualified", opp.Type)
		}

		now := time.Now()
		p = &domain.Proposal{
			ID:             uuid.New(),
			OpportunityID:  req.OpportunityID,
			OrganizationID: req.OrganizationID,
			Status:         domain.PropDraft,
			Bid:            req.Bid,
			CreatedAt:      now,
			CreatedBy:      req.Actor,
			UpdatedAt:      now,
		}
		if err := tx.CreateProposal(ctx, p); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindProposal,
			EntityID:   p.ID,
			CreatedAt:  now,
			CreatedBy:  req.Actor,
			Type:       domain.StatusChange(string(domain.PropDraft)),
		})
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a proposal with its derived status.
func (s *ProposalService) Get(ctx context.Context, id uuid.UUID) (*domain.Proposal, error) {
	return s.store.GetProposal(ctx, id)
}

// List returns all proposals on an opportunity.
func (s *ProposalService) List(ctx context.Context, opportunityID uuid.UUID) ([]*domain.Proposal, error) {
	return s.store.ListProposals(ctx, opportunityID)
}

// History returns the proposal's ledger, newest first.
func (s *ProposalService) History(ctx context.Context, id uuid.UUID) ([]domain.HistoryRecord, error) {
	return s.store.History(ctx, domain.KindProposal, id)
}

// transition appends one validated proposal status record. Shared by submit,
// withdraw and disqualify.
func (s *ProposalService) transition(ctx context.Context, tx Store, p *domain.Proposal, opp *domain.Opportunity, requested domain.ProposalStatus, role domain.Role, actor uuid.UUID, note string) error {
	cfg := domain.ConfigFor(opp.Type)
	tctx := domain.TransitionContext{Now: time.Now(), ProposalDeadline: opp.Version.ProposalDeadline}
	if !domain.CanTransitionProposal(cfg, p.Status, requested, role, tctx) {
		return errors.Newf(errors.CodePermission, "status change %s -> %s is not permitted", p.Status, requested)
	}
	if err := tx.AppendHistory(ctx, &domain.HistoryRecord{
		ID:         uuid.New(),
		EntityKind: domain.KindProposal,
		EntityID:   p.ID,
		CreatedAt:  time.Now(),
		CreatedBy:  actor,
		Type:       domain.StatusChange(string(requested)),
		Note:       note,
	}); err != nil {
		return err
	}
	p.Status = requested
	return nil
}

// countTransition records a committed proposal status change. Counters are
// never touched inside the transaction closure, so a rollback leaves them
// unchanged.
func countTransition(status domain.ProposalStatus) {
	metrics.StatusTransitions.WithLabelValues(string(domain.KindProposal), string(status)).Inc()
}

// Submit moves a Draft (or Withdrawn) proposal to Submitted. Organization
// qualification is re-checked immediately before commit: it can lapse between
// draft-save and submit.
func (s *ProposalService) Submit(ctx context.Context, id uuid.UUID, role domain.Role, actor uuid.UUID, note string) (*domain.Proposal, error) {
	var p *domain.Proposal
	err := s.store.InTransaction(ctx, func(tx Store) error {
		var err error
		p, err = tx.GetProposal(ctx, id)
		if err != nil {
			return err
		}
		opp, err := tx.GetOpportunity(ctx, p.OpportunityID)
		if err != nil {
			return err
		}
		qualified, err := tx.OrganizationQualified(ctx, p.OrganizationID, opp.Type)
		if err != nil {
			return err
		}
		if !qualified {
			return errors.Newf(errors.CodeConflict, "organization is no longer %s-qualified", opp.Type)
		}
		return s.transition(ctx, tx, p, opp, domain.PropSubmitted, role, actor, note)
	})
	if err != nil {
		return nil, err
	}
	countTransition(p.Status)
	return p, nil
}

// Withdraw is the vendor-initiated exit, reversible while the deadline is
// open. Distinct from disqualification.
func (s *ProposalService) Withdraw(ctx context.Context, id uuid.UUID, role domain.Role, actor uuid.UUID, note string) (*domain.Proposal, error) {
	var p *domain.Proposal
	err := s.store.InTransaction(ctx, func(tx Store) error {
		var err error
		p, err = tx.GetProposal(ctx, id)
		if err != nil {
			return err
		}
		opp, err := tx.GetOpportunity(ctx, p.OpportunityID)
		if err != nil {
			return err
		}
		return s.transition(ctx, tx, p, opp, domain.PropWithdrawn, role, actor, note)
	})
	if err != nil {
		return nil, err
	}
	countTransition(p.Status)
	return p, nil
}

// Disqualify is the evaluator-initiated terminal exit. No cascade: other
// proposals and the opportunity are untouched.
func (s *ProposalService) Disqualify(ctx context.Context, id uuid.UUID, role domain.Role, actor uuid.UUID, reason string) (*domain.Proposal, error) {
	if reason == "" {
		return nil, errors.InvalidInput("reason", "disqualification reason is required")
	}
	var p *domain.Proposal
	err := s.store.InTransaction(ctx, func(tx Store) error {
		var err error
		p, err = tx.GetProposal(ctx, id)
		if err != nil {
			return err
		}
		opp, err := tx.GetOpportunity(ctx, p.OpportunityID)
		if err != nil {
			return err
		}
		return s.transition(ctx, tx, p, opp, domain.PropDisqualified, role, actor, reason)
	})
	if err != nil {
		return nil, err
	}
	countTransition(p.Status)
	return p, nil
}

// Award transitions the winning proposal to Awarded, every competitor still
// in an evaluated-or-awarded status to NotAwarded, and the opportunity to
// Awarded, all in one transaction. Competitors are selected with a single
// batch predicate over derived status to close the read-then-write race.
func (s *ProposalService) Award(ctx context.Context, id uuid.UUID, role domain.Role, actor uuid.UUID, note string) (*domain.Proposal, error) {
	var (
		p   *domain.Proposal
		opp *domain.Opportunity
	)
	err := s.store.InTransaction(ctx, func(tx Store) error {
		var err error
		p, err = tx.GetProposal(ctx, id)
		if err != nil {
			return err
		}
		opp, err = tx.GetOpportunity(ctx, p.OpportunityID)
		if err != nil {
			return err
		}
		cfg := domain.ConfigFor(opp.Type)

		if err := s.transition(ctx, tx, p, opp, domain.PropAwarded, role, actor, note); err != nil {
			return err
		}

		competitorIDs, err := tx.ProposalIDsByStatus(ctx, p.OpportunityID, cfg.AwardableStatuses())
		if err != nil {
			return err
		}
		now := time.Now()
		recs := make([]*domain.HistoryRecord, 0, len(competitorIDs))
		for _, cid := range competitorIDs {
			if cid == id {
				continue
			}
			recs = append(recs, &domain.HistoryRecord{
				ID:         uuid.New(),
				EntityKind: domain.KindProposal,
				EntityID:   cid,
				CreatedAt:  now,
				CreatedBy:  actor,
				Type:       domain.StatusChange(string(domain.PropNotAwarded)),
			})
		}
		if err := tx.AppendHistoryBatch(ctx, recs); err != nil {
			return err
		}

		if !domain.CanTransitionOpportunity(cfg, opp.Status, domain.OppAwarded, role) {
			return errors.Newf(errors.CodePermission, "opportunity status change %s -> %s is not permitted", opp.Status, domain.OppAwarded)
		}
		return tx.AppendHistory(ctx, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindOpportunity,
			EntityID:   p.OpportunityID,
			CreatedAt:  now,
			CreatedBy:  actor,
			Type:       domain.StatusChange(string(domain.OppAwarded)),
			Note:       note,
		})
	})
	if err != nil {
		return nil, err
	}

	countTransition(p.Status)
	metrics.Awards.WithLabelValues(string(opp.Type)).Inc()
	s.notifier.Publish(ctx, EventProposalAwarded, id, actor, map[string]any{
		"opportunity_id": p.OpportunityID.String(),
	})
	s.log.Info().
		Str("proposal_id", id.String()).
		Str("opportunity_id", p.OpportunityID.String()).
		Msg("Proposal awarded")
	return p, nil
}

// ScoreChallenge records the challenge stage score for a proposal under
// challenge review. On the final stage the price scores for the whole
// eligible pool are computed in the same transaction.
func (s *ProposalService) ScoreChallenge(ctx context.Context, id uuid.UUID, score float64, role domain.Role, actor uuid.UUID) (*domain.Proposal, error) {
	return s.scoreStage(ctx, id, score, role, actor, domain.StageChallenge)
}

// ScoreScenario records the scenario stage score. Only valid for types with a
// scenario stage.
func (s *ProposalService) ScoreScenario(ctx context.Context, id uuid.UUID, score float64, role domain.Role, actor uuid.UUID) (*domain.Proposal, error) {
	return s.scoreStage(ctx, id, score, role, actor, domain.StageScenario)
}

func (s *ProposalService) scoreStage(ctx context.Context, id uuid.UUID, score float64, role domain.Role, actor uuid.UUID, stage domain.Stage) (*domain.Proposal, error) {
	if score < 0 || score > 100 {
		return nil, errors.InvalidInput("score", "score must be between 0 and 100")
	}

	var p *domain.Proposal
	err := s.store.InTransaction(ctx, func(tx Store) error {
		var err error
		p, err = tx.GetProposal(ctx, id)
		if err != nil {
			return err
		}
		opp, err := tx.GetOpportunity(ctx, p.OpportunityID)
		if err != nil {
			return err
		}
		cfg := domain.ConfigFor(opp.Type)

		var (
			evaluated domain.ProposalStatus
			event     domain.Event
		)
		switch stage {
		case domain.StageChallenge:
			evaluated, event = domain.PropEvaluatedChallenge, domain.EventChallengeScoreEntered
			p.Scores.Challenge = &score
		case domain.StageScenario:
			if !cfg.HasScenario() {
				return errors.Newf(errors.CodeValidation, "%s opportunities have no scenario stage", opp.Type)
			}
			evaluated, event = domain.PropEvaluatedScenario, domain.EventScenarioScoreEntered
			p.Scores.Scenario = &score
		default:
			return errors.Newf(errors.CodeValidation, "stage %s is not scored directly", stage)
		}

		now := time.Now()
		if err := tx.AppendHistory(ctx, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindProposal,
			EntityID:   id,
			CreatedAt:  now,
			CreatedBy:  actor,
			Type:       domain.EventTag(event),
		}); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, p, opp, evaluated, role, actor, ""); err != nil {
			return err
		}

		// Entering the final stage score prices the whole eligible pool.
		if evaluated == cfg.FinalEvaluatedStatus() {
			if err := s.applyPriceScores(ctx, tx, p, cfg, actor, now); err != nil {
				return err
			}
		}
		return tx.SetProposalScores(ctx, id, p.Scores)
	})
	if err != nil {
		return nil, err
	}
	countTransition(p.Status)
	return p, nil
}

// applyPriceScores recomputes price scores for every proposal in the eligible
// pool. The pool is restricted to final-stage statuses; everything else is
// excluded from the comparison, not zeroed.
func (s *ProposalService) applyPriceScores(ctx context.Context, tx Store, p *domain.Proposal, cfg domain.TypeConfig, actor uuid.UUID, now time.Time) error {
	pool := []domain.ProposalStatus{cfg.FinalUnderReviewStatus(), cfg.FinalEvaluatedStatus()}
	ids, err := tx.ProposalIDsByStatus(ctx, p.OpportunityID, pool)
	if err != nil {
		return err
	}
	bids := make([]domain.Bid, 0, len(ids))
	for _, pid := range ids {
		other, err := tx.GetProposal(ctx, pid)
		if err != nil {
			return err
		}
		bids = append(bids, domain.Bid{ProposalID: pid, Amount: other.Bid})
	}
	priceScores, err := domain.PriceScores(bids)
	if err != nil {
		return err
	}

	for pid, score := range priceScores {
		target, err := tx.GetProposal(ctx, pid)
		if err != nil {
			return err
		}
		sc := score
		target.Scores.Price = &sc
		if pid == p.ID {
			p.Scores.Price = &sc
		}
		if err := tx.SetProposalScores(ctx, pid, target.Scores); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindProposal,
			EntityID:   pid,
			CreatedAt:  now,
			CreatedBy:  actor,
			Type:       domain.EventTag(domain.EventPriceScoreEntered),
		}); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDraft hard-deletes a Draft proposal with its history.
func (s *ProposalService) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	return s.store.InTransaction(ctx, func(tx Store) error {
		p, err := tx.GetProposal(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != domain.PropDraft {
			return errors.Newf(errors.CodeConflict, "only draft proposals can be deleted, status is %s", p.Status)
		}
		return tx.DeleteDraftProposal(ctx, id)
	})
}

// ForRole returns a freshly constructed restricted view of a proposal for the
// given role. Vendors see scores and rank only once the proposal reaches
// Awarded or NotAwarded; the canonical record is never mutated.
func ForRole(p *domain.Proposal, role domain.Role) *domain.Proposal {
	view := *p
	if role == domain.RoleVendor &&
		p.Status != domain.PropAwarded && p.Status != domain.PropNotAwarded {
		view.Scores = domain.ScoreSet{}
	}
	return &view
}
