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

// OpportunityService owns the opportunity lifecycle: drafts, immutable
// content versions, and ledger-backed status transitions.
type OpportunityService struct {
	store    Store
	notifier Notifier
	log      *logger.Logger
}

// NewOpportunityService creates a new OpportunityService.
func NewOpportunityService(store Store, notifier Notifier, log *logger.Logger) *OpportunityService {
	return &OpportunityService{store: store, notifier: notifier, log: log}
}

// CreateOpportunityRequest carries a new draft opportunity.
type CreateOpportunityRequest struct {
	Type             domain.OpportunityType
	Title            string
	Description      string
	Budget           int64
	ProposalDeadline time.Time
	Weights          domain.Weights
	Questions        []domain.Question
	Panel            []domain.PanelMember
	Actor            uuid.UUID
}

func validateVersionContent(cfg domain.TypeConfig, title string, deadline time.Time, w domain.Weights, panel []domain.PanelMember) error {
	if title == "" {
		return errors.InvalidInput("title", "title is required")
	}
	if deadline.IsZero() {
		return errors.InvalidInput("proposal_deadline", "proposal deadline is required")
	}
	if err := w.Validate(cfg); err != nil {
		return err
	}
	chairs := 0
	for _, m := range panel {
		if m.Chair {
			chairs++
		}
	}
	if chairs != 1 {
		return errors.InvalidInput("panel", "evaluation panel requires exactly one chair")
	}
	return nil
}

// Create inserts a Draft opportunity with its first version.
func (s *OpportunityService) Create(ctx context.Context, req *CreateOpportunityRequest) (*domain.Opportunity, error) {
	cfg := domain.ConfigFor(req.Type)
	if err := validateVersionContent(cfg, req.Title, req.ProposalDeadline, req.Weights, req.Panel); err != nil {
		return nil, err
	}

	now := time.Now()
	opp := &domain.Opportunity{
		ID:        uuid.New(),
		Type:      cfg.Type,
		Status:    domain.OppDraft,
		CreatedAt: now,
		CreatedBy: req.Actor,
		Version: &domain.OpportunityVersion{
			ID:               uuid.New(),
			Title:            req.Title,
			Description:      req.Description,
			Budget:           req.Budget,
			ProposalDeadline: req.ProposalDeadline,
			Weights:          req.Weights,
			Questions:        req.Questions,
			Panel:            req.Panel,
			CreatedAt:        now,
			CreatedBy:        req.Actor,
		},
	}
	opp.Version.OpportunityID = opp.ID

	err := s.store.InTransaction(ctx, func(tx Store) error {
		if err := tx.CreateOpportunity(ctx, opp); err != nil {
			return err
		}
		return tx.AppendHistory(ctx, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindOpportunity,
			EntityID:   opp.ID,
			CreatedAt:  now,
			CreatedBy:  req.Actor,
			Type:       domain.StatusChange(string(domain.OppDraft)),
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("opportunity_id", opp.ID.String()).Str("type", string(opp.Type)).Msg("Opportunity created")
	return opp, nil
}

// Edit appends a new immutable content version and an Edited event. The
// evaluation panel is replaced wholesale, never diffed.
func (s *OpportunityService) Edit(ctx context.Context, id uuid.UUID, req *CreateOpportunityRequest) (*domain.Opportunity, error) {
	var opp *domain.Opportunity
	err := s.store.InTransaction(ctx, func(tx Store) error {
		var err error
		opp, err = tx.GetOpportunity(ctx, id)
		if err != nil {
			return err
		}
		cfg := domain.ConfigFor(opp.Type)
		if opp.Status.IsTerminal() {
			return errors.Newf(errors.CodeConflict, "opportunity in status %s cannot be edited", opp.Status)
		}
		if err := validateVersionContent(cfg, req.Title, req.ProposalDeadline, req.Weights, req.Panel); err != nil {
			return err
		}

		now := time.Now()
		v := &domain.OpportunityVersion{
			ID:               uuid.New(),
			OpportunityID:    id,
			Title:            req.Title,
			Description:      req.Description,
			Budget:           req.Budget,
			ProposalDeadline: req.ProposalDeadline,
			Weights:          req.Weights,
			Questions:        req.Questions,
			Panel:            req.Panel,
			CreatedAt:        now,
			CreatedBy:        req.Actor,
		}
		if err := tx.AddOpportunityVersion(ctx, v); err != nil {
			return err
		}
		opp.Version = v
		return tx.AppendHistory(ctx, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindOpportunity,
			EntityID:   id,
			CreatedAt:  now,
			CreatedBy:  req.Actor,
			Type:       domain.EventTag(domain.EventEdited),
		})
	})
	if err != nil {
		return nil, err
	}
	return opp, nil
}

// Get returns an opportunity with its derived status.
func (s *OpportunityService) Get(ctx context.Context, id uuid.UUID) (*domain.Opportunity, error) {
	return s.store.GetOpportunity(ctx, id)
}

// List returns opportunities visible to the role, newest first. Drafts and
// opportunities still in pre-publication review are hidden from vendors and
// evaluators.
func (s *OpportunityService) List(ctx context.Context, role domain.Role) ([]*domain.Opportunity, error) {
	opps, err := s.store.ListOpportunities(ctx)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleAdmin || role == domain.RoleGovernment {
		return opps, nil
	}
	visible := make([]*domain.Opportunity, 0, len(opps))
	for _, o := range opps {
		switch o.Status {
		case domain.OppDraft, domain.OppUnderReview:
		default:
			visible = append(visible, o)
		}
	}
	return visible, nil
}

// History returns the opportunity's ledger, newest first.
func (s *OpportunityService) History(ctx context.Context, id uuid.UUID) ([]domain.HistoryRecord, error) {
	return s.store.History(ctx, domain.KindOpportunity, id)
}

// Transition moves an opportunity to a requested status through the
// transition validator, cascading side effects where the graph requires them.
// Closing an opportunity (Published → individual evaluation) moves every
// Submitted proposal under review, and entering the scenario stage moves
// every challenge-evaluated proposal under scenario review, each in the same
// transaction as the opportunity record.
func (s *OpportunityService) Transition(ctx context.Context, id uuid.UUID, requested domain.OpportunityStatus, role domain.Role, actor uuid.UUID, note string) (*domain.Opportunity, error) {
	var opp *domain.Opportunity
	err := s.store.InTransaction(ctx, func(tx Store) error {
		var err error
		opp, err = tx.GetOpportunity(ctx, id)
		if err != nil {
			return err
		}
		cfg := domain.ConfigFor(opp.Type)
		if !domain.CanTransitionOpportunity(cfg, opp.Status, requested, role) {
			return errors.Newf(errors.CodePermission, "status change %s -> %s is not permitted", opp.Status, requested)
		}

		now := time.Now()
		if err := tx.AppendHistory(ctx, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindOpportunity,
			EntityID:   id,
			CreatedAt:  now,
			CreatedBy:  actor,
			Type:       domain.StatusChange(string(requested)),
			Note:       note,
		}); err != nil {
			return err
		}

		if opp.Status == domain.OppPublished && requested == domain.OppEvalQuestionsIndividual {
			if err := s.cascadeProposals(ctx, tx, id, domain.PropSubmitted, domain.PropUnderReviewQuestions, actor, now); err != nil {
				return err
			}
		}
		if opp.Status == domain.OppEvalChallenge && requested == domain.OppEvalScenario {
			if err := s.cascadeProposals(ctx, tx, id, domain.PropEvaluatedChallenge, domain.PropUnderReviewScenario, actor, now); err != nil {
				return err
			}
		}
		opp.Status = requested
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.StatusTransitions.WithLabelValues(string(domain.KindOpportunity), string(requested)).Inc()
	switch requested {
	case domain.OppPublished:
		s.notifier.Publish(ctx, EventOpportunityPublished, id, actor, nil)
	case domain.OppUnderReview:
		s.notifier.Publish(ctx, EventOpportunityUnderReview, id, actor, nil)
	case domain.OppCancelled:
		s.notifier.Publish(ctx, EventOpportunityCancelled, id, actor, map[string]any{"note": note})
	}
	return opp, nil
}

// cascadeProposals batch-moves every proposal currently in from to the next
// stage status, selected with one predicate over derived status.
func (s *OpportunityService) cascadeProposals(ctx context.Context, tx Store, opportunityID uuid.UUID, from, to domain.ProposalStatus, actor uuid.UUID, now time.Time) error {
	ids, err := tx.ProposalIDsByStatus(ctx, opportunityID, []domain.ProposalStatus{from})
	if err != nil {
		return err
	}
	recs := make([]*domain.HistoryRecord, 0, len(ids))
	for _, pid := range ids {
		recs = append(recs, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindProposal,
			EntityID:   pid,
			CreatedAt:  now,
			CreatedBy:  actor,
			Type:       domain.StatusChange(string(to)),
		})
	}
	return tx.AppendHistoryBatch(ctx, recs)
}

// AddNote appends a NoteAdded event to the ledger.
func (s *OpportunityService) AddNote(ctx context.Context, id uuid.UUID, actor uuid.UUID, note string) error {
	if note == "" {
		return errors.InvalidInput("note", "note is required")
	}
	return s.store.AppendHistory(ctx, &domain.HistoryRecord{
		ID:         uuid.New(),
		EntityKind: domain.KindOpportunity,
		EntityID:   id,
		CreatedAt:  time.Now(),
		CreatedBy:  actor,
		Type:       domain.EventTag(domain.EventNoteAdded),
		Note:       note,
	})
}

// AddAddendum appends an AddendumAdded event to the ledger.
func (s *OpportunityService) AddAddendum(ctx context.Context, id uuid.UUID, actor uuid.UUID, text string) error {
	if text == "" {
		return errors.InvalidInput("addendum", "addendum text is required")
	}
	return s.store.AppendHistory(ctx, &domain.HistoryRecord{
		ID:         uuid.New(),
		EntityKind: domain.KindOpportunity,
		EntityID:   id,
		CreatedAt:  time.Now(),
		CreatedBy:  actor,
		Type:       domain.EventTag(domain.EventAddendumAdded),
		Note:       text,
	})
}

// DeleteDraft hard-deletes a Draft opportunity with its versions and history.
// Drafts are the only hard-deletable entities.
func (s *OpportunityService) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	return s.store.InTransaction(ctx, func(tx Store) error {
		opp, err := tx.GetOpportunity(ctx, id)
		if err != nil {
			return err
		}
		if opp.Status != domain.OppDraft {
			return errors.Newf(errors.CodeConflict, "only draft opportunities can be deleted, status is %s", opp.Status)
		}
		return tx.DeleteDraftOpportunity(ctx, id)
	})
}
