package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
	"github.com/openprocure/be-marketplace/internal/logger"
	"github.com/openprocure/be-marketplace/internal/metrics"
)

// ConsensusService coordinates panel evaluation rounds: individual evaluator
// submissions, round-completeness detection, and consensus finalization with
// minimum-score screening.
type ConsensusService struct {
	store    Store
	notifier Notifier
	log      *logger.Logger
}

// NewConsensusService creates a new ConsensusService.
func NewConsensusService(store Store, notifier Notifier, log *logger.Logger) *ConsensusService {
	return &ConsensusService{store: store, notifier: notifier, log: log}
}

// SubmitEvaluationRequest carries one evaluator's scores for one proposal.
type SubmitEvaluationRequest struct {
	ProposalID uuid.UUID
	Evaluator  uuid.UUID
	Stage      domain.EvaluationStage
	Scores     []domain.QuestionScore
	Note       string
}

// SubmitEvaluation records a Submitted evaluation for a proposal. When the
// submission completes the individual round, every active proposal and the
// opportunity advance to the consensus stage in the same transaction.
// Completeness is always recomputed from the ledger: evaluators may resubmit
// and proposals may leave the round, so no counter can be trusted.
func (s *ConsensusService) SubmitEvaluation(ctx context.Context, req *SubmitEvaluationRequest) (*domain.Evaluation, error) {
	var eval *domain.Evaluation
	err := s.store.InTransaction(ctx, func(tx Store) error {
		p, err := tx.GetProposal(ctx, req.ProposalID)
		if err != nil {
			return err
		}
		opp, err := tx.GetOpportunity(ctx, p.OpportunityID)
		if err != nil {
			return err
		}
		cfg := domain.ConfigFor(opp.Type)

		if err := s.validateSubmission(opp, cfg, req); err != nil {
			return err
		}

		now := time.Now()
		eval, err = tx.GetEvaluation(ctx, req.ProposalID, req.Evaluator, req.Stage)
		if err != nil && !errors.Is(err, errors.CodeNotFound) {
			return err
		}
		if eval == nil {
			eval = &domain.Evaluation{
				ID:            uuid.New(),
				ProposalID:    req.ProposalID,
				OpportunityID: p.OpportunityID,
				EvaluatorID:   req.Evaluator,
				Stage:         req.Stage,
				CreatedAt:     now,
			}
		}
		eval.Scores = req.Scores
		eval.Status = domain.EvalSubmitted
		eval.UpdatedAt = now
		if err := tx.UpsertEvaluation(ctx, eval); err != nil {
			return err
		}
		if err := tx.AppendHistory(ctx, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindEvaluation,
			EntityID:   eval.ID,
			CreatedAt:  now,
			CreatedBy:  req.Evaluator,
			Type:       domain.StatusChange(string(domain.EvalSubmitted)),
			Note:       req.Note,
		}); err != nil {
			return err
		}

		if req.Stage != domain.EvaluationIndividual {
			return nil
		}
		complete, err := s.isRoundComplete(ctx, tx, opp, cfg)
		if err != nil {
			return err
		}
		if complete {
			return s.advanceToConsensus(ctx, tx, opp, req.Evaluator, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return eval, nil
}

func (s *ConsensusService) validateSubmission(opp *domain.Opportunity, cfg domain.TypeConfig, req *SubmitEvaluationRequest) error {
	switch req.Stage {
	case domain.EvaluationIndividual:
		if opp.Status != domain.OppEvalQuestionsIndividual {
			return errors.Newf(errors.CodeConflict, "opportunity is not in the individual evaluation stage (status %s)", opp.Status)
		}
		member, ok := findPanelMember(opp.Version, req.Evaluator)
		if !ok {
			return errors.Permission("user is not on the evaluation panel")
		}
		if member.Chair && !cfg.ChairEvaluatesIndividually {
			return errors.Permission("the chair does not submit individual evaluations for this opportunity type")
		}
	case domain.EvaluationConsensus:
		if opp.Status != domain.OppEvalQuestionsConsensus {
			return errors.Newf(errors.CodeConflict, "opportunity is not in the consensus stage (status %s)", opp.Status)
		}
		chair, ok := opp.Version.Chair()
		if !ok || chair.UserID != req.Evaluator {
			return errors.Permission("only the panel chair submits consensus evaluations")
		}
	default:
		return errors.InvalidInput("stage", "unknown evaluation stage")
	}

	for _, q := range opp.Version.Questions {
		sc, ok := scoreFor(req.Scores, q.Order)
		if !ok {
			return errors.Newf(errors.CodeValidation, "missing score for question %d", q.Order)
		}
		if sc.Score < 0 || sc.Score > q.Score {
			return errors.Newf(errors.CodeValidation, "score for question %d must be between 0 and %g", q.Order, q.Score)
		}
	}
	return nil
}

// IsRoundComplete reports whether every required panel member has a Submitted
// individual evaluation for every proposal still active in the round.
func (s *ConsensusService) IsRoundComplete(ctx context.Context, opportunityID uuid.UUID) (bool, error) {
	opp, err := s.store.GetOpportunity(ctx, opportunityID)
	if err != nil {
		return false, err
	}
	return s.isRoundComplete(ctx, s.store, opp, domain.ConfigFor(opp.Type))
}

func (s *ConsensusService) isRoundComplete(ctx context.Context, tx Store, opp *domain.Opportunity, cfg domain.TypeConfig) (bool, error) {
	active, err := tx.ProposalIDsByStatus(ctx, opp.ID, []domain.ProposalStatus{domain.PropUnderReviewQuestions})
	if err != nil {
		return false, err
	}
	if len(active) == 0 {
		return false, nil
	}
	evaluators := opp.Version.Evaluators(cfg)
	if len(evaluators) == 0 {
		return false, nil
	}

	evals, err := tx.ListEvaluations(ctx, opp.ID, domain.EvaluationIndividual)
	if err != nil {
		return false, err
	}
	submitted := make(map[uuid.UUID]map[uuid.UUID]bool)
	for _, e := range evals {
		if e.Status != domain.EvalSubmitted {
			continue
		}
		if submitted[e.ProposalID] == nil {
			submitted[e.ProposalID] = make(map[uuid.UUID]bool)
		}
		submitted[e.ProposalID][e.EvaluatorID] = true
	}

	for _, pid := range active {
		for _, m := range evaluators {
			if !submitted[pid][m.UserID] {
				return false, nil
			}
		}
	}
	return true, nil
}

func (s *ConsensusService) advanceToConsensus(ctx context.Context, tx Store, opp *domain.Opportunity, actor uuid.UUID, now time.Time) error {
	active, err := tx.ProposalIDsByStatus(ctx, opp.ID, []domain.ProposalStatus{domain.PropUnderReviewQuestions})
	if err != nil {
		return err
	}
	recs := make([]*domain.HistoryRecord, 0, len(active)+1)
	for _, pid := range active {
		recs = append(recs, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindProposal,
			EntityID:   pid,
			CreatedAt:  now,
			CreatedBy:  actor,
			Type:       domain.StatusChange(string(domain.PropQuestionsConsensus)),
		})
	}
	recs = append(recs, &domain.HistoryRecord{
		ID:         uuid.New(),
		EntityKind: domain.KindOpportunity,
		EntityID:   opp.ID,
		CreatedAt:  now,
		CreatedBy:  actor,
		Type:       domain.StatusChange(string(domain.OppEvalQuestionsConsensus)),
	})
	return tx.AppendHistoryBatch(ctx, recs)
}

// FinalizeConsensus closes the consensus round: every active proposal must
// have a Submitted consensus evaluation, at least one proposal must pass the
// minimum-score screen, the top-K screenable proposals advance to the
// challenge stage and the rest are marked evaluated. All validation happens
// before the first write; any failure aborts the whole operation.
func (s *ConsensusService) FinalizeConsensus(ctx context.Context, opportunityID uuid.UUID, role domain.Role, actor uuid.UUID, note string) (*domain.Opportunity, error) {
	var opp *domain.Opportunity
	err := s.store.InTransaction(ctx, func(tx Store) error {
		var err error
		opp, err = tx.GetOpportunity(ctx, opportunityID)
		if err != nil {
			return err
		}
		cfg := domain.ConfigFor(opp.Type)
		if !domain.CanTransitionOpportunity(cfg, opp.Status, domain.OppEvalChallenge, role) {
			return errors.Newf(errors.CodePermission, "status change %s -> %s is not permitted", opp.Status, domain.OppEvalChallenge)
		}

		active, err := tx.ProposalIDsByStatus(ctx, opportunityID, []domain.ProposalStatus{domain.PropQuestionsConsensus})
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return errors.New(errors.CodeConflict, "no proposals are awaiting consensus")
		}

		chair, ok := opp.Version.Chair()
		if !ok {
			return errors.New(errors.CodeIntegrity, "opportunity panel has no chair")
		}

		// Gather the chair's consensus evaluation for every active proposal
		// and compute scores before writing anything.
		type finalized struct {
			proposalID uuid.UUID
			eval       *domain.Evaluation
			questions  float64
			screenable bool
		}
		results := make([]finalized, 0, len(active))
		candidates := make([]domain.ScreenCandidate, 0, len(active))
		for _, pid := range active {
			eval, err := tx.GetEvaluation(ctx, pid, chair.UserID, domain.EvaluationConsensus)
			if err != nil {
				if errors.Is(err, errors.CodeNotFound) {
					return errors.Newf(errors.CodeConflict, "proposal %s has no submitted consensus evaluation", pid)
				}
				return err
			}
			if eval.Status != domain.EvalSubmitted {
				return errors.Newf(errors.CodeConflict, "consensus evaluation for proposal %s is not submitted", pid)
			}
			qScore, err := domain.ScoreQuestions(eval.Scores, opp.Version.Questions)
			if err != nil {
				return err
			}
			screenable := domain.Screenable(eval, opp.Version.Questions)
			results = append(results, finalized{pid, eval, qScore, screenable})
			if screenable {
				candidates = append(candidates, domain.ScreenCandidate{ProposalID: pid, QuestionsScore: qScore})
			}
		}
		if len(candidates) == 0 {
			return errors.New(errors.CodeConflict, "at least one proposal must pass the minimum-score screen")
		}
		screenedIn := domain.SelectScreenIn(candidates, cfg.ScreenInCount)

		now := time.Now()
		for _, r := range results {
			p, err := tx.GetProposal(ctx, r.proposalID)
			if err != nil {
				return err
			}
			q := r.questions
			p.Scores.Questions = &q
			if err := tx.SetProposalScores(ctx, r.proposalID, p.Scores); err != nil {
				return err
			}
			if err := tx.AppendHistory(ctx, &domain.HistoryRecord{
				ID:         uuid.New(),
				EntityKind: domain.KindProposal,
				EntityID:   r.proposalID,
				CreatedAt:  now,
				CreatedBy:  actor,
				Type:       domain.EventTag(domain.EventQuestionsScoreEntered),
				Note:       consensusScoreNote(r.eval, opp.Version.Questions),
			}); err != nil {
				return err
			}

			next := domain.PropEvaluatedQuestions
			if screenedIn[r.proposalID] {
				next = domain.PropUnderReviewChallenge
			}
			if err := tx.AppendHistory(ctx, &domain.HistoryRecord{
				ID:         uuid.New(),
				EntityKind: domain.KindProposal,
				EntityID:   r.proposalID,
				CreatedAt:  now,
				CreatedBy:  actor,
				Type:       domain.StatusChange(string(next)),
			}); err != nil {
				return err
			}
		}

		opp.Status = domain.OppEvalChallenge
		return tx.AppendHistory(ctx, &domain.HistoryRecord{
			ID:         uuid.New(),
			EntityKind: domain.KindOpportunity,
			EntityID:   opportunityID,
			CreatedAt:  now,
			CreatedBy:  actor,
			Type:       domain.StatusChange(string(domain.OppEvalChallenge)),
			Note:       note,
		})
	})
	if err != nil {
		return nil, err
	}

	metrics.ConsensusRounds.WithLabelValues(string(opp.Type)).Inc()
	s.notifier.Publish(ctx, EventConsensusSubmitted, opportunityID, actor, nil)
	s.log.Info().
		Str("opportunity_id", opportunityID.String()).
		Msg("Question consensus finalized")
	return opp, nil
}

// consensusScoreNote renders per-question consensus scores as the
// human-readable ledger note.
func consensusScoreNote(eval *domain.Evaluation, questions []domain.Question) string {
	parts := make([]string, 0, len(questions))
	for _, q := range questions {
		if sc, ok := eval.ScoreFor(q.Order); ok {
			parts = append(parts, fmt.Sprintf("Q%d: %g/%g", q.Order+1, sc.Score, q.Score))
		}
	}
	return "Consensus scores entered. " + strings.Join(parts, ", ")
}

func findPanelMember(v *domain.OpportunityVersion, userID uuid.UUID) (domain.PanelMember, bool) {
	for _, m := range v.Panel {
		if m.UserID == userID {
			return m, true
		}
	}
	return domain.PanelMember{}, false
}

func scoreFor(scores []domain.QuestionScore, order int) (domain.QuestionScore, bool) {
	for _, s := range scores {
		if s.Order == order {
			return s, true
		}
	}
	return domain.QuestionScore{}, false
}
