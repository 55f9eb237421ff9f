package repository

import (
	"context"
	"encoding/json"
	goerrors "errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
)

const evaluationSelect = `
	SELECT e.id, e.proposal_id, e.opportunity_id, e.evaluator_id, e.stage,
	       COALESCE(st.status, 'DRAFT'),
	       e.scores, e.created_at, e.updated_at
	FROM evaluations e
	LEFT JOIN LATERAL (
		SELECT h.status
		FROM status_history h
		WHERE h.entity_kind = 'EVALUATION' AND h.entity_id = e.id AND h.record_type = 'STATUS'
		ORDER BY h.seq DESC
		LIMIT 1
	) st ON true
`

// UpsertEvaluation inserts or replaces an evaluation's scores. One row exists
// per (proposal, evaluator, stage); resubmission overwrites scores while the
// ledger keeps every submission entry.
func (s *Store) UpsertEvaluation(ctx context.Context, e *domain.Evaluation) error {
	scoresJSON, err := json.Marshal(e.Scores)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to marshal evaluation scores")
	}

	query := `
		INSERT INTO evaluations
		    (id, proposal_id, opportunity_id, evaluator_id, stage, scores, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (proposal_id, evaluator_id, stage)
		DO UPDATE SET scores = EXCLUDED.scores, updated_at = EXCLUDED.updated_at
	`
	_, err = s.q.Exec(ctx, query,
		e.ID,
		e.ProposalID,
		e.OpportunityID,
		e.EvaluatorID,
		e.Stage,
		scoresJSON,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to upsert evaluation")
	}
	return nil
}

// GetEvaluation returns one evaluator's evaluation of a proposal for a stage.
func (s *Store) GetEvaluation(ctx context.Context, proposalID, evaluatorID uuid.UUID, stage domain.EvaluationStage) (*domain.Evaluation, error) {
	row := s.q.QueryRow(ctx,
		evaluationSelect+` WHERE e.proposal_id = $1 AND e.evaluator_id = $2 AND e.stage = $3`,
		proposalID, evaluatorID, stage)

	e, err := scanEvaluation(row)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("evaluation", proposalID.String())
		}
		return nil, err
	}
	return e, nil
}

// ListEvaluations returns every evaluation for an opportunity and stage.
func (s *Store) ListEvaluations(ctx context.Context, opportunityID uuid.UUID, stage domain.EvaluationStage) ([]*domain.Evaluation, error) {
	rows, err := s.q.Query(ctx,
		evaluationSelect+` WHERE e.opportunity_id = $1 AND e.stage = $2 ORDER BY e.created_at ASC`,
		opportunityID, stage)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list evaluations")
	}
	defer rows.Close()

	var out []*domain.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvaluation(row pgx.Row) (*domain.Evaluation, error) {
	e := &domain.Evaluation{}
	var (
		rawStatus  string
		scoresJSON []byte
	)
	err := row.Scan(
		&e.ID,
		&e.ProposalID,
		&e.OpportunityID,
		&e.EvaluatorID,
		&e.Stage,
		&rawStatus,
		&scoresJSON,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan evaluation")
	}

	e.Status = domain.EvaluationStatus(rawStatus)
	if err := json.Unmarshal(scoresJSON, &e.Scores); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to unmarshal evaluation scores")
	}
	return e, nil
}
