package repository

import (
	"context"
	goerrors "errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
)

const proposalSelect = `
	SELECT p.id, p.opportunity_id, p.organization_id,
	       COALESCE(st.status, 'DRAFT'),
	       p.bid,
	       p.score_questions, p.score_challenge, p.score_scenario, p.score_price,
	       p.created_at, p.created_by, p.updated_at
	FROM proposals p
	LEFT JOIN LATERAL (
		SELECT h.status
		FROM status_history h
		WHERE h.entity_kind = 'PROPOSAL' AND h.entity_id = p.id AND h.record_type = 'STATUS'
		ORDER BY h.seq DESC
		LIMIT 1
	) st ON true
`

// CreateProposal inserts a proposal. The Draft ledger entry is the caller's
// responsibility.
func (s *Store) CreateProposal(ctx context.Context, p *domain.Proposal) error {
	query := `
		INSERT INTO proposals
		    (id, opportunity_id, organization_id, bid, created_at, created_by, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.Exec(ctx, query,
		p.ID,
		p.OpportunityID,
		p.OrganizationID,
		p.Bid,
		p.CreatedAt,
		p.CreatedBy,
		p.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create proposal")
	}
	return nil
}

// GetProposal returns a proposal with its ledger-derived status.
func (s *Store) GetProposal(ctx context.Context, id uuid.UUID) (*domain.Proposal, error) {
	row := s.q.QueryRow(ctx, proposalSelect+` WHERE p.id = $1`, id)
	p, err := scanProposal(row)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("proposal", id.String())
		}
		return nil, err
	}
	return p, nil
}

// ListProposals returns all proposals for an opportunity, oldest first.
func (s *Store) ListProposals(ctx context.Context, opportunityID uuid.UUID) ([]*domain.Proposal, error) {
	rows, err := s.q.Query(ctx, proposalSelect+` WHERE p.opportunity_id = $1 ORDER BY p.created_at ASC`, opportunityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list proposals")
	}
	defer rows.Close()

	var out []*domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProposalIDsByStatus returns the ids of an opportunity's proposals whose
// derived status is in the given set. Cascades use this as their batch
// predicate instead of filtering row by row.
func (s *Store) ProposalIDsByStatus(ctx context.Context, opportunityID uuid.UUID, statuses []domain.ProposalStatus) ([]uuid.UUID, error) {
	raw := make([]string, len(statuses))
	for i, st := range statuses {
		raw[i] = string(st)
	}

	query := `
		SELECT p.id
		FROM proposals p
		JOIN LATERAL (
			SELECT h.status
			FROM status_history h
			WHERE h.entity_kind = 'PROPOSAL' AND h.entity_id = p.id AND h.record_type = 'STATUS'
			ORDER BY h.seq DESC
			LIMIT 1
		) st ON true
		WHERE p.opportunity_id = $1 AND st.status = ANY($2)
		ORDER BY p.created_at ASC
	`

	rows, err := s.q.Query(ctx, query, opportunityID, raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to select proposals by status")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan proposal id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// OrganizationHasProposal reports whether an organization already has any
// proposal on the opportunity, regardless of status.
func (s *Store) OrganizationHasProposal(ctx context.Context, opportunityID, organizationID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM proposals
			WHERE opportunity_id = $1 AND organization_id = $2
		)
	`
	var exists bool
	if err := s.q.QueryRow(ctx, query, opportunityID, organizationID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, errors.CodeInternal, "failed to check existing proposal")
	}
	return exists, nil
}

// SetProposalScores replaces a proposal's stored component scores.
func (s *Store) SetProposalScores(ctx context.Context, proposalID uuid.UUID, scores domain.ScoreSet) error {
	query := `
		UPDATE proposals
		SET score_questions = $2,
		    score_challenge = $3,
		    score_scenario = $4,
		    score_price = $5,
		    updated_at = now()
		WHERE id = $1
	`
	tag, err := s.q.Exec(ctx, query, proposalID, scores.Questions, scores.Challenge, scores.Scenario, scores.Price)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to set proposal scores")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("proposal", proposalID.String())
	}
	return nil
}

// DeleteDraftProposal hard-deletes a draft proposal and its ledger.
func (s *Store) DeleteDraftProposal(ctx context.Context, id uuid.UUID) error {
	statements := []string{
		`DELETE FROM status_history WHERE entity_kind = 'PROPOSAL' AND entity_id = $1`,
		`DELETE FROM proposals WHERE id = $1`,
	}
	for _, stmt := range statements {
		if _, err := s.q.Exec(ctx, stmt, id); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "failed to delete draft proposal")
		}
	}
	return nil
}

func scanProposal(row pgx.Row) (*domain.Proposal, error) {
	p := &domain.Proposal{}
	var rawStatus string
	err := row.Scan(
		&p.ID,
		&p.OpportunityID,
		&p.OrganizationID,
		&rawStatus,
		&p.Bid,
		&p.Scores.Questions,
		&p.Scores.Challenge,
		&p.Scores.Scenario,
		&p.Scores.Price,
		&p.CreatedAt,
		&p.CreatedBy,
		&p.UpdatedAt,
	)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan proposal")
	}

	status, ok := domain.ParseProposalStatus(rawStatus)
	if !ok {
		return nil, errors.Newf(errors.CodeIntegrity, "proposal %s has unknown status %q", p.ID, rawStatus)
	}
	p.Status = status
	return p, nil
}
