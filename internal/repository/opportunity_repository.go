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

// CreateOpportunity inserts an opportunity with its first content version.
// The Draft ledger entry is the caller's responsibility.
func (s *Store) CreateOpportunity(ctx context.Context, opp *domain.Opportunity) error {
	query := `
		INSERT INTO opportunities (id, type, created_at, created_by)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.q.Exec(ctx, query, opp.ID, opp.Type, opp.CreatedAt, opp.CreatedBy); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create opportunity")
	}
	return s.AddOpportunityVersion(ctx, opp.Version)
}

// AddOpportunityVersion appends an immutable content snapshot. Questions and
// panel are stored as JSON documents; they are read and replaced wholesale.
func (s *Store) AddOpportunityVersion(ctx context.Context, v *domain.OpportunityVersion) error {
	questionsJSON, err := json.Marshal(v.Questions)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to marshal questions")
	}
	panelJSON, err := json.Marshal(v.Panel)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to marshal panel")
	}

	query := `
		INSERT INTO opportunity_versions
		    (id, opportunity_id, title, description, budget, proposal_deadline,
		     weight_questions, weight_challenge, weight_scenario, weight_price,
		     questions, panel, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10,
		        $11, $12, $13, $14)
	`
	_, err = s.q.Exec(ctx, query,
		v.ID,
		v.OpportunityID,
		v.Title,
		v.Description,
		v.Budget,
		v.ProposalDeadline,
		v.Weights.Questions,
		v.Weights.Challenge,
		v.Weights.Scenario,
		v.Weights.Price,
		questionsJSON,
		panelJSON,
		v.CreatedAt,
		v.CreatedBy,
	)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to add opportunity version")
	}
	return nil
}

const opportunitySelect = `
	SELECT o.id, o.type, o.created_at, o.created_by,
	       COALESCE(st.status, 'DRAFT'),
	       v.id, v.title, v.description, v.budget, v.proposal_deadline,
	       v.weight_questions, v.weight_challenge, v.weight_scenario, v.weight_price,
	       v.questions, v.panel, v.created_at, v.created_by
	FROM opportunities o
	JOIN LATERAL (
		SELECT *
		FROM opportunity_versions ov
		WHERE ov.opportunity_id = o.id
		ORDER BY ov.seq DESC
		LIMIT 1
	) v ON true
	LEFT JOIN LATERAL (
		SELECT h.status
		FROM status_history h
		WHERE h.entity_kind = 'OPPORTUNITY' AND h.entity_id = o.id AND h.record_type = 'STATUS'
		ORDER BY h.seq DESC
		LIMIT 1
	) st ON true
`

// GetOpportunity returns an opportunity hydrated with its latest version and
// its ledger-derived status.
func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (*domain.Opportunity, error) {
	row := s.q.QueryRow(ctx, opportunitySelect+` WHERE o.id = $1`, id)
	opp, err := scanOpportunity(row)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NotFound("opportunity", id.String())
		}
		return nil, err
	}
	return opp, nil
}

// ListOpportunities returns all opportunities, newest first, each hydrated
// with its latest version and derived status.
func (s *Store) ListOpportunities(ctx context.Context) ([]*domain.Opportunity, error) {
	rows, err := s.q.Query(ctx, opportunitySelect+` ORDER BY o.created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list opportunities")
	}
	defer rows.Close()

	var out []*domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, opp)
	}
	return out, rows.Err()
}

func scanOpportunity(row pgx.Row) (*domain.Opportunity, error) {
	opp := &domain.Opportunity{Version: &domain.OpportunityVersion{}}
	var (
		rawStatus     string
		questionsJSON []byte
		panelJSON     []byte
	)
	err := row.Scan(
		&opp.ID,
		&opp.Type,
		&opp.CreatedAt,
		&opp.CreatedBy,
		&rawStatus,
		&opp.Version.ID,
		&opp.Version.Title,
		&opp.Version.Description,
		&opp.Version.Budget,
		&opp.Version.ProposalDeadline,
		&opp.Version.Weights.Questions,
		&opp.Version.Weights.Challenge,
		&opp.Version.Weights.Scenario,
		&opp.Version.Weights.Price,
		&questionsJSON,
		&panelJSON,
		&opp.Version.CreatedAt,
		&opp.Version.CreatedBy,
	)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to scan opportunity")
	}

	opp.Version.OpportunityID = opp.ID
	status, ok := domain.ParseOpportunityStatus(rawStatus)
	if !ok {
		return nil, errors.Newf(errors.CodeIntegrity, "opportunity %s has unknown status %q", opp.ID, rawStatus)
	}
	opp.Status = status

	if err := json.Unmarshal(questionsJSON, &opp.Version.Questions); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to unmarshal questions")
	}
	if err := json.Unmarshal(panelJSON, &opp.Version.Panel); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to unmarshal panel")
	}
	return opp, nil
}

// DeleteDraftOpportunity hard-deletes a draft with its versions and ledger.
// The service layer has already verified the status; deleting the ledger is
// legal only here because drafts are invisible to vendors.
func (s *Store) DeleteDraftOpportunity(ctx context.Context, id uuid.UUID) error {
	statements := []string{
		`DELETE FROM status_history WHERE entity_kind = 'OPPORTUNITY' AND entity_id = $1`,
		`DELETE FROM opportunity_versions WHERE opportunity_id = $1`,
		`DELETE FROM opportunities WHERE id = $1`,
	}
	for _, stmt := range statements {
		if _, err := s.q.Exec(ctx, stmt, id); err != nil {
			return errors.Wrap(err, errors.CodeInternal, "failed to delete draft opportunity")
		}
	}
	return nil
}
