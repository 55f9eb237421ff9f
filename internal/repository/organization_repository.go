package repository

import (
	"context"
	goerrors "errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
)

// OrganizationQualified reports whether an organization currently holds the
// qualification for an opportunity type. Submission paths call this at commit
// time, not at draft time, so a lapsed qualification blocks the submit.
func (s *Store) OrganizationQualified(ctx context.Context, organizationID uuid.UUID, t domain.OpportunityType) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM organization_qualifications
			WHERE organization_id = $1 AND opportunity_type = $2 AND revoked_at IS NULL
		)
	`
	var qualified bool
	err := s.q.QueryRow(ctx, query, organizationID, t).Scan(&qualified)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.CodeInternal, "failed to check organization qualification")
	}
	return qualified, nil
}
