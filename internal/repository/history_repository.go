package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
)

// Ledger record type discriminators.
const (
	recordStatus = "STATUS"
	recordEvent  = "EVENT"
)

// AppendHistory inserts one ledger entry. The database assigns seq from a
// single sequence shared by every entity kind, so seq ordering is total.
func (s *Store) AppendHistory(ctx context.Context, rec *domain.HistoryRecord) error {
	recordType, status, event := splitHistoryType(rec.Type)

	query := `
		INSERT INTO status_history
		    (id, entity_kind, entity_id, record_type, status, event, note, created_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`

	err := s.q.QueryRow(ctx, query,
		rec.ID,
		rec.EntityKind,
		rec.EntityID,
		recordType,
		status,
		event,
		rec.Note,
		rec.CreatedAt,
		rec.CreatedBy,
	).Scan(&rec.Seq)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to append history record")
	}
	return nil
}

// AppendHistoryBatch inserts the records in order. Used by cascades so a batch
// of derived transitions lands with contiguous sequence numbers.
func (s *Store) AppendHistoryBatch(ctx context.Context, recs []*domain.HistoryRecord) error {
	for _, rec := range recs {
		if err := s.AppendHistory(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// History returns an entity's ledger, newest first.
func (s *Store) History(ctx context.Context, kind domain.EntityKind, entityID uuid.UUID) ([]domain.HistoryRecord, error) {
	query := `
		SELECT id, entity_kind, entity_id, seq, record_type, status, event, note, created_at, created_by
		FROM status_history
		WHERE entity_kind = $1 AND entity_id = $2
		ORDER BY seq DESC
	`

	rows, err := s.q.Query(ctx, query, kind, entityID)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to get history")
	}
	defer rows.Close()

	var recs []domain.HistoryRecord
	for rows.Next() {
		rec, err := scanHistoryRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func splitHistoryType(t domain.HistoryType) (recordType string, status, event *string) {
	if v, ok := t.Status(); ok {
		return recordStatus, &v, nil
	}
	e, _ := t.Event()
	v := string(e)
	return recordEvent, nil, &v
}

func scanHistoryRecord(row pgx.Row) (domain.HistoryRecord, error) {
	var (
		rec        domain.HistoryRecord
		recordType string
		status     *string
		event      *string
	)
	err := row.Scan(
		&rec.ID,
		&rec.EntityKind,
		&rec.EntityID,
		&rec.Seq,
		&recordType,
		&status,
		&event,
		&rec.Note,
		&rec.CreatedAt,
		&rec.CreatedBy,
	)
	if err != nil {
		return rec, errors.Wrap(err, errors.CodeInternal, "failed to scan history record")
	}

	if recordType == recordStatus && status != nil {
		rec.Type = domain.StatusChange(*status)
	} else if event != nil {
		rec.Type = domain.EventTag(domain.Event(*event))
	}
	return rec, nil
}
