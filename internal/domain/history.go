package domain

import (
	"time"

	"github.com/google/uuid"
)

// HistoryType is a two-variant tagged union: a ledger entry records either a
// status change or an event, never both. Values are constructed once at the
// ledger boundary via StatusChange or EventTag.
type HistoryType struct {
	isStatus bool
	status   string
	event    Event
}

// StatusChange constructs the status variant. The raw status string belongs
// to the entity kind of the enclosing record.
func StatusChange(status string) HistoryType {
	return HistoryType{isStatus: true, status: status}
}

// EventTag constructs the event variant.
func EventTag(e Event) HistoryType {
	return HistoryType{event: e}
}

// Status returns the status value when this is the status variant.
func (t HistoryType) Status() (string, bool) {
	return t.status, t.isStatus
}

// Event returns the event value when this is the event variant.
func (t HistoryType) Event() (Event, bool) {
	if t.isStatus {
		return "", false
	}
	return t.event, true
}

// IsStatus reports the variant.
func (t HistoryType) IsStatus() bool { return t.isStatus }

// HistoryRecord is one immutable ledger entry. Seq is assigned by the store
// from a monotonic sequence; it, not CreatedAt, is the ordering authority.
type HistoryRecord struct {
	ID         uuid.UUID   `json:"id"`
	EntityKind EntityKind  `json:"entityKind"`
	EntityID   uuid.UUID   `json:"entityId"`
	Seq        int64       `json:"-"`
	CreatedAt  time.Time   `json:"createdAt"`
	CreatedBy  uuid.UUID   `json:"createdBy"`
	Type       HistoryType `json:"-"`
	Note       string      `json:"note"`
}

// LatestStatus derives the current status from a ledger slice: the
// status-tagged record with the largest sequence number. Every code path that
// needs "current status" goes through here so the insertion-order tie-break
// is applied consistently.
func LatestStatus(records []HistoryRecord) (string, bool) {
	var (
		best    string
		bestSeq int64 = -1
		found   bool
	)
	for _, r := range records {
		s, ok := r.Type.Status()
		if !ok {
			continue
		}
		if r.Seq > bestSeq {
			best = s
			bestSeq = r.Seq
			found = true
		}
	}
	return best, found
}

// LatestOpportunityStatus derives and narrows the current opportunity status.
func LatestOpportunityStatus(records []HistoryRecord) (OpportunityStatus, bool) {
	raw, ok := LatestStatus(records)
	if !ok {
		return "", false
	}
	return ParseOpportunityStatus(raw)
}

// LatestProposalStatus derives and narrows the current proposal status.
func LatestProposalStatus(records []HistoryRecord) (ProposalStatus, bool) {
	raw, ok := LatestStatus(records)
	if !ok {
		return "", false
	}
	return ParseProposalStatus(raw)
}
