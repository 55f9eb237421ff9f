package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
	"github.com/openprocure/be-marketplace/internal/logger"
)

// fakeStore is an in-memory Store. Like the Postgres implementation it keeps
// no status columns: every status is derived from the ledger on read, and
// InTransaction restores a snapshot when the callback fails.
type fakeStore struct {
	opportunities map[uuid.UUID]*domain.Opportunity
	proposals     map[uuid.UUID]*domain.Proposal
	evaluations   map[string]*domain.Evaluation
	history       []domain.HistoryRecord
	qualified     map[uuid.UUID]map[domain.OpportunityType]bool
	seq           int64
	failures      map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		opportunities: make(map[uuid.UUID]*domain.Opportunity),
		proposals:     make(map[uuid.UUID]*domain.Proposal),
		evaluations:   make(map[string]*domain.Evaluation),
		qualified:     make(map[uuid.UUID]map[domain.OpportunityType]bool),
		failures:      make(map[string]error),
	}
}

func (s *fakeStore) failOn(method string, err error) { s.failures[method] = err }

func (s *fakeStore) qualify(org uuid.UUID, t domain.OpportunityType) {
	if s.qualified[org] == nil {
		s.qualified[org] = make(map[domain.OpportunityType]bool)
	}
	s.qualified[org][t] = true
}

func (s *fakeStore) disqualifyOrg(org uuid.UUID, t domain.OpportunityType) {
	if s.qualified[org] != nil {
		s.qualified[org][t] = false
	}
}

func evalKey(proposalID, evaluatorID uuid.UUID, stage domain.EvaluationStage) string {
	return fmt.Sprintf("%s|%s|%s", proposalID, evaluatorID, stage)
}

// ── snapshot / restore ────────────────────────────────────────────────────────

func (s *fakeStore) snapshot() *fakeStore {
	snap := newFakeStore()
	for id, o := range s.opportunities {
		snap.opportunities[id] = cloneOpportunity(o)
	}
	for id, p := range s.proposals {
		snap.proposals[id] = cloneProposal(p)
	}
	for k, e := range s.evaluations {
		snap.evaluations[k] = cloneEvaluation(e)
	}
	snap.history = append([]domain.HistoryRecord(nil), s.history...)
	for org, m := range s.qualified {
		snap.qualified[org] = make(map[domain.OpportunityType]bool, len(m))
		for t, q := range m {
			snap.qualified[org][t] = q
		}
	}
	snap.seq = s.seq
	return snap
}

func (s *fakeStore) restore(snap *fakeStore) {
	s.opportunities = snap.opportunities
	s.proposals = snap.proposals
	s.evaluations = snap.evaluations
	s.history = snap.history
	s.qualified = snap.qualified
	s.seq = snap.seq
}

func (s *fakeStore) InTransaction(ctx context.Context, fn func(tx Store) error) error {
	snap := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// ── ledger ────────────────────────────────────────────────────────────────────

func (s *fakeStore) AppendHistory(ctx context.Context, rec *domain.HistoryRecord) error {
	if err := s.failures["AppendHistory"]; err != nil {
		return err
	}
	s.seq++
	rec.Seq = s.seq
	s.history = append(s.history, *rec)
	return nil
}

func (s *fakeStore) AppendHistoryBatch(ctx context.Context, recs []*domain.HistoryRecord) error {
	if err := s.failures["AppendHistoryBatch"]; err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.AppendHistory(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) History(ctx context.Context, kind domain.EntityKind, entityID uuid.UUID) ([]domain.HistoryRecord, error) {
	recs := s.entityHistory(kind, entityID)
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq > recs[j].Seq })
	return recs, nil
}

func (s *fakeStore) entityHistory(kind domain.EntityKind, entityID uuid.UUID) []domain.HistoryRecord {
	var recs []domain.HistoryRecord
	for _, r := range s.history {
		if r.EntityKind == kind && r.EntityID == entityID {
			recs = append(recs, r)
		}
	}
	return recs
}

// ── opportunities ─────────────────────────────────────────────────────────────

func (s *fakeStore) CreateOpportunity(ctx context.Context, opp *domain.Opportunity) error {
	s.opportunities[opp.ID] = cloneOpportunity(opp)
	return nil
}

func (s *fakeStore) AddOpportunityVersion(ctx context.Context, v *domain.OpportunityVersion) error {
	opp, ok := s.opportunities[v.OpportunityID]
	if !ok {
		return errors.NotFound("opportunity", v.OpportunityID.String())
	}
	clone := *v
	opp.Version = &clone
	return nil
}

func (s *fakeStore) GetOpportunity(ctx context.Context, id uuid.UUID) (*domain.Opportunity, error) {
	opp, ok := s.opportunities[id]
	if !ok {
		return nil, errors.NotFound("opportunity", id.String())
	}
	out := cloneOpportunity(opp)
	status, ok := domain.LatestOpportunityStatus(s.entityHistory(domain.KindOpportunity, id))
	if !ok {
		status = domain.OppDraft
	}
	out.Status = status
	return out, nil
}

func (s *fakeStore) ListOpportunities(ctx context.Context) ([]*domain.Opportunity, error) {
	var out []*domain.Opportunity
	for id := range s.opportunities {
		got, err := s.GetOpportunity(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, got)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) DeleteDraftOpportunity(ctx context.Context, id uuid.UUID) error {
	delete(s.opportunities, id)
	s.dropHistory(domain.KindOpportunity, id)
	return nil
}

// ── proposals ─────────────────────────────────────────────────────────────────

func (s *fakeStore) CreateProposal(ctx context.Context, p *domain.Proposal) error {
	s.proposals[p.ID] = cloneProposal(p)
	return nil
}

func (s *fakeStore) GetProposal(ctx context.Context, id uuid.UUID) (*domain.Proposal, error) {
	p, ok := s.proposals[id]
	if !ok {
		return nil, errors.NotFound("proposal", id.String())
	}
	out := cloneProposal(p)
	status, ok := domain.LatestProposalStatus(s.entityHistory(domain.KindProposal, id))
	if !ok {
		status = domain.PropDraft
	}
	out.Status = status
	return out, nil
}

func (s *fakeStore) ListProposals(ctx context.Context, opportunityID uuid.UUID) ([]*domain.Proposal, error) {
	var out []*domain.Proposal
	for id, p := range s.proposals {
		if p.OpportunityID != opportunityID {
			continue
		}
		got, err := s.GetProposal(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, got)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) ProposalIDsByStatus(ctx context.Context, opportunityID uuid.UUID, statuses []domain.ProposalStatus) ([]uuid.UUID, error) {
	want := make(map[domain.ProposalStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	all, err := s.ListProposals(ctx, opportunityID)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, p := range all {
		if want[p.Status] {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}

func (s *fakeStore) OrganizationHasProposal(ctx context.Context, opportunityID, organizationID uuid.UUID) (bool, error) {
	for _, p := range s.proposals {
		if p.OpportunityID == opportunityID && p.OrganizationID == organizationID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) SetProposalScores(ctx context.Context, proposalID uuid.UUID, scores domain.ScoreSet) error {
	if err := s.failures["SetProposalScores"]; err != nil {
		return err
	}
	p, ok := s.proposals[proposalID]
	if !ok {
		return errors.NotFound("proposal", proposalID.String())
	}
	p.Scores = cloneScoreSet(scores)
	return nil
}

func (s *fakeStore) DeleteDraftProposal(ctx context.Context, id uuid.UUID) error {
	delete(s.proposals, id)
	s.dropHistory(domain.KindProposal, id)
	return nil
}

// ── organizations ─────────────────────────────────────────────────────────────

func (s *fakeStore) OrganizationQualified(ctx context.Context, organizationID uuid.UUID, t domain.OpportunityType) (bool, error) {
	return s.qualified[organizationID][t], nil
}

// ── evaluations ───────────────────────────────────────────────────────────────

func (s *fakeStore) UpsertEvaluation(ctx context.Context, e *domain.Evaluation) error {
	key := evalKey(e.ProposalID, e.EvaluatorID, e.Stage)
	if existing, ok := s.evaluations[key]; ok {
		e.ID = existing.ID
	}
	s.evaluations[key] = cloneEvaluation(e)
	return nil
}

func (s *fakeStore) GetEvaluation(ctx context.Context, proposalID, evaluatorID uuid.UUID, stage domain.EvaluationStage) (*domain.Evaluation, error) {
	e, ok := s.evaluations[evalKey(proposalID, evaluatorID, stage)]
	if !ok {
		return nil, errors.NotFound("evaluation", proposalID.String())
	}
	return s.withEvalStatus(e), nil
}

func (s *fakeStore) ListEvaluations(ctx context.Context, opportunityID uuid.UUID, stage domain.EvaluationStage) ([]*domain.Evaluation, error) {
	var out []*domain.Evaluation
	for _, e := range s.evaluations {
		if e.OpportunityID == opportunityID && e.Stage == stage {
			out = append(out, s.withEvalStatus(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (s *fakeStore) withEvalStatus(e *domain.Evaluation) *domain.Evaluation {
	out := cloneEvaluation(e)
	raw, ok := domain.LatestStatus(s.entityHistory(domain.KindEvaluation, e.ID))
	if ok {
		out.Status = domain.EvaluationStatus(raw)
	} else {
		out.Status = domain.EvalDraft
	}
	return out
}

func (s *fakeStore) dropHistory(kind domain.EntityKind, entityID uuid.UUID) {
	kept := s.history[:0]
	for _, r := range s.history {
		if !(r.EntityKind == kind && r.EntityID == entityID) {
			kept = append(kept, r)
		}
	}
	s.history = kept
}

// ── clone helpers ─────────────────────────────────────────────────────────────

func cloneOpportunity(o *domain.Opportunity) *domain.Opportunity {
	out := *o
	if o.Version != nil {
		v := *o.Version
		v.Questions = append([]domain.Question(nil), o.Version.Questions...)
		v.Panel = append([]domain.PanelMember(nil), o.Version.Panel...)
		out.Version = &v
	}
	return &out
}

func cloneProposal(p *domain.Proposal) *domain.Proposal {
	out := *p
	out.Scores = cloneScoreSet(p.Scores)
	return &out
}

func cloneScoreSet(s domain.ScoreSet) domain.ScoreSet {
	clone := func(v *float64) *float64 {
		if v == nil {
			return nil
		}
		c := *v
		return &c
	}
	return domain.ScoreSet{
		Questions: clone(s.Questions),
		Challenge: clone(s.Challenge),
		Scenario:  clone(s.Scenario),
		Price:     clone(s.Price),
	}
}

func cloneEvaluation(e *domain.Evaluation) *domain.Evaluation {
	out := *e
	out.Scores = append([]domain.QuestionScore(nil), e.Scores...)
	return &out
}

// ── shared fixtures ───────────────────────────────────────────────────────────

type publishedEvent struct {
	eventType  string
	resourceID uuid.UUID
}

type fakeNotifier struct {
	events []publishedEvent
}

func (n *fakeNotifier) Publish(ctx context.Context, eventType string, resourceID, actorID uuid.UUID, payload map[string]any) {
	n.events = append(n.events, publishedEvent{eventType: eventType, resourceID: resourceID})
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Environment: "test"})
}

// seedOpportunity stores an opportunity at the given status with a standard
// three-seat panel and a two-question set (the second question screened at 50).
func seedOpportunity(ctx context.Context, store *fakeStore, typ domain.OpportunityType, status domain.OpportunityStatus, deadline time.Time) *domain.Opportunity {
	chair := domain.PanelMember{UserID: uuid.New(), Order: 0, Chair: true}
	eval1 := domain.PanelMember{UserID: uuid.New(), Order: 1, Evaluator: true}
	eval2 := domain.PanelMember{UserID: uuid.New(), Order: 2, Evaluator: true}
	min := 50.0

	weights := domain.Weights{Questions: 30, Challenge: 30, Price: 40}
	if typ == domain.TypeSprintWithUs {
		weights = domain.Weights{Questions: 25, Challenge: 25, Scenario: 25, Price: 25}
	}

	now := time.Now()
	opp := &domain.Opportunity{
		ID:        uuid.New(),
		Type:      typ,
		Status:    status,
		CreatedAt: now,
		CreatedBy: uuid.New(),
		Version: &domain.OpportunityVersion{
			ID:               uuid.New(),
			Title:            "Cloud platform build",
			ProposalDeadline: deadline,
			Weights:          weights,
			Questions: []domain.Question{
				{Order: 0, Text: "Team experience", Score: 100},
				{Order: 1, Text: "Delivery approach", Score: 100, MinimumScore: &min},
			},
			Panel:     []domain.PanelMember{chair, eval1, eval2},
			CreatedAt: now,
			CreatedBy: uuid.New(),
		},
	}
	opp.Version.OpportunityID = opp.ID

	_ = store.CreateOpportunity(ctx, opp)
	_ = store.AppendHistory(ctx, &domain.HistoryRecord{
		ID:         uuid.New(),
		EntityKind: domain.KindOpportunity,
		EntityID:   opp.ID,
		CreatedAt:  now,
		CreatedBy:  opp.CreatedBy,
		Type:       domain.StatusChange(string(status)),
	})
	return opp
}

// seedProposal stores a proposal at the given status for a qualified org.
func seedProposal(ctx context.Context, store *fakeStore, opp *domain.Opportunity, status domain.ProposalStatus, bid float64) *domain.Proposal {
	org := uuid.New()
	store.qualify(org, opp.Type)

	now := time.Now()
	p := &domain.Proposal{
		ID:             uuid.New(),
		OpportunityID:  opp.ID,
		OrganizationID: org,
		Status:         status,
		Bid:            bid,
		CreatedAt:      now,
		CreatedBy:      uuid.New(),
		UpdatedAt:      now,
	}
	_ = store.CreateProposal(ctx, p)
	_ = store.AppendHistory(ctx, &domain.HistoryRecord{
		ID:         uuid.New(),
		EntityKind: domain.KindProposal,
		EntityID:   p.ID,
		CreatedAt:  now,
		CreatedBy:  p.CreatedBy,
		Type:       domain.StatusChange(string(status)),
	})
	return p
}
