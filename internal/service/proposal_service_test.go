package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
	"github.com/openprocure/be-marketplace/internal/metrics"
)

func newProposalService(store *fakeStore) (*ProposalService, *fakeNotifier) {
	notifier := &fakeNotifier{}
	return NewProposalService(store, notifier, testLogger()), notifier
}

func TestProposalCreate(t *testing.T) {
	ctx := context.Background()
	deadline := time.Now().Add(24 * time.Hour)

	t.Run("requires a published opportunity", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppDraft, deadline)

		org := uuid.New()
		store.qualify(org, opp.Type)
		_, err := svc.Create(ctx, &CreateProposalRequest{
			OpportunityID: opp.ID, OrganizationID: org, Bid: 100000, Actor: uuid.New(),
		})
		assert.True(t, errors.Is(err, errors.CodeConflict))
	})

	t.Run("one proposal per organization", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppPublished, deadline)
		existing := seedProposal(ctx, store, opp, domain.PropDraft, 100000)

		_, err := svc.Create(ctx, &CreateProposalRequest{
			OpportunityID: opp.ID, OrganizationID: existing.OrganizationID, Bid: 90000, Actor: uuid.New(),
		})
		assert.True(t, errors.Is(err, errors.CodeConflict))
	})

	t.Run("unqualified organizations are rejected", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppPublished, deadline)

		_, err := svc.Create(ctx, &CreateProposalRequest{
			OpportunityID: opp.ID, OrganizationID: uuid.New(), Bid: 100000, Actor: uuid.New(),
		})
		assert.True(t, errors.Is(err, errors.CodeConflict))
	})

	t.Run("bid must be positive", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		_, err := svc.Create(ctx, &CreateProposalRequest{
			OpportunityID: uuid.New(), OrganizationID: uuid.New(), Bid: 0, Actor: uuid.New(),
		})
		assert.True(t, errors.Is(err, errors.CodeValidation))
	})
}

func TestProposalSubmit(t *testing.T) {
	ctx := context.Background()
	deadline := time.Now().Add(24 * time.Hour)

	t.Run("qualification is re-checked at submit time", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppPublished, deadline)
		p := seedProposal(ctx, store, opp, domain.PropDraft, 100000)

		// Qualification lapses between draft-save and submit.
		store.disqualifyOrg(p.OrganizationID, opp.Type)
		_, err := svc.Submit(ctx, p.ID, domain.RoleVendor, p.CreatedBy, "")
		assert.True(t, errors.Is(err, errors.CodeConflict))

		got, _ := store.GetProposal(ctx, p.ID)
		assert.Equal(t, domain.PropDraft, got.Status)
	})

	t.Run("vendor submits before the deadline", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppPublished, deadline)
		p := seedProposal(ctx, store, opp, domain.PropDraft, 100000)

		got, err := svc.Submit(ctx, p.ID, domain.RoleVendor, p.CreatedBy, "")
		require.NoError(t, err)
		assert.Equal(t, domain.PropSubmitted, got.Status)
	})

	t.Run("vendor cannot resubmit a withdrawal after the deadline", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppPublished, time.Now().Add(-time.Hour))
		p := seedProposal(ctx, store, opp, domain.PropWithdrawn, 100000)

		_, err := svc.Submit(ctx, p.ID, domain.RoleVendor, p.CreatedBy, "")
		assert.True(t, errors.Is(err, errors.CodePermission))

		// An admin may accept the late reversal.
		got, err := svc.Submit(ctx, p.ID, domain.RoleAdmin, uuid.New(), "late reversal accepted")
		require.NoError(t, err)
		assert.Equal(t, domain.PropSubmitted, got.Status)
	})
}

func TestProposalDisqualify(t *testing.T) {
	ctx := context.Background()
	deadline := time.Now().Add(24 * time.Hour)

	t.Run("requires a reason and touches nothing else", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppEvalQuestionsIndividual, deadline)
		p := seedProposal(ctx, store, opp, domain.PropUnderReviewQuestions, 100000)
		other := seedProposal(ctx, store, opp, domain.PropUnderReviewQuestions, 90000)

		_, err := svc.Disqualify(ctx, p.ID, domain.RoleAdmin, uuid.New(), "")
		assert.True(t, errors.Is(err, errors.CodeValidation))

		got, err := svc.Disqualify(ctx, p.ID, domain.RoleAdmin, uuid.New(), "conflict of interest")
		require.NoError(t, err)
		assert.Equal(t, domain.PropDisqualified, got.Status)

		untouched, _ := store.GetProposal(ctx, other.ID)
		assert.Equal(t, domain.PropUnderReviewQuestions, untouched.Status)
		oppGot, _ := store.GetOpportunity(ctx, opp.ID)
		assert.Equal(t, domain.OppEvalQuestionsIndividual, oppGot.Status)
	})
}

func TestProposalAward(t *testing.T) {
	ctx := context.Background()
	deadline := time.Now().Add(24 * time.Hour)
	admin := uuid.New()

	t.Run("cascade marks competitors not awarded in one operation", func(t *testing.T) {
		store := newFakeStore()
		svc, notifier := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppEvalChallenge, deadline)

		winner := seedProposal(ctx, store, opp, domain.PropEvaluatedChallenge, 100000)
		competitor := seedProposal(ctx, store, opp, domain.PropEvaluatedChallenge, 110000)
		stillUnderReview := seedProposal(ctx, store, opp, domain.PropUnderReviewChallenge, 120000)
		screenedOut := seedProposal(ctx, store, opp, domain.PropEvaluatedQuestions, 95000)
		withdrawn := seedProposal(ctx, store, opp, domain.PropWithdrawn, 90000)
		disqualified := seedProposal(ctx, store, opp, domain.PropDisqualified, 85000)

		got, err := svc.Award(ctx, winner.ID, domain.RoleAdmin, admin, "best value")
		require.NoError(t, err)
		assert.Equal(t, domain.PropAwarded, got.Status)

		for _, id := range []uuid.UUID{competitor.ID, stillUnderReview.ID, screenedOut.ID} {
			p, _ := store.GetProposal(ctx, id)
			assert.Equal(t, domain.PropNotAwarded, p.Status)
		}
		p, _ := store.GetProposal(ctx, withdrawn.ID)
		assert.Equal(t, domain.PropWithdrawn, p.Status)
		p, _ = store.GetProposal(ctx, disqualified.ID)
		assert.Equal(t, domain.PropDisqualified, p.Status)

		oppGot, _ := store.GetOpportunity(ctx, opp.ID)
		assert.Equal(t, domain.OppAwarded, oppGot.Status)

		require.Len(t, notifier.events, 1)
		assert.Equal(t, EventProposalAwarded, notifier.events[0].eventType)
		assert.Equal(t, winner.ID, notifier.events[0].resourceID)
	})

	t.Run("a mid-cascade failure rolls the whole award back", func(t *testing.T) {
		store := newFakeStore()
		svc, notifier := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppEvalChallenge, deadline)

		winner := seedProposal(ctx, store, opp, domain.PropEvaluatedChallenge, 100000)
		competitor := seedProposal(ctx, store, opp, domain.PropEvaluatedChallenge, 110000)

		awardedCounter := metrics.StatusTransitions.WithLabelValues(string(domain.KindProposal), string(domain.PropAwarded))
		before := testutil.ToFloat64(awardedCounter)

		store.failOn("AppendHistoryBatch", errors.New(errors.CodeInternal, "connection reset"))
		_, err := svc.Award(ctx, winner.ID, domain.RoleAdmin, admin, "")
		require.Error(t, err)

		// A rolled-back award leaves the transition counter untouched.
		assert.Equal(t, before, testutil.ToFloat64(awardedCounter))

		p, _ := store.GetProposal(ctx, winner.ID)
		assert.Equal(t, domain.PropEvaluatedChallenge, p.Status)
		p, _ = store.GetProposal(ctx, competitor.ID)
		assert.Equal(t, domain.PropEvaluatedChallenge, p.Status)
		oppGot, _ := store.GetOpportunity(ctx, opp.ID)
		assert.Equal(t, domain.OppEvalChallenge, oppGot.Status)
		assert.Empty(t, notifier.events)
	})

	t.Run("awarding from an unevaluated status is denied", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppEvalChallenge, deadline)
		p := seedProposal(ctx, store, opp, domain.PropSubmitted, 100000)

		_, err := svc.Award(ctx, p.ID, domain.RoleAdmin, admin, "")
		assert.True(t, errors.Is(err, errors.CodePermission))
	})
}

func TestProposalStageScoring(t *testing.T) {
	ctx := context.Background()
	deadline := time.Now().Add(24 * time.Hour)
	admin := uuid.New()

	t.Run("final stage score prices the whole pool", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppEvalChallenge, deadline)

		cheap := seedProposal(ctx, store, opp, domain.PropUnderReviewChallenge, 50000)
		pricey := seedProposal(ctx, store, opp, domain.PropUnderReviewChallenge, 100000)
		outOfPool := seedProposal(ctx, store, opp, domain.PropEvaluatedQuestions, 10000)

		got, err := svc.ScoreChallenge(ctx, cheap.ID, 85, domain.RoleAdmin, admin)
		require.NoError(t, err)
		assert.Equal(t, domain.PropEvaluatedChallenge, got.Status)
		require.NotNil(t, got.Scores.Challenge)
		assert.InDelta(t, 85.0, *got.Scores.Challenge, 1e-9)
		require.NotNil(t, got.Scores.Price)
		assert.InDelta(t, 100.0, *got.Scores.Price, 1e-9)

		p, _ := store.GetProposal(ctx, pricey.ID)
		require.NotNil(t, p.Scores.Price)
		assert.InDelta(t, 50.0, *p.Scores.Price, 1e-9)

		// The cheapest bid sits outside the pool and neither receives a price
		// score nor drags the scale down.
		p, _ = store.GetProposal(ctx, outOfPool.ID)
		assert.Nil(t, p.Scores.Price)
	})

	t.Run("challenge then scenario then award", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opportunities, _ := newOpportunityService(store)
		opp := seedOpportunity(ctx, store, domain.TypeSprintWithUs, domain.OppEvalChallenge, deadline)
		p := seedProposal(ctx, store, opp, domain.PropUnderReviewChallenge, 100000)

		got, err := svc.ScoreChallenge(ctx, p.ID, 85, domain.RoleAdmin, admin)
		require.NoError(t, err)
		assert.Equal(t, domain.PropEvaluatedChallenge, got.Status)
		// Challenge is not the final stage here, so no price pool yet.
		assert.Nil(t, got.Scores.Price)

		_, err = opportunities.Transition(ctx, opp.ID, domain.OppEvalScenario, domain.RoleAdmin, admin, "")
		require.NoError(t, err)
		moved, _ := store.GetProposal(ctx, p.ID)
		assert.Equal(t, domain.PropUnderReviewScenario, moved.Status)

		got, err = svc.ScoreScenario(ctx, p.ID, 90, domain.RoleAdmin, admin)
		require.NoError(t, err)
		assert.Equal(t, domain.PropEvaluatedScenario, got.Status)
		require.NotNil(t, got.Scores.Price)
		assert.InDelta(t, 100.0, *got.Scores.Price, 1e-9)

		awarded, err := svc.Award(ctx, p.ID, domain.RoleAdmin, admin, "")
		require.NoError(t, err)
		assert.Equal(t, domain.PropAwarded, awarded.Status)
		oppGot, _ := store.GetOpportunity(ctx, opp.ID)
		assert.Equal(t, domain.OppAwarded, oppGot.Status)
	})

	t.Run("scenario scoring is rejected for types without the stage", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		opp := seedOpportunity(ctx, store, domain.TypeTeamWithUs, domain.OppEvalChallenge, deadline)
		p := seedProposal(ctx, store, opp, domain.PropUnderReviewScenario, 100000)

		_, err := svc.ScoreScenario(ctx, p.ID, 80, domain.RoleAdmin, admin)
		assert.True(t, errors.Is(err, errors.CodeValidation))
	})

	t.Run("scores outside the range are rejected", func(t *testing.T) {
		store := newFakeStore()
		svc, _ := newProposalService(store)
		_, err := svc.ScoreChallenge(ctx, uuid.New(), 101, domain.RoleAdmin, admin)
		assert.True(t, errors.Is(err, errors.CodeValidation))
	})
}

func TestProposalForRole(t *testing.T) {
	score := 80.0
	p := &domain.Proposal{
		Status: domain.PropUnderReviewChallenge,
		Scores: domain.ScoreSet{Questions: &score, Challenge: &score},
	}

	t.Run("vendors see no scores mid-evaluation", func(t *testing.T) {
		view := ForRole(p, domain.RoleVendor)
		assert.Nil(t, view.Scores.Questions)
		assert.Nil(t, view.Scores.Challenge)
		// The canonical record is untouched.
		assert.NotNil(t, p.Scores.Questions)
	})

	t.Run("vendors see scores once the outcome is final", func(t *testing.T) {
		awarded := *p
		awarded.Status = domain.PropAwarded
		view := ForRole(&awarded, domain.RoleVendor)
		assert.NotNil(t, view.Scores.Questions)
	})

	t.Run("evaluators always see scores", func(t *testing.T) {
		view := ForRole(p, domain.RoleEvaluator)
		assert.NotNil(t, view.Scores.Questions)
	})
}
