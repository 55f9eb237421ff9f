package domain

import (
	"sort"

	"github.com/google/uuid"

	"github.com/openprocure/be-marketplace/internal/errors"
)

// ScoreQuestions computes the 0-100 question criterion score for one
// evaluation: each question contributes proportionally to its own point value
// out of the question set's total points.
func ScoreQuestions(scores []QuestionScore, questions []Question) (float64, error) {
	if len(questions) == 0 {
		return 0, errors.New(errors.CodeIntegrity, "opportunity version has no questions")
	}
	var totalPoints, earned float64
	byOrder := make(map[int]QuestionScore, len(scores))
	for _, s := range scores {
		byOrder[s.Order] = s
	}
	for _, q := range questions {
		totalPoints += q.Score
		s, ok := byOrder[q.Order]
		if !ok {
			return 0, errors.Newf(errors.CodeValidation, "missing score for question %d", q.Order)
		}
		if s.Score < 0 || s.Score > q.Score {
			return 0, errors.Newf(errors.CodeValidation, "score for question %d out of range", q.Order)
		}
		earned += s.Score
	}
	if totalPoints <= 0 {
		return 0, errors.New(errors.CodeIntegrity, "question set has zero total points")
	}
	return earned / totalPoints * 100, nil
}

// TotalScore combines per-criterion scores into the weighted composite. It
// returns nil unless every component the opportunity's configured stages
// require is present; a partial score set never resolves to a misleading
// composite.
func TotalScore(s ScoreSet, w Weights, cfg TypeConfig) *float64 {
	if s.Questions == nil || s.Challenge == nil || s.Price == nil {
		return nil
	}
	if cfg.HasScenario() && s.Scenario == nil {
		return nil
	}
	total := float64(w.Questions)**s.Questions/100 +
		float64(w.Challenge)**s.Challenge/100 +
		float64(w.Price)**s.Price/100
	if cfg.HasScenario() {
		total += float64(w.Scenario) * *s.Scenario / 100
	}
	return &total
}

// Bid is one proposal's total proposed cost, used for price scoring.
type Bid struct {
	ProposalID uuid.UUID
	Amount     float64
}

// PriceScores computes the 0-100 price score for every bid in the eligible
// pool: lowest bid divided by this bid. Callers restrict the pool to
// final-stage proposals; ineligible proposals are excluded from the
// comparison entirely, not penalized to zero.
func PriceScores(bids []Bid) (map[uuid.UUID]float64, error) {
	if len(bids) == 0 {
		return nil, errors.New(errors.CodeIntegrity, "no eligible bids to price-score")
	}
	lowest := bids[0].Amount
	for _, b := range bids {
		if b.Amount <= 0 {
			return nil, errors.Newf(errors.CodeIntegrity, "proposal %s has a non-positive bid", b.ProposalID)
		}
		if b.Amount < lowest {
			lowest = b.Amount
		}
	}
	out := make(map[uuid.UUID]float64, len(bids))
	for _, b := range bids {
		out[b.ProposalID] = lowest / b.Amount * 100
	}
	return out, nil
}

// ProposalScoring is one proposal's computed scoring for ranking and display.
type ProposalScoring struct {
	ProposalID     uuid.UUID      `json:"proposal"`
	OrganizationID uuid.UUID      `json:"organization"`
	Status         ProposalStatus `json:"status"`
	Scores         ScoreSet       `json:"scores"`
	TotalScore     *float64       `json:"totalScore,omitempty"`
	Rank           int            `json:"rank,omitempty"`
}

// Rank filters to proposals in a rankable status, sorts descending by total
// score and assigns standard competition ranks: equal totals share a rank and
// the following distinct total skips the tied positions (RANK(), not
// ROW_NUMBER() or DENSE_RANK()).
func Rank(scorings []ProposalScoring, cfg TypeConfig) []ProposalScoring {
	rankable := make(map[ProposalStatus]bool)
	for _, s := range cfg.RankableStatuses() {
		rankable[s] = true
	}

	var ranked []ProposalScoring
	for _, s := range scorings {
		if rankable[s.Status] {
			ranked = append(ranked, s)
		}
	}

	total := func(s ProposalScoring) float64 {
		if s.TotalScore == nil {
			return 0
		}
		return *s.TotalScore
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return total(ranked[i]) > total(ranked[j])
	})
	for i := range ranked {
		rank := i + 1
		for j := 0; j < i; j++ {
			if total(ranked[j]) == total(ranked[i]) {
				rank = j + 1
				break
			}
		}
		ranked[i].Rank = rank
	}
	return ranked
}
