package domain

import (
	"sort"

	"github.com/google/uuid"
)

// Screenable reports whether a consensus evaluation meets or exceeds the
// minimum score on every question that defines one. Questions without a
// minimum always pass.
func Screenable(consensus *Evaluation, questions []Question) bool {
	for _, q := range questions {
		if q.MinimumScore == nil {
			continue
		}
		s, ok := consensus.ScoreFor(q.Order)
		if !ok || s.Score < *q.MinimumScore {
			return false
		}
	}
	return true
}

// ScreenCandidate pairs a proposal with its consensus question score for
// screen-in selection.
type ScreenCandidate struct {
	ProposalID     uuid.UUID
	QuestionsScore float64
}

// SelectScreenIn sorts candidates by question score descending and returns
// the top-k set as a membership map. k <= 0 screens in every candidate.
func SelectScreenIn(candidates []ScreenCandidate, k int) map[uuid.UUID]bool {
	sorted := make([]ScreenCandidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].QuestionsScore > sorted[j].QuestionsScore
	})
	if k <= 0 || k > len(sorted) {
		k = len(sorted)
	}
	in := make(map[uuid.UUID]bool, k)
	for _, c := range sorted[:k] {
		in[c.ProposalID] = true
	}
	return in
}
