package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/openprocure/be-marketplace/internal/errors"
)

// Stage is one evaluation stage in an opportunity's configured sequence.
type Stage string

const (
	StageQuestions Stage = "QUESTIONS"
	StageChallenge Stage = "CHALLENGE"
	StageScenario  Stage = "SCENARIO"
)

// TypeConfig parameterizes the generic workflow engine for one opportunity
// family. The two families share the engine; only the stage sequence, the
// chair convention and the screen-in count differ.
type TypeConfig struct {
	Type OpportunityType
	// Stages is the ordered evaluation stage sequence after Published.
	Stages []Stage
	// ChairEvaluatesIndividually controls whether the chair's own submission
	// counts toward individual-round completeness.
	ChairEvaluatesIndividually bool
	// ScreenInCount is the number of top-scored proposals advanced out of
	// consensus. Zero or negative screens in every passing proposal.
	ScreenInCount int
}

// ConfigFor returns the engine configuration for an opportunity type.
func ConfigFor(t OpportunityType) TypeConfig {
	switch t {
	case TypeSprintWithUs:
		return TypeConfig{
			Type:                       TypeSprintWithUs,
			Stages:                     []Stage{StageQuestions, StageChallenge, StageScenario},
			ChairEvaluatesIndividually: true,
			ScreenInCount:              4,
		}
	default:
		return TypeConfig{
			Type:                       TypeTeamWithUs,
			Stages:                     []Stage{StageQuestions, StageChallenge},
			ChairEvaluatesIndividually: false,
			ScreenInCount:              4,
		}
	}
}

// HasScenario reports whether the scenario stage is configured.
func (c TypeConfig) HasScenario() bool {
	for _, s := range c.Stages {
		if s == StageScenario {
			return true
		}
	}
	return false
}

// FinalUnderReviewStatus is the proposal status eligible for the price
// comparison pool alongside FinalEvaluatedStatus.
func (c TypeConfig) FinalUnderReviewStatus() ProposalStatus {
	if c.HasScenario() {
		return PropUnderReviewScenario
	}
	return PropUnderReviewChallenge
}

// FinalEvaluatedStatus is the proposal status reached when the last configured
// stage has been scored.
func (c TypeConfig) FinalEvaluatedStatus() ProposalStatus {
	if c.HasScenario() {
		return PropEvaluatedScenario
	}
	return PropEvaluatedChallenge
}

// RankableStatuses is the proposal status set eligible for relative ranking:
// post-evaluation, pre- and post-award.
func (c TypeConfig) RankableStatuses() []ProposalStatus {
	return []ProposalStatus{c.FinalEvaluatedStatus(), PropAwarded, PropNotAwarded}
}

// AwardableStatuses is the competitor set the award cascade moves to
// NotAwarded.
func (c TypeConfig) AwardableStatuses() []ProposalStatus {
	return []ProposalStatus{
		PropEvaluatedQuestions,
		PropUnderReviewChallenge, PropEvaluatedChallenge,
		PropUnderReviewScenario, PropEvaluatedScenario,
		PropAwarded,
	}
}

// Weights is the per-criterion weight set for one opportunity version.
// Scenario is zero for types without a scenario stage.
type Weights struct {
	Questions int `json:"questions"`
	Challenge int `json:"challenge"`
	Scenario  int `json:"scenario"`
	Price     int `json:"price"`
}

// Validate checks the weights against the configured stages.
func (w Weights) Validate(cfg TypeConfig) error {
	if w.Questions < 0 || w.Challenge < 0 || w.Scenario < 0 || w.Price < 0 {
		return errors.InvalidInput("weights", "weights must be non-negative")
	}
	if !cfg.HasScenario() && w.Scenario != 0 {
		return errors.InvalidInput("scenario_weight", "scenario weight must be zero for this opportunity type")
	}
	if sum := w.Questions + w.Challenge + w.Scenario + w.Price; sum != 100 {
		return errors.Newf(errors.CodeValidation, "weights must sum to 100, got %d", sum)
	}
	return nil
}

// Question is one scored question on an opportunity version.
type Question struct {
	Order     int      `json:"order"`
	Text      string   `json:"text"`
	Guideline string   `json:"guideline"`
	Score     float64  `json:"score"`
	WordLimit int      `json:"wordLimit"`
	// MinimumScore, when set, screens out proposals scoring below it on this
	// question at consensus finalization.
	MinimumScore *float64 `json:"minimumScore,omitempty"`
}

// PanelMember is one evaluation panel seat on an opportunity version.
type PanelMember struct {
	UserID    uuid.UUID `json:"user"`
	Order     int       `json:"order"`
	Chair     bool      `json:"chair"`
	Evaluator bool      `json:"evaluator"`
}

// OpportunityVersion is one immutable content snapshot. Edits append versions,
// never mutate.
type OpportunityVersion struct {
	ID               uuid.UUID     `json:"id"`
	OpportunityID    uuid.UUID     `json:"opportunity"`
	Title            string        `json:"title"`
	Description      string        `json:"description"`
	Budget           int64         `json:"budget"`
	ProposalDeadline time.Time     `json:"proposalDeadline"`
	Weights          Weights       `json:"weights"`
	Questions        []Question    `json:"questions"`
	Panel            []PanelMember `json:"panel"`
	CreatedAt        time.Time     `json:"createdAt"`
	CreatedBy        uuid.UUID     `json:"createdBy"`
}

// Chair returns the designated consensus chair of the version's panel.
func (v *OpportunityVersion) Chair() (PanelMember, bool) {
	for _, m := range v.Panel {
		if m.Chair {
			return m, true
		}
	}
	return PanelMember{}, false
}

// Evaluators returns the panel members whose individual submissions gate
// consensus readiness, honoring the chair convention flag.
func (v *OpportunityVersion) Evaluators(cfg TypeConfig) []PanelMember {
	var out []PanelMember
	for _, m := range v.Panel {
		if m.Chair && !cfg.ChairEvaluatesIndividually {
			continue
		}
		if m.Evaluator || (m.Chair && cfg.ChairEvaluatesIndividually) {
			out = append(out, m)
		}
	}
	return out
}

// Opportunity is a buyer's procurement request with its derived status and
// latest version.
type Opportunity struct {
	ID        uuid.UUID           `json:"id"`
	Type      OpportunityType     `json:"type"`
	Status    OpportunityStatus   `json:"status"`
	Version   *OpportunityVersion `json:"version"`
	CreatedAt time.Time           `json:"createdAt"`
	CreatedBy uuid.UUID           `json:"createdBy"`
}

// ScoreSet holds a proposal's per-criterion scores, each 0-100 and nil until
// evaluated.
type ScoreSet struct {
	Questions *float64 `json:"questionsScore,omitempty"`
	Challenge *float64 `json:"challengeScore,omitempty"`
	Scenario  *float64 `json:"scenarioScore,omitempty"`
	Price     *float64 `json:"priceScore,omitempty"`
}

// Proposal is a vendor's submission with its derived status and stored
// composite score inputs.
type Proposal struct {
	ID             uuid.UUID      `json:"id"`
	OpportunityID  uuid.UUID      `json:"opportunity"`
	OrganizationID uuid.UUID      `json:"organization"`
	Status         ProposalStatus `json:"status"`
	Bid            float64        `json:"bid"`
	Scores         ScoreSet       `json:"scores"`
	CreatedAt      time.Time      `json:"createdAt"`
	CreatedBy      uuid.UUID      `json:"createdBy"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// QuestionScore is one scored question inside an evaluation.
type QuestionScore struct {
	Order int     `json:"order"`
	Score float64 `json:"score"`
	Notes string  `json:"notes"`
}

// EvaluationStage distinguishes the two structurally identical but
// semantically distinct evaluation record sets.
type EvaluationStage string

const (
	EvaluationIndividual EvaluationStage = "INDIVIDUAL"
	EvaluationConsensus  EvaluationStage = "CONSENSUS"
)

// Evaluation ties a panel member to a proposal for one stage.
type Evaluation struct {
	ID            uuid.UUID        `json:"id"`
	ProposalID    uuid.UUID        `json:"proposal"`
	OpportunityID uuid.UUID        `json:"opportunity"`
	EvaluatorID   uuid.UUID        `json:"evaluator"`
	Stage         EvaluationStage  `json:"stage"`
	Status        EvaluationStatus `json:"status"`
	Scores        []QuestionScore  `json:"scores"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// ScoreFor returns the evaluation's score for a question order.
func (e *Evaluation) ScoreFor(order int) (QuestionScore, bool) {
	for _, s := range e.Scores {
		if s.Order == order {
			return s, true
		}
	}
	return QuestionScore{}, false
}
