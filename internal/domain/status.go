// Package domain holds the procurement workflow model: statuses and their
// legal transitions, the append-only history ledger, and the scoring,
// screening and ranking rules. Everything in this package is pure; persistence
// and transport live elsewhere.
package domain

// EntityKind discriminates ledger entries.
type EntityKind string

const (
	KindOpportunity EntityKind = "OPPORTUNITY"
	KindProposal    EntityKind = "PROPOSAL"
	KindEvaluation  EntityKind = "EVALUATION"
)

// Role is the acting user's role as established by the gateway.
type Role string

const (
	RoleAdmin      Role = "ADMIN"
	RoleGovernment Role = "GOVERNMENT"
	RoleVendor     Role = "VENDOR"
	RoleEvaluator  Role = "EVALUATOR"
)

// OpportunityType selects one of the two mirrored contract families.
type OpportunityType string

const (
	TypeSprintWithUs OpportunityType = "SWU"
	TypeTeamWithUs   OpportunityType = "TWU"
)

// OpportunityStatus is an opportunity lifecycle state.
type OpportunityStatus string

const (
	OppDraft                   OpportunityStatus = "DRAFT"
	OppUnderReview             OpportunityStatus = "UNDER_REVIEW"
	OppPublished               OpportunityStatus = "PUBLISHED"
	OppEvalQuestionsIndividual OpportunityStatus = "EVAL_QUESTIONS_INDIVIDUAL"
	OppEvalQuestionsConsensus  OpportunityStatus = "EVAL_QUESTIONS_CONSENSUS"
	OppEvalChallenge           OpportunityStatus = "EVAL_CHALLENGE"
	OppEvalScenario            OpportunityStatus = "EVAL_SCENARIO"
	OppSuspended               OpportunityStatus = "SUSPENDED"
	OppAwarded                 OpportunityStatus = "AWARDED"
	OppUnsuccessful            OpportunityStatus = "UNSUCCESSFUL"
	OppCancelled               OpportunityStatus = "CANCELLED"
)

// ProposalStatus is a proposal lifecycle state.
type ProposalStatus string

const (
	PropDraft                ProposalStatus = "DRAFT"
	PropSubmitted            ProposalStatus = "SUBMITTED"
	PropUnderReviewQuestions ProposalStatus = "UNDER_REVIEW_QUESTIONS"
	PropQuestionsConsensus   ProposalStatus = "EVAL_QUESTIONS_CONSENSUS"
	PropEvaluatedQuestions   ProposalStatus = "EVALUATED_QUESTIONS"
	PropUnderReviewChallenge ProposalStatus = "UNDER_REVIEW_CHALLENGE"
	PropEvaluatedChallenge   ProposalStatus = "EVALUATED_CHALLENGE"
	PropUnderReviewScenario  ProposalStatus = "UNDER_REVIEW_SCENARIO"
	PropEvaluatedScenario    ProposalStatus = "EVALUATED_SCENARIO"
	PropAwarded              ProposalStatus = "AWARDED"
	PropNotAwarded           ProposalStatus = "NOT_AWARDED"
	PropDisqualified         ProposalStatus = "DISQUALIFIED"
	PropWithdrawn            ProposalStatus = "WITHDRAWN"
)

// EvaluationStatus is the state of one evaluation record.
type EvaluationStatus string

const (
	EvalDraft     EvaluationStatus = "DRAFT"
	EvalSubmitted EvaluationStatus = "SUBMITTED"
)

// Event tags ledger entries that record something other than a status change.
type Event string

const (
	EventEdited                Event = "EDITED"
	EventAddendumAdded         Event = "ADDENDUM_ADDED"
	EventNoteAdded             Event = "NOTE_ADDED"
	EventQuestionsScoreEntered Event = "QUESTIONS_SCORE_ENTERED"
	EventChallengeScoreEntered Event = "CHALLENGE_SCORE_ENTERED"
	EventScenarioScoreEntered  Event = "SCENARIO_SCORE_ENTERED"
	EventPriceScoreEntered     Event = "PRICE_SCORE_ENTERED"
)

// ParseOpportunityStatus narrows a raw string to an OpportunityStatus.
func ParseOpportunityStatus(raw string) (OpportunityStatus, bool) {
	switch s := OpportunityStatus(raw); s {
	case OppDraft, OppUnderReview, OppPublished,
		OppEvalQuestionsIndividual, OppEvalQuestionsConsensus,
		OppEvalChallenge, OppEvalScenario,
		OppSuspended, OppAwarded, OppUnsuccessful, OppCancelled:
		return s, true
	default:
		return "", false
	}
}

// ParseProposalStatus narrows a raw string to a ProposalStatus.
func ParseProposalStatus(raw string) (ProposalStatus, bool) {
	switch s := ProposalStatus(raw); s {
	case PropDraft, PropSubmitted, PropUnderReviewQuestions,
		PropQuestionsConsensus, PropEvaluatedQuestions,
		PropUnderReviewChallenge, PropEvaluatedChallenge,
		PropUnderReviewScenario, PropEvaluatedScenario,
		PropAwarded, PropNotAwarded, PropDisqualified, PropWithdrawn:
		return s, true
	default:
		return "", false
	}
}

// IsTerminal reports whether an opportunity status admits no further edges.
func (s OpportunityStatus) IsTerminal() bool {
	switch s {
	case OppAwarded, OppUnsuccessful, OppCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether a proposal status admits no further edges.
func (s ProposalStatus) IsTerminal() bool {
	switch s {
	case PropNotAwarded, PropDisqualified:
		return true
	default:
		return false
	}
}
