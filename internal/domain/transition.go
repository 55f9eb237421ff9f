package domain

import "time"

// TransitionContext carries the request-time facts deadline-sensitive edges
// depend on. Now must come from the server clock, never from the client.
type TransitionContext struct {
	Now              time.Time
	ProposalDeadline time.Time
}

// DeadlineOpen reports whether the proposal deadline has not yet passed.
func (c TransitionContext) DeadlineOpen() bool {
	return c.Now.Before(c.ProposalDeadline)
}

// CanTransition is the kind-generic entry point used by resource handlers.
// Unknown statuses and unknown kinds are denied, never errors.
func CanTransition(cfg TypeConfig, kind EntityKind, current, requested string, role Role, ctx TransitionContext) bool {
	switch kind {
	case KindOpportunity:
		from, ok := ParseOpportunityStatus(current)
		if !ok {
			return false
		}
		to, ok := ParseOpportunityStatus(requested)
		if !ok {
			return false
		}
		return CanTransitionOpportunity(cfg, from, to, role)
	case KindProposal:
		from, ok := ParseProposalStatus(current)
		if !ok {
			return false
		}
		to, ok := ParseProposalStatus(requested)
		if !ok {
			return false
		}
		return CanTransitionProposal(cfg, from, to, role, ctx)
	default:
		return false
	}
}

// CanTransitionOpportunity encodes the opportunity transition graph. Only
// admins advance an opportunity past UnderReview; the owning government user
// may only submit a draft for review.
func CanTransitionOpportunity(cfg TypeConfig, from, to OpportunityStatus, role Role) bool {
	admin := role == RoleAdmin
	switch from {
	case OppDraft:
		switch to {
		case OppUnderReview:
			return admin || role == RoleGovernment
		case OppPublished, OppCancelled:
			return admin
		}
	case OppUnderReview:
		switch to {
		case OppPublished, OppSuspended, OppCancelled:
			return admin
		}
	case OppPublished:
		switch to {
		case OppEvalQuestionsIndividual, OppSuspended, OppCancelled:
			return admin
		}
	case OppEvalQuestionsIndividual:
		switch to {
		case OppEvalQuestionsConsensus, OppSuspended, OppCancelled:
			return admin
		}
	case OppEvalQuestionsConsensus:
		switch to {
		case OppEvalChallenge, OppSuspended, OppCancelled:
			return admin
		}
	case OppEvalChallenge:
		switch to {
		case OppSuspended, OppCancelled:
			return admin
		case OppEvalScenario:
			return admin && cfg.HasScenario()
		case OppAwarded, OppUnsuccessful:
			return admin && !cfg.HasScenario()
		}
	case OppEvalScenario:
		switch to {
		case OppAwarded, OppUnsuccessful, OppSuspended, OppCancelled:
			return admin && cfg.HasScenario()
		}
	case OppSuspended:
		switch to {
		case OppPublished, OppCancelled:
			return admin
		}
	}
	return false
}

// CanTransitionProposal encodes the proposal transition graph. Vendor edges
// (submit, withdraw, re-submit) are deadline-bounded; admins may override the
// deadline to accept a late withdrawal reversal.
func CanTransitionProposal(cfg TypeConfig, from, to ProposalStatus, role Role, ctx TransitionContext) bool {
	admin := role == RoleAdmin
	vendor := role == RoleVendor
	switch from {
	case PropDraft:
		if to == PropSubmitted {
			return admin || (vendor && ctx.DeadlineOpen())
		}
	case PropSubmitted:
		switch to {
		case PropWithdrawn:
			return admin || vendor
		case PropUnderReviewQuestions, PropDisqualified:
			return admin
		}
	case PropWithdrawn:
		if to == PropSubmitted {
			return admin || (vendor && ctx.DeadlineOpen())
		}
	case PropUnderReviewQuestions:
		switch to {
		case PropQuestionsConsensus, PropDisqualified:
			return admin
		case PropWithdrawn:
			return admin || vendor
		}
	case PropQuestionsConsensus:
		switch to {
		case PropEvaluatedQuestions, PropUnderReviewChallenge, PropDisqualified:
			return admin
		case PropWithdrawn:
			return admin || vendor
		}
	case PropEvaluatedQuestions:
		switch to {
		case PropNotAwarded, PropDisqualified:
			return admin
		}
	case PropUnderReviewChallenge:
		switch to {
		case PropEvaluatedChallenge, PropNotAwarded, PropDisqualified:
			return admin
		case PropWithdrawn:
			return admin || vendor
		}
	case PropEvaluatedChallenge:
		switch to {
		case PropUnderReviewScenario:
			return admin && cfg.HasScenario()
		case PropAwarded:
			return admin && !cfg.HasScenario()
		case PropNotAwarded, PropDisqualified:
			return admin
		}
	case PropUnderReviewScenario:
		switch to {
		case PropEvaluatedScenario, PropNotAwarded, PropDisqualified:
			return admin && cfg.HasScenario()
		case PropWithdrawn:
			return (admin || vendor) && cfg.HasScenario()
		}
	case PropEvaluatedScenario:
		switch to {
		case PropAwarded, PropNotAwarded, PropDisqualified:
			return admin && cfg.HasScenario()
		}
	case PropAwarded:
		switch to {
		case PropNotAwarded, PropDisqualified:
			return admin
		}
	}
	return false
}
