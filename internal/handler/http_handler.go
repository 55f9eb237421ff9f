// Package handler exposes the workflow engine over HTTP. Identity is
// established upstream by the gateway and passed in X-User-ID / X-User-Role.
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/openprocure/be-marketplace/internal/domain"
	"github.com/openprocure/be-marketplace/internal/errors"
	"github.com/openprocure/be-marketplace/internal/logger"
	"github.com/openprocure/be-marketplace/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	opportunities *service.OpportunityService
	proposals     *service.ProposalService
	consensus     *service.ConsensusService
	scoring       *service.ScoringService
	log           *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	opportunities *service.OpportunityService,
	proposals *service.ProposalService,
	consensus *service.ConsensusService,
	scoring *service.ScoringService,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		opportunities: opportunities,
		proposals:     proposals,
		consensus:     consensus,
		scoring:       scoring,
		log:           log,
	}
}

type errorBody struct {
	Code    string              `json:"code"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: string(errors.CodeOf(err)), Message: err.Error()}
	var e *errors.Error
	if errors.As(err, &e) {
		body.Message = e.Message
		body.Fields = e.Fields
	}
	h.writeJSON(w, errors.HTTPStatus(err), body)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
	}
}

// identity reads the gateway-established caller identity.
func identity(r *http.Request) (uuid.UUID, domain.Role, error) {
	actor, err := uuid.Parse(r.Header.Get("X-User-ID"))
	if err != nil {
		return uuid.Nil, "", errors.Permission("missing or invalid X-User-ID header")
	}
	role := domain.Role(r.Header.Get("X-User-Role"))
	switch role {
	case domain.RoleAdmin, domain.RoleGovernment, domain.RoleVendor, domain.RoleEvaluator:
		return actor, role, nil
	default:
		return uuid.Nil, "", errors.Permission("missing or invalid X-User-Role header")
	}
}

func queryID(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.URL.Query().Get(key))
	if err != nil {
		return uuid.Nil, errors.InvalidInput(key, "a valid uuid is required")
	}
	return id, nil
}

// ── opportunities ─────────────────────────────────────────────────────────────

type opportunityBody struct {
	ID               uuid.UUID            `json:"id"`
	Type             string               `json:"type"`
	Title            string               `json:"title"`
	Description      string               `json:"description"`
	Budget           int64                `json:"budget"`
	ProposalDeadline time.Time            `json:"proposalDeadline"`
	Weights          domain.Weights       `json:"weights"`
	Questions        []domain.Question    `json:"questions"`
	Panel            []domain.PanelMember `json:"panel"`
}

func (b *opportunityBody) toRequest(actor uuid.UUID) *service.CreateOpportunityRequest {
	return &service.CreateOpportunityRequest{
		Type:             domain.OpportunityType(b.Type),
		Title:            b.Title,
		Description:      b.Description,
		Budget:           b.Budget,
		ProposalDeadline: b.ProposalDeadline,
		Weights:          b.Weights,
		Questions:        b.Questions,
		Panel:            b.Panel,
		Actor:            actor,
	}
}

// CreateOpportunity handles POST /api/v1/opportunities.
func (h *HTTPHandler) CreateOpportunity(w http.ResponseWriter, r *http.Request) {
	actor, _, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body opportunityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	opp, err := h.opportunities.Create(r.Context(), body.toRequest(actor))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, opp)
}

// ListOpportunities handles GET /api/v1/opportunities. Drafts and
// opportunities under pre-publication review are hidden from vendors and
// evaluators.
func (h *HTTPHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	_, role, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	opps, err := h.opportunities.List(r.Context(), role)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, opps)
}

// GetOpportunity handles GET /api/v1/opportunities/get?id=.
func (h *HTTPHandler) GetOpportunity(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	opp, err := h.opportunities.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, opp)
}

// EditOpportunity handles POST /api/v1/opportunities/edit.
func (h *HTTPHandler) EditOpportunity(w http.ResponseWriter, r *http.Request) {
	actor, _, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body opportunityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	opp, err := h.opportunities.Edit(r.Context(), body.ID, body.toRequest(actor))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, opp)
}

type statusChangeBody struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
	Note   string    `json:"note"`
}

// TransitionOpportunity handles POST /api/v1/opportunities/status.
func (h *HTTPHandler) TransitionOpportunity(w http.ResponseWriter, r *http.Request) {
	actor, role, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body statusChangeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	status, ok := domain.ParseOpportunityStatus(body.Status)
	if !ok {
		h.writeError(w, errors.InvalidInput("status", "unknown opportunity status"))
		return
	}
	opp, err := h.opportunities.Transition(r.Context(), body.ID, status, role, actor, body.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, opp)
}

// OpportunityHistory handles GET /api/v1/opportunities/history?id=.
func (h *HTTPHandler) OpportunityHistory(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	recs, err := h.opportunities.History(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recs)
}

type noteBody struct {
	ID   uuid.UUID `json:"id"`
	Note string    `json:"note"`
}

// AddOpportunityNote handles POST /api/v1/opportunities/note.
func (h *HTTPHandler) AddOpportunityNote(w http.ResponseWriter, r *http.Request) {
	actor, _, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body noteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if err := h.opportunities.AddNote(r.Context(), body.ID, actor, body.Note); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "noted"})
}

// AddOpportunityAddendum handles POST /api/v1/opportunities/addendum.
func (h *HTTPHandler) AddOpportunityAddendum(w http.ResponseWriter, r *http.Request) {
	actor, _, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body noteBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	if err := h.opportunities.AddAddendum(r.Context(), body.ID, actor, body.Note); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "added"})
}

// DeleteOpportunity handles DELETE /api/v1/opportunities/delete?id=.
func (h *HTTPHandler) DeleteOpportunity(w http.ResponseWriter, r *http.Request) {
	if _, _, err := identity(r); err != nil {
		h.writeError(w, err)
		return
	}
	id, err := queryID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.opportunities.DeleteDraft(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── proposals ─────────────────────────────────────────────────────────────────

// CreateProposal handles POST /api/v1/proposals.
func (h *HTTPHandler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	actor, _, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		OpportunityID  uuid.UUID `json:"opportunity"`
		OrganizationID uuid.UUID `json:"organization"`
		Bid            float64   `json:"bid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	p, err := h.proposals.Create(r.Context(), &service.CreateProposalRequest{
		OpportunityID:  body.OpportunityID,
		OrganizationID: body.OrganizationID,
		Bid:            body.Bid,
		Actor:          actor,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, p)
}

// GetProposal handles GET /api/v1/proposals/get?id=. Scores are redacted for
// vendors until the proposal is awarded or not awarded.
func (h *HTTPHandler) GetProposal(w http.ResponseWriter, r *http.Request) {
	_, role, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	id, err := queryID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	p, err := h.proposals.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, service.ForRole(p, role))
}

// ListProposals handles GET /api/v1/proposals?opportunity_id=.
func (h *HTTPHandler) ListProposals(w http.ResponseWriter, r *http.Request) {
	_, role, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	opportunityID, err := queryID(r, "opportunity_id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	list, err := h.proposals.List(r.Context(), opportunityID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	views := make([]*domain.Proposal, len(list))
	for i, p := range list {
		views[i] = service.ForRole(p, role)
	}
	h.writeJSON(w, http.StatusOK, views)
}

// ProposalHistory handles GET /api/v1/proposals/history?id=.
func (h *HTTPHandler) ProposalHistory(w http.ResponseWriter, r *http.Request) {
	id, err := queryID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	recs, err := h.proposals.History(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, recs)
}

type proposalActionBody struct {
	ID   uuid.UUID `json:"id"`
	Note string    `json:"note"`
}

func (h *HTTPHandler) proposalAction(w http.ResponseWriter, r *http.Request,
	action func(uuid.UUID, domain.Role, uuid.UUID, string) (*domain.Proposal, error)) {
	actor, role, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body proposalActionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	p, err := action(body.ID, role, actor, body.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// SubmitProposal handles POST /api/v1/proposals/submit.
func (h *HTTPHandler) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	h.proposalAction(w, r, func(id uuid.UUID, role domain.Role, actor uuid.UUID, note string) (*domain.Proposal, error) {
		return h.proposals.Submit(r.Context(), id, role, actor, note)
	})
}

// WithdrawProposal handles POST /api/v1/proposals/withdraw.
func (h *HTTPHandler) WithdrawProposal(w http.ResponseWriter, r *http.Request) {
	h.proposalAction(w, r, func(id uuid.UUID, role domain.Role, actor uuid.UUID, note string) (*domain.Proposal, error) {
		return h.proposals.Withdraw(r.Context(), id, role, actor, note)
	})
}

// DisqualifyProposal handles POST /api/v1/proposals/disqualify.
func (h *HTTPHandler) DisqualifyProposal(w http.ResponseWriter, r *http.Request) {
	h.proposalAction(w, r, func(id uuid.UUID, role domain.Role, actor uuid.UUID, note string) (*domain.Proposal, error) {
		return h.proposals.Disqualify(r.Context(), id, role, actor, note)
	})
}

// AwardProposal handles POST /api/v1/proposals/award.
func (h *HTTPHandler) AwardProposal(w http.ResponseWriter, r *http.Request) {
	h.proposalAction(w, r, func(id uuid.UUID, role domain.Role, actor uuid.UUID, note string) (*domain.Proposal, error) {
		return h.proposals.Award(r.Context(), id, role, actor, note)
	})
}

// ScoreProposalStage handles POST /api/v1/proposals/score.
func (h *HTTPHandler) ScoreProposalStage(w http.ResponseWriter, r *http.Request) {
	actor, role, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		ID    uuid.UUID `json:"id"`
		Stage string    `json:"stage"`
		Score float64   `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}

	var p *domain.Proposal
	switch domain.Stage(body.Stage) {
	case domain.StageChallenge:
		p, err = h.proposals.ScoreChallenge(r.Context(), body.ID, body.Score, role, actor)
	case domain.StageScenario:
		p, err = h.proposals.ScoreScenario(r.Context(), body.ID, body.Score, role, actor)
	default:
		err = errors.InvalidInput("stage", "stage must be CHALLENGE or SCENARIO")
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// DeleteProposal handles DELETE /api/v1/proposals/delete?id=.
func (h *HTTPHandler) DeleteProposal(w http.ResponseWriter, r *http.Request) {
	if _, _, err := identity(r); err != nil {
		h.writeError(w, err)
		return
	}
	id, err := queryID(r, "id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.proposals.DeleteDraft(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── evaluations ───────────────────────────────────────────────────────────────

// SubmitEvaluation handles POST /api/v1/evaluations/submit.
func (h *HTTPHandler) SubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	actor, _, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		ProposalID uuid.UUID              `json:"proposal"`
		Stage      string                 `json:"stage"`
		Scores     []domain.QuestionScore `json:"scores"`
		Note       string                 `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	eval, err := h.consensus.SubmitEvaluation(r.Context(), &service.SubmitEvaluationRequest{
		ProposalID: body.ProposalID,
		Evaluator:  actor,
		Stage:      domain.EvaluationStage(body.Stage),
		Scores:     body.Scores,
		Note:       body.Note,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, eval)
}

// FinalizeConsensus handles POST /api/v1/evaluations/finalize.
func (h *HTTPHandler) FinalizeConsensus(w http.ResponseWriter, r *http.Request) {
	actor, role, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var body struct {
		OpportunityID uuid.UUID `json:"opportunity"`
		Note          string    `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, errors.InvalidInput("body", "invalid request body"))
		return
	}
	opp, err := h.consensus.FinalizeConsensus(r.Context(), body.OpportunityID, role, actor, body.Note)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, opp)
}

// ── scoring ───────────────────────────────────────────────────────────────────

// OpportunityScoring handles GET /api/v1/scoring?opportunity_id=.
func (h *HTTPHandler) OpportunityScoring(w http.ResponseWriter, r *http.Request) {
	_, role, err := identity(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if role == domain.RoleVendor {
		h.writeError(w, errors.Permission("vendors cannot read the scoring table"))
		return
	}
	opportunityID, err := queryID(r, "opportunity_id")
	if err != nil {
		h.writeError(w, err)
		return
	}
	scorings, err := h.scoring.ComputeScoring(r.Context(), opportunityID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, scorings)
}
