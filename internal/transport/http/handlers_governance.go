package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"steward/internal/governance"
	"steward/internal/ledger/models"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/httputil"
	"steward/pkg/requestcontext"
)

// GovernanceService is the proposal surface exposed over HTTP.
type GovernanceService interface {
	Submit(ctx context.Context, submitter string, p models.ProposalPayload) (string, error)
	Approve(ctx context.Context, sessionToken, proposalID, otp, notes string) (*governance.Decision, error)
	Reject(ctx context.Context, sessionToken, proposalID, otp, reason string) (*governance.Decision, error)
	Comment(ctx context.Context, author, proposalID, body string) (string, error)
	Revise(ctx context.Context, author, proposalID string, r models.RevisionPayload) (string, error)
	MarkImplemented(ctx context.Context, actor, proposalID string, impl models.ImplementationPayload) (string, error)
	List(ctx context.Context, status models.Status, limit int) ([]governance.Proposal, error)
	Get(ctx context.Context, proposalID string) (*governance.Proposal, error)
}

// GovernanceHandler serves /proposals. Every route runs behind RequireSession.
type GovernanceHandler struct {
	gov    GovernanceService
	logger *slog.Logger
}

func NewGovernanceHandler(gov GovernanceService, logger *slog.Logger) *GovernanceHandler {
	return &GovernanceHandler{gov: gov, logger: logger}
}

func (h *GovernanceHandler) Register(r chi.Router) {
	r.Post("/proposals", h.HandleSubmit)
	r.Get("/proposals", h.HandleList)
	r.Get("/proposals/{id}", h.HandleGet)
	r.Post("/proposals/{id}/approve", h.HandleApprove)
	r.Post("/proposals/{id}/reject", h.HandleReject)
	r.Post("/proposals/{id}/comments", h.HandleComment)
	r.Post("/proposals/{id}/revisions", h.HandleRevise)
	r.Post("/proposals/{id}/implementation", h.HandleImplemented)
}

type submitResponse struct {
	ProposalID string        `json:"proposal_id"`
	Status     models.Status `json:"status"`
}

// HandleSubmit answers 202: the proposal exists but waits on the Authority.
func (h *GovernanceHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[submitProposalRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	id, err := h.gov.Submit(ctx, requestcontext.UserID(ctx), req.payload())
	if err != nil && id == "" {
		h.fail(ctx, w, "submit proposal", "", err)
		return
	}
	if err != nil {
		h.logger.WarnContext(ctx, "proposal stored with partial write",
			"request_id", requestID,
			"proposal_id", id,
			"error", err,
		)
	}
	httputil.WriteJSON(w, http.StatusAccepted, submitResponse{ProposalID: id, Status: models.StatusPendingApproval})
}

type proposalsResponse struct {
	Proposals []governance.Proposal `json:"proposals"`
}

func (h *GovernanceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusPendingApproval
	}
	limit, err := parseLimit(r, governance.DefaultPendingLimit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.gov.List(ctx, status, limit)
	if err != nil {
		h.fail(ctx, w, "list proposals", "", err)
		return
	}
	if list == nil {
		list = []governance.Proposal{}
	}
	httputil.WriteJSON(w, http.StatusOK, proposalsResponse{Proposals: list})
}

func (h *GovernanceHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	p, err := h.gov.Get(ctx, id)
	if err != nil {
		h.fail(ctx, w, "get proposal", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *GovernanceHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, true)
}

func (h *GovernanceHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, false)
}

type decisionResponse struct {
	*governance.Decision
	Warning string `json:"warning,omitempty"`
}

func (h *GovernanceHandler) decide(w http.ResponseWriter, r *http.Request, approve bool) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[decisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	token := requestcontext.SessionToken(ctx)

	var (
		dec *governance.Decision
		err error
	)
	if approve {
		dec, err = h.gov.Approve(ctx, token, id, req.OTP, req.Notes)
	} else {
		dec, err = h.gov.Reject(ctx, token, id, req.OTP, req.Reason)
	}
	if err != nil && dec == nil {
		h.fail(ctx, w, "decide proposal", id, err)
		return
	}
	resp := decisionResponse{Decision: dec}
	if err != nil {
		// The transition is durable; only the separate decision record failed.
		h.logger.ErrorContext(ctx, "decision record not stored",
			"request_id", requestID,
			"proposal_id", id,
			"error", err,
		)
		resp.Warning = string(dErrors.CodeOf(err))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

type createdResponse struct {
	RecordID string `json:"record_id"`
}

func (h *GovernanceHandler) HandleComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[commentRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	recID, err := h.gov.Comment(ctx, requestcontext.UserID(ctx), id, req.Body)
	if err != nil {
		h.fail(ctx, w, "comment on proposal", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{RecordID: recID})
}

func (h *GovernanceHandler) HandleRevise(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[revisionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	recID, err := h.gov.Revise(ctx, requestcontext.UserID(ctx), id, models.RevisionPayload{
		Summary:     req.Summary,
		Title:       req.Title,
		Description: req.Description,
		Changes:     req.Changes,
	})
	if err != nil {
		h.fail(ctx, w, "revise proposal", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{RecordID: recID})
}

func (h *GovernanceHandler) HandleImplemented(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[implementationRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	recID, err := h.gov.MarkImplemented(ctx, requestcontext.UserID(ctx), id, models.ImplementationPayload{
		Reference: req.Reference,
		Notes:     req.Notes,
	})
	if err != nil {
		h.fail(ctx, w, "mark proposal implemented", id, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, createdResponse{RecordID: recID})
}

func (h *GovernanceHandler) fail(ctx context.Context, w http.ResponseWriter, op, id string, err error) {
	h.logger.WarnContext(ctx, op+" failed",
		"request_id", requestcontext.RequestID(ctx),
		"user_id", requestcontext.UserID(ctx),
		"proposal_id", id,
		"error", dErrors.CodeOf(err),
	)
	httputil.WriteError(w, err)
}

const maxListLimit = 500

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
	}
	return min(n, maxListLimit), nil
}
