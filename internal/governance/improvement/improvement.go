// Package improvement drives self-improvement proposals: an external advisor
// suggests and reviews change sets, the workflow files them as proposals and
// only carries out the ones the Authority approved.
package improvement

import (
	"context"
	"log/slog"
	"strings"

	"steward/internal/governance"
	"steward/internal/ledger/models"
	dErrors "steward/pkg/domain-errors"
)

//go:generate mockgen -source=improvement.go -destination=mocks/improvement_mock.go -package=mocks Advisor Implementer

// Category labels proposals filed by this workflow.
const Category = "self_improvement"

// Idea is a candidate improvement.
type Idea struct {
	Title       string
	Description string
	Motivation  string
	Components  []string
	Changes     []models.Change
}

// Review is the advisor's assessment of a change set.
type Review struct {
	RiskLevel string
	Summary   string
	// Blocking concerns keep the proposal in draft.
	Blocking []string
}

// Advisor is the external analysis service.
type Advisor interface {
	Suggest(ctx context.Context, area string) ([]Idea, error)
	Review(ctx context.Context, p models.ProposalPayload) (Review, error)
}

// Implementer applies an approved change set and returns a reference to the
// result, such as a commit hash.
type Implementer interface {
	Apply(ctx context.Context, proposalID string, changes []models.Change) (string, error)
}

// Governance is the proposal surface the workflow uses.
type Governance interface {
	Draft(ctx context.Context, submitter string, p models.ProposalPayload) (string, error)
	SubmitDraft(ctx context.Context, actor, proposalID string) error
	Comment(ctx context.Context, author, proposalID, body string) (string, error)
	Get(ctx context.Context, proposalID string) (*governance.Proposal, error)
	MarkImplemented(ctx context.Context, actor, proposalID string, impl models.ImplementationPayload) (string, error)
}

// Outcome is what happened to one idea.
type Outcome struct {
	ProposalID string
	Title      string
	Submitted  bool
	Review     Review
}

// Workflow files and implements improvement proposals as actor.
type Workflow struct {
	gov         Governance
	advisor     Advisor
	implementer Implementer
	actor       string
	logger      *slog.Logger
}

func New(gov Governance, advisor Advisor, implementer Implementer, actor string, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{gov: gov, advisor: advisor, implementer: implementer, actor: actor, logger: logger}
}

// Run asks the advisor for ideas about area and proposes each of them.
func (w *Workflow) Run(ctx context.Context, area string) ([]Outcome, error) {
	ideas, err := w.advisor.Suggest(ctx, area)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "advisor unavailable")
	}
	out := make([]Outcome, 0, len(ideas))
	for _, idea := range ideas {
		o, err := w.Propose(ctx, idea)
		if err != nil {
			return out, err
		}
		out = append(out, o)
	}
	return out, nil
}

// Propose drafts idea, has the advisor review it and submits it for approval
// unless the review raised blocking concerns.
func (w *Workflow) Propose(ctx context.Context, idea Idea) (Outcome, error) {
	if strings.TrimSpace(idea.Title) == "" {
		return Outcome{}, dErrors.New(dErrors.CodeValidation, "idea title is required")
	}
	if len(idea.Changes) == 0 {
		return Outcome{}, dErrors.New(dErrors.CodeValidation, "idea has no changes")
	}
	p := models.ProposalPayload{
		Title:       idea.Title,
		Description: idea.Description,
		Category:    Category,
		Submitter:   w.actor,
		Rationale:   idea.Motivation,
		Changes:     idea.Changes,
	}
	if len(idea.Components) > 0 {
		p.Labels = map[string]string{"components": strings.Join(idea.Components, ",")}
	}

	review, err := w.advisor.Review(ctx, p)
	if err != nil {
		return Outcome{}, dErrors.Wrap(err, dErrors.CodeBackendUnavailable, "advisor review unavailable")
	}
	p.RiskLevel = review.RiskLevel

	id, err := w.gov.Draft(ctx, w.actor, p)
	if err != nil {
		return Outcome{}, err
	}
	o := Outcome{ProposalID: id, Title: idea.Title, Review: review}

	if body := reviewComment(review); body != "" {
		if _, err := w.gov.Comment(ctx, w.actor, id, body); err != nil {
			return o, err
		}
	}
	if len(review.Blocking) > 0 {
		w.logger.WarnContext(ctx, "improvement held in draft", "proposal_id", id, "concerns", len(review.Blocking))
		return o, nil
	}
	if err := w.gov.SubmitDraft(ctx, w.actor, id); err != nil {
		return o, err
	}
	o.Submitted = true
	w.logger.InfoContext(ctx, "improvement submitted", "proposal_id", id, "risk", review.RiskLevel)
	return o, nil
}

// Implement applies an approved proposal. Anything not approved is refused
// with approval_required.
func (w *Workflow) Implement(ctx context.Context, proposalID string) (string, error) {
	p, err := w.gov.Get(ctx, proposalID)
	if err != nil {
		return "", err
	}
	if p.Status != models.StatusApproved {
		return "", dErrors.Newf(dErrors.CodeApprovalRequired, "proposal %s is %s", proposalID, p.Status)
	}
	ref, err := w.implementer.Apply(ctx, proposalID, p.Payload.Changes)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "apply approved changes")
	}
	if _, err := w.gov.MarkImplemented(ctx, w.actor, proposalID, models.ImplementationPayload{
		Reference: ref,
		Notes:     "applied by " + w.actor,
	}); err != nil {
		return ref, err
	}
	return ref, nil
}

func reviewComment(r Review) string {
	var b strings.Builder
	if r.Summary != "" {
		b.WriteString(r.Summary)
	}
	for _, c := range r.Blocking {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("blocking: ")
		b.WriteString(c)
	}
	return b.String()
}
