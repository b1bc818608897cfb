// Package governance runs the proposal lifecycle on top of the ledger
// coordinator: submission, Authority decisions gated on a fresh OTP,
// comments, revisions and implementation.
package governance

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"steward/internal/ledger/coordinator"
	"steward/internal/ledger/models"
	"steward/internal/session"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/audit"
)

const (
	OperationApprove = "approve_proposal"
	OperationReject  = "reject_proposal"

	// DefaultPendingLimit bounds Pending when no limit is given.
	DefaultPendingLimit = 100
	// maxAppendAttempts bounds retries for comments and revisions racing
	// other appends. Decisions are never retried.
	maxAppendAttempts = 3
)

// Ledger is the coordinator surface the workflow uses.
type Ledger interface {
	StorePayload(ctx context.Context, authority string, p models.Payload) (string, error)
	StoreDraft(ctx context.Context, authority string, p models.ProposalPayload) (string, error)
	AppendTransition(ctx context.Context, recordID string, t models.EventType, data models.Transition, expected int64) (int64, error)
	Replay(ctx context.Context, recordID string) (*models.RecordState, error)
	GetGovernanceRecord(ctx context.Context, id string, verify bool) (*coordinator.ReadResult, error)
	Find(ctx context.Context, q coordinator.Query) ([]coordinator.Summary, error)
}

// Sessions resolves Authority sessions and checks fresh OTPs.
type Sessions interface {
	Resolve(ctx context.Context, token string) (*session.Session, error)
	Revalidate(ctx context.Context, token, otp string) (*session.Session, error)
}

// Proposal is a proposal record with its replayed lifecycle state.
type Proposal struct {
	ID        string                 `json:"proposal_id"`
	Submitter string                 `json:"submitter"`
	Payload   models.ProposalPayload `json:"proposal"`
	Status    models.Status          `json:"status"`
	Version   int64                  `json:"version"`
	DecidedBy string                 `json:"decided_by,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Comments  int                    `json:"comments"`
	Revisions int                    `json:"revisions"`
	Related   []string               `json:"related_records,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at,omitzero"`
	Drift     []string               `json:"drift,omitempty"`
}

// Decision is the result of an approval or rejection.
type Decision struct {
	ProposalID string        `json:"proposal_id"`
	RecordID   string        `json:"record_id,omitempty"`
	Status     models.Status `json:"status"`
	Version    int64         `json:"version"`
	DecidedBy  string        `json:"decided_by"`
	DecidedAt  time.Time     `json:"decided_at"`
}

// Service is safe for concurrent use; lifecycle races resolve in the event
// log's optimistic concurrency.
type Service struct {
	ledger    Ledger
	sessions  Sessions
	authority string
	registry  *models.Registry
	logger    *slog.Logger
	auditor   audit.Recorder
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithAuditor(r audit.Recorder) Option {
	return func(s *Service) { s.auditor = r }
}

func WithRegistry(r *models.Registry) Option {
	return func(s *Service) {
		if r != nil {
			s.registry = r
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a governance service where authority is the only user id
// allowed to decide proposals.
func New(ledger Ledger, sessions Sessions, authority string, opts ...Option) *Service {
	s := &Service{
		ledger:    ledger,
		sessions:  sessions,
		authority: authority,
		registry:  models.NewRegistry(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authority returns the deciding user id.
func (s *Service) Authority() string { return s.authority }

// Submit records a proposal directly in pending_approval.
func (s *Service) Submit(ctx context.Context, submitter string, p models.ProposalPayload) (string, error) {
	if err := validateProposal(submitter, &p); err != nil {
		return "", err
	}
	id, err := s.ledger.StorePayload(ctx, submitter, p)
	if err != nil {
		return id, err
	}
	s.logger.InfoContext(ctx, "proposal submitted", "proposal_id", id, "submitter", submitter)
	return id, nil
}

// Draft records a proposal in draft status. SubmitDraft moves it on.
func (s *Service) Draft(ctx context.Context, submitter string, p models.ProposalPayload) (string, error) {
	if err := validateProposal(submitter, &p); err != nil {
		return "", err
	}
	return s.ledger.StoreDraft(ctx, submitter, p)
}

// SubmitDraft moves a draft to pending_approval.
func (s *Service) SubmitDraft(ctx context.Context, actor, proposalID string) error {
	_, err := s.transition(ctx, proposalID, models.EventProposalSubmitted, models.Transition{Actor: actor}, false)
	if err == nil {
		s.logger.InfoContext(ctx, "draft submitted", "proposal_id", proposalID, "actor", actor)
	}
	return err
}

// Approve records the Authority's approval. The session must belong to the
// Authority and otp must be a fresh hardware code.
func (s *Service) Approve(ctx context.Context, sessionToken, proposalID, otp, notes string) (*Decision, error) {
	return s.decide(ctx, sessionToken, proposalID, otp, true, notes)
}

// Reject records the Authority's rejection with a reason.
func (s *Service) Reject(ctx context.Context, sessionToken, proposalID, otp, reason string) (*Decision, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection reason is required")
	}
	return s.decide(ctx, sessionToken, proposalID, otp, false, reason)
}

func (s *Service) decide(ctx context.Context, token, proposalID, otp string, approve bool, text string) (dec *Decision, err error) {
	action, op, eventType := audit.ActionProposalReject, OperationReject, models.EventProposalRejected
	if approve {
		action, op, eventType = audit.ActionProposalApprove, OperationApprove, models.EventProposalApproved
	}
	var user string
	defer func() { s.record(ctx, action, user, proposalID, err) }()

	sess, err := s.sessions.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	user = sess.UserID
	if sess.UserID != s.authority {
		s.logger.WarnContext(ctx, "non-authority decision attempt", "user_id", sess.UserID, "proposal_id", proposalID)
		return nil, dErrors.New(dErrors.CodeAuthorizationDenied, "only the Authority may decide proposals")
	}
	st, err := s.proposalState(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if _, err := models.Next(st.Status, eventType); err != nil {
		return nil, err
	}
	if otp == "" {
		return nil, dErrors.Newf(dErrors.CodeAuthenticationFailure, "%s requires a fresh OTP", op)
	}
	if _, err := s.sessions.Revalidate(ctx, token, otp); err != nil {
		return nil, err
	}

	tr := models.Transition{Actor: sess.UserID, Reason: text}
	version, err := s.transition(ctx, proposalID, eventType, tr, true)
	if err != nil {
		return nil, err
	}

	var p models.Payload = models.ApprovalPayload{ProposalID: proposalID, ApprovedBy: sess.UserID, Notes: text}
	status := models.StatusApproved
	if !approve {
		p = models.RejectionPayload{ProposalID: proposalID, RejectedBy: sess.UserID, Reason: text}
		status = models.StatusRejected
	}
	dec = &Decision{
		ProposalID: proposalID,
		Status:     status,
		Version:    version,
		DecidedBy:  sess.UserID,
		DecidedAt:  s.now(),
	}
	recordID, err := s.ledger.StorePayload(ctx, sess.UserID, p)
	dec.RecordID = recordID
	if err != nil {
		// The decision already stands on the proposal stream.
		s.logger.ErrorContext(ctx, "decision record write failed",
			"proposal_id", proposalID,
			"status", string(status),
			"error", err,
		)
		return dec, err
	}

	s.logger.InfoContext(ctx, "proposal decided",
		"proposal_id", proposalID,
		"status", string(status),
		"record_id", recordID,
	)
	return dec, nil
}

// Comment stores a comment record and links it to the proposal stream.
func (s *Service) Comment(ctx context.Context, author, proposalID, body string) (string, error) {
	if strings.TrimSpace(author) == "" || strings.TrimSpace(body) == "" {
		return "", dErrors.New(dErrors.CodeValidation, "author and body are required")
	}
	st, err := s.proposalState(ctx, proposalID)
	if err != nil {
		return "", err
	}
	if _, err := models.Next(st.Status, models.EventCommentAdded); err != nil {
		return "", err
	}
	id, err := s.ledger.StorePayload(ctx, author, models.CommentPayload{ProposalID: proposalID, Author: author, Body: body})
	if err != nil {
		return id, err
	}
	_, err = s.transition(ctx, proposalID, models.EventCommentAdded, models.Transition{Actor: author, RelatedRecordID: id}, false)
	return id, err
}

// Revise amends a draft or pending proposal. Only its submitter or the
// Authority may revise it.
func (s *Service) Revise(ctx context.Context, author, proposalID string, r models.RevisionPayload) (string, error) {
	if strings.TrimSpace(author) == "" {
		return "", dErrors.New(dErrors.CodeValidation, "author is required")
	}
	st, err := s.proposalState(ctx, proposalID)
	if err != nil {
		return "", err
	}
	if author != st.Authority && author != s.authority {
		return "", dErrors.New(dErrors.CodeAuthorizationDenied, "only the submitter may revise a proposal")
	}
	if _, err := models.Next(st.Status, models.EventProposalRevised); err != nil {
		return "", err
	}
	r.ProposalID = proposalID
	r.Author = author
	id, err := s.ledger.StorePayload(ctx, author, r)
	if err != nil {
		return id, err
	}
	_, err = s.transition(ctx, proposalID, models.EventProposalRevised,
		models.Transition{Actor: author, Reason: r.Summary, RelatedRecordID: id}, false)
	return id, err
}

// MarkImplemented records that an approved proposal was carried out.
func (s *Service) MarkImplemented(ctx context.Context, actor, proposalID string, impl models.ImplementationPayload) (string, error) {
	st, err := s.proposalState(ctx, proposalID)
	if err != nil {
		return "", err
	}
	if st.Status != models.StatusApproved {
		return "", dErrors.Newf(dErrors.CodeApprovalRequired, "proposal %s is %s, not approved", proposalID, st.Status)
	}
	impl.ProposalID = proposalID
	impl.ImplementedBy = actor
	id, err := s.ledger.StorePayload(ctx, actor, impl)
	if err != nil {
		return id, err
	}
	_, err = s.transition(ctx, proposalID, models.EventProposalImplemented,
		models.Transition{Actor: actor, RelatedRecordID: id}, false)
	if err == nil {
		s.logger.InfoContext(ctx, "proposal implemented", "proposal_id", proposalID, "record_id", id)
	}
	return id, err
}

// Pending lists proposals awaiting the Authority, newest first.
func (s *Service) Pending(ctx context.Context, limit int) ([]Proposal, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return s.List(ctx, models.StatusPendingApproval, limit)
}

// List returns proposals in status (all statuses when empty).
func (s *Service) List(ctx context.Context, status models.Status, limit int) ([]Proposal, error) {
	sums, err := s.ledger.Find(ctx, coordinator.Query{Type: models.RecordProposal, Status: status, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]Proposal, 0, len(sums))
	for _, sum := range sums {
		p, err := s.fromRecord(sum.Record)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable proposal", "record_id", sum.Record.ID, "error", err)
			continue
		}
		p.Status = sum.Status
		p.Version = sum.Version
		out = append(out, *p)
	}
	return out, nil
}

// Get returns a proposal with its replayed state and any cross-store drift.
func (s *Service) Get(ctx context.Context, proposalID string) (*Proposal, error) {
	res, err := s.ledger.GetGovernanceRecord(ctx, proposalID, true)
	if err != nil {
		return nil, err
	}
	if res.Record.Type != models.RecordProposal {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "%s is not a proposal", proposalID)
	}
	p, err := s.fromRecord(res.Record)
	if err != nil {
		return nil, err
	}
	p.Drift = res.Drift
	st, err := s.ledger.Replay(ctx, proposalID)
	if err != nil {
		if res.Drifted() {
			// The stream is what drifted; serve the record without state.
			return p, nil
		}
		return nil, err
	}
	applyState(p, st)
	return p, nil
}

func (s *Service) fromRecord(rec *models.Record) (*Proposal, error) {
	payload, err := rec.Payload(s.registry)
	if err != nil {
		return nil, err
	}
	pp, ok := payload.(models.ProposalPayload)
	if !ok {
		return nil, dErrors.Newf(dErrors.CodeInvariantViolation, "record %s does not hold a proposal", rec.ID)
	}
	return &Proposal{
		ID:        rec.ID,
		Submitter: rec.Authority,
		Payload:   pp,
		CreatedAt: rec.CreatedAt(),
	}, nil
}

func applyState(p *Proposal, st *models.RecordState) {
	p.Status = st.Status
	p.Version = st.Version + 1
	p.DecidedBy = st.DecidedBy
	p.Reason = st.Reason
	p.Comments = st.Comments
	p.Revisions = st.Revisions
	p.Related = st.Related
	p.UpdatedAt = st.UpdatedAt
}

func (s *Service) proposalState(ctx context.Context, proposalID string) (*models.RecordState, error) {
	st, err := s.ledger.Replay(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if st.RecordType != models.RecordProposal {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "%s is not a proposal", proposalID)
	}
	return st, nil
}

// transition checks the lifecycle against the replayed state and appends at
// the observed version. Unless strict, a lost race is retried against fresh
// state; strict callers get the concurrency_conflict.
func (s *Service) transition(ctx context.Context, proposalID string, t models.EventType, tr models.Transition, strict bool) (int64, error) {
	for attempt := 1; ; attempt++ {
		st, err := s.proposalState(ctx, proposalID)
		if err != nil {
			return 0, err
		}
		if _, err := models.Next(st.Status, t); err != nil {
			return 0, err
		}
		version, err := s.ledger.AppendTransition(ctx, proposalID, t, tr, st.Version+1)
		if err == nil {
			return version, nil
		}
		if strict || attempt >= maxAppendAttempts || !dErrors.HasCode(err, dErrors.CodeConcurrencyConflict) {
			return 0, err
		}
		s.logger.DebugContext(ctx, "retrying transition after concurrent append",
			"proposal_id", proposalID,
			"event_type", string(t),
			"attempt", attempt,
		)
	}
}

func validateProposal(submitter string, p *models.ProposalPayload) error {
	if strings.TrimSpace(submitter) == "" {
		return dErrors.New(dErrors.CodeValidation, "submitter is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return dErrors.New(dErrors.CodeValidation, "proposal title is required")
	}
	if p.Submitter == "" {
		p.Submitter = submitter
	}
	return nil
}

func (s *Service) record(ctx context.Context, action, userID, proposalID string, err error) {
	if s.auditor == nil {
		return
	}
	event := audit.Event{
		Category:  audit.CategoryGovernance,
		Timestamp: s.now(),
		UserID:    userID,
		Action:    action,
		Key:       proposalID,
		Success:   err == nil,
		Severity:  audit.SeverityInfo,
	}
	if err != nil {
		event.Reason = string(dErrors.CodeOf(err))
		event.Severity = audit.SeverityWarning
	}
	if recErr := s.auditor.Record(ctx, event); recErr != nil {
		s.logger.ErrorContext(ctx, "failed to record governance decision", "action", action, "error", recErr)
	}
}
