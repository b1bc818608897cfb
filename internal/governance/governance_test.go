package governance_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"steward/internal/governance"
	"steward/internal/ledger/coordinator"
	"steward/internal/ledger/eventlog"
	"steward/internal/ledger/metrics"
	"steward/internal/ledger/mirror"
	"steward/internal/ledger/models"
	"steward/internal/ledger/tamper"
	"steward/internal/session"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/audit"
	"steward/pkg/platform/audit/store/memory"
)

// oneShotOTP accepts each listed code once.
type oneShotOTP struct {
	mu    sync.Mutex
	codes map[string]bool
}

func (o *oneShotOTP) Validate(_ context.Context, code string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.codes[code] {
		delete(o.codes, code)
		return true, nil
	}
	return false, nil
}

// barrierLedger holds AppendTransition calls until n callers arrived.
type barrierLedger struct {
	*coordinator.Coordinator
	wg *sync.WaitGroup
}

func (b barrierLedger) AppendTransition(ctx context.Context, id string, t models.EventType, d models.Transition, expected int64) (int64, error) {
	b.wg.Done()
	b.wg.Wait()
	return b.Coordinator.AppendTransition(ctx, id, t, d, expected)
}

type GovernanceSuite struct {
	suite.Suite
	clockMu  sync.Mutex
	now      time.Time
	otp      *oneShotOTP
	coord    *coordinator.Coordinator
	sessions *session.Manager
	auditor  *memory.Store
	gov      *governance.Service
}

func TestGovernanceSuite(t *testing.T) {
	suite.Run(t, new(GovernanceSuite))
}

func (s *GovernanceSuite) clock() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

func (s *GovernanceSuite) SetupTest() {
	s.now = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s.otp = &oneShotOTP{codes: map[string]bool{
		"otp-1": true, "otp-2": true, "otp-3": true, "otp-4": true,
	}}
	s.coord = coordinator.New(tamper.NewMemory(), eventlog.NewMemory(), mirror.NewMemory(),
		coordinator.WithClock(s.clock),
		coordinator.WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
	)
	sessions, err := session.NewManager(s.otp, []byte("0123456789abcdef0123456789abcdef"),
		session.WithClock(s.clock),
		session.WithOTPRequired("authority"),
	)
	s.Require().NoError(err)
	s.sessions = sessions
	s.auditor = memory.New()
	s.gov = governance.New(s.coord, s.sessions, "authority",
		governance.WithClock(s.clock),
		governance.WithAuditor(s.auditor),
	)
}

func (s *GovernanceSuite) authoritySession(otp string) string {
	token, _, err := s.sessions.Create(context.Background(), "authority", otp)
	s.Require().NoError(err)
	return token
}

func (s *GovernanceSuite) submit(title string) string {
	id, err := s.gov.Submit(context.Background(), "builder", models.ProposalPayload{
		Title:     title,
		RiskLevel: "low",
		Changes:   []models.Change{{Path: "cmd/steward/main.go", Action: "modify"}},
	})
	s.Require().NoError(err)
	return id
}

func (s *GovernanceSuite) requireCode(err error, code dErrors.Code) {
	s.T().Helper()
	s.Require().Error(err)
	s.Equal(code, dErrors.CodeOf(err), err.Error())
}

func (s *GovernanceSuite) TestSubmitIsPending() {
	id := s.submit("rotate keys")

	p, err := s.gov.Get(context.Background(), id)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingApproval, p.Status)
	s.Equal("builder", p.Submitter)
	s.Equal("builder", p.Payload.Submitter)
	s.Equal(int64(1), p.Version)
	s.Empty(p.Drift)

	pending, err := s.gov.Pending(context.Background(), 0)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(id, pending[0].ID)
}

func (s *GovernanceSuite) TestSubmitValidation() {
	_, err := s.gov.Submit(context.Background(), "builder", models.ProposalPayload{})
	s.requireCode(err, dErrors.CodeValidation)

	_, err = s.gov.Submit(context.Background(), "", models.ProposalPayload{Title: "x"})
	s.requireCode(err, dErrors.CodeValidation)
}

func (s *GovernanceSuite) TestApprove() {
	ctx := context.Background()
	id := s.submit("enable feature")
	token := s.authoritySession("otp-1")

	dec, err := s.gov.Approve(ctx, token, id, "otp-2", "looks good")
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, dec.Status)
	s.Equal("authority", dec.DecidedBy)
	s.NotEmpty(dec.RecordID)

	p, err := s.gov.Get(ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, p.Status)
	s.Equal("authority", p.DecidedBy)
	s.Equal("looks good", p.Reason)

	s.Run("approval record is stored separately", func() {
		res, err := s.coord.GetGovernanceRecord(ctx, dec.RecordID, true)
		s.Require().NoError(err)
		s.Equal(models.RecordApproval, res.Record.Type)
		s.Equal("authority", res.Record.Authority)
	})

	s.Run("pending no longer lists it", func() {
		pending, err := s.gov.Pending(ctx, 10)
		s.Require().NoError(err)
		s.Empty(pending)
	})

	s.Run("cannot decide twice", func() {
		_, err := s.gov.Reject(ctx, token, id, "otp-3", "changed my mind")
		s.requireCode(err, dErrors.CodeInvariantViolation)
	})

	events := s.auditor.ListByAction(audit.ActionProposalApprove)
	s.Require().Len(events, 1)
	s.True(events[0].Success)
	s.Equal(id, events[0].Key)
}

func (s *GovernanceSuite) TestDecisionGuards() {
	ctx := context.Background()
	id := s.submit("guarded")

	s.Run("unknown session", func() {
		_, err := s.gov.Approve(ctx, "not-a-token", id, "otp-1", "")
		s.requireCode(err, dErrors.CodeTokenInvalid)
	})

	s.Run("non-authority session", func() {
		token, _, err := s.sessions.Create(ctx, "builder", "")
		s.Require().NoError(err)
		_, err = s.gov.Approve(ctx, token, id, "otp-1", "")
		s.requireCode(err, dErrors.CodeAuthorizationDenied)
	})

	token := s.authoritySession("otp-1")

	s.Run("missing otp", func() {
		_, err := s.gov.Approve(ctx, token, id, "", "")
		s.requireCode(err, dErrors.CodeAuthenticationFailure)
	})

	s.Run("replayed otp", func() {
		_, err := s.gov.Approve(ctx, token, id, "otp-1", "")
		s.requireCode(err, dErrors.CodeAuthenticationFailure)
	})

	s.Run("reject requires a reason", func() {
		_, err := s.gov.Reject(ctx, token, id, "otp-2", " ")
		s.requireCode(err, dErrors.CodeValidation)
	})

	p, err := s.gov.Get(ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingApproval, p.Status)
}

func (s *GovernanceSuite) TestConcurrentDecisionsOneWins() {
	ctx := context.Background()
	id := s.submit("race")

	var barrier sync.WaitGroup
	barrier.Add(2)
	gov := governance.New(barrierLedger{Coordinator: s.coord, wg: &barrier}, s.sessions, "authority",
		governance.WithClock(s.clock),
	)

	approveToken := s.authoritySession("otp-1")
	rejectToken := s.authoritySession("otp-2")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = gov.Approve(ctx, approveToken, id, "otp-3", "yes")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = gov.Reject(ctx, rejectToken, id, "otp-4", "no")
	}()
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case dErrors.HasCode(err, dErrors.CodeConcurrencyConflict):
			conflicts++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, wins)
	s.Equal(1, conflicts)
}

func (s *GovernanceSuite) TestCommentsAndRevisions() {
	ctx := context.Background()
	id := s.submit("needs work")

	commentID, err := s.gov.Comment(ctx, "reviewer", id, "please add tests")
	s.Require().NoError(err)
	s.NotEmpty(commentID)

	_, err = s.gov.Revise(ctx, "someone-else", id, models.RevisionPayload{Summary: "hijack"})
	s.requireCode(err, dErrors.CodeAuthorizationDenied)

	revID, err := s.gov.Revise(ctx, "builder", id, models.RevisionPayload{Summary: "added tests", Title: "needs work v2"})
	s.Require().NoError(err)

	p, err := s.gov.Get(ctx, id)
	s.Require().NoError(err)
	s.Equal(1, p.Comments)
	s.Equal(1, p.Revisions)
	s.Equal([]string{commentID, revID}, p.Related)
	s.Equal(models.StatusPendingApproval, p.Status)

	_, err = s.gov.Comment(ctx, "", id, "x")
	s.requireCode(err, dErrors.CodeValidation)
}

func (s *GovernanceSuite) TestImplementOnlyApproved() {
	ctx := context.Background()
	id := s.submit("ship it")

	_, err := s.gov.MarkImplemented(ctx, "builder", id, models.ImplementationPayload{Reference: "abc123"})
	s.requireCode(err, dErrors.CodeApprovalRequired)

	token := s.authoritySession("otp-1")
	_, err = s.gov.Approve(ctx, token, id, "otp-2", "")
	s.Require().NoError(err)

	implID, err := s.gov.MarkImplemented(ctx, "builder", id, models.ImplementationPayload{Reference: "abc123"})
	s.Require().NoError(err)

	p, err := s.gov.Get(ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusImplemented, p.Status)
	s.Contains(p.Related, implID)

	s.Run("implemented proposals are closed to comments", func() {
		_, err := s.gov.Comment(ctx, "reviewer", id, "late")
		s.requireCode(err, dErrors.CodeInvariantViolation)
	})
}

func (s *GovernanceSuite) TestDraftFlow() {
	ctx := context.Background()
	id, err := s.gov.Draft(ctx, "advisor", models.ProposalPayload{Title: "draft idea"})
	s.Require().NoError(err)

	drafts, err := s.gov.List(ctx, models.StatusDraft, 10)
	s.Require().NoError(err)
	s.Require().Len(drafts, 1)

	token := s.authoritySession("otp-1")
	_, err = s.gov.Approve(ctx, token, id, "otp-2", "")
	s.requireCode(err, dErrors.CodeInvariantViolation)

	s.Require().NoError(s.gov.SubmitDraft(ctx, "advisor", id))
	p, err := s.gov.Get(ctx, id)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingApproval, p.Status)

	s.Run("submitting twice fails", func() {
		s.requireCode(s.gov.SubmitDraft(ctx, "advisor", id), dErrors.CodeInvariantViolation)
	})
}

func (s *GovernanceSuite) TestGetRejectsNonProposals() {
	ctx := context.Background()
	id := s.submit("host")
	commentID, err := s.gov.Comment(ctx, "reviewer", id, "hello")
	s.Require().NoError(err)

	_, err = s.gov.Get(ctx, commentID)
	s.requireCode(err, dErrors.CodeNotFound)

	_, err = s.gov.Get(ctx, "proposal-0-deadbeef")
	s.requireCode(err, dErrors.CodeNotFound)
}
