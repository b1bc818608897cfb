package improvement_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"steward/internal/governance"
	"steward/internal/governance/improvement"
	"steward/internal/governance/improvement/mocks"
	"steward/internal/ledger/coordinator"
	"steward/internal/ledger/eventlog"
	"steward/internal/ledger/metrics"
	"steward/internal/ledger/mirror"
	"steward/internal/ledger/models"
	"steward/internal/ledger/tamper"
	"steward/internal/session"
	dErrors "steward/pkg/domain-errors"
)

type staticOTP string

func (o staticOTP) Validate(_ context.Context, code string) (bool, error) {
	return code == string(o), nil
}

type ImprovementSuite struct {
	suite.Suite
	ctrl        *gomock.Controller
	advisor     *mocks.MockAdvisor
	implementer *mocks.MockImplementer
	sessions    *session.Manager
	gov         *governance.Service
	workflow    *improvement.Workflow

	mu  sync.Mutex
	now time.Time
}

func TestImprovementSuite(t *testing.T) {
	suite.Run(t, new(ImprovementSuite))
}

func (s *ImprovementSuite) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = s.now.Add(time.Millisecond)
	return s.now
}

func (s *ImprovementSuite) SetupTest() {
	s.now = time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC)
	s.ctrl = gomock.NewController(s.T())
	s.advisor = mocks.NewMockAdvisor(s.ctrl)
	s.implementer = mocks.NewMockImplementer(s.ctrl)

	coord := coordinator.New(tamper.NewMemory(), eventlog.NewMemory(), mirror.NewMemory(),
		coordinator.WithClock(s.clock),
		coordinator.WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
	)
	sessions, err := session.NewManager(staticOTP("424242"), []byte("0123456789abcdef0123456789abcdef"),
		session.WithClock(s.clock),
	)
	s.Require().NoError(err)
	s.sessions = sessions
	s.gov = governance.New(coord, sessions, "authority", governance.WithClock(s.clock))
	s.workflow = improvement.New(s.gov, s.advisor, s.implementer, "builder", nil)
}

func (s *ImprovementSuite) idea(title string) improvement.Idea {
	return improvement.Idea{
		Title:      title,
		Motivation: "reduce persist latency",
		Components: []string{"vault", "blob"},
		Changes:    []models.Change{{Path: "internal/vault/blob/file.go", Action: "modify"}},
	}
}

func (s *ImprovementSuite) approve(id string) {
	ctx := context.Background()
	token, _, err := s.sessions.Create(ctx, "authority", "424242")
	s.Require().NoError(err)
	_, err = s.gov.Approve(ctx, token, id, "424242", "ok")
	s.Require().NoError(err)
}

func (s *ImprovementSuite) TestProposeSubmitsReviewedIdea() {
	s.advisor.EXPECT().Review(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p models.ProposalPayload) (improvement.Review, error) {
			s.Equal(improvement.Category, p.Category)
			s.Equal("vault,blob", p.Labels["components"])
			return improvement.Review{RiskLevel: "medium", Summary: "touches persistence"}, nil
		})

	out, err := s.workflow.Propose(context.Background(), s.idea("batch fsync"))
	s.Require().NoError(err)
	s.True(out.Submitted)

	p, err := s.gov.Get(context.Background(), out.ProposalID)
	s.Require().NoError(err)
	s.Equal(models.StatusPendingApproval, p.Status)
	s.Equal("medium", p.Payload.RiskLevel)
	s.Equal("builder", p.Submitter)
	s.Equal(1, p.Comments)
}

func (s *ImprovementSuite) TestBlockingReviewStaysDraft() {
	s.advisor.EXPECT().Review(gomock.Any(), gomock.Any()).
		Return(improvement.Review{RiskLevel: "high", Blocking: []string{"drops fsync"}}, nil)

	out, err := s.workflow.Propose(context.Background(), s.idea("skip fsync"))
	s.Require().NoError(err)
	s.False(out.Submitted)

	p, err := s.gov.Get(context.Background(), out.ProposalID)
	s.Require().NoError(err)
	s.Equal(models.StatusDraft, p.Status)

	pending, err := s.gov.Pending(context.Background(), 0)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *ImprovementSuite) TestProposeValidation() {
	_, err := s.workflow.Propose(context.Background(), improvement.Idea{Changes: []models.Change{{Path: "x"}}})
	s.Equal(dErrors.CodeValidation, dErrors.CodeOf(err))

	_, err = s.workflow.Propose(context.Background(), improvement.Idea{Title: "empty"})
	s.Equal(dErrors.CodeValidation, dErrors.CodeOf(err))
}

func (s *ImprovementSuite) TestImplementRequiresApproval() {
	s.advisor.EXPECT().Review(gomock.Any(), gomock.Any()).Return(improvement.Review{RiskLevel: "low"}, nil)
	out, err := s.workflow.Propose(context.Background(), s.idea("cache salt"))
	s.Require().NoError(err)

	s.implementer.EXPECT().Apply(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
	_, err = s.workflow.Implement(context.Background(), out.ProposalID)
	s.Equal(dErrors.CodeApprovalRequired, dErrors.CodeOf(err))
}

func (s *ImprovementSuite) TestImplementApproved() {
	s.advisor.EXPECT().Review(gomock.Any(), gomock.Any()).Return(improvement.Review{RiskLevel: "low"}, nil)
	out, err := s.workflow.Propose(context.Background(), s.idea("cache salt"))
	s.Require().NoError(err)
	s.approve(out.ProposalID)

	s.implementer.EXPECT().Apply(gomock.Any(), out.ProposalID, gomock.Len(1)).Return("c0ffee", nil)
	ref, err := s.workflow.Implement(context.Background(), out.ProposalID)
	s.Require().NoError(err)
	s.Equal("c0ffee", ref)

	p, err := s.gov.Get(context.Background(), out.ProposalID)
	s.Require().NoError(err)
	s.Equal(models.StatusImplemented, p.Status)

	_, err = s.workflow.Implement(context.Background(), out.ProposalID)
	s.Equal(dErrors.CodeApprovalRequired, dErrors.CodeOf(err))
}

func (s *ImprovementSuite) TestImplementerFailureLeavesApproved() {
	s.advisor.EXPECT().Review(gomock.Any(), gomock.Any()).Return(improvement.Review{RiskLevel: "low"}, nil)
	out, err := s.workflow.Propose(context.Background(), s.idea("cache salt"))
	s.Require().NoError(err)
	s.approve(out.ProposalID)

	s.implementer.EXPECT().Apply(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("merge conflict"))
	_, err = s.workflow.Implement(context.Background(), out.ProposalID)
	s.Require().Error(err)

	p, err := s.gov.Get(context.Background(), out.ProposalID)
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, p.Status)
}

func (s *ImprovementSuite) TestRun() {
	s.advisor.EXPECT().Suggest(gomock.Any(), "vault").
		Return([]improvement.Idea{s.idea("one"), s.idea("two")}, nil)
	s.advisor.EXPECT().Review(gomock.Any(), gomock.Any()).Return(improvement.Review{RiskLevel: "low"}, nil).Times(2)

	outs, err := s.workflow.Run(context.Background(), "vault")
	s.Require().NoError(err)
	s.Require().Len(outs, 2)
	s.NotEqual(outs[0].ProposalID, outs[1].ProposalID)

	pending, err := s.gov.Pending(context.Background(), 0)
	s.Require().NoError(err)
	s.Len(pending, 2)
}

func (s *ImprovementSuite) TestRunAdvisorDown() {
	s.advisor.EXPECT().Suggest(gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))
	_, err := s.workflow.Run(context.Background(), "vault")
	s.Equal(dErrors.CodeBackendUnavailable, dErrors.CodeOf(err))
}
