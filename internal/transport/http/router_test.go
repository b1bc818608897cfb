package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"steward/internal/access"
	"steward/internal/governance"
	"steward/internal/ledger/coordinator"
	"steward/internal/ledger/eventlog"
	"steward/internal/ledger/metrics"
	"steward/internal/ledger/mirror"
	"steward/internal/ledger/models"
	"steward/internal/ledger/tamper"
	"steward/internal/platform/middleware"
	"steward/internal/session"
	"steward/internal/transport/http/mocks"
	"steward/internal/vault"
	dErrors "steward/pkg/domain-errors"
)

type staticOTP string

func (o staticOTP) Validate(_ context.Context, code string) (bool, error) {
	return code == string(o), nil
}

type RouterSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	vault    *mocks.MockVaultService
	ledger   *mocks.MockLedgerService
	sessions *session.Manager
	router   http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.vault = mocks.NewMockVaultService(s.ctrl)
	s.ledger = mocks.NewMockLedgerService(s.ctrl)

	sessions, err := session.NewManager(staticOTP("123456"), []byte("0123456789abcdef0123456789abcdef"))
	s.Require().NoError(err)
	s.sessions = sessions

	coord := coordinator.New(tamper.NewMemory(), eventlog.NewMemory(), mirror.NewMemory(),
		coordinator.WithMetrics(metrics.NewWith(prometheus.NewRegistry())),
	)
	gov := governance.New(coord, sessions, "authority")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = NewRouter(Deps{
		Vault:      s.vault,
		Sessions:   sessions,
		OTP:        staticOTP("123456"),
		Governance: gov,
		Ledger:     s.ledger,
		Gatherer:   prometheus.NewRegistry(),
		Logger:     logger,
	})
}

func (s *RouterSuite) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) decode(rec *httptest.ResponseRecorder, v any) {
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(v), rec.Body.String())
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *RouterSuite) session(userID string) map[string]string {
	token, _, err := s.sessions.Create(context.Background(), userID, "")
	s.Require().NoError(err)
	return map[string]string{middleware.SessionHeader: token}
}

func (s *RouterSuite) TestVaultRoundTrip() {
	expires := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	s.vault.EXPECT().Authenticate(gomock.Any(), "genesis", access.Factors{Password: "pw", OTP: "123456"}).
		Return("tok-1", &access.TokenData{UserID: "genesis", Role: access.Role{Name: "builder"}, ExpiresAt: expires}, nil)
	s.vault.EXPECT().Set(gomock.Any(), "tok-1", "genesis.db_url", "postgres://x").Return(nil)
	s.vault.EXPECT().Get(gomock.Any(), "tok-1", "genesis.db_url").Return("postgres://x", nil)
	s.vault.EXPECT().List(gomock.Any(), "tok-1", "genesis.").Return(nil, nil)

	rec := s.do(http.MethodPost, "/v1/vault/auth", map[string]string{"user_id": " genesis ", "password": "pw", "otp": "123456"}, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var tok tokenResponse
	s.decode(rec, &tok)
	s.Equal("tok-1", tok.Token)
	s.Equal("builder", tok.Role)
	s.True(expires.Equal(tok.ExpiresAt))

	rec = s.do(http.MethodPut, "/v1/vault/secrets/genesis.db_url", map[string]string{"value": "postgres://x"}, bearer("tok-1"))
	s.Equal(http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/v1/vault/secrets/genesis.db_url", nil, bearer("tok-1"))
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("no-store", rec.Header().Get("Cache-Control"))
	var sec secretResponse
	s.decode(rec, &sec)
	s.Equal("postgres://x", sec.Value)

	rec = s.do(http.MethodGet, "/v1/vault/secrets?prefix=genesis.", nil, bearer("tok-1"))
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"keys":[]}`, rec.Body.String())
}

func (s *RouterSuite) TestVaultErrorMapping() {
	cases := []struct {
		name   string
		err    error
		status int
		desc   string
	}{
		{"killswitch", dErrors.New(dErrors.CodeKillswitchActive, "kill-switch is active"), http.StatusLocked, "kill-switch is active"},
		{"denied", dErrors.New(dErrors.CodeAuthorizationDenied, "no read access to other.key"), http.StatusForbidden, "no read access to other.key"},
		{"expired", dErrors.New(dErrors.CodeTokenExpired, "token expired"), http.StatusUnauthorized, "token expired"},
		{"decryption", dErrors.New(dErrors.CodeDecryption, "tag mismatch at offset 4"), http.StatusInternalServerError, ""},
		{"backend", dErrors.New(dErrors.CodeBackendUnavailable, "dial tcp 10.0.0.5:5432"), http.StatusServiceUnavailable, ""},
		{"closed", dErrors.New(dErrors.CodeVaultClosed, "vault is closed"), http.StatusServiceUnavailable, "vault is closed"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.vault.EXPECT().Get(gomock.Any(), "tok", "other.key").Return("", tc.err)
			rec := s.do(http.MethodGet, "/v1/vault/secrets/other.key", nil, bearer("tok"))
			s.Equal(tc.status, rec.Code)
			var body struct {
				Error       string `json:"error"`
				Description string `json:"error_description"`
			}
			s.decode(rec, &body)
			s.Equal(string(dErrors.CodeOf(tc.err)), body.Error)
			s.Equal(tc.desc, body.Description)
		})
	}
}

func (s *RouterSuite) TestAuthenticationFailureIsUniform() {
	s.vault.EXPECT().Authenticate(gomock.Any(), "nobody", gomock.Any()).
		Return("", nil, dErrors.New(dErrors.CodeAuthenticationFailure, "unknown user nobody"))

	rec := s.do(http.MethodPost, "/v1/vault/auth", map[string]string{"user_id": "nobody", "password": "x"}, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.JSONEq(`{"error":"authentication_failure","error_description":"authentication failed"}`, rec.Body.String())
}

func (s *RouterSuite) TestRequestValidation() {
	rec := s.do(http.MethodPost, "/v1/vault/auth", map[string]string{"password": "x"}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/v1/killswitch/deactivate", map[string]string{}, nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/v1/vault/secrets/a.b", map[string]string{"unexpected": "x"}, bearer("tok"))
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestKillswitch() {
	at := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	active := vault.KillswitchStatus{Active: true, ActivatedBy: "authority", ActivatedAt: at}
	s.vault.EXPECT().ActivateKillswitch(gomock.Any(), "tok-a").Return(3, nil)
	s.vault.EXPECT().KillswitchStatus().Return(active)

	rec := s.do(http.MethodPost, "/v1/killswitch/activate", nil, bearer("tok-a"))
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var resp activateResponse
	s.decode(rec, &resp)
	s.True(resp.Active)
	s.Equal(3, resp.RevokedTokens)

	s.vault.EXPECT().DeactivateKillswitch(gomock.Any(), "wrong").
		Return(dErrors.New(dErrors.CodeAuthenticationFailure, "override mismatch"))
	rec = s.do(http.MethodPost, "/v1/killswitch/deactivate", map[string]string{"master_override": "wrong"}, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	s.vault.EXPECT().DeactivateKillswitch(gomock.Any(), "right").Return(nil)
	s.vault.EXPECT().KillswitchStatus().Return(vault.KillswitchStatus{})
	rec = s.do(http.MethodPost, "/v1/killswitch/deactivate", map[string]string{"master_override": "right"}, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"active":false}`, rec.Body.String())
}

func (s *RouterSuite) TestProposalFlow() {
	builder := s.session("builder")
	authority := s.session("authority")

	rec := s.do(http.MethodPost, "/v1/proposals", map[string]any{
		"title":      "rotate signing key",
		"risk_level": "Medium",
		"changes":    []map[string]string{{"path": "internal/session/session.go", "action": "modify"}},
	}, builder)
	s.Require().Equal(http.StatusAccepted, rec.Code, rec.Body.String())
	var sub submitResponse
	s.decode(rec, &sub)
	s.Equal(models.StatusPendingApproval, sub.Status)
	s.NotEmpty(sub.ProposalID)

	rec = s.do(http.MethodGet, "/v1/proposals", nil, authority)
	s.Require().Equal(http.StatusOK, rec.Code)
	var list proposalsResponse
	s.decode(rec, &list)
	s.Require().Len(list.Proposals, 1)
	s.Equal("medium", list.Proposals[0].Payload.RiskLevel)

	path := "/v1/proposals/" + sub.ProposalID
	s.Run("non-authority is denied", func() {
		rec := s.do(http.MethodPost, path+"/approve", map[string]string{"otp": "123456"}, builder)
		s.Equal(http.StatusForbidden, rec.Code)
	})
	s.Run("otp is required", func() {
		rec := s.do(http.MethodPost, path+"/approve", map[string]string{}, authority)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
	s.Run("wrong otp", func() {
		rec := s.do(http.MethodPost, path+"/approve", map[string]string{"otp": "000000"}, authority)
		s.Equal(http.StatusUnauthorized, rec.Code)
	})
	s.Run("implementation before approval needs approval", func() {
		rec := s.do(http.MethodPost, path+"/implementation", map[string]string{"reference": "abc"}, builder)
		s.Equal(http.StatusAccepted, rec.Code)
		s.Contains(rec.Body.String(), string(dErrors.CodeApprovalRequired))
	})

	rec = s.do(http.MethodPost, path+"/approve", map[string]string{"otp": "123456", "notes": "ship it"}, authority)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	var dec decisionResponse
	s.decode(rec, &dec)
	s.Equal(models.StatusApproved, dec.Status)
	s.Equal("authority", dec.DecidedBy)
	s.Empty(dec.Warning)

	rec = s.do(http.MethodPost, path+"/reject", map[string]string{"otp": "123456", "reason": "late"}, authority)
	s.Equal(http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, path+"/comments", map[string]string{"body": "merged"}, builder)
	s.Equal(http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, path, nil, builder)
	s.Require().Equal(http.StatusOK, rec.Code)
	var got governance.Proposal
	s.decode(rec, &got)
	s.Equal(models.StatusApproved, got.Status)
	s.Equal(1, got.Comments)
}

func (s *RouterSuite) TestSessionRoutes() {
	rec := s.do(http.MethodGet, "/v1/proposals", nil, nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodGet, "/v1/proposals", nil, map[string]string{middleware.SessionHeader: "garbage"})
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/v1/sessions", map[string]string{"user_id": "authority"}, nil)
	s.Require().Equal(http.StatusCreated, rec.Code)
	var created sessionResponse
	s.decode(rec, &created)
	hdr := map[string]string{middleware.SessionHeader: created.SessionToken}

	rec = s.do(http.MethodGet, "/v1/sessions/current/revalidation?operation=approve_proposal", nil, hdr)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"operation":"approve_proposal","required":true}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/sessions/current/revalidate", map[string]string{"otp": "123456"}, hdr)
	s.Require().Equal(http.StatusOK, rec.Code)
	var reval sessionResponse
	s.decode(rec, &reval)
	s.True(reval.Session.OTPVerified)

	rec = s.do(http.MethodDelete, "/v1/sessions/current", nil, hdr)
	s.Equal(http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/v1/sessions/current", nil, hdr)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/v1/otp/validate", map[string]string{"code": "123456"}, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"valid":true}`, rec.Body.String())
}

func (s *RouterSuite) TestRecords() {
	hdr := s.session("authority")

	s.ledger.EXPECT().StoreGovernanceRecord(gomock.Any(), models.RecordDecision, "authority", gomock.Any()).
		Return("decision-1", &coordinator.PartialWriteError{RecordID: "decision-1", Stage: coordinator.StageEventLog})
	rec := s.do(http.MethodPost, "/v1/records", map[string]any{
		"record_type": "decision",
		"content":     map[string]string{"title": "freeze deploys"},
	}, hdr)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	s.JSONEq(`{"record_id":"decision-1","pending":"event_log"}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/v1/records", map[string]any{"record_type": "Memo!", "content": map[string]string{}}, hdr)
	s.Equal(http.StatusBadRequest, rec.Code)

	// Unregistered but well-formed types are stored as raw records.
	s.ledger.EXPECT().StoreGovernanceRecord(gomock.Any(), models.RecordType("memo"), "authority", gomock.Any()).
		Return("memo-1", nil)
	rec = s.do(http.MethodPost, "/v1/records", map[string]any{"record_type": "memo", "content": map[string]string{"note": "x"}}, hdr)
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())
	s.JSONEq(`{"record_id":"memo-1"}`, rec.Body.String())

	s.ledger.EXPECT().GetGovernanceRecord(gomock.Any(), "decision-1", true).
		Return(&coordinator.ReadResult{Record: &models.Record{ID: "decision-1"}, Drift: []string{"stream is empty"}}, nil)
	rec = s.do(http.MethodGet, "/v1/records/decision-1", nil, hdr)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal(string(dErrors.CodeCrossStoreDrift), rec.Header().Get("X-Steward-Drift"))

	s.ledger.EXPECT().GetGovernanceRecord(gomock.Any(), "decision-2", false).
		Return(nil, dErrors.New(dErrors.CodeIntegrityViolation, "content hash mismatch for decision-2"))
	rec = s.do(http.MethodGet, "/v1/records/decision-2?verify=false", nil, hdr)
	s.Equal(http.StatusInternalServerError, rec.Code)
	s.JSONEq(`{"error":"integrity_violation"}`, rec.Body.String())

	s.ledger.EXPECT().GetRecordsByType(gomock.Any(), models.RecordProposal, maxListLimit).Return(nil, nil)
	rec = s.do(http.MethodGet, "/v1/records?type=proposal&limit=9999", nil, hdr)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"records":[]}`, rec.Body.String())

	s.ledger.EXPECT().VerifySystemConsistency(gomock.Any()).Return(coordinator.Report{OK: false}, nil)
	rec = s.do(http.MethodGet, "/v1/consistency", nil, hdr)
	s.Equal(http.StatusServiceUnavailable, rec.Code)
}

func (s *RouterSuite) TestHealthAndMetrics() {
	s.vault.EXPECT().IsOpen().Return(true)
	s.vault.EXPECT().KillswitchStatus().Return(vault.KillswitchStatus{})

	rec := s.do(http.MethodGet, "/healthz", nil, map[string]string{middleware.RequestIDHeader: "req-42"})
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Equal("req-42", rec.Header().Get(middleware.RequestIDHeader))
	s.JSONEq(`{"status":"ok","vault_open":true,"killswitch_active":false}`, rec.Body.String())

	rec = s.do(http.MethodGet, "/metrics", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
}
