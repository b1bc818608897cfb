package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"steward/internal/ledger/models"
	"steward/pkg/platform/sentinel"
)

func row(t models.RecordType, n int, status models.Status) Row {
	p := models.RawPayload{Type: t, Content: []byte(fmt.Sprintf(`{"n":%d}`, n))}
	rec, err := models.NewRecord(p, "singularity", time.UnixMilli(int64(1_700_000_000_000+n)))
	if err != nil {
		panic(err)
	}
	return Row{Record: rec, Status: status, UpdatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

type mirrorContract struct {
	suite.Suite
	newMirror func() Mirror
	tamper    func(id string, content string)
	mirror    Mirror
}

func (s *mirrorContract) SetupTest() {
	s.mirror = s.newMirror()
}

func (s *mirrorContract) TestUpsertAndGet() {
	ctx := context.Background()
	r := row(models.RecordProposal, 1, models.StatusPendingApproval)
	s.Require().NoError(s.mirror.Upsert(ctx, r))

	got, err := s.mirror.Get(ctx, r.Record.ID)
	s.Require().NoError(err)
	s.True(r.Record.Equal(got.Record))
	s.Equal(models.StatusPendingApproval, got.Status)

	s.Run("upsert replaces status", func() {
		r.Status = models.StatusApproved
		r.Version = 2
		s.Require().NoError(s.mirror.Upsert(ctx, r))
		got, err := s.mirror.Get(ctx, r.Record.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, got.Status)
		s.Equal(int64(2), got.Version)
	})

	s.Run("unknown id", func() {
		_, err := s.mirror.Get(ctx, "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *mirrorContract) TestListFilters() {
	ctx := context.Background()
	rows := []Row{
		row(models.RecordProposal, 1, models.StatusPendingApproval),
		row(models.RecordProposal, 2, models.StatusApproved),
		row(models.RecordComment, 3, models.StatusRecorded),
		row(models.RecordProposal, 4, models.StatusPendingApproval),
	}
	for _, r := range rows {
		s.Require().NoError(s.mirror.Upsert(ctx, r))
	}

	got, err := s.mirror.List(ctx, Filter{Type: models.RecordProposal})
	s.Require().NoError(err)
	s.Require().Len(got, 3)
	s.Equal(rows[3].Record.ID, got[0].Record.ID, "newest first")

	got, err = s.mirror.List(ctx, Filter{Type: models.RecordProposal, Status: models.StatusPendingApproval, Limit: 1})
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(rows[3].Record.ID, got[0].Record.ID)
}

func (s *mirrorContract) TestVerifyFindsStaleRows() {
	ctx := context.Background()
	good := row(models.RecordProposal, 1, models.StatusPendingApproval)
	bad := row(models.RecordProposal, 2, models.StatusPendingApproval)
	s.Require().NoError(s.mirror.Upsert(ctx, good))
	s.Require().NoError(s.mirror.Upsert(ctx, bad))

	s.tamper(bad.Record.ID, `{"n":99}`)

	report, err := s.mirror.Verify(ctx)
	s.Require().NoError(err)
	s.Equal(2, report.Rows)
	s.Equal([]string{bad.Record.ID}, report.Stale)
}

func TestMemoryMirror(t *testing.T) {
	var m *Memory
	suite.Run(t, &mirrorContract{
		newMirror: func() Mirror {
			m = NewMemory()
			return m
		},
		tamper: func(id string, content string) {
			m.mu.Lock()
			defer m.mu.Unlock()
			r := m.rows[id]
			r.Record.Content = json.RawMessage(content)
			m.rows[id] = r
		},
	})
}

func TestMemoryMirrorFailure(t *testing.T) {
	m := NewMemory()
	boom := errors.New("mirror down")
	m.SetFailure(boom)

	err := m.Upsert(context.Background(), row(models.RecordProposal, 1, ""))
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	m.SetFailure(nil)
	if err := m.Upsert(context.Background(), row(models.RecordProposal, 1, "")); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
}
