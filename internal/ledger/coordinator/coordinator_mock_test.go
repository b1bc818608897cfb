package coordinator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"steward/internal/ledger/coordinator"
	"steward/internal/ledger/coordinator/mocks"
	"steward/internal/ledger/models"
	"steward/internal/ledger/tamper"
	dErrors "steward/pkg/domain-errors"
	"steward/pkg/platform/audit"
	"steward/pkg/platform/sentinel"
)

var fixedTime = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func TestTamperFailureAbortsWrite(t *testing.T) {
	ctrl := gomock.NewController(t)
	ts := mocks.NewMockStore(ctrl)
	log := mocks.NewMockLog(ctrl)
	mir := mocks.NewMockMirror(ctrl)

	ts.EXPECT().Store(gomock.Any(), gomock.Any()).
		Return(tamper.Entry{}, fmt.Errorf("all endpoints unreachable: %w", sentinel.ErrUnavailable))
	// No event log or mirror calls are expected.

	c := coordinator.New(ts, log, mir)
	id, err := c.StoreGovernanceRecord(context.Background(), models.RecordProposal, "singularity", []byte(`{"title":"X"}`))
	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBackendUnavailable))

	var pw *coordinator.PartialWriteError
	assert.NotErrorAs(t, err, &pw)
}

func TestDuplicateRecordIsConflict(t *testing.T) {
	ctrl := gomock.NewController(t)
	ts := mocks.NewMockStore(ctrl)
	ts.EXPECT().Store(gomock.Any(), gomock.Any()).Return(tamper.Entry{}, sentinel.ErrConflict)

	c := coordinator.New(ts, mocks.NewMockLog(ctrl), mocks.NewMockMirror(ctrl))
	_, err := c.StorePayload(context.Background(), "singularity", models.ProposalPayload{Title: "X"})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestCreationEventUsesExpectedVersionZero(t *testing.T) {
	ctrl := gomock.NewController(t)
	ts := mocks.NewMockStore(ctrl)
	log := mocks.NewMockLog(ctrl)
	mir := mocks.NewMockMirror(ctrl)

	var stored *models.Record
	gomock.InOrder(
		ts.EXPECT().Store(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, rec *models.Record) (tamper.Entry, error) {
			stored = rec
			return tamper.Entry{RecordID: rec.ID}, nil
		}),
		log.EXPECT().Append(gomock.Any(), gomock.Any(), int64(0), gomock.Any()).
			DoAndReturn(func(_ context.Context, stream string, _ int64, events ...models.Event) (int64, error) {
				assert.Equal(t, models.StreamID(stored.ID), stream)
				require.Len(t, events, 1)
				assert.Equal(t, models.EventProposalApproved, events[0].Type)
				return 1, nil
			}),
		mir.EXPECT().Upsert(gomock.Any(), gomock.Any()).Return(nil),
	)

	c := coordinator.New(ts, log, mir)
	id, err := c.StorePayload(context.Background(), "authority", models.ApprovalPayload{ProposalID: "proposal-1-abcdef12"})
	require.NoError(t, err)
	assert.Equal(t, stored.ID, id)
}

func TestIntegrityViolationIsSurfacedAndAudited(t *testing.T) {
	ctrl := gomock.NewController(t)
	ts := mocks.NewMockStore(ctrl)
	ts.EXPECT().Get(gomock.Any(), "proposal-1-abcdef12").
		Return(nil, fmt.Errorf("entry 1 hash mismatch: %w", sentinel.ErrCorrupted))

	var events []audit.Event
	c := coordinator.New(ts, mocks.NewMockLog(ctrl), mocks.NewMockMirror(ctrl),
		coordinator.WithAuditor(audit.RecorderFunc(func(_ context.Context, e audit.Event) error {
			events = append(events, e)
			return nil
		})),
	)

	res, err := c.GetGovernanceRecord(context.Background(), "proposal-1-abcdef12", true)
	assert.Nil(t, res)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrityViolation))
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionIntegrityViolation, events[0].Action)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
}

func TestEventLogReadFailureIsDriftNotError(t *testing.T) {
	ctrl := gomock.NewController(t)
	ts := mocks.NewMockStore(ctrl)
	log := mocks.NewMockLog(ctrl)

	rec, err := models.NewRecord(models.ProposalPayload{Title: "X"}, "singularity", fixedTime)
	require.NoError(t, err)
	ts.EXPECT().Get(gomock.Any(), rec.ID).Return(rec, nil)
	log.EXPECT().Read(gomock.Any(), models.StreamID(rec.ID), int64(0), 1).
		Return(nil, fmt.Errorf("timeout: %w", sentinel.ErrUnavailable))

	c := coordinator.New(ts, log, mocks.NewMockMirror(ctrl))
	res, err := c.GetGovernanceRecord(context.Background(), rec.ID, true)
	require.NoError(t, err)
	assert.True(t, res.Drifted())
	assert.Equal(t, rec.ID, res.Record.ID)
	assert.Equal(t, int64(1), c.Counters().Inconsistencies)
}
