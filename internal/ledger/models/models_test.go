package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"steward/pkg/canonical"
	dErrors "steward/pkg/domain-errors"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCreationEventMapping(t *testing.T) {
	cases := map[RecordType]EventType{
		RecordProposal:           EventProposalSubmitted,
		RecordApproval:           EventProposalApproved,
		RecordRejection:          EventProposalRejected,
		RecordComment:            EventCommentAdded,
		RecordRevision:           EventProposalRevised,
		RecordImplementation:     EventProposalImplemented,
		RecordDecision:           "DecisionRecorded",
		RecordType("audit_note"): "AuditNoteRecorded",
	}
	for rt, want := range cases {
		assert.Equal(t, want, rt.CreationEvent(), string(rt))
	}
}

func TestNewRecordHashesCanonicalContent(t *testing.T) {
	reg := NewRegistry()
	p, err := reg.Decode(RecordProposal, []byte(`{"title":"X"}`))
	require.NoError(t, err)

	rec, err := NewRecord(p, "singularity", fixedNow)
	require.NoError(t, err)

	want, err := canonical.Hash(map[string]any{"title": "X"})
	require.NoError(t, err)
	assert.Equal(t, want, rec.ContentHash)
	assert.JSONEq(t, `{"title":"X"}`, string(rec.Content))
	assert.Equal(t, "proposal-1772366400000-"+want[:8], rec.ID)
	assert.Equal(t, fixedNow, rec.CreatedAt())
	assert.NoError(t, rec.VerifyContent())
}

func TestNewRecordValidation(t *testing.T) {
	_, err := NewRecord(nil, "authority", fixedNow)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewRecord(ProposalPayload{Title: "x"}, " ", fixedNow)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = NewRecord(RawPayload{Type: "Bad Type", Content: []byte(`{}`)}, "authority", fixedNow)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestVerifyContentDetectsTampering(t *testing.T) {
	rec, err := NewRecord(ProposalPayload{Title: "rotate keys"}, "authority", fixedNow)
	require.NoError(t, err)

	tampered := rec.Clone()
	tampered.Content = json.RawMessage(`{"title":"rotate no keys"}`)
	err = tampered.VerifyContent()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrityViolation))

	tampered.Content = json.RawMessage(`{not json`)
	err = tampered.VerifyContent()
	assert.True(t, dErrors.HasCode(err, dErrors.CodeIntegrityViolation))

	assert.NoError(t, rec.VerifyContent(), "clone must not alias the original")
}

func TestRegistryDecode(t *testing.T) {
	reg := NewRegistry()

	t.Run("typed variants reject unknown fields", func(t *testing.T) {
		_, err := reg.Decode(RecordApproval, []byte(`{"proposal_id":"p","extra":1}`))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("typed variants decode by value", func(t *testing.T) {
		p, err := reg.Decode(RecordComment, []byte(`{"proposal_id":"p","body":"lgtm"}`))
		require.NoError(t, err)
		assert.Equal(t, CommentPayload{ProposalID: "p", Body: "lgtm"}, p)
	})

	t.Run("unregistered types keep raw content", func(t *testing.T) {
		p, err := reg.Decode("audit_note", []byte(`{"b":2,"a":1}`))
		require.NoError(t, err)
		b, _, err := Canonical(p)
		require.NoError(t, err)
		assert.Equal(t, `{"a":1,"b":2}`, string(b))
		assert.Equal(t, RecordType("audit_note"), p.RecordType())
	})

	t.Run("unregistered types still require json", func(t *testing.T) {
		_, err := reg.Decode("audit_note", []byte(`nope`))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestStreamID(t *testing.T) {
	assert.Equal(t, "record-proposal-1-abcd", StreamID("proposal-1-abcd"))
	id, ok := RecordIDFromStream("record-proposal-1-abcd")
	assert.True(t, ok)
	assert.Equal(t, "proposal-1-abcd", id)
	_, ok = RecordIDFromStream("other-1")
	assert.False(t, ok)
}

func stream(t *testing.T, rec *Record, first EventType, rest ...EventType) []Event {
	t.Helper()
	open, err := CreationEventFor(rec, fixedNow)
	require.NoError(t, err)
	if first != "" {
		open.Type = first
	}
	events := []Event{open}
	for i, et := range rest {
		ev, err := NewEvent(open.StreamID, et, Transition{Actor: "authority", Reason: string(et)},
			Metadata{Timestamp: fixedNow.Add(time.Duration(i+1) * time.Minute), Source: "test"})
		require.NoError(t, err)
		ev.Version = int64(i + 1)
		events = append(events, ev)
	}
	return events
}

func TestReplayLifecycle(t *testing.T) {
	rec, err := NewRecord(ProposalPayload{Title: "enable cache"}, "singularity", fixedNow)
	require.NoError(t, err)

	t.Run("submitted then approved then implemented", func(t *testing.T) {
		st, err := Replay(stream(t, rec, "", EventCommentAdded, EventProposalApproved, EventProposalImplemented))
		require.NoError(t, err)
		assert.Equal(t, StatusImplemented, st.Status)
		assert.Equal(t, int64(3), st.Version)
		assert.Equal(t, 1, st.Comments)
		assert.Equal(t, "authority", st.DecidedBy)
		assert.Equal(t, rec.ContentHash, st.ContentHash)
		assert.Equal(t, fixedNow.Add(3*time.Minute), st.UpdatedAt)
	})

	t.Run("draft must be submitted before a decision", func(t *testing.T) {
		st, err := Replay(stream(t, rec, EventProposalDrafted, EventProposalRevised, EventProposalSubmitted))
		require.NoError(t, err)
		assert.Equal(t, StatusPendingApproval, st.Status)
		assert.Equal(t, 1, st.Revisions)

		_, err = Replay(stream(t, rec, EventProposalDrafted, EventProposalApproved))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejected is terminal", func(t *testing.T) {
		st, err := Replay(stream(t, rec, "", EventProposalRejected))
		require.NoError(t, err)
		assert.Equal(t, StatusRejected, st.Status)
		assert.Equal(t, string(EventProposalRejected), st.Reason)

		_, err = Replay(stream(t, rec, "", EventProposalRejected, EventProposalImplemented))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

		_, err = Replay(stream(t, rec, "", EventProposalRejected, EventCommentAdded))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("version gaps are rejected", func(t *testing.T) {
		events := stream(t, rec, "", EventCommentAdded, EventProposalApproved)
		events[2].Version = 5
		_, err := Replay(events)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("empty stream", func(t *testing.T) {
		_, err := Replay(nil)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestReplayNonLifecycleRecord(t *testing.T) {
	rec, err := NewRecord(DecisionPayload{Subject: "freeze deploys"}, "authority", fixedNow)
	require.NoError(t, err)

	st, err := Replay(stream(t, rec, "", EventCommentAdded))
	require.NoError(t, err)
	assert.Equal(t, StatusRecorded, st.Status)
	assert.Equal(t, EventType("DecisionRecorded"), stream(t, rec, "")[0].Type)

	_, err = Replay(stream(t, rec, "", EventProposalApproved))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
