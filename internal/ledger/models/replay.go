package models

import (
	"encoding/json"
	"time"

	dErrors "steward/pkg/domain-errors"
)

// Status is the logical lifecycle position of a record.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
	StatusImplemented     Status = "implemented"
	// StatusRecorded applies to records outside the proposal lifecycle.
	StatusRecorded Status = "recorded"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusImplemented
}

// RecordState is the result of folding a record stream.
type RecordState struct {
	RecordID    string          `json:"record_id"`
	RecordType  RecordType      `json:"record_type"`
	Authority   string          `json:"authority"`
	Status      Status          `json:"status"`
	Content     json.RawMessage `json:"content"`
	ContentHash string          `json:"content_hash"`
	Version     int64           `json:"version"`
	Comments    int             `json:"comments"`
	Revisions   int             `json:"revisions"`
	DecidedBy   string          `json:"decided_by,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Related     []string        `json:"related,omitempty"`
	LastEvent   EventType       `json:"last_event"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

var transitions = map[EventType]map[Status]Status{
	EventProposalSubmitted: {
		StatusDraft: StatusPendingApproval,
	},
	EventProposalApproved: {
		StatusPendingApproval: StatusApproved,
	},
	EventProposalRejected: {
		StatusPendingApproval: StatusRejected,
	},
	EventProposalImplemented: {
		StatusApproved: StatusImplemented,
	},
	EventProposalRevised: {
		StatusDraft:           StatusDraft,
		StatusPendingApproval: StatusPendingApproval,
	},
}

// Next returns the status reached by applying t in status from, or an
// invariant_violation error if the lifecycle forbids it. Comments are
// accepted in every non-terminal status.
func Next(from Status, t EventType) (Status, error) {
	if t == EventCommentAdded {
		if from.Terminal() {
			return "", dErrors.Newf(dErrors.CodeInvariantViolation, "cannot comment on %s record", from)
		}
		return from, nil
	}
	if to, ok := transitions[t][from]; ok {
		return to, nil
	}
	return "", dErrors.Newf(dErrors.CodeInvariantViolation, "%s not allowed from %s", t, from)
}

// Replay folds events, in version order, into the current record state. The
// first event must open the stream; proposal streams then follow the
// lifecycle draft -> pending_approval -> approved|rejected -> implemented.
func Replay(events []Event) (*RecordState, error) {
	if len(events) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "stream is empty")
	}

	first := events[0]
	created, err := first.DecodeCreated()
	if err != nil {
		return nil, err
	}
	st := &RecordState{
		RecordID:    created.RecordID,
		RecordType:  created.RecordType,
		Authority:   created.Authority,
		Content:     created.Content,
		ContentHash: created.ContentHash,
		Version:     first.Version,
		LastEvent:   first.Type,
		UpdatedAt:   first.Metadata.Timestamp,
	}
	switch {
	case first.Type == EventProposalDrafted:
		st.Status = StatusDraft
	case created.RecordType == RecordProposal:
		st.Status = StatusPendingApproval
	default:
		st.Status = StatusRecorded
	}

	for i, ev := range events[1:] {
		if ev.Version != first.Version+int64(i)+1 {
			return nil, dErrors.Newf(dErrors.CodeInvariantViolation,
				"stream %s has gap at version %d", ev.StreamID, first.Version+int64(i)+1)
		}
		if err := st.apply(ev); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (st *RecordState) apply(ev Event) error {
	tr, err := ev.DecodeTransition()
	if err != nil {
		return err
	}
	if st.Status == StatusRecorded {
		// Non-lifecycle records only accumulate comments.
		if ev.Type != EventCommentAdded {
			return dErrors.Newf(dErrors.CodeInvariantViolation, "%s not allowed on %s record", ev.Type, st.RecordType)
		}
	} else {
		next, err := Next(st.Status, ev.Type)
		if err != nil {
			return err
		}
		st.Status = next
	}

	switch ev.Type {
	case EventCommentAdded:
		st.Comments++
	case EventProposalRevised:
		st.Revisions++
	case EventProposalApproved, EventProposalRejected:
		st.DecidedBy = tr.Actor
		st.Reason = tr.Reason
	}
	if tr.RelatedRecordID != "" {
		st.Related = append(st.Related, tr.RelatedRecordID)
	}
	st.Version = ev.Version
	st.LastEvent = ev.Type
	st.UpdatedAt = ev.Metadata.Timestamp
	return nil
}
