// Package models defines governance records, their event streams and the
// deterministic replay that folds a stream into current state.
package models

import (
	"strings"
	"unicode"
)

// RecordType classifies a governance record.
type RecordType string

const (
	RecordProposal       RecordType = "proposal"
	RecordApproval       RecordType = "approval"
	RecordRejection      RecordType = "rejection"
	RecordComment        RecordType = "comment"
	RecordRevision       RecordType = "revision"
	RecordImplementation RecordType = "implementation"
	RecordDecision       RecordType = "decision"
)

// Valid reports whether t is a non-empty lowercase identifier.
func (t RecordType) Valid() bool {
	if t == "" || len(t) > 64 {
		return false
	}
	for _, r := range string(t) {
		if !(r >= 'a' && r <= 'z') && r != '_' && !(r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// EventType names an event in a record stream.
type EventType string

const (
	EventProposalDrafted     EventType = "ProposalDrafted"
	EventProposalSubmitted   EventType = "ProposalSubmitted"
	EventProposalApproved    EventType = "ProposalApproved"
	EventProposalRejected    EventType = "ProposalRejected"
	EventProposalRevised     EventType = "ProposalRevised"
	EventProposalImplemented EventType = "ProposalImplemented"
	EventCommentAdded        EventType = "CommentAdded"
)

var creationEvents = map[RecordType]EventType{
	RecordProposal:       EventProposalSubmitted,
	RecordApproval:       EventProposalApproved,
	RecordRejection:      EventProposalRejected,
	RecordComment:        EventCommentAdded,
	RecordRevision:       EventProposalRevised,
	RecordImplementation: EventProposalImplemented,
}

// CreationEvent is the event type that opens a record's stream. Types without
// a fixed mapping get "<Type>Recorded", e.g. decision -> DecisionRecorded.
func (t RecordType) CreationEvent() EventType {
	if et, ok := creationEvents[t]; ok {
		return et
	}
	return EventType(pascal(string(t)) + "Recorded")
}

func pascal(s string) string {
	var b strings.Builder
	upper := true
	for _, r := range s {
		if r == '_' {
			upper = true
			continue
		}
		if upper {
			b.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// StreamID is the event stream a record's history lives in.
func StreamID(recordID string) string {
	return "record-" + recordID
}

// RecordIDFromStream inverts StreamID. ok is false for foreign streams.
func RecordIDFromStream(streamID string) (string, bool) {
	return strings.CutPrefix(streamID, "record-")
}
