package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"steward/pkg/canonical"
	dErrors "steward/pkg/domain-errors"
)

// SourceCoordinator marks events written by the ledger coordinator.
const SourceCoordinator = "ledger-coordinator"

// Metadata travels with every event.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	Authority   string    `json:"authority,omitempty"`
	RecordID    string    `json:"record_id,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Actor       string    `json:"actor,omitempty"`
}

// Event is one entry in a record stream. Version is the zero-based position
// assigned by the event log on append.
type Event struct {
	ID       string          `json:"event_id"`
	StreamID string          `json:"stream_id"`
	Type     EventType       `json:"event_type"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Version  int64           `json:"version"`
}

// NewEvent builds an event with a fresh id and canonical data.
func NewEvent(streamID string, t EventType, data any, meta Metadata) (Event, error) {
	if streamID == "" || t == "" {
		return Event{}, dErrors.New(dErrors.CodeValidation, "stream id and event type are required")
	}
	raw, err := canonical.Marshal(data)
	if err != nil {
		return Event{}, dErrors.Wrap(err, dErrors.CodeValidation, "encode event data")
	}
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	meta.Timestamp = meta.Timestamp.UTC()
	return Event{
		ID:       uuid.NewString(),
		StreamID: streamID,
		Type:     t,
		Data:     raw,
		Metadata: meta,
	}, nil
}

// RecordCreated is the data of the event that opens a record stream.
type RecordCreated struct {
	RecordID    string          `json:"record_id"`
	RecordType  RecordType      `json:"record_type"`
	Authority   string          `json:"authority"`
	Timestamp   int64           `json:"timestamp"`
	Content     json.RawMessage `json:"content"`
	ContentHash string          `json:"content_hash"`
}

// CreationEventFor builds the first event of rec's stream.
func CreationEventFor(rec *Record, now time.Time) (Event, error) {
	return NewEvent(StreamID(rec.ID), rec.Type.CreationEvent(), RecordCreated{
		RecordID:    rec.ID,
		RecordType:  rec.Type,
		Authority:   rec.Authority,
		Timestamp:   rec.Timestamp,
		Content:     rec.Content,
		ContentHash: rec.ContentHash,
	}, Metadata{
		Timestamp:   now,
		Source:      SourceCoordinator,
		Authority:   rec.Authority,
		RecordID:    rec.ID,
		ContentHash: rec.ContentHash,
	})
}

// Transition is the data of a lifecycle event appended after creation.
type Transition struct {
	Actor           string `json:"actor,omitempty"`
	Reason          string `json:"reason,omitempty"`
	RelatedRecordID string `json:"related_record_id,omitempty"`
}

// DecodeCreated parses the data of a creation event.
func (e Event) DecodeCreated() (RecordCreated, error) {
	var rc RecordCreated
	if err := json.Unmarshal(e.Data, &rc); err != nil {
		return RecordCreated{}, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "decode creation event")
	}
	return rc, nil
}

// DecodeTransition parses the data of a lifecycle event.
func (e Event) DecodeTransition() (Transition, error) {
	var t Transition
	if len(e.Data) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(e.Data, &t); err != nil {
		return Transition{}, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "decode transition event")
	}
	return t, nil
}
