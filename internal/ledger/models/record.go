package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"steward/pkg/canonical"
	dErrors "steward/pkg/domain-errors"
)

// Record is an immutable governance record as held by the tamper-evident
// store. Content is stored in canonical form.
type Record struct {
	ID          string          `json:"record_id"`
	Type        RecordType      `json:"record_type"`
	Authority   string          `json:"authority"`
	Timestamp   int64           `json:"timestamp"`
	Content     json.RawMessage `json:"content"`
	ContentHash string          `json:"content_hash"`
}

// NewRecord canonicalizes p and builds a record with id
// "<type>-<unix ms>-<first 8 hex of content hash>".
func NewRecord(p Payload, authority string, now time.Time) (*Record, error) {
	if p == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "payload is required")
	}
	t := p.RecordType()
	if !t.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "invalid record type %q", t)
	}
	if strings.TrimSpace(authority) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "authority is required")
	}
	content, hash, err := Canonical(p)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "canonicalize content")
	}
	ms := now.UnixMilli()
	return &Record{
		ID:          fmt.Sprintf("%s-%d-%s", t, ms, hash[:8]),
		Type:        t,
		Authority:   authority,
		Timestamp:   ms,
		Content:     content,
		ContentHash: hash,
	}, nil
}

// CreatedAt returns the record timestamp as a time.
func (r *Record) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// VerifyContent recomputes the content hash from the stored content.
func (r *Record) VerifyContent() error {
	b, err := canonical.Canonicalize(r.Content)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeIntegrityViolation, fmt.Sprintf("record %s content is not valid json", r.ID))
	}
	if canonical.HashBytes(b) != r.ContentHash {
		return dErrors.Newf(dErrors.CodeIntegrityViolation, "record %s content hash mismatch", r.ID)
	}
	return nil
}

// Bytes returns the canonical encoding of the whole record, the input to
// chain hashing.
func (r *Record) Bytes() ([]byte, error) {
	return canonical.Marshal(r)
}

// Payload decodes the record content using reg.
func (r *Record) Payload(reg *Registry) (Payload, error) {
	return reg.Decode(r.Type, r.Content)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Content = append(json.RawMessage(nil), r.Content...)
	return &c
}

// Equal reports whether two records carry the same identity and content.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.ID == o.ID && r.Type == o.Type && r.Authority == o.Authority &&
		r.Timestamp == o.Timestamp && r.ContentHash == o.ContentHash &&
		string(r.Content) == string(o.Content)
}
