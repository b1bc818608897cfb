package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"steward/pkg/canonical"
	dErrors "steward/pkg/domain-errors"
)

// Payload is the typed content of a record. Each record type has its own
// variant; types without one use RawPayload.
type Payload interface {
	RecordType() RecordType
}

// ProposalPayload describes a proposed change awaiting the Authority.
type ProposalPayload struct {
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Category    string            `json:"category,omitempty"`
	Submitter   string            `json:"submitter,omitempty"`
	Rationale   string            `json:"rationale,omitempty"`
	RiskLevel   string            `json:"risk_level,omitempty"`
	Changes     []Change          `json:"changes,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// Change is one file or setting touched by a proposal.
type Change struct {
	Path    string `json:"path"`
	Action  string `json:"action,omitempty"`
	Summary string `json:"summary,omitempty"`
	Diff    string `json:"diff,omitempty"`
}

func (ProposalPayload) RecordType() RecordType { return RecordProposal }

// ApprovalPayload records the Authority approving a proposal.
type ApprovalPayload struct {
	ProposalID string `json:"proposal_id"`
	ApprovedBy string `json:"approved_by,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

func (ApprovalPayload) RecordType() RecordType { return RecordApproval }

// RejectionPayload records the Authority rejecting a proposal.
type RejectionPayload struct {
	ProposalID string `json:"proposal_id"`
	RejectedBy string `json:"rejected_by,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (RejectionPayload) RecordType() RecordType { return RecordRejection }

// CommentPayload is a remark attached to a proposal.
type CommentPayload struct {
	ProposalID string `json:"proposal_id"`
	Author     string `json:"author,omitempty"`
	Body       string `json:"body"`
}

func (CommentPayload) RecordType() RecordType { return RecordComment }

// RevisionPayload amends a proposal before a decision.
type RevisionPayload struct {
	ProposalID  string   `json:"proposal_id"`
	Author      string   `json:"author,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Changes     []Change `json:"changes,omitempty"`
}

func (RevisionPayload) RecordType() RecordType { return RecordRevision }

// ImplementationPayload records that an approved proposal was carried out.
type ImplementationPayload struct {
	ProposalID    string `json:"proposal_id"`
	ImplementedBy string `json:"implemented_by,omitempty"`
	Reference     string `json:"reference,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

func (ImplementationPayload) RecordType() RecordType { return RecordImplementation }

// DecisionPayload is a free-form governance decision outside the proposal flow.
type DecisionPayload struct {
	Subject string          `json:"subject"`
	Outcome string          `json:"outcome,omitempty"`
	Details json.RawMessage `json:"details,omitempty"`
}

func (DecisionPayload) RecordType() RecordType { return RecordDecision }

// RawPayload carries content for record types without a typed variant.
type RawPayload struct {
	Type    RecordType
	Content json.RawMessage
}

func (p RawPayload) RecordType() RecordType { return p.Type }

// MarshalJSON emits the raw content unchanged.
func (p RawPayload) MarshalJSON() ([]byte, error) {
	if len(p.Content) == 0 {
		return []byte("{}"), nil
	}
	return p.Content, nil
}

// Registry maps record types to payload decoders.
type Registry struct {
	mu        sync.RWMutex
	factories map[RecordType]func() Payload
}

// NewRegistry returns a registry with every built-in variant.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[RecordType]func() Payload)}
	r.Register(RecordProposal, func() Payload { return &ProposalPayload{} })
	r.Register(RecordApproval, func() Payload { return &ApprovalPayload{} })
	r.Register(RecordRejection, func() Payload { return &RejectionPayload{} })
	r.Register(RecordComment, func() Payload { return &CommentPayload{} })
	r.Register(RecordRevision, func() Payload { return &RevisionPayload{} })
	r.Register(RecordImplementation, func() Payload { return &ImplementationPayload{} })
	r.Register(RecordDecision, func() Payload { return &DecisionPayload{} })
	return r
}

// Register adds or replaces the decoder for t.
func (r *Registry) Register(t RecordType, factory func() Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[t] = factory
}

// Decode parses raw content into the variant registered for t. Unknown fields
// are rejected for typed variants so content cannot carry unhashed extras
// past validation. Unregistered types decode to RawPayload.
func (r *Registry) Decode(t RecordType, raw []byte) (Payload, error) {
	r.mu.RLock()
	factory, ok := r.factories[t]
	r.mu.RUnlock()

	if !ok {
		if !json.Valid(raw) {
			return nil, dErrors.New(dErrors.CodeValidation, "content must be valid json")
		}
		return RawPayload{Type: t, Content: append(json.RawMessage(nil), raw...)}, nil
	}

	p := factory()
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("invalid %s content", t))
	}
	return deref(p), nil
}

// Canonical returns the canonical JSON bytes and SHA-256 hash of p.
func Canonical(p Payload) ([]byte, string, error) {
	b, err := canonical.Marshal(p)
	if err != nil {
		return nil, "", err
	}
	return b, canonical.HashBytes(b), nil
}

func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ProposalPayload:
		return *v
	case *ApprovalPayload:
		return *v
	case *RejectionPayload:
		return *v
	case *CommentPayload:
		return *v
	case *RevisionPayload:
		return *v
	case *ImplementationPayload:
		return *v
	case *DecisionPayload:
		return *v
	default:
		return p
	}
}
