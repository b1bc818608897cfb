package httptransport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"steward/internal/ledger/models"
	dErrors "steward/pkg/domain-errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs struct tags and reports the first failing field.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		fe := ves[0]
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
}

type authenticateRequest struct {
	UserID   string `json:"user_id" validate:"required,max=128"`
	Password string `json:"password"`
	OTP      string `json:"otp" validate:"omitempty,numeric,max=10"`
}

func (r *authenticateRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.OTP = strings.TrimSpace(r.OTP)
}

func (r *authenticateRequest) Validate() error { return validateStruct(r) }

type setSecretRequest struct {
	Value *string `json:"value" validate:"required"`
}

func (r *setSecretRequest) Validate() error { return validateStruct(r) }

type syncRequest struct {
	Namespace string `json:"namespace" validate:"required,max=256"`
	Prefix    string `json:"prefix"`
}

func (r *syncRequest) Normalize() { r.Namespace = strings.TrimSpace(r.Namespace) }

func (r *syncRequest) Validate() error { return validateStruct(r) }

type deactivateRequest struct {
	MasterOverride string `json:"master_override" validate:"required"`
}

func (r *deactivateRequest) Validate() error { return validateStruct(r) }

type createSessionRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
	OTP    string `json:"otp" validate:"omitempty,numeric,max=10"`
}

func (r *createSessionRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.OTP = strings.TrimSpace(r.OTP)
}

func (r *createSessionRequest) Validate() error { return validateStruct(r) }

type otpRequest struct {
	OTP string `json:"otp" validate:"required,numeric,max=10"`
}

func (r *otpRequest) Normalize() { r.OTP = strings.TrimSpace(r.OTP) }

func (r *otpRequest) Validate() error { return validateStruct(r) }

type validateOTPRequest struct {
	Code string `json:"code" validate:"required,numeric,max=10"`
}

func (r *validateOTPRequest) Normalize() { r.Code = strings.TrimSpace(r.Code) }

func (r *validateOTPRequest) Validate() error { return validateStruct(r) }

type submitProposalRequest struct {
	Title       string            `json:"title" validate:"required,max=200"`
	Description string            `json:"description"`
	Category    string            `json:"category"`
	Rationale   string            `json:"rationale"`
	RiskLevel   string            `json:"risk_level" validate:"omitempty,oneof=low medium high critical"`
	Changes     []models.Change   `json:"changes" validate:"dive"`
	Labels      map[string]string `json:"labels"`
}

func (r *submitProposalRequest) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.RiskLevel = strings.ToLower(strings.TrimSpace(r.RiskLevel))
}

func (r *submitProposalRequest) Validate() error { return validateStruct(r) }

func (r *submitProposalRequest) payload() models.ProposalPayload {
	return models.ProposalPayload{
		Title:       r.Title,
		Description: r.Description,
		Category:    r.Category,
		Rationale:   r.Rationale,
		RiskLevel:   r.RiskLevel,
		Changes:     r.Changes,
		Labels:      r.Labels,
	}
}

type decisionRequest struct {
	OTP    string `json:"otp" validate:"required,numeric,max=10"`
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

func (r *decisionRequest) Normalize() {
	r.OTP = strings.TrimSpace(r.OTP)
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *decisionRequest) Validate() error { return validateStruct(r) }

type commentRequest struct {
	Body string `json:"body" validate:"required,max=10000"`
}

func (r *commentRequest) Validate() error { return validateStruct(r) }

type revisionRequest struct {
	Summary     string          `json:"summary" validate:"required"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Changes     []models.Change `json:"changes"`
}

func (r *revisionRequest) Validate() error { return validateStruct(r) }

type implementationRequest struct {
	Reference string `json:"reference" validate:"required"`
	Notes     string `json:"notes"`
}

func (r *implementationRequest) Validate() error { return validateStruct(r) }

type storeRecordRequest struct {
	RecordType models.RecordType `json:"record_type" validate:"required"`
	Content    json.RawMessage   `json:"content" validate:"required"`
}

func (r *storeRecordRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if !r.RecordType.Valid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid record type %q", r.RecordType)
	}
	return nil
}
