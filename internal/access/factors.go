package access

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Factors are the credentials presented to Authenticate. Only the fields
// required by the user's role are consulted.
type Factors struct {
	Password string
	OTP      string
}

// Factor checks one credential for a user.
type Factor interface {
	Kind() FactorKind
	Verify(ctx context.Context, userID string, f Factors) (bool, error)
}

// PasswordFactor checks passwords against bcrypt hashes.
type PasswordFactor struct {
	hashes map[string][]byte
}

// NewPasswordFactor builds a password factor from a user id to bcrypt hash table.
func NewPasswordFactor(hashes map[string]string) *PasswordFactor {
	m := make(map[string][]byte, len(hashes))
	for k, v := range hashes {
		m[k] = []byte(v)
	}
	return &PasswordFactor{hashes: m}
}

// HashPassword returns a bcrypt hash suitable for configuration.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func (p *PasswordFactor) Kind() FactorKind { return FactorPassword }

func (p *PasswordFactor) Verify(_ context.Context, userID string, f Factors) (bool, error) {
	hash, ok := p.hashes[userID]
	if !ok || f.Password == "" {
		return false, nil
	}
	err := bcrypt.CompareHashAndPassword(hash, []byte(f.Password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// OTPVerifier validates a one-time code and consumes it on success.
type OTPVerifier interface {
	Validate(ctx context.Context, code string) (bool, error)
}

// OTPFactor checks one-time codes against the user's hardware credential.
type OTPFactor struct {
	verifiers map[string]OTPVerifier
}

// NewOTPFactor maps user ids to the validator holding their credentials.
func NewOTPFactor(verifiers map[string]OTPVerifier) *OTPFactor {
	return &OTPFactor{verifiers: verifiers}
}

func (o *OTPFactor) Kind() FactorKind { return FactorOTP }

func (o *OTPFactor) Verify(ctx context.Context, userID string, f Factors) (bool, error) {
	v, ok := o.verifiers[userID]
	if !ok || f.OTP == "" {
		return false, nil
	}
	return v.Validate(ctx, f.OTP)
}
