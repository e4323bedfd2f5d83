package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hearth-security/hearth-server/internal/apperr"
)

type confirmRequest struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Description string   `json:"description" validate:"max=256"`
	Battery     *float64 `json:"battery_percentage" validate:"omitempty,min=0,max=100"`
}

type introduceRequest struct {
	SerialID     string `json:"serialId" validate:"required,serial"`
	PublicKeyPEM string `json:"publicKeyPem" validate:"required,pem"`
}

func TestValidate(t *testing.T) {
	v := NewValidator()
	pct := 42.0

	assert.NoError(t, v.Validate(confirmRequest{Name: "Front Door", Battery: &pct}))
	assert.NoError(t, v.Validate(&confirmRequest{Name: "Front Door"}))

	err := v.Validate(confirmRequest{})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.Contains(t, err.Error(), "name: field is required")

	over := 101.0
	err = v.Validate(confirmRequest{Name: "x", Battery: &over})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.Contains(t, err.Error(), "battery_percentage: maximum is 100")

	under := -1.0
	assert.ErrorIs(t, v.Validate(confirmRequest{Name: "x", Battery: &under}), apperr.ErrBadRequest)

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, v.Validate(confirmRequest{Name: string(long)}), apperr.ErrBadRequest)
}

func TestValidate_SerialAndPEM(t *testing.T) {
	v := NewValidator()
	pem := "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"

	assert.NoError(t, v.Validate(introduceRequest{SerialID: "0200000000000001", PublicKeyPEM: pem}))
	assert.ErrorIs(t, v.Validate(introduceRequest{SerialID: "02", PublicKeyPEM: pem}), apperr.ErrBadRequest)
	assert.ErrorIs(t, v.Validate(introduceRequest{SerialID: "02000000000000zz", PublicKeyPEM: pem}), apperr.ErrBadRequest)

	err := v.Validate(introduceRequest{SerialID: "0200000000000001", PublicKeyPEM: "nope"})
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
	assert.Contains(t, err.Error(), "publicKeyPem: invalid PEM")
}

func TestValidate_NotStruct(t *testing.T) {
	err := NewValidator().Validate("string")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrBadRequest)
}
