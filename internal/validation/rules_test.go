package validation

import (
	"encoding/json"
	"errors"
	"testing"

	validation "github.com/jellydator/validation"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/allisson/relay/internal/errors"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name      string
		value     string
		shouldErr bool
	}{
		{name: "simple name", value: "resend"},
		{name: "with underscore", value: "send_email"},
		{name: "with dot and dash", value: "crm.v2-sync"},
		{name: "uppercase", value: "Resend", shouldErr: true},
		{name: "leading underscore", value: "_resend", shouldErr: true},
		{name: "contains space", value: "send email", shouldErr: true},
		{
			name:      "too long",
			value:     "a123456789012345678901234567890123456789012345678901234567890123456789",
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validation.Validate(tt.value, Identifier)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNotBlank(t *testing.T) {
	assert.NoError(t, validation.Validate("user123", NotBlank))
	assert.Error(t, validation.Validate("   ", NotBlank))
}

func TestNoWhitespace(t *testing.T) {
	assert.NoError(t, validation.Validate("user123", NoWhitespace))
	assert.Error(t, validation.Validate(" user123", NoWhitespace))
	assert.Error(t, validation.Validate("user123\n", NoWhitespace))
}

func TestJSONDocument(t *testing.T) {
	tests := []struct {
		name      string
		value     interface{}
		shouldErr bool
	}{
		{name: "object raw message", value: json.RawMessage(`{"to":"a@b.com"}`)},
		{name: "array bytes", value: []byte(`[1,2]`)},
		{name: "scalar string", value: `"hello"`},
		{name: "empty is left to Required", value: json.RawMessage(``)},
		{name: "invalid json", value: json.RawMessage(`{"to":`), shouldErr: true},
		{name: "null", value: json.RawMessage(` null `), shouldErr: true},
		{name: "wrong type", value: 42, shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validation.Validate(tt.value, JSONDocument)
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWrapValidationError(t *testing.T) {
	assert.Nil(t, WrapValidationError(nil))

	err := WrapValidationError(errors.New("integration_id: cannot be blank"))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidInput))
	assert.Contains(t, err.Error(), "integration_id: cannot be blank")
}

func TestHTTPURL(t *testing.T) {
	assert.NoError(t, validation.Validate("https://hooks.example.com/relay?team=ops", HTTPURL))
	assert.NoError(t, validation.Validate("http://localhost:9000/hook", HTTPURL))
	assert.NoError(t, validation.Validate("", HTTPURL))
	assert.Error(t, validation.Validate("ftp://example.com/file", HTTPURL))
	assert.Error(t, validation.Validate("/relative/path", HTTPURL))
	assert.Error(t, validation.Validate("https://", HTTPURL))
}
