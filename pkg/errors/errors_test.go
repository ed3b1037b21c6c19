package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGatewayError(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewGatewayError("insert_error_batch", cause)

	assert.Equal(t, ErrorTypeExternal, err.Type)
	assert.Equal(t, "insert_error_batch", err.Details["operation"])
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "caused by: connection refused")
}

func TestTypeHelpers(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantType ErrorType
		wantCode string
	}{
		{"validation", NewValidationError("bad"), ErrorTypeValidation, "VALIDATION_ERROR"},
		{"not found", NewNotFoundError("rule"), ErrorTypeNotFound, "NOT_FOUND"},
		{"remediation", NewRemediationError("orders", "failed"), ErrorTypeInternal, "REMEDIATION_ERROR"},
		{"wrapped", fmt.Errorf("outer: %w", NewNotFoundError("error")), ErrorTypeNotFound, "NOT_FOUND"},
		{"plain", stderrors.New("plain"), ErrorTypeInternal, "UNKNOWN_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, GetType(tt.err))
			assert.Equal(t, tt.wantCode, GetCode(tt.err))
			assert.Equal(t, tt.wantType == ErrorTypeNotFound, IsNotFound(tt.err))
		})
	}
}
