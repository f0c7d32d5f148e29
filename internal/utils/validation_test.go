package utils

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validationItem struct {
	Role string `validate:"required,oneof=user assistant"`
}

type validationBody struct {
	Model       string           `validate:"required"`
	Temperature *float64         `validate:"omitempty,gte=0,lte=2"`
	Items       []validationItem `validate:"required,min=1,dive"`
}

func TestValidateStruct(t *testing.T) {
	hot := 3.0

	tests := []struct {
		name   string
		body   validationBody
		fields []string
	}{
		{
			name: "valid",
			body: validationBody{Model: "auto", Items: []validationItem{{Role: "user"}}},
		},
		{
			name:   "missing model",
			body:   validationBody{Items: []validationItem{{Role: "user"}}},
			fields: []string{"Model"},
		},
		{
			name:   "empty items",
			body:   validationBody{Model: "auto", Items: []validationItem{}},
			fields: []string{"Items"},
		},
		{
			name:   "nested role",
			body:   validationBody{Model: "auto", Items: []validationItem{{Role: "robot"}}},
			fields: []string{"Items[0].Role"},
		},
		{
			name:   "temperature out of range",
			body:   validationBody{Model: "auto", Temperature: &hot, Items: []validationItem{{Role: "user"}}},
			fields: []string{"Temperature"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.body)
			if len(tt.fields) == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.True(t, IsValidationError(err))

			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr))
			for _, f := range tt.fields {
				assert.Contains(t, vErr.Fields, f)
			}
		})
	}
}

func TestValidationError_MessageListsFields(t *testing.T) {
	err := ValidateStruct(validationBody{})
	require.Error(t, err)

	msg := err.Error()
	assert.True(t, strings.HasPrefix(msg, "validation failed: "))
	assert.Contains(t, msg, "Model is required")
	assert.Contains(t, msg, "Items is required")
}

func TestIsValidationError_Plain(t *testing.T) {
	assert.False(t, IsValidationError(errors.New("boom")))
}
