package utils

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance; it caches struct metadata.
var validate = validator.New()

// ValidateStruct runs the validate tags of s and converts failures into a
// ValidationError.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

// ValidationError describes a rejected request body field by field.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// NewValidationError creates a ValidationError from validator.ValidationErrors
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	fields := make(map[string]string)
	for _, err := range errs {
		field := err.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}

		switch err.Tag() {
		case "required":
			fields[field] = fmt.Sprintf("%s is required", field)
		case "min":
			fields[field] = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "max":
			fields[field] = fmt.Sprintf("%s must be at most %s", field, err.Param())
		case "gt":
			fields[field] = fmt.Sprintf("%s must be greater than %s", field, err.Param())
		case "gte":
			fields[field] = fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
		case "lte":
			fields[field] = fmt.Sprintf("%s must be less than or equal to %s", field, err.Param())
		case "oneof":
			fields[field] = fmt.Sprintf("%s must be one of: %s", field, err.Param())
		case "url":
			fields[field] = fmt.Sprintf("%s must be a valid URL", field)
		default:
			fields[field] = fmt.Sprintf("%s validation failed on '%s' tag", field, err.Tag())
		}
	}

	return &ValidationError{
		Message: "validation failed",
		Fields:  fields,
	}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
