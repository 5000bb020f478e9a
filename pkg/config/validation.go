package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(msgs, "; "))
}

// HasErrors returns true if there are any errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Add adds a validation error.
func (e *ValidationErrors) Add(field, message string) {
	*e = append(*e, ValidationError{Field: field, Message: message})
}

// Validator collects validation errors through chained checks.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Required validates that a field is not empty.
func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.errors.Add(field, "is required")
	}
	return v
}

// Range validates that an integer lies in [min, max].
func (v *Validator) Range(field string, value, min, max int) *Validator {
	if value < min || value > max {
		v.errors.Add(field, fmt.Sprintf("must be between %d and %d", min, max))
	}
	return v
}

// Unit validates that a float lies in [0, 1].
func (v *Validator) Unit(field string, value float64) *Validator {
	if value < 0 || value > 1 || value != value {
		v.errors.Add(field, "must be between 0 and 1")
	}
	return v
}

// Positive validates that a duration is greater than zero.
func (v *Validator) Positive(field string, value time.Duration) *Validator {
	if value <= 0 {
		v.errors.Add(field, "must be greater than zero")
	}
	return v
}

// OneOf validates that a value is one of the allowed values.
func (v *Validator) OneOf(field, value string, allowed []string) *Validator {
	if value == "" {
		return v
	}
	for _, a := range allowed {
		if value == a {
			return v
		}
	}
	v.errors.Add(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
	return v
}

// FileExists validates that a file exists.
func (v *Validator) FileExists(field, path string) *Validator {
	if path == "" {
		return v
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		v.errors.Add(field, "file does not exist")
		return v
	}
	if err != nil {
		v.errors.Add(field, fmt.Sprintf("cannot access file: %v", err))
		return v
	}
	if info.IsDir() {
		v.errors.Add(field, "is a directory, not a file")
	}
	return v
}

// Custom adds a validation error when the condition fails.
func (v *Validator) Custom(field string, ok bool, message string) *Validator {
	if !ok {
		v.errors.Add(field, message)
	}
	return v
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}
