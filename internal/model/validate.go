package model

import (
	"fmt"
	"strings"
)

// ValidationError holds a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single validation failure on a named field.
type FieldError struct {
	Field   string
	Message string
}

// Error formats the validation error as a semicolon-separated list of field messages.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether the validation error contains any field errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ValidateEvent checks an inbound event for constraint violations.
func ValidateEvent(ev *Event) error {
	var ve ValidationError

	if strings.TrimSpace(ev.Pipeline) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "pipeline", Message: "is required"})
	}
	if len(ev.EventID) > 256 {
		ve.Errors = append(ve.Errors, FieldError{Field: "event_id", Message: "must be 256 characters or fewer"})
	}
	if strings.ContainsAny(ev.EventID, "/ \t\n") {
		ve.Errors = append(ve.Errors, FieldError{Field: "event_id", Message: "must not contain slashes or whitespace"})
	}
	if ev.Payload == nil {
		ve.Errors = append(ve.Errors, FieldError{Field: "payload", Message: "is required"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// ValidatePipeline checks a pipeline configuration for constraint violations.
func ValidatePipeline(p *PipelineConfig) error {
	var ve ValidationError

	if strings.TrimSpace(p.Name) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "name", Message: "is required"})
	}
	if strings.TrimSpace(p.Analyzer) == "" {
		ve.Errors = append(ve.Errors, FieldError{Field: "analyzer", Message: "is required"})
	}
	if !p.OpKind.IsValid() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   "op_kind",
			Message: fmt.Sprintf("invalid value %q", p.OpKind),
		})
	}
	if p.OpKind == OpPayment {
		if p.PaymentDestination == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: "payment_destination", Message: "is required for payment pipelines"})
		}
		if p.PaymentAmount == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: "payment_amount", Message: "is required for payment pipelines"})
		}
		if p.PaymentAssetCode != "" && p.PaymentAssetIssuer == "" {
			ve.Errors = append(ve.Errors, FieldError{Field: "payment_asset_issuer", Message: "is required for non-native assets"})
		}
	}
	if p.MaxAttempts < 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "max_attempts", Message: "must not be negative"})
	}
	if p.Workers < 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "workers", Message: "must not be negative"})
	}
	if p.MaxQueue < 0 {
		ve.Errors = append(ve.Errors, FieldError{Field: "max_queue", Message: "must not be negative"})
	}

	if ve.HasErrors() {
		return &ve
	}
	return nil
}
