package slo

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/samijaber1/aegis-perf/internal/telemetry"
)

// Validator handles SLO validation
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator creates a new validator with the given schema file
func NewValidator(schemaPath string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	// The draft is auto-detected from the $schema field
	schema, err := compiler.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDirectory loads and validates all SLO files in a directory
func (v *Validator) ValidateDirectory(dirPath string) []ValidationError {
	sloWithFiles, loadErrors := LoadFromDirectory(dirPath)

	var allErrors []ValidationError
	allErrors = append(allErrors, loadErrors...)

	if len(sloWithFiles) == 0 {
		return allErrors
	}

	for _, sloWithFile := range sloWithFiles {
		schemaErrors := v.validateSchema(sloWithFile.File, sloWithFile.raw)
		allErrors = append(allErrors, schemaErrors...)
	}

	extraErrors := v.validateExtraRules(sloWithFiles)
	allErrors = append(allErrors, extraErrors...)

	return allErrors
}

// validateSchema validates a decoded SLO document against the JSON schema
func (v *Validator) validateSchema(file string, doc any) []ValidationError {
	var errors []ValidationError

	if err := v.schema.Validate(doc); err != nil {
		if validationErr, ok := err.(*jsonschema.ValidationError); ok {
			errors = append(errors, extractSchemaErrors(file, validationErr)...)
		} else {
			errors = append(errors, ValidationError{
				File:    file,
				Message: err.Error(),
			})
		}
	}

	return errors
}

// extractSchemaErrors converts JSON schema validation errors to ValidationErrors
func extractSchemaErrors(file string, err *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	path := strings.Join(err.InstanceLocation, ".")
	if path == "" {
		path = "(root)"
	}

	errors = append(errors, ValidationError{
		File:    file,
		Path:    path,
		Message: err.Error(),
	})

	for _, cause := range err.Causes {
		errors = append(errors, extractSchemaErrors(file, cause)...)
	}

	return errors
}

// validateExtraRules applies rules the JSON schema cannot express
func (v *Validator) validateExtraRules(sloWithFiles []SLOWithFile) []ValidationError {
	var errors []ValidationError

	opSeen := make(map[string]string)
	for _, sloWithFile := range sloWithFiles {
		op := sloWithFile.SLO.Metadata.Operation
		if prevFile, exists := opSeen[op]; exists {
			errors = append(errors, ValidationError{
				File:    sloWithFile.File,
				Path:    "metadata.operation",
				Message: fmt.Sprintf("duplicate operation %q (also in %s)", op, filepath.Base(prevFile)),
			})
		} else {
			opSeen[op] = sloWithFile.File
		}

		errors = append(errors, validateCanonicalName(sloWithFile.File, sloWithFile.SLO)...)
		errors = append(errors, validateTargetOrder(sloWithFile.File, sloWithFile.SLO)...)
	}

	return errors
}

// validateCanonicalName rejects SLOs keyed by an operation alias, since
// metrics are always resolved to the canonical name before lookup.
func validateCanonicalName(file string, slo *SLO) []ValidationError {
	op := slo.Metadata.Operation
	if canonical := telemetry.ResolveOperation(op); canonical != op {
		return []ValidationError{{
			File:    file,
			Path:    "metadata.operation",
			Message: fmt.Sprintf("%q is an alias, use canonical name %q", op, canonical),
		}}
	}
	return nil
}

// validateTargetOrder checks p50 <= p95 <= p99 targets
func validateTargetOrder(file string, slo *SLO) []ValidationError {
	var errors []ValidationError

	s := slo.Spec
	if s.P50TargetMs > s.P95TargetMs {
		errors = append(errors, ValidationError{
			File: file,
			Path: "spec.p50TargetMs",
			Message: fmt.Sprintf("p50TargetMs (%g) must be <= p95TargetMs (%g)",
				s.P50TargetMs, s.P95TargetMs),
		})
	}
	if s.P95TargetMs > s.P99TargetMs {
		errors = append(errors, ValidationError{
			File: file,
			Path: "spec.p95TargetMs",
			Message: fmt.Sprintf("p95TargetMs (%g) must be <= p99TargetMs (%g)",
				s.P95TargetMs, s.P99TargetMs),
		})
	}

	return errors
}
