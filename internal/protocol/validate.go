package protocol

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

func getValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		structValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return structValidator
}

// ValidateStruct runs go-playground/validator struct-tag validation over v
// (manifests, RunRequest, EnvRef) and wraps the first failing field into a
// ValidationError so callers get the same typed-error contract as the rest
// of the package.
func ValidateStruct(v any) error {
	if err := getValidator().Struct(v); err != nil {
		if fieldErrs, ok := err.(validator.ValidationErrors); ok && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return NewValidationError(CodeSchemaInvalid, map[string]any{
				"field": fe.Namespace(),
				"tag":   fe.Tag(),
				"value": fmt.Sprintf("%v", fe.Value()),
			})
		}
		return fmt.Errorf("protocol: struct validation: %w", err)
	}
	return nil
}

// Validate runs struct-tag validation for a TestCaseManifest.
func (m TestCaseManifest) Validate() error {
	return ValidateStruct(m)
}

// Validate runs struct-tag validation for a TestSuiteManifest.
func (m TestSuiteManifest) Validate() error {
	return ValidateStruct(m)
}

// Validate runs struct-tag validation for a TestPlanManifest.
func (m TestPlanManifest) Validate() error {
	return ValidateStruct(m)
}
