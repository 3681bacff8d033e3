package ir

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode categorizes reduction errors.
type ErrorCode string

// Configuration error codes. These are fatal at compile or bind time.
const (
	// ErrCodeFixedParameter indicates a recipe, ambient value or user tried
	// to change a parameter whose override flag is false.
	ErrCodeFixedParameter ErrorCode = "FIXED_PARAMETER"

	// ErrCodeUserOverridesRecipe indicates a user override for a parameter
	// the recipe line already sets.
	ErrCodeUserOverridesRecipe ErrorCode = "USER_OVERRIDES_RECIPE"

	// ErrCodeContextFixedParameter indicates an ambient context value for a
	// parameter that does not permit user override.
	ErrCodeContextFixedParameter ErrorCode = "CONTEXT_FIXED_PARAMETER"

	ErrCodeDuplicateUserParam ErrorCode = "DUPLICATE_USER_PARAM"
	ErrCodeMalformedRecipe    ErrorCode = "MALFORMED_RECIPE"
	ErrCodeMalformedParamFile ErrorCode = "MALFORMED_PARAM_FILE"
	ErrCodeNameConflict       ErrorCode = "NAME_CONFLICT"
	ErrCodeDuplicateRecipe    ErrorCode = "DUPLICATE_RECIPE"
	ErrCodeBadParamValue      ErrorCode = "BAD_PARAM_VALUE"
	ErrCodeBadOutputCategory  ErrorCode = "BAD_OUTPUT_CATEGORY"
	ErrCodeBadDeclaration     ErrorCode = "BAD_DECLARATION"
)

// Resolution error codes. These are fatal for the run.
const (
	ErrCodePrimSetConflict   ErrorCode = "PRIMSET_CONFLICT"
	ErrCodeNoPrimitiveSet    ErrorCode = "NO_PRIMITIVE_SET"
	ErrCodeRecipeNotFound    ErrorCode = "RECIPE_NOT_FOUND"
	ErrCodePrimitiveNotFound ErrorCode = "PRIMITIVE_NOT_FOUND"
	ErrCodeUnknownType       ErrorCode = "UNKNOWN_TYPE"
	ErrCodeNoDatasetIdentity ErrorCode = "NO_DATASET_IDENTITY"
)

// ConfigurationError reports a recipe, declaration or parameter problem
// detected before or while binding a step.
type ConfigurationError struct {
	Code      ErrorCode
	Message   string
	AstroType string
	Primitive string
	Param     string
	Attempted string // value that was rejected
	Fixed     string // value that is in force
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Code, e.Message)
	var parts []string
	if e.AstroType != "" {
		parts = append(parts, "astrotype="+e.AstroType)
	}
	if e.Primitive != "" {
		parts = append(parts, "primitive="+e.Primitive)
	}
	if e.Param != "" {
		parts = append(parts, "parameter="+e.Param)
	}
	if len(parts) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	}
	return b.String()
}

// ResolutionError reports that a recipe, primitive or primitive set could
// not be found or chosen unambiguously.
type ResolutionError struct {
	Code       ErrorCode
	Message    string
	AstroType  string
	Name       string
	Candidates []string
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if len(e.Candidates) > 0 {
		msg += fmt.Sprintf(" (candidates: %s)", strings.Join(e.Candidates, ", "))
	}
	return msg
}

// StepError reports a failure raised while a primitive was running.
type StepError struct {
	Recipe    string
	Primitive string
	Message   string
	Err       error
}

func (e *StepError) Error() string {
	where := e.Primitive
	if e.Recipe != "" {
		where = e.Recipe + "/" + e.Primitive
	}
	if e.Err != nil {
		if e.Message != "" {
			return fmt.Sprintf("step %s: %s: %v", where, e.Message, e.Err)
		}
		return fmt.Sprintf("step %s: %v", where, e.Err)
	}
	return fmt.Sprintf("step %s: %s", where, e.Message)
}

func (e *StepError) Unwrap() error { return e.Err }

// ServiceError reports that the control loop could not service a request.
// The request stays queued.
type ServiceError struct {
	Kind    RequestKind
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service %s request: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("service %s request: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// StatusError reports an illegal status transition.
type StatusError struct {
	From Status
	To   Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("illegal status change from %s to %s", e.From, e.To)
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsResolutionError reports whether err wraps a ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// IsStepError reports whether err wraps a StepError.
func IsStepError(err error) bool {
	var se *StepError
	return errors.As(err, &se)
}

// IsServiceError reports whether err wraps a ServiceError.
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}

// HasCode reports whether err wraps a ConfigurationError or ResolutionError
// carrying code.
func HasCode(err error, code ErrorCode) bool {
	var ce *ConfigurationError
	if errors.As(err, &ce) && ce.Code == code {
		return true
	}
	var re *ResolutionError
	if errors.As(err, &re) && re.Code == code {
		return true
	}
	return false
}
