// Package validator wraps go-playground/validator with the custom rules used
// across xcmwatch and a standardized, json-field-named error format.
//
// Custom tags:
//
//   - safeid:  1 to 100 characters of [A-Za-z0-9:.-_]
//   - chainid: a decimal chain id such as "0" or "2000"
//   - httpurl: an absolute http or https url
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	gvalidator "github.com/go-playground/validator/v10"
)

// ErrValidationFailed is the first error of every chain returned by Validate.
var ErrValidationFailed = errors.New("struct validation failed")

var validator *gvalidator.Validate

// errStringFormat describes one failed rule.
//
// Example: "'origin': value ” does not meet the requirements for the 'required' validation"
const errStringFormat = "'%s': value '%v' does not meet the requirements for the '%s' validation"

var (
	safeIDPattern  = regexp.MustCompile(`^[A-Za-z0-9:.\-_]{1,100}$`)
	chainIDPattern = regexp.MustCompile(`^[0-9]{1,10}$`)
	httpURLPattern = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)
)

func init() {
	validator = gvalidator.New(gvalidator.WithRequiredStructEnabled())

	validator.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	mustRegisterPattern("safeid", safeIDPattern)
	mustRegisterPattern("chainid", chainIDPattern)
	mustRegisterPattern("httpurl", httpURLPattern)
}

func mustRegisterPattern(tag string, pattern *regexp.Regexp) {
	err := validator.RegisterValidation(tag, func(fl gvalidator.FieldLevel) bool {
		return pattern.MatchString(fl.Field().String())
	})
	if err != nil {
		panic(err)
	}
}

// StructLevelFunc validates cross-field rules of a struct.
type StructLevelFunc = gvalidator.StructLevelFunc

// StructLevel is passed to a StructLevelFunc to report failures.
type StructLevel = gvalidator.StructLevel

// RegisterStructValidation attaches fn to every type of the given sample values.
// It must be called during package initialization.
func RegisterStructValidation(fn StructLevelFunc, types ...any) {
	validator.RegisterStructValidation(fn, types...)
}

func formatError(err error) error {
	var validationErrors gvalidator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	errs := []error{ErrValidationFailed}
	for _, validationErr := range validationErrors {
		field := validationErr.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}

		errs = append(errs, fmt.Errorf(errStringFormat,
			field,
			validationErr.Value(),
			validationErr.Tag(),
		))
	}

	return errors.Join(errs...)
}

// Validate checks v against its `validate` tags and registered struct rules.
// Failures are reported as ErrValidationFailed joined with one error per field.
func Validate(v any) error {
	if err := validator.Struct(v); err != nil {
		return formatError(err)
	}

	return nil
}

// Issues lists the per-field messages of an error returned by Validate.
// For any other error it returns the error message alone.
func Issues(err error) []string {
	if err == nil {
		return nil
	}

	var joined interface{ Unwrap() []error }
	if !errors.Is(err, ErrValidationFailed) || !errors.As(err, &joined) {
		return []string{err.Error()}
	}

	var issues []string
	for _, e := range joined.Unwrap() {
		if errors.Is(e, ErrValidationFailed) {
			continue
		}
		issues = append(issues, e.Error())
	}
	return issues
}
