package jobrouter

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their wire name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// decodeInput turns raw JSON into T and enforces its contract.
func decodeInput[T any](kind string, raw []byte, checks []func(*T) error) (T, error) {
	var in T

	if err := json.Unmarshal(raw, &in); err != nil {
		var zero T
		return zero, &ValidationError{Kind: kind, Violations: []Violation{decodeViolation(err)}}
	}

	violations := structViolations(in)
	if len(violations) == 0 {
		for _, check := range checks {
			if err := check(&in); err != nil {
				violations = append(violations, checkViolation(err))
			}
		}
	}

	if len(violations) > 0 {
		var zero T
		return zero, &ValidationError{Kind: kind, Violations: violations}
	}
	return in, nil
}

func decodeViolation(err error) Violation {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return Violation{
			Field:   typeErr.Field,
			Rule:    "type",
			Message: fmt.Sprintf("must be of type %s, got %s", typeErr.Type, typeErr.Value),
		}
	}
	return Violation{Rule: "json", Message: err.Error()}
}

func structViolations(in any) []Violation {
	rv := reflect.ValueOf(in)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return []Violation{{Rule: "required", Message: "payload is required"}}
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil
	}

	err := validate.Struct(rv.Interface())
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []Violation{{Rule: "invalid", Message: err.Error()}}
	}

	out := make([]Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, Violation{
			Field:   fieldPath(fe),
			Rule:    fe.Tag(),
			Message: violationMessage(fe),
		})
	}
	return out
}

// fieldPath strips the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func violationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "min":
		return fe.Field() + " must be at least " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	case "oneof":
		return fe.Field() + " must be one of [" + fe.Param() + "]"
	case "uuid", "uuid4":
		return fe.Field() + " must be a valid UUID"
	case "url":
		return fe.Field() + " must be a valid URL"
	default:
		return fe.Field() + " is invalid"
	}
}

func checkViolation(err error) Violation {
	var v Violation
	if errors.As(err, &v) {
		if v.Rule == "" {
			v.Rule = "check"
		}
		return v
	}
	return Violation{Rule: "check", Message: err.Error()}
}
