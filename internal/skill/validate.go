package skill

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
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

// DecodeAndValidate unmarshals raw into dst and runs its validate tags.
// Empty input decodes as an empty object.
func DecodeAndValidate(raw json.RawMessage, dst any) ValidationResult {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return ValidationResult{
			Errors: []FieldError{{Field: "params", Tag: "json", Message: "invalid JSON: " + err.Error()}},
		}
	}
	return ValidateStruct(dst)
}

// ValidateStruct runs the validate tags of s
func ValidateStruct(s any) ValidationResult {
	if err := validate.Struct(s); err != nil {
		return ValidationResult{Errors: FieldErrors(err)}
	}
	return ValidationResult{Valid: true}
}

// ValidateRequired checks that every named key is present and non-empty
func ValidateRequired(params map[string]any, required []string) ValidationResult {
	if len(required) == 0 {
		return ValidationResult{Valid: true}
	}

	rules := make(map[string]any, len(required))
	for _, name := range required {
		rules[name] = "required"
	}

	failed := validate.ValidateMap(params, rules)
	if len(failed) == 0 {
		return ValidationResult{Valid: true}
	}

	fields := make([]FieldError, 0, len(failed))
	for field := range failed {
		fields = append(fields, FieldError{Field: field, Tag: "required", Message: "field is required"})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return ValidationResult{Errors: fields}
}

// FieldErrors converts validator errors into field-level errors
func FieldErrors(err error) []FieldError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []FieldError{{Field: "params", Tag: "invalid", Message: err.Error()}}
	}

	fields := make([]FieldError, 0, len(validationErrors))
	for _, e := range validationErrors {
		tag := e.Tag()
		var msg string
		switch tag {
		case "required":
			msg = "field is required"
		case "min":
			msg = "must be at least " + e.Param()
		case "max":
			msg = "must be at most " + e.Param()
		case "oneof":
			msg = "must be one of: " + e.Param()
		case "url":
			msg = "invalid URL"
		default:
			msg = "validation failed on " + tag
		}
		fields = append(fields, FieldError{Field: e.Field(), Tag: tag, Message: msg})
	}
	return fields
}
