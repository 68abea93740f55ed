package controller

import (
	"reflect"
	"strings"
)

// ValidateDTO checks the fields of a decoded request body tagged
// `validate:"required"`. A field fails when it holds its zero value or, for
// slices and maps, when it is empty. Failures are reported by JSON name in a
// single validation.failed error.
func ValidateDTO(dto any) error {
	v := reflect.ValueOf(dto)
	if !v.IsValid() {
		return NewValidationError("request body is missing", nil)
	}
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return NewValidationError("request body is missing", nil)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}

	var missing []string
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || !hasRule(f.Tag.Get("validate"), "required") {
			continue
		}
		if empty(v.Field(i)) {
			missing = append(missing, jsonName(f))
		}
	}
	if len(missing) > 0 {
		return NewValidationError("missing required fields: "+strings.Join(missing, ", "),
			map[string]interface{}{"fields": missing})
	}
	return nil
}

func hasRule(tag, rule string) bool {
	for _, r := range strings.Split(tag, ",") {
		if strings.TrimSpace(r) == rule {
			return true
		}
	}
	return false
}

func empty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return f.Name
	}
	return name
}
