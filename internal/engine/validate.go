package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"syrup-backend/internal/metadata"
)

// ValidateFields checks a write payload against the entity schema.
// forCreate enforces required fields; updates are partial.
func ValidateFields(entity *metadata.Entity, fields map[string]any, forCreate bool) error {
	var details []ErrorDetail

	for name := range fields {
		f := entity.GetField(name)
		if f == nil {
			details = append(details, ErrorDetail{
				Field:   name,
				Rule:    "unknown",
				Message: fmt.Sprintf("Unknown field: %s", name),
			})
			continue
		}
		// Engine-managed columns are sanitized away, not rejected, so a
		// retrieved record can be PUT back verbatim.
		if f.Name == entity.PrimaryKey.Field || f.IsAuto() {
			delete(fields, name)
		}
	}

	if forCreate {
		for _, f := range entity.Fields {
			if !f.Required || f.IsAuto() || f.Name == entity.PrimaryKey.Field || f.Name == "author" {
				continue
			}
			if f.Type == "image" {
				continue // carried as a file part, checked by the handler
			}
			v, ok := fields[f.Name]
			if !ok && f.Default != nil {
				continue
			}
			if !ok || v == nil || v == "" {
				details = append(details, ErrorDetail{
					Field:   f.Name,
					Rule:    "required",
					Message: fmt.Sprintf("Field %s is required", f.Name),
				})
			}
		}
	}

	for name, v := range fields {
		f := entity.GetField(name)
		if f == nil || v == nil {
			continue
		}
		if name == "author" {
			continue // resolved to a text identity id, not client input
		}
		coerced, err := CoerceValue(f, v)
		if err != nil {
			details = append(details, ErrorDetail{
				Field:   name,
				Rule:    "type",
				Message: err.Error(),
			})
			continue
		}
		fields[name] = coerced

		if len(f.Enum) > 0 {
			if !enumContains(f.Enum, metadata.Stringify(coerced)) {
				details = append(details, ErrorDetail{
					Field:   name,
					Rule:    "enum",
					Message: fmt.Sprintf("Value for %s must be one of: %s", name, strings.Join(f.Enum, ", ")),
				})
			}
		}
	}

	if len(details) > 0 {
		return ValidationError(details)
	}
	return nil
}

// CoerceValue converts a decoded payload value into the storage
// representation for the field type. String inputs from form posts are
// parsed; JSON numbers arrive as float64 and are narrowed for integer
// columns.
func CoerceValue(f *metadata.Field, v any) (any, error) {
	switch f.Type {
	case "int", "bigint", "foreign_key":
		return coerceInt(f.Name, v)
	case "float", "decimal":
		return coerceFloat(f.Name, v)
	case "boolean":
		return coerceBool(f.Name, v)
	case "json":
		return coerceJSON(f.Name, v)
	default:
		return v, nil
	}
}

func coerceInt(name string, v any) (any, error) {
	switch t := v.(type) {
	case int, int64:
		return t, nil
	case float64:
		return int64(t), nil
	case string:
		if t == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s expects an integer", name)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("field %s expects an integer", name)
	}
}

func coerceFloat(name string, v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		if t == "" {
			return nil, nil
		}
		n, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, fmt.Errorf("field %s expects a number", name)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("field %s expects a number", name)
	}
}

func coerceBool(name string, v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(t) {
		case "true", "1", "on":
			return true, nil
		case "false", "0", "off", "":
			return false, nil
		}
		return nil, fmt.Errorf("field %s expects a boolean", name)
	case float64:
		return t != 0, nil
	default:
		return nil, fmt.Errorf("field %s expects a boolean", name)
	}
}

func coerceJSON(name string, v any) (any, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("field %s holds invalid JSON", name)
	}
	return string(raw), nil
}

func enumContains(enum []string, v string) bool {
	for _, e := range enum {
		if e == v {
			return true
		}
	}
	return false
}

// coerceFilterValue converts a raw query string value for use in a WHERE
// clause. The in/not_in operators accept comma-separated lists.
func coerceFilterValue(f *metadata.Field, raw string, op string) (any, error) {
	if op == "in" || op == "not_in" {
		parts := strings.Split(raw, ",")
		vals := make([]any, 0, len(parts))
		for _, p := range parts {
			v, err := CoerceValue(f, strings.TrimSpace(p))
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		return vals, nil
	}
	return CoerceValue(f, raw)
}
