// validation.go — catches misspelled tool-call parameters before they get
// silently dropped, by diffing incoming JSON keys against either a Go
// struct's json tags or a tool's declared input schema.
package mcp

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// GetJSONFieldNames reflects over v and returns the set of JSON keys its
// struct tags accept. A field with no json tag falls back to its Go field
// name; a field tagged json:"-" is excluded.
func GetJSONFieldNames(v any) map[string]bool {
	known := make(map[string]bool)
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return known
	}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		if tag == "" {
			known[field.Name] = true
			continue
		}
		// Strip options like ",omitempty"
		name := strings.Split(tag, ",")[0]
		if name != "" {
			known[name] = true
		}
	}
	return known
}

// UnmarshalWithWarnings decodes data into v, then reports any top-level key
// in data that v's json tags don't recognize — usually a typo'd parameter
// name the caller would otherwise never learn was silently ignored.
func UnmarshalWithWarnings(data json.RawMessage, v any) ([]string, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	// Check for unknown fields by unmarshaling into a map
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil // Can't check, skip warnings
	}
	known := GetJSONFieldNames(v)
	var warnings []string
	for k := range raw {
		if !known[k] {
			warnings = append(warnings, fmt.Sprintf("unknown parameter '%s' (ignored)", k))
		}
	}
	return warnings, nil
}

// ValidateParamsAgainstSchema is UnmarshalWithWarnings' counterpart for
// callers that only have a tool's InputSchema, not a Go struct — it checks
// data's keys against schema's declared "properties" instead of json tags.
func ValidateParamsAgainstSchema(data json.RawMessage, schema map[string]any) []string {
	if len(data) == 0 {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}

	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return nil
	}

	var warnings []string
	for k := range raw {
		if _, known := props[k]; !known {
			warnings = append(warnings, fmt.Sprintf("unknown parameter '%s' (ignored)", k))
		}
	}
	return warnings
}
