package models

import "fmt"

// FieldType is the data type of a form field.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeBool   FieldType = "bool"
	FieldTypeDate   FieldType = "date"
	FieldTypeFile   FieldType = "file"
	FieldTypeSelect FieldType = "select"
)

// FormField describes one expected input field.
type FormField struct {
	Name     string    `json:"name"`
	Label    string    `json:"label,omitempty"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	// Options constrains select fields to a fixed value set.
	Options []string `json:"options,omitempty"`
}

// FormSchema describes the payload an input task waits for.
type FormSchema struct {
	Title  string      `json:"title,omitempty"`
	Fields []FormField `json:"fields"`
}

// Validate checks a submitted payload against the schema and returns all
// violations found.
func (s FormSchema) Validate(payload map[string]interface{}) []error {
	var errs []error

	for _, f := range s.Fields {
		val, ok := payload[f.Name]
		if !ok || val == nil {
			if f.Required {
				errs = append(errs, fmt.Errorf("field %q is required", f.Name))
			}
			continue
		}

		switch f.Type {
		case FieldTypeString, FieldTypeDate, FieldTypeFile:
			if _, ok := val.(string); !ok {
				errs = append(errs, fmt.Errorf("field %q must be a string", f.Name))
			}
		case FieldTypeNumber:
			switch val.(type) {
			case float64, float32, int, int64:
			default:
				errs = append(errs, fmt.Errorf("field %q must be a number", f.Name))
			}
		case FieldTypeBool:
			if _, ok := val.(bool); !ok {
				errs = append(errs, fmt.Errorf("field %q must be a boolean", f.Name))
			}
		case FieldTypeSelect:
			str, ok := val.(string)
			if !ok {
				errs = append(errs, fmt.Errorf("field %q must be a string", f.Name))
				continue
			}
			found := false
			for _, opt := range f.Options {
				if opt == str {
					found = true
					break
				}
			}
			if !found {
				errs = append(errs, fmt.Errorf("field %q: %q is not an allowed option", f.Name, str))
			}
		}
	}

	return errs
}
