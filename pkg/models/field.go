package models

// FieldType is the closed set of field value types predicates and performer
// references are typed by.
type FieldType string

const (
	FieldTypeText     FieldType = "text"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeURL      FieldType = "url"
	FieldTypeFile     FieldType = "file"
	FieldTypeUser     FieldType = "user"
	FieldTypeGroup    FieldType = "group"
	FieldTypeDropdown FieldType = "dropdown"
	FieldTypeCheckbox FieldType = "checkbox" // multi-select
)

// FieldValue is one filled field: kickoff data (position 0) or a task's
// output. Multi-select fields carry their selections in Values, everything
// else uses the scalar Value.
type FieldValue struct {
	APIName string    `json:"api_name" validate:"required"`
	Type    FieldType `json:"type"     validate:"required"`
	Value   string    `json:"value,omitempty"`
	Values  []string  `json:"values,omitempty"`
}

// IsSet reports whether the field carries any value at all. Unset fields
// never match positive predicate operators and always match negative ones.
func (f FieldValue) IsSet() bool {
	return f.Value != "" || len(f.Values) > 0
}

// Contains reports whether a multi-select value includes the given option.
func (f FieldValue) Contains(option string) bool {
	for _, v := range f.Values {
		if v == option {
			return true
		}
	}

	return f.Value == option && f.Value != ""
}
