package domain

import "fmt"

// PropertyFilter represents a field-level filter applied to records.
type PropertyFilter struct {
	Key     string   `json:"key" yaml:"key" validate:"required"`
	Value   string   `json:"value,omitempty" yaml:"value"`
	Exists  *bool    `json:"exists,omitempty" yaml:"exists"`
	InArray []string `json:"inArray,omitempty" yaml:"inArray"`
}

// ApplyPropertyFilters reports whether the record satisfies every filter.
func ApplyPropertyFilters(record Record, filters []PropertyFilter) bool {
	if record == nil {
		return false
	}
	if len(filters) == 0 {
		return true
	}
	for _, filter := range filters {
		value, ok := record[filter.Key]
		if filter.Exists != nil {
			if *filter.Exists {
				if !ok {
					return false
				}
			} else {
				if ok {
					if filter.Value == "" && len(filter.InArray) == 0 {
						if !propertyValueIsEmpty(value) {
							return false
						}
					} else {
						return false
					}
				}
			}
		}
		if filter.Value != "" {
			if !ok {
				return false
			}
			if fmt.Sprintf("%v", value) != filter.Value {
				return false
			}
		}
		if len(filter.InArray) > 0 {
			if !ok {
				return false
			}
			matched := false
			for _, candidate := range filter.InArray {
				if fmt.Sprintf("%v", value) == candidate {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
	}
	return true
}

func propertyValueIsEmpty(value any) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return v == ""
	case *string:
		if v == nil {
			return true
		}
		return *v == ""
	case fmt.Stringer:
		return v.String() == ""
	case []byte:
		return len(v) == 0
	default:
		return false
	}
}
