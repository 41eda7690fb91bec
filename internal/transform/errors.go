package transform

import "fmt"

// MissingRequiredFieldError is returned when a required field has no value.
type MissingRequiredFieldError struct {
	Field  string
	Source string
}

func (e *MissingRequiredFieldError) Error() string {
	if e.Source != "" && e.Source != e.Field {
		return fmt.Sprintf("item metadata missing required field: '%s' (source '%s')", e.Field, e.Source)
	}
	return fmt.Sprintf("item metadata missing required field: '%s'", e.Field)
}

// InvalidMetadataError is returned by Validate.
type InvalidMetadataError struct {
	Reason string
	Index  int
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("invalid DSpace metadata: %s (entry %d)", e.Reason, e.Index)
}
