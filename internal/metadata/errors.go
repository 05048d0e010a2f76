package metadata

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrUnknownField   = errors.New("unknown field")
	ErrStructure      = errors.New("structural error")
	ErrUnitConversion = errors.New("unit conversion error")
	ErrVocabulary     = errors.New("controlled vocabulary violation")
	ErrSchemaLoad     = errors.New("schema load error")
)

// UnknownFieldError reports a field name that no consulted schema declares.
type UnknownFieldError struct {
	Field  string
	Blocks []string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s is not a recognized dataset field in %s", e.Field, strings.Join(e.Blocks, ", "))
}

func (e *UnknownFieldError) Unwrap() error { return ErrUnknownField }

// StructuralError reports a parent/child shape violation or a malformed wire document.
type StructuralError struct {
	Field  string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *StructuralError) Unwrap() error { return ErrStructure }

// UnitConversionError reports an unparseable unit or a dimension mismatch.
type UnitConversionError struct {
	Field string
	From  string
	To    string
	Err   error
}

func (e *UnitConversionError) Error() string {
	msg := fmt.Sprintf("%s: cannot convert %q to %q", e.Field, e.From, e.To)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnitConversionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrUnitConversion}
	}
	return []error{ErrUnitConversion, e.Err}
}

// VocabularyViolationError reports a value outside a field's controlled vocabulary.
type VocabularyViolationError struct {
	Block   string
	Field   string
	Value   string
	Allowed []string
}

func (e *VocabularyViolationError) Error() string {
	return fmt.Sprintf("%s is not a valid value for dataset field %s in %s. Allowed values are: %s.",
		e.Value, e.Field, e.Block, strings.Join(e.Allowed, ", "))
}

func (e *VocabularyViolationError) Unwrap() error { return ErrVocabulary }

// SchemaLoadError reports malformed or unreadable schema tables.
type SchemaLoadError struct {
	Source string
	Err    error
}

func (e *SchemaLoadError) Error() string {
	return fmt.Sprintf("load schema %s: %v", e.Source, e.Err)
}

func (e *SchemaLoadError) Unwrap() []error { return []error{ErrSchemaLoad, e.Err} }
