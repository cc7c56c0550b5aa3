package snapshot

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON []byte

// ErrSchemaInvalid is returned when a document does not match the snapshot schema.
var ErrSchemaInvalid = errors.New("snapshot does not match schema")

// Issue is one schema violation.
type Issue struct {
	Field       string
	Description string
}

// SchemaError lists every violation found in a document.
type SchemaError struct {
	Issues []Issue
}

// Error implements error.
func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Field+": "+is.Description)
	}

	return fmt.Sprintf("%v: %s", ErrSchemaInvalid, strings.Join(parts, "; "))
}

// Unwrap returns ErrSchemaInvalid.
func (e *SchemaError) Unwrap() error {
	return ErrSchemaInvalid
}

// Schema returns the embedded JSON schema of the document.
func Schema() []byte {
	return schemaJSON
}

// Validate checks a raw JSON document against the embedded schema.
// Violations are reported as a *SchemaError.
func Validate(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}

	if result.Valid() {
		return nil
	}

	schemaErr := &SchemaError{}
	for _, re := range result.Errors() {
		schemaErr.Issues = append(schemaErr.Issues, Issue{Field: re.Field(), Description: re.Description()})
	}

	return schemaErr
}
