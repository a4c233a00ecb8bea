package store

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed records.schema.json
var recordsSchema string

// FieldError is one schema violation.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every violation found in a store file.
type ValidationError struct {
	Path   string
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return fmt.Sprintf("%s: %d schema violations: %s", e.Path, len(e.Errors), strings.Join(msgs, "; "))
}

// Validate checks a store file against the record schema. JSONL files are
// checked as the array of their lines.
func Validate(path string) error {
	var doc gojsonschema.JSONLoader
	if isJSONL(path) {
		records, err := ReadRecords(path)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(records)
		if err != nil {
			return err
		}
		doc = gojsonschema.NewBytesLoader(raw)
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		doc = gojsonschema.NewBytesLoader(data)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(recordsSchema), doc)
	if err != nil {
		return fmt.Errorf("validate %s: %w", path, err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Path: path, Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		verr.Errors = append(verr.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return verr
}
